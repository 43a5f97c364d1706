// Package backend defines the port for calls to the worker services that
// hold the business data: the RPC gateway, the database worker and the
// document, storage and email workers.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// Name identifies one backend service.
type Name string

const (
	RPC      Name = "rpc"
	Database Name = "database"
	Document Name = "document"
	Storage  Name = "storage"
	Email    Name = "email"
)

// ErrNotConfigured is returned when the backend has no base URL.
var ErrNotConfigured = errors.New("backend: not configured")

// Request is one outbound call.
type Request struct {
	Backend Name
	Method  string
	// Path is appended to the backend base URL. For RPC it is the function
	// name.
	Path      string
	Body      any
	RequestID string
	// RequireValidation makes a database answer without "validated": true
	// fail with a validation error.
	RequireValidation bool
}

// Client performs backend calls and returns the raw JSON body.
type Client interface {
	Do(ctx context.Context, req Request) (json.RawMessage, error)
}

// CallError is a non-2xx answer from a backend.
type CallError struct {
	Backend Name
	Status  int
	Body    string
}

func (e *CallError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s backend returned %d", e.Backend, e.Status)
	}
	return fmt.Sprintf("%s backend returned %d: %s", e.Backend, e.Status, e.Body)
}

// Failure ties an error to the backend that produced it.
type Failure struct {
	Backend Name
	Err     error
}

func (e *Failure) Error() string { return fmt.Sprintf("%s backend: %v", e.Backend, e.Err) }

func (e *Failure) Unwrap() error { return e.Err }

// BackendOf returns the backend named by the first Failure or CallError in
// err's chain.
func BackendOf(err error) Name {
	var f *Failure
	if errors.As(err, &f) {
		return f.Backend
	}
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Backend
	}
	return ""
}

// IsTransient reports whether err may succeed on retry: connection failures,
// timeouts and 5xx answers. Client errors, validation failures and missing
// configuration are permanent.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrNotConfigured) {
		return false
	}
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Status >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return true
	}
	var oe *net.OpError
	return errors.As(err, &oe)
}
