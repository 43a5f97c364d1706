// Package domain provides shared domain-level sentinel errors and the error
// taxonomy surfaced to tool callers and webhook senders.
package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a conditional update lost to a concurrent writer.
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates invalid input or a backend validation rejection.
var ErrValidation = errors.New("validation failed")

// Taxonomy sentinels. Every error surfaced to a caller wraps exactly one of
// these (or ErrValidation) so that KindOf is deterministic.
var (
	ErrUnknownTool        = errors.New("unknown tool")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrBackendTimeout     = errors.New("backend timeout")
	ErrBackendError       = errors.New("backend error")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrRequestNotFound    = fmt.Errorf("approval request %w", ErrNotFound)
	ErrAlreadyDecided     = errors.New("approval request already decided")
	ErrMalformedCallback  = errors.New("malformed callback")
	ErrExpired            = errors.New("approval request expired")
)

// Kind names one class of the error taxonomy.
type Kind string

const (
	KindUnknownTool        Kind = "UnknownTool"
	KindValidationFailed   Kind = "ValidationFailed"
	KindBackendUnavailable Kind = "BackendUnavailable"
	KindBackendTimeout     Kind = "BackendTimeout"
	KindBackendError       Kind = "BackendError"
	KindUnauthorized       Kind = "Unauthorized"
	KindRequestNotFound    Kind = "RequestNotFound"
	KindAlreadyDecided     Kind = "AlreadyDecided"
	KindMalformedCallback  Kind = "MalformedCallback"
	KindExpired            Kind = "Expired"
)

var kindMessages = map[Kind]string{
	KindUnknownTool:        "the requested tool does not exist",
	KindValidationFailed:   "the request was rejected as invalid",
	KindBackendUnavailable: "a backend service is unavailable, retry later",
	KindBackendTimeout:     "a backend service did not answer in time, retry later",
	KindBackendError:       "a backend service failed to process the request",
	KindUnauthorized:       "invalid or missing credentials",
	KindRequestNotFound:    "no approval request matches this identifier",
	KindAlreadyDecided:     "the approval request was already decided",
	KindMalformedCallback:  "the callback payload is malformed",
	KindExpired:            "the approval request expired before a decision was made",
}

// Message returns the stable caller-facing message for k.
func (k Kind) Message() string {
	if m, ok := kindMessages[k]; ok {
		return m
	}
	return "internal error"
}

// Error is a classified failure. Tool and Category are set for tool calls;
// Status and Detail carry what a backend answered, when it answered.
type Error struct {
	Kind     Kind
	Tool     string
	Category string
	Backend  string
	Status   int
	Detail   string
	Err      error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Tool != "" {
		msg = fmt.Sprintf("%s (tool %s)", msg, e.Tool)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// StepError reports a failure after earlier steps of a workflow already
// took effect. Classification keeps Done in front of the detail.
type StepError struct {
	Done string
	Err  error
}

func (e *StepError) Error() string { return e.Done + ": " + e.Err.Error() }

func (e *StepError) Unwrap() error { return e.Err }

// KindOf maps err onto the taxonomy. It returns "" for errors that carry no
// taxonomy sentinel.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) && de.Kind != "" {
		return de.Kind
	}
	switch {
	case errors.Is(err, ErrUnknownTool):
		return KindUnknownTool
	case errors.Is(err, ErrValidation):
		return KindValidationFailed
	case errors.Is(err, ErrBackendUnavailable):
		return KindBackendUnavailable
	case errors.Is(err, ErrBackendTimeout):
		return KindBackendTimeout
	case errors.Is(err, ErrBackendError):
		return KindBackendError
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrRequestNotFound):
		return KindRequestNotFound
	case errors.Is(err, ErrAlreadyDecided):
		return KindAlreadyDecided
	case errors.Is(err, ErrMalformedCallback):
		return KindMalformedCallback
	case errors.Is(err, ErrExpired):
		return KindExpired
	}
	return ""
}

// Payload is the rendering of an error returned to tool callers and
// webhook senders. It never carries the raw error chain.
type Payload struct {
	Kind     Kind   `json:"kind"`
	Message  string `json:"message"`
	Tool     string `json:"tool,omitempty"`
	Category string `json:"category,omitempty"`
	Backend  string `json:"backend,omitempty"`
	Status   int    `json:"status,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// PayloadOf renders err. Errors outside the taxonomy become an internal
// error with no detail.
func PayloadOf(err error) Payload {
	var de *Error
	if errors.As(err, &de) && de.Kind != "" {
		return Payload{
			Kind:     de.Kind,
			Message:  de.Kind.Message(),
			Tool:     de.Tool,
			Category: de.Category,
			Backend:  de.Backend,
			Status:   de.Status,
			Detail:   de.Detail,
		}
	}
	k := KindOf(err)
	if k == "" {
		k = "Internal"
	}
	return Payload{Kind: k, Message: k.Message()}
}
