// Package catalog holds the invoicing tools exposed by the gateway: read
// tools backed by RPC functions, write tools backed by the database worker
// and workflows that orchestrate several workers.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Strob0t/flowgate/internal/domain"
	"github.com/Strob0t/flowgate/internal/domain/hitl"
	"github.com/Strob0t/flowgate/internal/domain/tool"
	"github.com/Strob0t/flowgate/internal/port/backend"
)

// Gate decides whether a workflow invocation must wait for a human. A nil
// Pending means the workflow may proceed.
type Gate interface {
	Check(ctx context.Context, inv tool.Invocation) (*hitl.Pending, error)
}

// Catalog binds the tool handlers to a backend client.
type Catalog struct {
	client backend.Client
	gate   Gate
}

// New creates the catalog. gate may be nil, which disables approval.
func New(client backend.Client, gate Gate) *Catalog {
	return &Catalog{client: client, gate: gate}
}

// Registry builds the immutable tool registry.
func (c *Catalog) Registry() (*tool.Registry, error) {
	descs := c.readTools()
	descs = append(descs, c.writeTools()...)
	descs = append(descs, c.workflowTools()...)
	return tool.NewRegistry(descs...)
}

// rpc calls an RPC function and returns its raw answer.
func (c *Catalog) rpc(ctx context.Context, requestID, fn string, args map[string]any) (json.RawMessage, error) {
	return c.client.Do(ctx, backend.Request{
		Backend:   backend.RPC,
		Path:      fn,
		Body:      args,
		RequestID: requestID,
	})
}

func (c *Catalog) call(ctx context.Context, requestID string, name backend.Name, method, path string, body any, validate bool) (json.RawMessage, error) {
	return c.client.Do(ctx, backend.Request{
		Backend:           name,
		Method:            method,
		Path:              path,
		Body:              body,
		RequestID:         requestID,
		RequireValidation: validate,
	})
}

// decodeObject parses raw into a generic object. RPC functions returning
// a set answer with a list; the first row is used.
func decodeObject(raw json.RawMessage) (map[string]any, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case []any:
		if len(t) == 0 {
			return nil, false
		}
		obj, ok := t[0].(map[string]any)
		return obj, ok
	}
	return nil, false
}

// str renders a scalar field as a string; numbers keep their JSON text.
func str(obj map[string]any, key string) string {
	switch v := obj[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// responseID extracts the identifier a write answered with, looking at the
// top level first and then under "data".
func responseID(raw json.RawMessage, keys ...string) (string, bool) {
	obj, ok := decodeObject(raw)
	if !ok {
		return "", false
	}
	keys = append(keys, "id")
	for _, k := range keys {
		if id := str(obj, k); id != "" {
			return id, true
		}
	}
	if data, ok := obj["data"].(map[string]any); ok {
		for _, k := range keys {
			if id := str(data, k); id != "" {
				return id, true
			}
		}
	}
	return "", false
}

func notFound(name backend.Name, what, id string) error {
	return &backend.CallError{Backend: name, Status: 404, Body: fmt.Sprintf("%s %s not found", what, id)}
}

func missingField(name backend.Name, field string) error {
	return &domain.Error{
		Kind:    domain.KindBackendError,
		Backend: string(name),
		Detail:  fmt.Sprintf("%s backend answered without %s", name, field),
		Err:     domain.ErrBackendError,
	}
}

func decode(inv tool.Invocation, dst any) error {
	if err := inv.Decode(dst); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrValidation, inv.Tool, err)
	}
	return nil
}
