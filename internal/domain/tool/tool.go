// Package tool defines tool descriptors, the immutable tool registry and the
// per-call invocation value handed to handlers.
package tool

import (
	"context"
	"encoding/json"
)

// Category classifies what a tool does to backend state.
type Category string

const (
	CategoryRead     Category = "read"
	CategoryWrite    Category = "write"
	CategoryWorkflow Category = "workflow"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryRead, CategoryWrite, CategoryWorkflow:
		return true
	}
	return false
}

// Invocation is one call of a tool. It is the explicit per-call context:
// the correlation id travels here, never through globals.
type Invocation struct {
	Tool      string
	Params    json.RawMessage
	RequestID string

	// Resumed marks the replay of an approved request. Workflows must not
	// consult the approval gate again for a resumed invocation.
	Resumed bool
}

// Decode unmarshals the invocation parameters into dst.
func (inv Invocation) Decode(dst any) error {
	if len(inv.Params) == 0 {
		return json.Unmarshal([]byte("{}"), dst)
	}
	return json.Unmarshal(inv.Params, dst)
}

// Handler executes one invocation and returns a JSON-serializable result.
type Handler func(ctx context.Context, inv Invocation) (any, error)

// Descriptor describes one registered tool.
type Descriptor struct {
	Name        string
	Category    Category
	Summary     string
	Description string
	Schema      json.RawMessage
	Handler     Handler
}
