package tool

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Registry is the tool catalog. It is built once at startup and never
// mutated afterwards, so lookups need no locking.
type Registry struct {
	byName map[string]Descriptor
	names  []string
}

// NewRegistry validates descriptors and builds the registry. Duplicate names,
// unknown categories, missing handlers and unparsable schemas are rejected.
func NewRegistry(descs ...Descriptor) (*Registry, error) {
	r := &Registry{byName: make(map[string]Descriptor, len(descs))}
	var errs []error
	for i := range descs {
		d := descs[i]
		switch {
		case d.Name == "":
			errs = append(errs, fmt.Errorf("descriptor %d: empty name", i))
			continue
		case !d.Category.Valid():
			errs = append(errs, fmt.Errorf("tool %s: invalid category %q", d.Name, d.Category))
			continue
		case d.Handler == nil:
			errs = append(errs, fmt.Errorf("tool %s: nil handler", d.Name))
			continue
		}
		if _, dup := r.byName[d.Name]; dup {
			errs = append(errs, fmt.Errorf("tool %s: registered twice", d.Name))
			continue
		}
		if len(d.Schema) == 0 {
			d.Schema = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		if _, err := parseSchema(d.Schema); err != nil {
			errs = append(errs, fmt.Errorf("tool %s: %w", d.Name, err))
			continue
		}
		r.byName[d.Name] = d
		r.names = append(r.names, d.Name)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	sort.Strings(r.names)
	return r, nil
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// List returns all descriptors ordered by name.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.byName[n])
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int { return len(r.names) }
