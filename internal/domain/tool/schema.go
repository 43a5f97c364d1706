package tool

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/Strob0t/flowgate/internal/domain"
)

// schema is the subset of JSON Schema the catalog uses: a flat object with
// typed properties, optional enums and a required list.
type schema struct {
	Type       string              `json:"type"`
	Properties map[string]property `json:"properties"`
	Required   []string            `json:"required"`
}

type property struct {
	Type string `json:"type"`
	Enum []any  `json:"enum"`
}

func parseSchema(raw json.RawMessage) (*schema, error) {
	var s schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	if s.Type != "object" {
		return nil, fmt.Errorf("schema type must be object, got %q", s.Type)
	}
	for _, name := range s.Required {
		if _, ok := s.Properties[name]; !ok {
			return nil, fmt.Errorf("required field %q is not a declared property", name)
		}
	}
	return &s, nil
}

// ValidateParams checks params against the descriptor schema: params must be
// a JSON object, required fields present and non-null, and declared fields of
// the declared type and enum. Undeclared fields pass through untouched.
func (d Descriptor) ValidateParams(params json.RawMessage) error {
	s, err := parseSchema(d.Schema)
	if err != nil {
		return err
	}
	return s.validate(params)
}

func (s *schema) validate(params json.RawMessage) error {
	if len(bytes.TrimSpace(params)) == 0 {
		params = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(params))
	dec.UseNumber()
	var values map[string]any
	if err := dec.Decode(&values); err != nil || values == nil {
		return fmt.Errorf("%w: params must be a JSON object", domain.ErrValidation)
	}

	var problems []string
	for _, name := range s.Required {
		if v, ok := values[name]; !ok || v == nil {
			problems = append(problems, fmt.Sprintf("missing required field %q", name))
		}
	}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		prop, declared := s.Properties[name]
		v := values[name]
		if !declared || v == nil {
			continue
		}
		if prop.Type != "" && !matchesType(prop.Type, v) {
			problems = append(problems, fmt.Sprintf("field %q must be of type %s", name, prop.Type))
			continue
		}
		if len(prop.Enum) > 0 && !inEnum(prop.Enum, v) {
			problems = append(problems, fmt.Sprintf("field %q must be one of %v", name, prop.Enum))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

func matchesType(typ string, v any) bool {
	switch typ {
	case "string":
		_, ok := v.(string)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "number":
		_, ok := v.(json.Number)
		return ok
	case "integer":
		n, ok := v.(json.Number)
		if !ok {
			return false
		}
		f, err := n.Float64()
		return err == nil && f == math.Trunc(f)
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	}
	return true
}

func inEnum(enum []any, v any) bool {
	want := fmt.Sprint(v)
	for _, e := range enum {
		if fmt.Sprint(e) == want {
			return true
		}
	}
	return false
}
