package policy

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// EvaluationResult captures the outcome of a policy evaluation and which
// rules caused it.
type EvaluationResult struct {
	RequiresApproval bool     `json:"requires_approval"`
	Matched          []string `json:"matched,omitempty"`
	Reason           string   `json:"reason"`
}

// RequiresApproval reports whether the workflow invocation needs a human
// decision.
func (p *Policy) RequiresApproval(workflow string, params map[string]any, facts Facts) bool {
	return p.Evaluate(workflow, params, facts).RequiresApproval
}

// Evaluate checks every top-level rule. Approval is required if any holds.
func (p *Policy) Evaluate(workflow string, params map[string]any, facts Facts) EvaluationResult {
	var matched []string
	for i := range p.rules {
		r := &p.rules[i]
		if r.holds(workflow, params, facts) {
			matched = append(matched, r.label(i))
		}
	}
	if len(matched) == 0 {
		return EvaluationResult{Reason: "no approval rule matched"}
	}
	return EvaluationResult{
		RequiresApproval: true,
		Matched:          matched,
		Reason:           "matched " + strings.Join(matched, ", "),
	}
}

// References returns the entity ids the first_record rules applicable to
// workflow will look up, so the caller can resolve Facts before Evaluate.
func (p *Policy) References(workflow string, params map[string]any) []string {
	seen := make(map[string]bool)
	var refs []string
	var walk func(rules []Rule)
	walk = func(rules []Rule) {
		for i := range rules {
			r := &rules[i]
			if !r.appliesTo(workflow) {
				continue
			}
			if r.Kind == KindFirstRecord {
				if ref, ok := stringField(params, r.Field); ok && !seen[ref] {
					seen[ref] = true
					refs = append(refs, ref)
				}
			}
			walk(r.Rules)
		}
	}
	walk(p.rules)
	return refs
}

func (r *Rule) label(i int) string {
	if r.Name != "" {
		return r.Name
	}
	return fmt.Sprintf("rule[%d]", i)
}

func (r *Rule) holds(workflow string, params map[string]any, facts Facts) bool {
	if !r.appliesTo(workflow) {
		return false
	}
	switch r.Kind {
	case KindThreshold:
		v, ok := numberField(params, r.Field)
		return ok && v > r.Threshold
	case KindEquals:
		v, ok := params[r.Field]
		return ok && v != nil && fmt.Sprint(v) == r.Value
	case KindFirstRecord:
		ref, ok := stringField(params, r.Field)
		if !ok {
			return false
		}
		// An unknown history requires approval.
		return facts.History[ref] != HistoryExists
	case KindAllOf:
		for i := range r.Rules {
			if !r.Rules[i].holds(workflow, params, facts) {
				return false
			}
		}
		return true
	case KindAnyOf:
		for i := range r.Rules {
			if r.Rules[i].holds(workflow, params, facts) {
				return true
			}
		}
	}
	return false
}

// appliesTo matches workflow against the rule's glob patterns.
func (r *Rule) appliesTo(workflow string) bool {
	if len(r.Workflows) == 0 {
		return true
	}
	for _, pattern := range r.Workflows {
		if pattern == workflow {
			return true
		}
		if ok, err := filepath.Match(pattern, workflow); err == nil && ok {
			return true
		}
	}
	return false
}

func numberField(params map[string]any, field string) (float64, bool) {
	switch v := params[field].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

func stringField(params map[string]any, field string) (string, bool) {
	v, ok := params[field].(string)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}
