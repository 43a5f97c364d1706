// Package policy decides whether a workflow invocation needs human approval.
//
// A policy is a list of named rules; approval is required when any top-level
// rule holds. Composite rules (all_of, any_of) nest further rules. Evaluation
// is pure: lookups a rule depends on are resolved by the caller beforehand
// and passed in as Facts.
package policy

// Kind selects how a rule is evaluated.
type Kind string

const (
	// KindThreshold holds when a numeric field exceeds Threshold.
	KindThreshold Kind = "threshold"
	// KindEquals holds when a field's value equals Value.
	KindEquals Kind = "equals"
	// KindFirstRecord holds when the entity referenced by Field has no prior
	// record, or when that could not be determined.
	KindFirstRecord Kind = "first_record"
	KindAllOf       Kind = "all_of"
	KindAnyOf       Kind = "any_of"
)

// Rule is one named approval condition.
type Rule struct {
	Name      string   `json:"name" yaml:"name"`
	Kind      Kind     `json:"kind" yaml:"kind"`
	Workflows []string `json:"workflows,omitempty" yaml:"workflows,omitempty"` // glob patterns; empty matches all
	Field     string   `json:"field,omitempty" yaml:"field,omitempty"`
	Threshold float64  `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	Value     string   `json:"value,omitempty" yaml:"value,omitempty"`
	Rules     []Rule   `json:"rules,omitempty" yaml:"rules,omitempty"`
}

// History is what is known about prior records of a referenced entity.
type History int

const (
	HistoryUnknown History = iota
	HistoryNone
	HistoryExists
)

// Facts carries lookup results keyed by the referenced entity id.
type Facts struct {
	History map[string]History
}

// Policy is a validated rule set.
type Policy struct {
	rules []Rule
}

// New validates rules and returns the policy.
func New(rules []Rule) (*Policy, error) {
	for i := range rules {
		if err := rules[i].Validate(); err != nil {
			return nil, err
		}
	}
	return &Policy{rules: rules}, nil
}

// Rules returns the top-level rules.
func (p *Policy) Rules() []Rule { return p.rules }
