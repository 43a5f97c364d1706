package policy

import "fmt"

// Validate checks that a Rule and its children are well-formed.
func (r *Rule) Validate() error {
	label := r.Name
	if label == "" {
		label = string(r.Kind)
	}
	switch r.Kind {
	case KindThreshold, KindEquals, KindFirstRecord:
		if r.Field == "" {
			return fmt.Errorf("policy: rule %s: field is required", label)
		}
		if len(r.Rules) > 0 {
			return fmt.Errorf("policy: rule %s: only all_of and any_of take nested rules", label)
		}
	case KindAllOf, KindAnyOf:
		if len(r.Rules) == 0 {
			return fmt.Errorf("policy: rule %s: %s needs nested rules", label, r.Kind)
		}
		for i := range r.Rules {
			if err := r.Rules[i].Validate(); err != nil {
				return fmt.Errorf("%w (in %s[%d])", err, label, i)
			}
		}
	default:
		return fmt.Errorf("policy: rule %s: invalid kind %q", label, r.Kind)
	}
	return nil
}
