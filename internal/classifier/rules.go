// Package classifier assigns category labels to tracts by evaluating an
// ordered rule list against a record's numeric fields. First match wins.
package classifier

import (
	"github.com/rotisserie/eris"
)

// Op is a comparison operator in a rule condition.
type Op string

const (
	OpGT Op = "gt"
	OpGE Op = "ge"
	OpLT Op = "lt"
	OpLE Op = "le"
)

// Combinator controls how a rule's conditions combine.
type Combinator string

const (
	CombinatorAll Combinator = "all"
	CombinatorAny Combinator = "any"
)

// Condition compares one named field against a threshold.
type Condition struct {
	Field     string  `yaml:"field" json:"field"`
	Op        Op      `yaml:"op" json:"op"`
	Threshold float64 `yaml:"threshold" json:"threshold"`
}

// Rule assigns a label when its conditions match. A rule with no conditions
// always matches and acts as the default label; it must come last.
type Rule struct {
	Name       string      `yaml:"name" json:"name"`
	Label      string      `yaml:"label" json:"label"`
	Combinator Combinator  `yaml:"combinator" json:"combinator"`
	Conditions []Condition `yaml:"conditions" json:"conditions"`
}

// Scheme is an ordered rule list evaluated top-down. Order matters: the
// categories are not mutually derivable from independent thresholds.
type Scheme struct {
	Name  string `yaml:"name" json:"name"`
	Rules []Rule `yaml:"rules" json:"rules"`
}

// Validate checks that the scheme is evaluable: at least one rule, known
// operators and combinators, and a condition-free rule only in last position.
func (s *Scheme) Validate() error {
	if len(s.Rules) == 0 {
		return eris.Errorf("classifier: scheme %q has no rules", s.Name)
	}
	for i, r := range s.Rules {
		if r.Label == "" {
			return eris.Errorf("classifier: scheme %q rule %d has no label", s.Name, i)
		}
		if len(r.Conditions) == 0 && i != len(s.Rules)-1 {
			return eris.Errorf("classifier: scheme %q rule %q is unconditional but not last", s.Name, r.Name)
		}
		if len(r.Conditions) > 1 {
			switch r.Combinator {
			case CombinatorAll, CombinatorAny:
			default:
				return eris.Errorf("classifier: scheme %q rule %q has invalid combinator %q", s.Name, r.Name, r.Combinator)
			}
		}
		for _, c := range r.Conditions {
			if c.Field == "" {
				return eris.Errorf("classifier: scheme %q rule %q has a condition with no field", s.Name, r.Name)
			}
			switch c.Op {
			case OpGT, OpGE, OpLT, OpLE:
			default:
				return eris.Errorf("classifier: scheme %q rule %q has invalid op %q", s.Name, r.Name, c.Op)
			}
		}
	}
	return nil
}

// RequiredFields returns the distinct field names the scheme references, in
// first-reference order.
func (s *Scheme) RequiredFields() []string {
	seen := make(map[string]bool)
	var fields []string
	for _, r := range s.Rules {
		for _, c := range r.Conditions {
			if !seen[c.Field] {
				seen[c.Field] = true
				fields = append(fields, c.Field)
			}
		}
	}
	return fields
}

// Evaluate applies the scheme to a record. It returns the winning label and
// rule name, or an error naming the first missing field; callers map that to
// the Indeterminate label rather than defaulting into a category.
func (s *Scheme) Evaluate(fields map[string]float64) (label, rule string, err error) {
	for _, r := range s.Rules {
		matched, missing := evalRule(r, fields)
		if missing != "" {
			return "", "", eris.Errorf("classifier: missing field %q", missing)
		}
		if matched {
			return r.Label, r.Name, nil
		}
	}
	// Validate guarantees a trailing default in built-in schemes; a custom
	// scheme without one falls through here.
	return "", "", eris.Errorf("classifier: scheme %q matched no rule", s.Name)
}

// MissingField reports the first field the record lacks, or "" if complete.
func (s *Scheme) MissingField(fields map[string]float64) string {
	for _, f := range s.RequiredFields() {
		if _, ok := fields[f]; !ok {
			return f
		}
	}
	return ""
}

func evalRule(r Rule, fields map[string]float64) (matched bool, missingField string) {
	if len(r.Conditions) == 0 {
		return true, ""
	}

	any := r.Combinator == CombinatorAny
	result := !any // all: start true, any: start false

	for _, c := range r.Conditions {
		v, ok := fields[c.Field]
		if !ok {
			return false, c.Field
		}
		hit := evalCondition(v, c)
		if any {
			result = result || hit
		} else {
			result = result && hit
		}
	}
	return result, ""
}

func evalCondition(v float64, c Condition) bool {
	switch c.Op {
	case OpGT:
		return v > c.Threshold
	case OpGE:
		return v >= c.Threshold
	case OpLT:
		return v < c.Threshold
	case OpLE:
		return v <= c.Threshold
	}
	return false
}
