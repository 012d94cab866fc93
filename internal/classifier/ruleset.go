package classifier

import (
	"errors"
	"regexp"
	"strings"
)

var errEmptyLabel = errors.New("label must not be empty")

// RuleSet is an immutable, ordered list of compiled rules.
// Earlier rules take priority; duplicates are allowed but only the first can fire.
type RuleSet struct {
	rules []compiledRule
}

// NewRuleSet compiles rules in order. Any invalid pattern or empty label
// returns a *ConfigurationError and no RuleSet.
func NewRuleSet(rules []Rule) (*RuleSet, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for i, rule := range rules {
		if strings.TrimSpace(rule.Label) == "" {
			return nil, &ConfigurationError{Index: i, Pattern: rule.Pattern, Err: errEmptyLabel}
		}

		re, err := regexp.Compile("(?i)" + rule.Pattern)
		if err != nil {
			return nil, &ConfigurationError{Index: i, Pattern: rule.Pattern, Err: err}
		}

		compiled = append(compiled, compiledRule{Rule: rule, re: re})
	}

	return &RuleSet{rules: compiled}, nil
}

// MustRuleSet is NewRuleSet for static tables known to compile
func MustRuleSet(rules []Rule) *RuleSet {
	rs, err := NewRuleSet(rules)
	if err != nil {
		panic(err)
	}
	return rs
}

// Len returns the number of rules
func (rs *RuleSet) Len() int {
	return len(rs.rules)
}

// Rules returns a copy of the rules in priority order
func (rs *RuleSet) Rules() []Rule {
	out := make([]Rule, len(rs.rules))
	for i, r := range rs.rules {
		out[i] = r.Rule
	}
	return out
}

// Labels returns the distinct labels in order of first appearance
func (rs *RuleSet) Labels() []string {
	seen := make(map[string]bool, len(rs.rules))
	var labels []string
	for _, r := range rs.rules {
		if !seen[r.Label] {
			seen[r.Label] = true
			labels = append(labels, r.Label)
		}
	}
	return labels
}

// match returns the first rule matching anywhere in text
func (rs *RuleSet) match(text string) Result {
	for i, r := range rs.rules {
		if r.re.MatchString(text) {
			return Result{Label: r.Label, Matched: true, RuleIndex: i}
		}
	}
	return Unmatched
}
