package classifier

import (
	"fmt"
	"regexp"
)

// UnclassifiedLabel is how an unmatched result renders when a caller needs text
const UnclassifiedLabel = "Unclassified"

// Rule is a single (pattern, label) pair as authored
type Rule struct {
	Pattern string `json:"pattern" yaml:"pattern" mapstructure:"pattern"`
	Label   string `json:"label" yaml:"label" mapstructure:"label"`
}

// compiledRule is a Rule with its case-insensitive regexp
type compiledRule struct {
	Rule
	re *regexp.Regexp
}

// Result is the outcome of classifying one line.
// A Result with Matched false is the no-match sentinel; its Label is always empty.
type Result struct {
	Label     string `json:"label"`
	Matched   bool   `json:"matched"`
	RuleIndex int    `json:"rule_index"`
}

// Unmatched is returned when no rule in the set matches
var Unmatched = Result{RuleIndex: -1}

// IsMatch reports whether a rule matched
func (r Result) IsMatch() bool {
	return r.Matched
}

// LabelOr returns the matched label, or fallback for the no-match sentinel
func (r Result) LabelOr(fallback string) string {
	if !r.Matched {
		return fallback
	}
	return r.Label
}

func (r Result) String() string {
	return r.LabelOr(UnclassifiedLabel)
}

// ConfigurationError is returned when a RuleSet cannot be built
type ConfigurationError struct {
	Index   int
	Pattern string
	Err     error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("rule %d (%q): %v", e.Index, e.Pattern, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}
