package classifier

import (
	"github.com/raaihank/logsort/internal/logger"
	"go.uber.org/zap"
)

// Classifier assigns a category to a log line using an ordered RuleSet.
// It holds no mutable state and is safe for concurrent use.
type Classifier struct {
	rules  *RuleSet
	logger *logger.Logger
}

// New creates a classifier over the given rule set
func New(rules *RuleSet, log *logger.Logger) *Classifier {
	if log == nil {
		log = logger.NewNop()
	}

	log.Info("Classifier initialized",
		zap.Int("total_rules", rules.Len()),
		zap.Strings("labels", rules.Labels()),
	)

	return &Classifier{
		rules:  rules,
		logger: log,
	}
}

// NewDefault creates a classifier over DefaultRules
func NewDefault(log *logger.Logger) *Classifier {
	return New(MustRuleSet(DefaultRules()), log)
}

// Classify returns the label of the first rule whose pattern occurs anywhere
// in text, ignoring case, or Unmatched when none does.
func (c *Classifier) Classify(text string) Result {
	result := c.rules.match(text)

	if ce := c.logger.Check(zap.DebugLevel, "Log line classified"); ce != nil {
		ce.Write(
			zap.String("label", result.String()),
			zap.Int("rule_index", result.RuleIndex),
		)
	}

	return result
}

// ClassifyRecord classifies a record's message. The source does not take
// part in matching; it is only attached to debug output.
func (c *Classifier) ClassifyRecord(source, message string) Result {
	result := c.rules.match(message)

	if ce := c.logger.Check(zap.DebugLevel, "Record classified"); ce != nil {
		ce.Write(
			zap.String("source", source),
			zap.String("label", result.String()),
			zap.Int("rule_index", result.RuleIndex),
		)
	}

	return result
}

// Rules returns the classifier's rules in priority order
func (c *Classifier) Rules() []Rule {
	return c.rules.Rules()
}

// Labels returns the distinct labels this classifier can produce
func (c *Classifier) Labels() []string {
	return c.rules.Labels()
}
