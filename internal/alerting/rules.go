// internal/alerting/rules.go
package alerting

import (
	"github.com/fairlens/biasguard/internal/bias"
	"github.com/fairlens/biasguard/internal/config"
)

type ruleKey struct {
	dimension string
	category  string
}

// ruleTable indexes threshold ladders by (dimension, category). It is built
// once per configuration and swapped wholesale on reconfigure, so lookups
// need no locking.
type ruleTable struct {
	rules map[ruleKey]config.ThresholdRule
}

func newRuleTable(rules []config.ThresholdRule) *ruleTable {
	t := &ruleTable{rules: make(map[ruleKey]config.ThresholdRule, len(rules))}
	for _, r := range rules {
		t.rules[ruleKey{r.Dimension, r.Category}] = r
	}
	return t
}

// severityFor picks the highest tier whose threshold is exceeded by either
// the instantaneous score or the current window mean. SeverityNone means no
// breach.
func (t *ruleTable) severityFor(dimension, category string, score, windowMean float64) bias.Severity {
	rule, ok := t.rules[ruleKey{dimension, category}]
	if !ok {
		return bias.SeverityNone
	}

	value := score
	if windowMean > value {
		value = windowMean
	}

	switch {
	case value > rule.Critical:
		return bias.SeverityCritical
	case value > rule.High:
		return bias.SeverityHigh
	case value > rule.Medium:
		return bias.SeverityMedium
	default:
		return bias.SeverityNone
	}
}
