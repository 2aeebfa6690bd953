package recurrence

import "strings"

// Rule is the symbolic recurrence policy stored on an assistant.
type Rule string

const (
	RuleNone    Rule = "none"
	RuleMinute  Rule = "minute"
	RuleHourly  Rule = "hourly"
	RuleDaily   Rule = "daily"
	RuleWeekly  Rule = "weekly"
	RuleMonthly Rule = "monthly"
	RuleOnce    Rule = "once"
)

var knownRules = map[Rule]struct{}{
	RuleNone:    {},
	RuleMinute:  {},
	RuleHourly:  {},
	RuleDaily:   {},
	RuleWeekly:  {},
	RuleMonthly: {},
	RuleOnce:    {},
}

// Parse normalizes s and reports whether it names a known rule.
// An empty string is treated as none.
func Parse(s string) (Rule, bool) {
	r := Rule(strings.ToLower(strings.TrimSpace(s)))
	if r == "" {
		return RuleNone, true
	}
	_, ok := knownRules[r]
	return r, ok
}

// Recurring reports whether the rule yields another run after firing.
func (r Rule) Recurring() bool {
	switch r {
	case RuleMinute, RuleHourly, RuleDaily, RuleWeekly, RuleMonthly:
		return true
	default:
		return false
	}
}
