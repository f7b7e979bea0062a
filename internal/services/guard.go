package services

import (
	"strings"
)

// ComplianceGuard detects opt-out keywords. Opt-in is never keyword-driven:
// re-enrollment from stop requires an explicit operator action, so the guard
// only answers the opt-out question.
type ComplianceGuard struct {
	keywords map[string]bool
}

// NewComplianceGuard builds a guard for the configured keyword set.
func NewComplianceGuard(keywords []string) *ComplianceGuard {
	set := make(map[string]bool, len(keywords))
	for _, k := range keywords {
		set[strings.ToUpper(strings.TrimSpace(k))] = true
	}
	return &ComplianceGuard{keywords: set}
}

// IsOptOut reports whether the inbound text is an opt-out request:
// a whole-message, case-insensitive match after trimming whitespace.
// "please stop" is a normal reply; "STOP" is not.
func (g *ComplianceGuard) IsOptOut(text string) bool {
	return g.keywords[strings.ToUpper(strings.TrimSpace(text))]
}
