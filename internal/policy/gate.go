// Package policy implements the deterministic safety gate applied to every
// candidate draft before it can be sent. It runs downstream of generation so
// no generation strategy can bypass it.
package policy

import (
	"fmt"
	"regexp"
	"strings"
)

// Result is the gate's verdict for one text. OK is false whenever Reasons is
// non-empty.
type Result struct {
	OK      bool     `json:"ok"`
	Reasons []string `json:"reasons,omitempty"`
}

// rule is one denylist pattern with its violation category.
type rule struct {
	category string
	reason   string
	pattern  *regexp.Regexp
}

var defaultRules = []rule{
	{
		category: "refund_promise",
		reason:   "promises a refund or replacement",
		pattern:  regexp.MustCompile(`(?i)\b(?:we(?:'ll| will)?|i(?:'ll| will)?)\s+(?:issue|send|process|give)\s+(?:you\s+)?(?:a\s+)?(?:full\s+)?(?:refund|replacement|credit)`),
	},
	{
		category: "refund_promise",
		reason:   "promises a refund or replacement",
		pattern:  regexp.MustCompile(`(?i)\b(?:full|immediate)\s+refund\b|\bfree\s+replacement\b`),
	},
	{
		category: "timeline_promise",
		reason:   "commits to a delivery or resolution timeline",
		pattern:  regexp.MustCompile(`(?i)\b(?:guarantee[ds]?|promise)\b.{0,40}\b(?:deliver|arriv|ship|resolv)|\bwill\s+(?:arrive|ship|be\s+delivered)\s+(?:by|within|in)\s+\d`),
	},
	{
		category: "legal",
		reason:   "makes a legal claim or admission",
		pattern:  regexp.MustCompile(`(?i)\b(?:liab(?:le|ility)|lawsuit|attorney|legal\s+action|legally\s+(?:required|obligated)|negligen(?:t|ce))\b`),
	},
	{
		category: "competitor",
		reason:   "mentions a competitor",
		pattern:  regexp.MustCompile(`(?i)\b(?:rockauto|autozone|o'?reilly|advance\s+auto|napa\s+auto)\b`),
	},
	{
		category: "deflection",
		reason:   "deflects instead of helping",
		pattern:  regexp.MustCompile(`(?i)\b(?:not\s+our\s+(?:problem|fault|responsibility)|nothing\s+(?:we|i)\s+can\s+do|out\s+of\s+our\s+hands)\b`),
	},
}

// Gate scans candidate drafts against the denylist. It is a pure function of
// the text: no external calls, same verdict every run.
type Gate struct {
	rules []rule
}

// NewGate creates a gate with the default rule set.
func NewGate() *Gate {
	return &Gate{rules: defaultRules}
}

// Check scans text and returns every violation found.
func (g *Gate) Check(text string) Result {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Result{OK: true}
	}

	var reasons []string
	seen := make(map[string]bool)
	for _, r := range g.rules {
		if !r.pattern.MatchString(trimmed) {
			continue
		}
		msg := fmt.Sprintf("%s: %s", r.category, r.reason)
		if seen[msg] {
			continue
		}
		seen[msg] = true
		reasons = append(reasons, msg)
	}

	return Result{OK: len(reasons) == 0, Reasons: reasons}
}

// Categories returns the violation categories present in a result, for
// metrics labeling.
func Categories(res Result) []string {
	var out []string
	seen := make(map[string]bool)
	for _, reason := range res.Reasons {
		cat, _, ok := strings.Cut(reason, ":")
		if !ok || seen[cat] {
			continue
		}
		seen[cat] = true
		out = append(out, cat)
	}
	return out
}
