package intent

import (
	"sort"
	"strings"

	"github.com/ridgelineparts/triage/internal/model"
)

// keywordConfidence is the confidence assigned to keyword matches. It sits
// above the floor but below typical LLM scores so downstream consumers can
// tell the tiers apart.
const keywordConfidence = 0.6

// classifyByKeywords is the deterministic fallback used when the model
// service is unavailable or mis-configured. It scores each catalog intent by
// how many of its example phrases appear in the message.
func classifyByKeywords(defs []model.IntentDefinition, subject, body string) (model.ClassificationResult, bool) {
	text := strings.ToLower(subject + "\n" + body)

	type match struct {
		def  model.IntentDefinition
		hits int
	}
	var matches []match
	for _, d := range defs {
		hits := 0
		for _, example := range d.Examples {
			if phraseIn(text, example) {
				hits++
			}
		}
		if hits > 0 {
			matches = append(matches, match{def: d, hits: hits})
		}
	}
	if len(matches) == 0 {
		return model.ClassificationResult{}, false
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].hits > matches[j].hits })

	intents := make([]model.IntentScore, len(matches))
	for i, m := range matches {
		intents[i] = model.IntentScore{
			Slug:       m.def.Slug,
			Confidence: keywordConfidence,
			Reasoning:  "matched catalog example phrases",
		}
	}

	winner := matches[0].def
	return model.ClassificationResult{
		Intents:              intents,
		PrimaryIntent:        winner.Slug,
		Confidence:           keywordConfidence,
		RequiresVerification: winner.RequiresVerification,
		AutoEscalate:         winner.AutoEscalate,
		Source:               "keyword",
	}, true
}

// phraseIn matches a catalog example phrase loosely: every word of the
// phrase must appear, in order, somewhere in the text.
func phraseIn(text, phrase string) bool {
	phrase = strings.ToLower(strings.TrimSpace(phrase))
	if phrase == "" {
		return false
	}
	if strings.Contains(text, phrase) {
		return true
	}
	rest := text
	for _, word := range strings.Fields(phrase) {
		idx := strings.Index(rest, word)
		if idx < 0 {
			return false
		}
		rest = rest[idx+len(word):]
	}
	return true
}
