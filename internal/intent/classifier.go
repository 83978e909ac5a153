package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ridgelineparts/triage/internal/llm"
	"github.com/ridgelineparts/triage/internal/model"
	"github.com/ridgelineparts/triage/pkg/logger"
	"github.com/ridgelineparts/triage/pkg/metrics"
)

// ConfidenceFloor is the minimum confidence for an intent to be kept.
const ConfidenceFloor = 0.5

// unknownFallbackConfidence is used when classification itself failed.
const unknownFallbackConfidence = 0.3

// Classifier turns raw message text into scored intent labels. It never
// hard-fails: service errors degrade to the keyword fallback, then to the
// UNKNOWN sentinel.
type Classifier struct {
	registry *Registry
	client   llm.Client
	model    string
	timeout  time.Duration
	logger   *logger.Logger
}

// NewClassifier creates a classifier. client may be nil when no LLM is
// configured; classification then always uses the keyword fallback.
func NewClassifier(registry *Registry, client llm.Client, modelName string, timeout time.Duration, log *logger.Logger) *Classifier {
	return &Classifier{
		registry: registry,
		client:   client,
		model:    modelName,
		timeout:  timeout,
		logger:   log,
	}
}

// llmClassification is the JSON shape the model is instructed to return.
// RequiresVerification/AutoEscalate are pointers so the model's contextual
// judgment can be distinguished from absence.
type llmClassification struct {
	Intents []struct {
		Slug       string  `json:"slug"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
	} `json:"intents"`
	RequiresVerification *bool `json:"requires_verification"`
	AutoEscalate         *bool `json:"auto_escalate"`
}

// Classify classifies one message. conversationContext may be empty.
func (c *Classifier) Classify(ctx context.Context, subject, body, conversationContext string) model.ClassificationResult {
	defs := c.registry.All(ctx)

	if c.client == nil {
		return c.fallback(defs, subject, body, "no LLM client configured")
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.Complete(callCtx, &llm.CompletionRequest{
		Model:       c.model,
		System:      classifySystemPrompt(defs),
		Messages:    []llm.ChatMessage{{Role: "user", Content: classifyUserPrompt(subject, body, conversationContext)}},
		MaxTokens:   1024,
		Temperature: 0,
	})
	if err != nil {
		metrics.RecordLLMRequest(c.model, "classify", "error", time.Since(start).Seconds(), 0, 0)
		c.logger.Warn("classification call failed, using fallback", zap.Error(err))
		return c.fallback(defs, subject, body, "classifier unavailable: "+err.Error())
	}
	metrics.RecordLLMRequest(resp.Model, "classify", "success", time.Since(start).Seconds(), resp.TokensIn, resp.TokensOut)

	parsed, err := parseClassification(resp.Content)
	if err != nil {
		c.logger.Warn("classification output unparseable", zap.Error(err))
		return unknownResult(unknownFallbackConfidence, "model output unparseable", "fallback")
	}

	result := c.assemble(parsed, defs)
	metrics.ClassificationsTotal.WithLabelValues(result.PrimaryIntent, result.Source).Inc()
	return result
}

// assemble validates model output against the live catalog, applies the
// confidence floor, and resolves the verification/escalation booleans.
func (c *Classifier) assemble(parsed *llmClassification, defs []model.IntentDefinition) model.ClassificationResult {
	known := make(map[string]model.IntentDefinition, len(defs))
	for _, d := range defs {
		known[d.Slug] = d
	}

	var kept []model.IntentScore
	for _, in := range parsed.Intents {
		slug := strings.ToUpper(strings.TrimSpace(in.Slug))
		if _, ok := known[slug]; !ok {
			// Slug not in the active catalog; the model hallucinated it.
			continue
		}
		if in.Confidence < ConfidenceFloor {
			continue
		}
		conf := in.Confidence
		if conf > 1 {
			conf = 1
		}
		kept = append(kept, model.IntentScore{Slug: slug, Confidence: conf, Reasoning: in.Reasoning})
	}

	if len(kept) == 0 {
		res := unknownResult(ConfidenceFloor, "no intent matched", "llm")
		res.RequiresVerification = boolOr(parsed.RequiresVerification, false)
		res.AutoEscalate = boolOr(parsed.AutoEscalate, false)
		return res
	}

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Confidence > kept[j].Confidence })
	primary := kept[0]
	def := known[primary.Slug]

	// The model's contextual judgment wins over the static flag: whether a
	// request needs verification is situational, not a property of the
	// intent alone.
	return model.ClassificationResult{
		Intents:              kept,
		PrimaryIntent:        primary.Slug,
		Confidence:           primary.Confidence,
		RequiresVerification: boolOr(parsed.RequiresVerification, def.RequiresVerification),
		AutoEscalate:         boolOr(parsed.AutoEscalate, def.AutoEscalate),
		Source:               "llm",
	}
}

// fallback runs the deterministic keyword classifier, or returns UNKNOWN at
// low confidence when nothing matches.
func (c *Classifier) fallback(defs []model.IntentDefinition, subject, body, reason string) model.ClassificationResult {
	if res, ok := classifyByKeywords(defs, subject, body); ok {
		metrics.ClassificationsTotal.WithLabelValues(res.PrimaryIntent, res.Source).Inc()
		return res
	}
	res := unknownResult(unknownFallbackConfidence, reason, "fallback")
	metrics.ClassificationsTotal.WithLabelValues(res.PrimaryIntent, res.Source).Inc()
	return res
}

func unknownResult(confidence float64, reason, source string) model.ClassificationResult {
	return model.ClassificationResult{
		Intents: []model.IntentScore{{
			Slug:       model.IntentUnknown,
			Confidence: confidence,
			Reasoning:  reason,
		}},
		PrimaryIntent: model.IntentUnknown,
		Confidence:    confidence,
		Source:        source,
	}
}

func boolOr(v *bool, def bool) bool {
	if v != nil {
		return *v
	}
	return def
}

// parseClassification extracts the JSON object from model output, tolerating
// markdown fences and surrounding prose.
func parseClassification(raw string) (*llmClassification, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, errors.New("no JSON object in model output")
	}

	var parsed llmClassification
	if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err != nil {
		return nil, fmt.Errorf("decode classification: %w", err)
	}
	return &parsed, nil
}

func classifySystemPrompt(defs []model.IntentDefinition) string {
	var b strings.Builder
	b.WriteString("You classify inbound customer-support emails for an auto-parts retailer.\n")
	b.WriteString("Choose only from these intents:\n\n")

	sorted := make([]model.IntentDefinition, len(defs))
	copy(sorted, defs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Slug < sorted[j].Slug })

	for _, d := range sorted {
		fmt.Fprintf(&b, "- %s: %s\n", d.Slug, d.Description)
		if len(d.Examples) > 0 {
			fmt.Fprintf(&b, "  examples: %s\n", strings.Join(d.Examples, "; "))
		}
	}

	b.WriteString(`
Respond with only a JSON object:
{"intents":[{"slug":"...","confidence":0.0,"reasoning":"..."}],"requires_verification":true,"auto_escalate":false}

List every applicable intent with confidence between 0 and 1.
Set requires_verification from context: order-specific requests need a verified order, but a pre-sale question about the same product line does not.
Set auto_escalate true for chargeback or dispute threats, legal threats, or anything a human must see immediately.`)
	return b.String()
}

func classifyUserPrompt(subject, body, conversationContext string) string {
	var b strings.Builder
	if conversationContext != "" {
		b.WriteString("Earlier conversation:\n")
		b.WriteString(conversationContext)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Subject: %s\n\n%s", subject, body)
	return b.String()
}
