package draft

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ridgelineparts/triage/internal/llm"
	"github.com/ridgelineparts/triage/internal/model"
	"github.com/ridgelineparts/triage/internal/policy"
	"github.com/ridgelineparts/triage/internal/store"
	"github.com/ridgelineparts/triage/pkg/logger"
	"github.com/ridgelineparts/triage/pkg/metrics"
)

var markerPattern = regexp.MustCompile(`\[KB-(\d+)\]`)

// GenerateInput bundles everything one generation attempt sees.
type GenerateInput struct {
	ThreadID        string
	Intent          string
	Subject         string
	Body            string
	Knowledge       []model.SearchResult
	History         []model.Message
	Order           *model.OrderSnapshot
	Customer        *model.CustomerProfile
	AttachmentText  string
	ThreadCreatedAt time.Time
}

// GenerateResult is the outcome of one attempt. Draft is nil when the policy
// gate blocked the output or generation failed; RawDraft is preserved for
// human review either way.
type GenerateResult struct {
	Success          bool
	Draft            *string
	RawDraft         string
	Citations        []model.Citation
	PolicyPassed     bool
	PolicyViolations []string
	RecordID         string
	Error            string
}

// Config tunes the generator.
type Config struct {
	Model           string
	Timeout         time.Duration
	HistoryMaxChars int
	StaleAfter      time.Duration
}

// Generator assembles the prompt, invokes the model once, extracts
// citations, runs the policy gate, and persists a DraftGeneration record per
// attempt regardless of outcome.
type Generator struct {
	client       llm.Client
	store        store.Store
	gate         *policy.Gate
	instructions *InstructionCache
	cfg          Config
	logger       *logger.Logger
	now          func() time.Time
}

// NewGenerator creates a draft generator.
func NewGenerator(client llm.Client, s store.Store, gate *policy.Gate, instructions *InstructionCache, cfg Config, log *logger.Logger) *Generator {
	if cfg.HistoryMaxChars <= 0 {
		cfg.HistoryMaxChars = 2000
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 72 * time.Hour
	}
	return &Generator{
		client:       client,
		store:        s,
		gate:         gate,
		instructions: instructions,
		cfg:          cfg,
		logger:       log,
		now:          time.Now,
	}
}

// WithClock overrides the generator's clock, for tests.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate runs one draft attempt. It never returns an error: failures are
// reported through Success/Error so the orchestrator proceeds with a nil
// draft instead of aborting the message.
func (g *Generator) Generate(ctx context.Context, in GenerateInput) GenerateResult {
	record := &model.DraftGeneration{
		ID:        uuid.Must(uuid.NewV7()).String(),
		ThreadID:  in.ThreadID,
		Intent:    in.Intent,
		CreatedAt: g.now().UTC(),
	}
	for _, res := range in.Knowledge {
		record.DocumentIDs = append(record.DocumentIDs, res.Document.ID)
	}

	result := g.attempt(ctx, in, record)

	if err := g.store.CreateDraft(ctx, record); err != nil {
		// The attempt outcome stands; losing the audit record is logged.
		g.logger.Error("persist draft generation failed", zap.Error(err))
	}
	result.RecordID = record.ID
	return result
}

func (g *Generator) attempt(ctx context.Context, in GenerateInput, record *model.DraftGeneration) GenerateResult {
	if g.client == nil {
		record.Error = "no LLM client configured"
		metrics.DraftsGenerated.WithLabelValues("error").Inc()
		return GenerateResult{Success: false, Error: record.Error}
	}

	var instructions string
	if g.instructions != nil {
		instructions = g.instructions.Get(ctx)
	}

	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := g.client.Complete(ctx, &llm.CompletionRequest{
		Model:       g.cfg.Model,
		System:      systemPrompt(instructions, in.Intent),
		Messages:    []llm.ChatMessage{{Role: "user", Content: buildPrompt(in, g.cfg.HistoryMaxChars, g.cfg.StaleAfter, g.now())}},
		MaxTokens:   2048,
		Temperature: 0.3,
	})
	if err != nil {
		metrics.RecordLLMRequest(g.cfg.Model, "generate", "error", time.Since(start).Seconds(), 0, 0)
		metrics.DraftsGenerated.WithLabelValues("error").Inc()
		record.Error = err.Error()
		return GenerateResult{Success: false, Error: fmt.Sprintf("generation failed: %v", err)}
	}
	metrics.RecordLLMRequest(resp.Model, "generate", "success", time.Since(start).Seconds(), resp.TokensIn, resp.TokensOut)

	raw := strings.TrimSpace(resp.Content)
	citations := ExtractCitations(raw, in.Knowledge)

	record.RawDraft = raw
	record.Citations = citations
	record.Model = resp.Model
	record.TokensIn = resp.TokensIn
	record.TokensOut = resp.TokensOut

	verdict := g.gate.Check(raw)
	record.PolicyPassed = verdict.OK
	record.PolicyViolations = verdict.Reasons

	if !verdict.OK {
		for _, cat := range policy.Categories(verdict) {
			metrics.PolicyBlocks.WithLabelValues(cat).Inc()
		}
		metrics.DraftsGenerated.WithLabelValues("blocked").Inc()
		return GenerateResult{
			Success:          true,
			Draft:            nil,
			RawDraft:         raw,
			Citations:        citations,
			PolicyPassed:     false,
			PolicyViolations: verdict.Reasons,
		}
	}

	final := stripMarkers(raw)
	record.FinalDraft = &final
	metrics.DraftsGenerated.WithLabelValues("ok").Inc()
	return GenerateResult{
		Success:      true,
		Draft:        &final,
		RawDraft:     raw,
		Citations:    citations,
		PolicyPassed: true,
	}
}

// ExtractCitations matches [KB-n] markers in model output back to the
// knowledge results actually supplied, deduplicating by document id. A
// marker pointing outside the supplied set is dropped.
func ExtractCitations(raw string, knowledge []model.SearchResult) []model.Citation {
	var out []model.Citation
	seen := make(map[string]bool)
	for _, m := range markerPattern.FindAllStringSubmatch(raw, -1) {
		idx := atoiSafe(m[1]) - 1
		if idx < 0 || idx >= len(knowledge) {
			continue
		}
		doc := knowledge[idx].Document
		if seen[doc.ID] {
			continue
		}
		seen[doc.ID] = true
		out = append(out, model.Citation{
			DocumentID: doc.ID,
			Title:      doc.Title,
			Marker:     m[0],
		})
	}
	return out
}

// stripMarkers removes citation markers from the customer-facing draft.
func stripMarkers(raw string) string {
	cleaned := markerPattern.ReplaceAllString(raw, "")
	// Collapse the double spaces marker removal leaves behind.
	cleaned = strings.ReplaceAll(cleaned, "  ", " ")
	return strings.TrimSpace(cleaned)
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return -1
		}
		n = n*10 + int(r-'0')
		if n > 1<<20 {
			return -1
		}
	}
	return n
}
