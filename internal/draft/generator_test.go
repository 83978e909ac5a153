package draft

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridgelineparts/triage/internal/llm"
	"github.com/ridgelineparts/triage/internal/model"
	"github.com/ridgelineparts/triage/internal/policy"
	"github.com/ridgelineparts/triage/internal/store"
	"github.com/ridgelineparts/triage/pkg/logger"
)

type fakeLLM struct {
	response string
	err      error
	lastReq  *llm.CompletionRequest
}

func (f *fakeLLM) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Content: f.response, Model: "fake", TokensIn: 100, TokensOut: 50}, nil
}

func (f *fakeLLM) Name() string     { return "fake" }
func (f *fakeLLM) Models() []string { return []string{"fake"} }

func knowledge() []model.SearchResult {
	return []model.SearchResult{
		{Document: model.Document{ID: "doc-ship", Title: "Shipping times"}, Score: 0.9},
		{Document: model.Document{ID: "doc-fit", Title: "Fitment guide"}, Score: 0.5},
	}
}

func newTestGenerator(client llm.Client, mem *store.Memory) *Generator {
	return NewGenerator(client, mem, policy.NewGate(), nil, Config{}, logger.NewNop())
}

func TestGenerateSuccess(t *testing.T) {
	client := &fakeLLM{response: "Your pads usually ship within two business days [KB-1]. Thanks for your patience."}
	mem := store.NewMemory()
	g := newTestGenerator(client, mem)

	res := g.Generate(context.Background(), GenerateInput{
		ThreadID:  "t1",
		Intent:    "ORDER_STATUS",
		Subject:   "shipping",
		Body:      "when does it ship?",
		Knowledge: knowledge(),
	})

	assert.True(t, res.Success)
	assert.True(t, res.PolicyPassed)
	require.NotNil(t, res.Draft)
	assert.NotContains(t, *res.Draft, "[KB-1]")
	require.Len(t, res.Citations, 1)
	assert.Equal(t, "doc-ship", res.Citations[0].DocumentID)

	drafts := mem.Drafts("t1")
	require.Len(t, drafts, 1)
	assert.True(t, drafts[0].PolicyPassed)
	require.NotNil(t, drafts[0].FinalDraft)
	assert.Equal(t, 100, drafts[0].TokensIn)
	assert.Equal(t, 50, drafts[0].TokensOut)
}

func TestGeneratePolicyBlockNullsDraft(t *testing.T) {
	client := &fakeLLM{response: "Absolutely, we'll issue a full refund today."}
	mem := store.NewMemory()
	g := newTestGenerator(client, mem)

	res := g.Generate(context.Background(), GenerateInput{ThreadID: "t1", Body: "refund?"})

	assert.True(t, res.Success)
	assert.False(t, res.PolicyPassed)
	assert.Nil(t, res.Draft)
	assert.NotEmpty(t, res.RawDraft)
	assert.NotEmpty(t, res.PolicyViolations)

	// The raw draft survives for human review; the final one does not.
	drafts := mem.Drafts("t1")
	require.Len(t, drafts, 1)
	assert.Nil(t, drafts[0].FinalDraft)
	assert.Equal(t, res.RawDraft, drafts[0].RawDraft)
}

func TestGenerateFailureDegrades(t *testing.T) {
	client := &fakeLLM{err: errors.New("model timeout")}
	mem := store.NewMemory()
	g := newTestGenerator(client, mem)

	res := g.Generate(context.Background(), GenerateInput{ThreadID: "t1", Body: "hi"})

	assert.False(t, res.Success)
	assert.Nil(t, res.Draft)
	assert.Contains(t, res.Error, "model timeout")

	// Every attempt persists a record, failures included.
	drafts := mem.Drafts("t1")
	require.Len(t, drafts, 1)
	assert.Contains(t, drafts[0].Error, "model timeout")
}

func TestGenerateWithoutClient(t *testing.T) {
	mem := store.NewMemory()
	g := newTestGenerator(nil, mem)

	res := g.Generate(context.Background(), GenerateInput{ThreadID: "t1", Body: "hi"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "no LLM client")
	assert.Len(t, mem.Drafts("t1"), 1)
}

func TestExtractCitations(t *testing.T) {
	kb := knowledge()

	cites := ExtractCitations("See [KB-1] and also [KB-2], again [KB-1].", kb)
	require.Len(t, cites, 2)
	assert.Equal(t, "doc-ship", cites[0].DocumentID)
	assert.Equal(t, "doc-fit", cites[1].DocumentID)

	// Markers outside the supplied set are dropped.
	cites = ExtractCitations("Made up [KB-7] and [KB-0].", kb)
	assert.Empty(t, cites)

	cites = ExtractCitations("no markers here", kb)
	assert.Empty(t, cites)
}

func TestPromptLayersInOrder(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	in := GenerateInput{
		Subject:        "Where is my order",
		Body:           "Any update?",
		AttachmentText: "invoice.pdf:\norder 4013",
		Customer:       &model.CustomerProfile{Name: "Sam", OrderCount: 3},
		Order:          &model.OrderSnapshot{OrderNumber: "4013", Status: "paid", FulfillmentStatus: "in_transit"},
		Knowledge:      knowledge(),
		History: []model.Message{
			{Direction: model.DirectionInbound, Body: "first message"},
			{Direction: model.DirectionOutbound, Body: "our reply"},
		},
		ThreadCreatedAt: now.Add(-100 * time.Hour),
	}

	prompt := buildPrompt(in, 2000, 72*time.Hour, now)

	sections := []string{
		"NOTE: this conversation has been open",
		"CUSTOMER:",
		"VERIFIED ORDER",
		"KNOWLEDGE BASE",
		"CONVERSATION SO FAR",
		"FROM ATTACHMENTS:",
		"CUSTOMER MESSAGE:",
	}
	last := -1
	for _, section := range sections {
		idx := strings.Index(prompt, section)
		require.GreaterOrEqual(t, idx, 0, "missing section %q", section)
		assert.Greater(t, idx, last, "section %q out of order", section)
		last = idx
	}

	assert.Contains(t, prompt, "never say \"I'll check\"")
	assert.Contains(t, prompt, "[KB-1] Shipping times")
	assert.Contains(t, prompt, "[support] our reply")
	assert.Contains(t, prompt, "Subject: Where is my order")
}

func TestPromptTruncatesLongHistoryMessages(t *testing.T) {
	in := GenerateInput{
		Body: "hi",
		History: []model.Message{
			{Direction: model.DirectionInbound, Body: strings.Repeat("x", 500)},
		},
	}

	prompt := buildPrompt(in, 100, 72*time.Hour, time.Now())
	assert.Contains(t, prompt, strings.Repeat("x", 100)+"…")
	assert.NotContains(t, prompt, strings.Repeat("x", 101))
}

func TestPromptTruncationKeepsRuneBoundaries(t *testing.T) {
	// "é" is two bytes; an odd byte limit would land mid-rune.
	in := GenerateInput{
		Body: "hi",
		History: []model.Message{
			{Direction: model.DirectionInbound, Body: strings.Repeat("é", 200)},
		},
	}

	prompt := buildPrompt(in, 101, 72*time.Hour, time.Now())
	assert.True(t, utf8.ValidString(prompt))
	assert.Contains(t, prompt, strings.Repeat("é", 50)+"…")
}

func TestPromptSkipsStaleWarningForFreshThreads(t *testing.T) {
	now := time.Now()
	prompt := buildPrompt(GenerateInput{Body: "hi", ThreadCreatedAt: now.Add(-time.Hour)}, 2000, 72*time.Hour, now)
	assert.NotContains(t, prompt, "NOTE: this conversation has been open")
}

func TestSystemPromptIncludesInstructions(t *testing.T) {
	s := systemPrompt("Always mention the core-charge policy.", "ORDER_STATUS")
	assert.Contains(t, s, "Ridgeline Parts")
	assert.Contains(t, s, "ORDER_STATUS")
	assert.Contains(t, s, "core-charge policy")

	s = systemPrompt("", model.IntentUnknown)
	assert.NotContains(t, s, "UNKNOWN")
}
