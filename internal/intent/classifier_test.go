package intent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridgelineparts/triage/internal/llm"
	"github.com/ridgelineparts/triage/internal/model"
	"github.com/ridgelineparts/triage/internal/store"
	"github.com/ridgelineparts/triage/pkg/logger"
)

type fakeLLM struct {
	response string
	err      error
	calls    int
}

func (f *fakeLLM) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Content: f.response, Model: "fake"}, nil
}

func (f *fakeLLM) Name() string     { return "fake" }
func (f *fakeLLM) Models() []string { return []string{"fake"} }

func catalog() []model.IntentDefinition {
	return []model.IntentDefinition{
		{Slug: "ORDER_STATUS", Description: "order status", Examples: []string{"where is my order", "when will my order ship"}, RequiresVerification: true, Active: true},
		{Slug: "THANK_YOU_CLOSE", Description: "closing thanks", Examples: []string{"thanks", "thank you"}, Active: true},
		{Slug: "CHARGEBACK_DISPUTE", Description: "chargeback threat", Examples: []string{"chargeback", "dispute the charge"}, AutoEscalate: true, Active: true},
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	mem := store.NewMemory()
	mem.SeedIntents(catalog())
	reg := NewRegistry(mem, time.Hour)
	require.NoError(t, reg.Refresh(context.Background()))
	return reg
}

func TestClassifyParsesModelOutput(t *testing.T) {
	client := &fakeLLM{response: `{"intents":[{"slug":"order_status","confidence":0.92,"reasoning":"asks about shipping"}],"requires_verification":true,"auto_escalate":false}`}
	c := NewClassifier(newTestRegistry(t), client, "", time.Second, logger.NewNop())

	res := c.Classify(context.Background(), "Order #4013", "When will my order ship?", "")

	assert.Equal(t, "ORDER_STATUS", res.PrimaryIntent)
	assert.InDelta(t, 0.92, res.Confidence, 1e-9)
	assert.True(t, res.RequiresVerification)
	assert.False(t, res.AutoEscalate)
	assert.Equal(t, "llm", res.Source)
}

func TestClassifyToleratesProseAroundJSON(t *testing.T) {
	client := &fakeLLM{response: "Here is my answer:\n```json\n{\"intents\":[{\"slug\":\"THANK_YOU_CLOSE\",\"confidence\":0.8,\"reasoning\":\"\"}]}\n```"}
	c := NewClassifier(newTestRegistry(t), client, "", time.Second, logger.NewNop())

	res := c.Classify(context.Background(), "", "Thanks, you too!", "")
	assert.Equal(t, "THANK_YOU_CLOSE", res.PrimaryIntent)
}

func TestClassifyDropsHallucinatedSlugs(t *testing.T) {
	client := &fakeLLM{response: `{"intents":[{"slug":"MADE_UP_INTENT","confidence":0.99},{"slug":"ORDER_STATUS","confidence":0.7}]}`}
	c := NewClassifier(newTestRegistry(t), client, "", time.Second, logger.NewNop())

	res := c.Classify(context.Background(), "", "order question", "")
	assert.Equal(t, "ORDER_STATUS", res.PrimaryIntent)
	for _, score := range res.Intents {
		assert.NotEqual(t, "MADE_UP_INTENT", score.Slug)
	}
}

func TestClassifyAppliesConfidenceFloor(t *testing.T) {
	client := &fakeLLM{response: `{"intents":[{"slug":"ORDER_STATUS","confidence":0.4}]}`}
	c := NewClassifier(newTestRegistry(t), client, "", time.Second, logger.NewNop())

	res := c.Classify(context.Background(), "", "hmm", "")
	assert.Equal(t, model.IntentUnknown, res.PrimaryIntent)
	require.NotEmpty(t, res.Intents)
}

func TestClassifyNeverReturnsEmptyIntents(t *testing.T) {
	client := &fakeLLM{response: `{"intents":[]}`}
	c := NewClassifier(newTestRegistry(t), client, "", time.Second, logger.NewNop())

	res := c.Classify(context.Background(), "", "gibberish", "")
	require.NotEmpty(t, res.Intents)
	assert.Equal(t, model.IntentUnknown, res.PrimaryIntent)
}

func TestClassifyCapsConfidenceAtOne(t *testing.T) {
	client := &fakeLLM{response: `{"intents":[{"slug":"ORDER_STATUS","confidence":1.7}]}`}
	c := NewClassifier(newTestRegistry(t), client, "", time.Second, logger.NewNop())

	res := c.Classify(context.Background(), "", "order", "")
	assert.Equal(t, 1.0, res.Confidence)
}

func TestClassifySortsByConfidence(t *testing.T) {
	client := &fakeLLM{response: `{"intents":[{"slug":"THANK_YOU_CLOSE","confidence":0.55},{"slug":"ORDER_STATUS","confidence":0.9}]}`}
	c := NewClassifier(newTestRegistry(t), client, "", time.Second, logger.NewNop())

	res := c.Classify(context.Background(), "", "thanks, also where is my order", "")
	require.Len(t, res.Intents, 2)
	assert.Equal(t, "ORDER_STATUS", res.Intents[0].Slug)
	assert.Equal(t, "THANK_YOU_CLOSE", res.Intents[1].Slug)
	assert.Equal(t, "ORDER_STATUS", res.PrimaryIntent)
}

func TestContextualFlagsWinOverStatic(t *testing.T) {
	// ORDER_STATUS statically requires verification; the model judged this
	// instance to be pre-sale and said no.
	client := &fakeLLM{response: `{"intents":[{"slug":"ORDER_STATUS","confidence":0.9}],"requires_verification":false}`}
	c := NewClassifier(newTestRegistry(t), client, "", time.Second, logger.NewNop())

	res := c.Classify(context.Background(), "", "do these pads fit before I order", "")
	assert.False(t, res.RequiresVerification)
}

func TestStaticFlagsUsedWhenModelSilent(t *testing.T) {
	client := &fakeLLM{response: `{"intents":[{"slug":"ORDER_STATUS","confidence":0.9}]}`}
	c := NewClassifier(newTestRegistry(t), client, "", time.Second, logger.NewNop())

	res := c.Classify(context.Background(), "", "where is my order", "")
	assert.True(t, res.RequiresVerification)
}

func TestClassifyFallsBackOnModelError(t *testing.T) {
	client := &fakeLLM{err: errors.New("upstream timeout")}
	c := NewClassifier(newTestRegistry(t), client, "", time.Second, logger.NewNop())

	res := c.Classify(context.Background(), "", "when will my order ship?", "")
	assert.Equal(t, "ORDER_STATUS", res.PrimaryIntent)
	assert.Equal(t, "keyword", res.Source)
	assert.Equal(t, keywordConfidence, res.Confidence)
}

func TestClassifyFallsBackToUnknownOnGarbage(t *testing.T) {
	client := &fakeLLM{response: "I cannot classify this."}
	c := NewClassifier(newTestRegistry(t), client, "", time.Second, logger.NewNop())

	res := c.Classify(context.Background(), "", "zzz", "")
	assert.Equal(t, model.IntentUnknown, res.PrimaryIntent)
	assert.Equal(t, "fallback", res.Source)
	assert.Equal(t, unknownFallbackConfidence, res.Confidence)
}

func TestClassifyWithoutClient(t *testing.T) {
	c := NewClassifier(newTestRegistry(t), nil, "", time.Second, logger.NewNop())

	res := c.Classify(context.Background(), "", "thanks so much!", "")
	assert.Equal(t, "THANK_YOU_CLOSE", res.PrimaryIntent)
	assert.Equal(t, "keyword", res.Source)
}
