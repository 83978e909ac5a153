package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridgelineparts/triage/internal/model"
)

func newThread(id string) *model.Thread {
	now := time.Now().UTC()
	return &model.Thread{
		ID:        id,
		Channel:   "email",
		State:     model.StateNew,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestUpdateThreadRejectsStaleWrite(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.CreateThread(ctx, newThread("t1")))

	first, err := m.GetThread(ctx, "t1")
	require.NoError(t, err)
	second, err := m.GetThread(ctx, "t1")
	require.NoError(t, err)

	first.State = model.StateInProgress
	require.NoError(t, m.UpdateThread(ctx, first))

	// The second copy still carries the old UpdatedAt.
	second.State = model.StateResolved
	assert.ErrorIs(t, m.UpdateThread(ctx, second), ErrConflict)

	// A fresh read wins.
	fresh, err := m.GetThread(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, model.StateInProgress, fresh.State)
	fresh.State = model.StateResolved
	require.NoError(t, m.UpdateThread(ctx, fresh))
}

func TestUpdateThreadUnknownThread(t *testing.T) {
	m := NewMemory()
	assert.ErrorIs(t, m.UpdateThread(context.Background(), newThread("missing")), ErrNotFound)
}

func TestGetThreadByExternalID(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	ext := "thr-9"
	th := newThread("t1")
	th.ExternalID = &ext
	require.NoError(t, m.CreateThread(ctx, th))

	got, err := m.GetThreadByExternalID(ctx, "email", "thr-9")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.ID)

	_, err = m.GetThreadByExternalID(ctx, "chat", "thr-9")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetMessageByExternalIDScopedToChannel(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	ext := "msg-1"
	require.NoError(t, m.CreateMessage(ctx, &model.Message{
		ID: "m1", ThreadID: "t1", Channel: "email", ExternalID: &ext, SentAt: time.Now().UTC(),
	}))

	got, err := m.GetMessageByExternalID(ctx, "email", "msg-1")
	require.NoError(t, err)
	assert.Equal(t, "m1", got.ID)

	// Same native id on another channel is a different message.
	_, err = m.GetMessageByExternalID(ctx, "chat", "msg-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListMessagesReturnsRecentOldestFirst(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, m.CreateMessage(ctx, &model.Message{
			ID:       fmt.Sprintf("m%d", i),
			ThreadID: "t1",
			Body:     fmt.Sprintf("message %d", i),
			SentAt:   base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, m.CreateMessage(ctx, &model.Message{
		ID: "other", ThreadID: "t2", SentAt: base,
	}))

	out, err := m.ListMessages(ctx, "t1", 3)
	require.NoError(t, err)
	require.Len(t, out, 3)

	// The newest three, in chronological order.
	assert.Equal(t, "m2", out[0].ID)
	assert.Equal(t, "m3", out[1].ID)
	assert.Equal(t, "m4", out[2].ID)
}

func TestAppendEventAssignsMonotonicSequence(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var seqs []uint64
	for i := 0; i < 3; i++ {
		e := &model.Event{ThreadID: "t1", Type: model.EventTypeMessageReceived}
		require.NoError(t, m.AppendEvent(ctx, e))
		seqs = append(seqs, e.Sequence)
	}
	assert.Equal(t, []uint64{1, 2, 3}, seqs)

	events, err := m.ListEvents(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].Sequence, events[i-1].Sequence)
	}
}

func TestListIntentDefinitionsFiltersInactive(t *testing.T) {
	m := NewMemory()
	m.SeedIntents([]model.IntentDefinition{
		{Slug: "ORDER_STATUS", Active: true},
		{Slug: "RETIRED_INTENT", Active: false},
	})

	defs, err := m.ListIntentDefinitions(context.Background())
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "ORDER_STATUS", defs[0].Slug)
}

func TestUpsertAssignmentKeepsHighestConfidence(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.UpsertAssignment(ctx, &model.ClassificationAssignment{
		ThreadID: "t1", Intent: "ORDER_STATUS", Confidence: 0.8,
	}))
	require.NoError(t, m.UpsertAssignment(ctx, &model.ClassificationAssignment{
		ThreadID: "t1", Intent: "ORDER_STATUS", Confidence: 0.6,
	}))
	require.NoError(t, m.UpsertAssignment(ctx, &model.ClassificationAssignment{
		ThreadID: "t1", Intent: "RETURN_REQUEST", Confidence: 0.7,
	}))

	out, err := m.ListAssignments(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "ORDER_STATUS", out[0].Intent)
	assert.InDelta(t, 0.8, out[0].Confidence, 1e-9)
	assert.Equal(t, "RETURN_REQUEST", out[1].Intent)
}

func TestLatestVerificationPicksNewest(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, m.CreateVerification(ctx, &model.VerificationRecord{
		ID: "v1", ThreadID: "t1", Status: model.VerificationPending, CreatedAt: base,
	}))
	require.NoError(t, m.CreateVerification(ctx, &model.VerificationRecord{
		ID: "v2", ThreadID: "t1", Status: model.VerificationVerified, CreatedAt: base.Add(time.Minute),
	}))

	got, err := m.LatestVerification(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.ID)
	assert.Equal(t, model.VerificationVerified, got.Status)

	_, err = m.LatestVerification(ctx, "t2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkDraftSent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.CreateDraft(ctx, &model.DraftGeneration{ID: "d1", ThreadID: "t1"}))
	require.NoError(t, m.MarkDraftSent(ctx, "d1"))
	assert.ErrorIs(t, m.MarkDraftSent(ctx, "missing"), ErrNotFound)

	drafts := m.Drafts("t1")
	require.Len(t, drafts, 1)
	assert.True(t, drafts[0].WasSent)
}

func TestListThreadsPagination(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		th := newThread(fmt.Sprintf("t%d", i))
		th.UpdatedAt = th.UpdatedAt.Add(time.Duration(i) * time.Second)
		require.NoError(t, m.CreateThread(ctx, th))
	}

	page, total, err := m.ListThreads(ctx, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, page, 2)
	assert.Equal(t, "t3", page[0].ID) // most recently updated first

	rest, _, err := m.ListThreads(ctx, 10, 2)
	require.NoError(t, err)
	assert.Len(t, rest, 2)

	empty, _, err := m.ListThreads(ctx, 10, 100)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSearchChunksRanksByCosineSimilarity(t *testing.T) {
	m := NewMemory()
	m.SeedDocument(
		model.Document{ID: "doc-a", Title: "Shipping", VehicleTags: []string{"tacoma-2019"}},
		model.Chunk{ID: "c1", DocumentID: "doc-a", Embedding: []float32{1, 0}},
	)
	m.SeedDocument(
		model.Document{ID: "doc-b", Title: "Returns"},
		model.Chunk{ID: "c2", DocumentID: "doc-b", Embedding: []float32{0, 1}},
	)

	chunks, docs, scores, err := m.SearchChunks(context.Background(), []float32{1, 0}, ChunkFilter{}, 10)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "c1", chunks[0].ID)
	assert.Equal(t, "doc-a", docs[0].ID)
	assert.InDelta(t, 1.0, scores[0], 1e-9)
	assert.InDelta(t, 0.0, scores[1], 1e-9)

	// Vehicle filter drops documents without the tag.
	chunks, _, _, err = m.SearchChunks(context.Background(), []float32{1, 0}, ChunkFilter{VehicleTag: "tacoma-2019"}, 10)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "c1", chunks[0].ID)
}

func TestSearchDocumentsByText(t *testing.T) {
	m := NewMemory()
	m.SeedDocument(model.Document{ID: "doc-a", Title: "Brake pad fitment", Content: "Pads for the 2019 Tacoma."})
	m.SeedDocument(model.Document{ID: "doc-b", Title: "Return policy", Content: "30 day returns."})

	docs, err := m.SearchDocumentsByText(context.Background(), "tacoma", 10)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "doc-a", docs[0].ID)
}
