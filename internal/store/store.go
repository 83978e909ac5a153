// Package store defines the persistence layer for the triage pipeline.
package store

import (
	"context"
	"errors"

	"github.com/ridgelineparts/triage/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrConflict is returned when an optimistic concurrency check fails; the
// caller should re-read and retry.
var ErrConflict = errors.New("concurrent update conflict")

// ChunkFilter narrows the semantic chunk search by optional tags.
type ChunkFilter struct {
	VehicleTag string
	ProductTag string
}

// Store is the persistence contract for every triage entity. Postgres backs
// it in production; a memory implementation backs tests.
type Store interface {
	// Threads
	CreateThread(ctx context.Context, t *model.Thread) error
	GetThread(ctx context.Context, id string) (*model.Thread, error)
	GetThreadByExternalID(ctx context.Context, channel, externalID string) (*model.Thread, error)
	UpdateThread(ctx context.Context, t *model.Thread) error
	ListThreads(ctx context.Context, limit, offset int) ([]model.Thread, int, error)

	// Messages
	CreateMessage(ctx context.Context, m *model.Message) error
	GetMessageByExternalID(ctx context.Context, channel, externalID string) (*model.Message, error)
	ListMessages(ctx context.Context, threadID string, limit int) ([]model.Message, error)

	// Events (append-only)
	AppendEvent(ctx context.Context, e *model.Event) error
	ListEvents(ctx context.Context, threadID string) ([]model.Event, error)

	// Intent catalog
	ListIntentDefinitions(ctx context.Context) ([]model.IntentDefinition, error)

	// Classification assignments
	UpsertAssignment(ctx context.Context, a *model.ClassificationAssignment) error
	ListAssignments(ctx context.Context, threadID string) ([]model.ClassificationAssignment, error)

	// Verification records
	CreateVerification(ctx context.Context, v *model.VerificationRecord) error
	LatestVerification(ctx context.Context, threadID string) (*model.VerificationRecord, error)

	// Draft generations
	CreateDraft(ctx context.Context, d *model.DraftGeneration) error
	GetDraft(ctx context.Context, id string) (*model.DraftGeneration, error)
	MarkDraftSent(ctx context.Context, id string) error

	// Knowledge base (read-only for the pipeline)
	ListDocumentsByIntent(ctx context.Context, intent string) ([]model.Document, error)
	SearchChunks(ctx context.Context, embedding []float32, filter ChunkFilter, limit int) ([]model.Chunk, []model.Document, []float64, error)
	SearchDocumentsByText(ctx context.Context, query string, limit int) ([]model.Document, error)

	// Health
	Ping(ctx context.Context) error
	Close() error
}
