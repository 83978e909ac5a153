package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/ridgelineparts/triage/internal/model"
)

const (
	// StreamName is the name of the triage event stream.
	StreamName = "TRIAGE"

	// SubjectPrefix is the prefix for all triage subjects.
	SubjectPrefix = "triage"
)

// StreamManager publishes pipeline events and outcomes to JetStream. It
// satisfies the orchestrator's EventPublisher contract.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStream ensures the triage stream exists with proper configuration.
// The stream denies delete and purge: the event log is append-only.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      365 * 24 * time.Hour,
		MaxBytes:    10 * 1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		DenyDelete:  true,
		DenyPurge:   true,
		Description: "Triage pipeline events and per-message outcomes",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// EventSubject returns the subject for a thread event.
func EventSubject(threadID string, eventType model.EventType) string {
	return fmt.Sprintf("%s.%s.event.%s", SubjectPrefix, threadID, eventType)
}

// OutcomeSubject returns the subject for a thread's ingest outcomes.
func OutcomeSubject(threadID string) string {
	return fmt.Sprintf("%s.%s.outcome", SubjectPrefix, threadID)
}

// ThreadFilter returns the filter subject covering everything on a thread.
func ThreadFilter(threadID string) string {
	return fmt.Sprintf("%s.%s.>", SubjectPrefix, threadID)
}

// PublishEvent publishes a pipeline event to JetStream.
func (m *StreamManager) PublishEvent(ctx context.Context, event *model.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := m.client.JetStream().Publish(ctx, EventSubject(event.ThreadID, event.Type), data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// PublishOutcome publishes one ingest outcome for downstream consumers
// (channel adapters, CRM, escalation notifiers).
func (m *StreamManager) PublishOutcome(ctx context.Context, threadID string, res *model.IngestResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}

	if _, err := m.client.JetStream().Publish(ctx, OutcomeSubject(threadID), data); err != nil {
		return fmt.Errorf("failed to publish outcome: %w", err)
	}
	return nil
}
