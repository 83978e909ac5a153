package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ridgelineparts/triage/internal/model"
	"github.com/ridgelineparts/triage/internal/store"
	"github.com/ridgelineparts/triage/pkg/logger"
	"github.com/ridgelineparts/triage/pkg/metrics"
)

// ErrNotHumanHandled is returned when Release is called on a thread that is
// not in human handling mode.
var ErrNotHumanHandled = fmt.Errorf("thread is not in human handling mode")

// ObservationService manages human takeover of a thread. While a thread is
// human-handled the pipeline records inbound messages as observations and
// skips classification, retrieval, and generation entirely; only an explicit
// operator release resumes automation.
type ObservationService struct {
	store     store.Store
	publisher EventPublisher
	locks     *ThreadLocks
	logger    *logger.Logger
}

// NewObservationService creates an observation service. The lock set must be
// shared with the TriageService so takeover and triage never interleave on
// one thread.
func NewObservationService(s store.Store, pub EventPublisher, locks *ThreadLocks, log *logger.Logger) *ObservationService {
	return &ObservationService{store: s, publisher: pub, locks: locks, logger: log}
}

// MarkHumanHandling flips a thread into human handling mode in response to
// an operator sending an outbound message outside the pipeline. The outbound
// message, when provided, is recorded on the thread.
func (o *ObservationService) MarkHumanHandling(ctx context.Context, threadID, handler string, outbound *model.Message) error {
	release := o.locks.Acquire(threadID)
	defer release()

	thread, err := o.store.GetThread(ctx, threadID)
	if err != nil {
		return fmt.Errorf("load thread: %w", err)
	}

	if outbound != nil {
		outbound.ThreadID = thread.ID
		outbound.Direction = model.DirectionOutbound
		if outbound.ID == "" {
			outbound.ID = uuid.Must(uuid.NewV7()).String()
		}
		if err := o.store.CreateMessage(ctx, outbound); err != nil {
			return fmt.Errorf("record outbound message: %w", err)
		}
	}

	if thread.HumanHandling {
		return nil
	}

	previous := thread.State
	thread.HumanHandling = true
	thread.Handler = handler
	thread.State = model.StateHumanHandling
	if err := o.store.UpdateThread(ctx, thread); err != nil {
		return fmt.Errorf("update thread: %w", err)
	}
	metrics.RecordTransition(string(previous), string(thread.State))

	o.appendEvent(ctx, thread.ID, model.EventTypeHumanTakeover, map[string]any{
		"handler":        handler,
		"previous_state": string(previous),
	})

	o.logger.WithThread("", thread.ID, thread.Channel).Info("human takeover",
		zap.String("handler", handler))
	return nil
}

// RecordObservation stores an inbound message seen while the thread is human
// handled, as an audit entry only. Callers must already hold the thread lock.
func (o *ObservationService) RecordObservation(ctx context.Context, thread *model.Thread, msg *model.Message) error {
	if err := o.store.CreateMessage(ctx, msg); err != nil {
		return fmt.Errorf("record observed message: %w", err)
	}

	o.appendEvent(ctx, thread.ID, model.EventTypeObservation, map[string]any{
		"message_id": msg.ID,
		"direction":  string(msg.Direction),
		"from":       msg.From,
		"to":         msg.To,
		"body":       msg.Body,
		"sent_at":    msg.SentAt.Format(time.RFC3339),
	})
	metrics.ObservationsTotal.Inc()

	o.logger.WithThread("", thread.ID, thread.Channel).Info("observation recorded",
		zap.String("handler", thread.Handler))
	return nil
}

// Release exits human handling mode. The operator supplies a resolution type
// and summary, which become the thread summary and a human_release event;
// automation resumes from the next inbound message.
func (o *ObservationService) Release(ctx context.Context, threadID, resolutionType, summary string) (*model.Thread, error) {
	release := o.locks.Acquire(threadID)
	defer release()

	thread, err := o.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("load thread: %w", err)
	}
	if !thread.HumanHandling {
		return nil, ErrNotHumanHandled
	}

	previous := thread.State
	handler := thread.Handler
	thread.HumanHandling = false
	thread.Handler = ""
	thread.State = model.StateInProgress
	if summary != "" {
		thread.Summary = summary
	}
	if err := o.store.UpdateThread(ctx, thread); err != nil {
		return nil, fmt.Errorf("update thread: %w", err)
	}
	metrics.RecordTransition(string(previous), string(thread.State))

	// The summary lands in the thread record as an internal note too, so it
	// shows up in conversation history alongside the messages it explains.
	if summary != "" {
		now := time.Now().UTC()
		note := &model.Message{
			ID:        uuid.Must(uuid.NewV7()).String(),
			ThreadID:  thread.ID,
			Channel:   thread.Channel,
			Direction: model.DirectionOutbound,
			Role:      model.RoleInternal,
			From:      handler,
			Body:      summary,
			SentAt:    now,
			CreatedAt: now,
		}
		if err := o.store.CreateMessage(ctx, note); err != nil {
			o.logger.Warn("record release note failed", zap.Error(err))
		}
	}

	o.appendEvent(ctx, thread.ID, model.EventTypeHumanRelease, map[string]any{
		"resolution_type": resolutionType,
		"summary":         summary,
		"previous_state":  string(previous),
	})

	o.logger.WithThread("", thread.ID, thread.Channel).Info("human release",
		zap.String("resolution_type", resolutionType))
	return thread, nil
}

func (o *ObservationService) appendEvent(ctx context.Context, threadID string, eventType model.EventType, payload map[string]any) {
	e := &model.Event{
		ID:        uuid.Must(uuid.NewV7()).String(),
		ThreadID:  threadID,
		Type:      eventType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	if err := o.store.AppendEvent(ctx, e); err != nil {
		o.logger.Error("append event failed", zap.String("type", string(eventType)), zap.Error(err))
		return
	}
	if o.publisher != nil {
		if err := o.publisher.PublishEvent(ctx, e); err != nil {
			o.logger.Warn("publish event failed", zap.String("type", string(eventType)), zap.Error(err))
		}
	}
}
