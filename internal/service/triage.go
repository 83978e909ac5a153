// Package service composes the triage pipeline: intake, classification,
// verification, retrieval, generation, policy, and lifecycle transition, as
// one idempotent per-message transaction.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ridgelineparts/triage/internal/draft"
	"github.com/ridgelineparts/triage/internal/intent"
	"github.com/ridgelineparts/triage/internal/lifecycle"
	"github.com/ridgelineparts/triage/internal/model"
	"github.com/ridgelineparts/triage/internal/retrieval"
	"github.com/ridgelineparts/triage/internal/store"
	"github.com/ridgelineparts/triage/internal/verification"
	"github.com/ridgelineparts/triage/pkg/logger"
	"github.com/ridgelineparts/triage/pkg/metrics"
)

// EventPublisher pushes pipeline events and outcomes to the message bus.
// Publication is best-effort: failures are logged, never returned to the
// channel adapter.
type EventPublisher interface {
	PublishEvent(ctx context.Context, e *model.Event) error
	PublishOutcome(ctx context.Context, threadID string, res *model.IngestResult) error
}

// TriageConfig tunes the orchestrator.
type TriageConfig struct {
	HistoryLimit      int
	HistoryMaxChars   int
	RetrievalLimit    int
	RetrievalMinScore float64
}

// TriageService is the pipeline orchestrator. Steps run strictly in order:
// intake, classify, verify, retrieve, generate, policy, state transition,
// persist, dispatch. Each external call degrades to a safe default on
// failure; only persistence failures propagate to the caller.
type TriageService struct {
	store        store.Store
	classifier   *intent.Classifier
	verifier     *verification.Gate
	retriever    *retrieval.Retriever
	generator    *draft.Generator
	observations *ObservationService
	publisher    EventPublisher
	locks        *ThreadLocks
	cfg          TriageConfig
	logger       *logger.Logger
	now          func() time.Time
}

// NewTriageService wires the orchestrator. The returned service shares its
// per-thread lock set with the observation service it creates internally
// unless one is supplied.
func NewTriageService(
	s store.Store,
	classifier *intent.Classifier,
	verifier *verification.Gate,
	retriever *retrieval.Retriever,
	generator *draft.Generator,
	observations *ObservationService,
	publisher EventPublisher,
	locks *ThreadLocks,
	cfg TriageConfig,
	log *logger.Logger,
) *TriageService {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 10
	}
	if cfg.HistoryMaxChars <= 0 {
		cfg.HistoryMaxChars = 2000
	}
	if cfg.RetrievalLimit <= 0 {
		cfg.RetrievalLimit = 5
	}
	if cfg.RetrievalMinScore <= 0 {
		cfg.RetrievalMinScore = 0.3
	}
	return &TriageService{
		store:        s,
		classifier:   classifier,
		verifier:     verifier,
		retriever:    retriever,
		generator:    generator,
		observations: observations,
		publisher:    publisher,
		locks:        locks,
		cfg:          cfg,
		logger:       log,
		now:          time.Now,
	}
}

// Ingest processes one inbound message end to end and returns the outcome.
// Reprocessing a message with an already-seen channel-native id is a no-op
// that returns the thread's current state.
func (t *TriageService) Ingest(ctx context.Context, req *model.IngestRequest) (*model.IngestResult, error) {
	correlationID := uuid.Must(uuid.NewV7()).String()

	if dup, err := t.duplicateResult(ctx, req); err != nil {
		return nil, err
	} else if dup != nil {
		metrics.MessagesIngested.WithLabelValues(req.Channel, "duplicate").Inc()
		return dup, nil
	}

	thread, err := t.resolveThread(ctx, req)
	if err != nil {
		return nil, err
	}

	release := t.locks.Acquire(thread.ID)
	defer release()

	log := t.logger.WithThread(correlationID, thread.ID, req.Channel)

	// Re-check under the lock: a concurrent delivery of the same message may
	// have won the race between the first check and lock acquisition.
	if dup, err := t.duplicateResult(ctx, req); err != nil {
		return nil, err
	} else if dup != nil {
		metrics.MessagesIngested.WithLabelValues(req.Channel, "duplicate").Inc()
		return dup, nil
	}

	// Reload inside the lock so state decisions see the latest thread.
	thread, err = t.store.GetThread(ctx, thread.ID)
	if err != nil {
		return nil, fmt.Errorf("reload thread: %w", err)
	}

	msg := t.buildMessage(thread, req)

	if thread.HumanHandling {
		return t.observe(ctx, thread, msg, req, log)
	}

	if err := t.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("record message: %w", err)
	}
	t.appendEvent(ctx, log, thread.ID, model.EventTypeMessageReceived, map[string]any{
		"message_id": msg.ID,
		"from":       msg.From,
		"subject":    req.Subject,
	})

	history, err := t.store.ListMessages(ctx, thread.ID, t.cfg.HistoryLimit)
	if err != nil {
		log.Warn("load history failed", zap.Error(err))
		history = nil
	}

	classification := t.classify(ctx, log, thread, req, history)
	verif, missingInfo := t.verify(ctx, log, thread, req, classification)

	previous := thread.State
	baseAction, genResult, policyBlocked := t.decide(ctx, log, thread, req, classification, verif, missingInfo, history)

	effective := lifecycle.Effective(baseAction, classification.PrimaryIntent, policyBlocked, missingInfo)
	next := lifecycle.Next(previous, baseAction, classification.PrimaryIntent, policyBlocked, missingInfo)
	reason := lifecycle.Reason(baseAction, classification.PrimaryIntent, policyBlocked, missingInfo)

	thread.State = next
	thread.LastIntent = classification.PrimaryIntent
	thread.LastInboundAt = msg.SentAt
	if err := t.persistThread(ctx, thread); err != nil {
		return nil, err
	}

	if previous != next {
		metrics.RecordTransition(string(previous), string(next))
		tr := model.Transition{From: previous, To: next, Reason: reason}
		t.appendEvent(ctx, log, thread.ID, model.EventTypeStateChanged, tr.Payload())
	}

	result := &model.IngestResult{
		ThreadID:      thread.ID,
		Intent:        classification.PrimaryIntent,
		Confidence:    classification.Confidence,
		Action:        effective,
		State:         next,
		PreviousState: previous,
	}
	if genResult != nil {
		result.Draft = genResult.Draft
	}

	metrics.MessagesIngested.WithLabelValues(req.Channel, strings.ToLower(string(effective))).Inc()
	t.publishOutcome(ctx, log, result)

	log.Info("message triaged",
		zap.String("intent", result.Intent),
		zap.Float64("confidence", result.Confidence),
		zap.String("action", string(result.Action)),
		zap.String("state", string(result.State)))
	return result, nil
}

// ErrDraftNotSendable is returned when a send confirmation names a draft the
// policy gate blocked or that produced no final text.
var ErrDraftNotSendable = errors.New("draft is not sendable")

// ConfirmDraftSent records that the downstream channel adapter delivered a
// generated draft: the record flips to sent and the delivered text lands on
// the thread as an outbound draft message.
func (t *TriageService) ConfirmDraftSent(ctx context.Context, threadID, draftID string) (*model.Message, error) {
	release := t.locks.Acquire(threadID)
	defer release()

	d, err := t.store.GetDraft(ctx, draftID)
	if err != nil {
		return nil, err
	}
	if d.ThreadID != threadID {
		return nil, store.ErrNotFound
	}
	if !d.PolicyPassed || d.FinalDraft == nil {
		return nil, ErrDraftNotSendable
	}

	thread, err := t.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("load thread: %w", err)
	}
	if err := t.store.MarkDraftSent(ctx, draftID); err != nil {
		return nil, fmt.Errorf("mark draft sent: %w", err)
	}

	now := t.now().UTC()
	msg := &model.Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		ThreadID:  thread.ID,
		Channel:   thread.Channel,
		Direction: model.DirectionOutbound,
		Role:      model.RoleDraft,
		To:        thread.CustomerEmail,
		Body:      *d.FinalDraft,
		SentAt:    now,
		CreatedAt: now,
	}
	if err := t.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("record sent draft: %w", err)
	}

	t.logger.WithThread("", thread.ID, thread.Channel).Info("draft sent",
		zap.String("draft_id", draftID))
	return msg, nil
}

// duplicateResult returns the no-op result for an already-processed message,
// or nil when the message is new.
func (t *TriageService) duplicateResult(ctx context.Context, req *model.IngestRequest) (*model.IngestResult, error) {
	if req.ExternalID == "" {
		return nil, nil
	}
	existing, err := t.store.GetMessageByExternalID(ctx, req.Channel, req.ExternalID)
	if err == store.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dedup lookup: %w", err)
	}
	thread, err := t.store.GetThread(ctx, existing.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("load thread for duplicate: %w", err)
	}
	return &model.IngestResult{
		ThreadID:      thread.ID,
		Intent:        thread.LastIntent,
		Action:        model.ActionNoReply,
		State:         thread.State,
		PreviousState: thread.State,
		Duplicate:     true,
	}, nil
}

// resolveThread finds the thread for a channel-native thread id, creating it
// when unknown. Creation races resolve through the store's uniqueness
// constraint plus a refetch.
func (t *TriageService) resolveThread(ctx context.Context, req *model.IngestRequest) (*model.Thread, error) {
	if req.ExternalThreadID != "" {
		thread, err := t.store.GetThreadByExternalID(ctx, req.Channel, req.ExternalThreadID)
		if err == nil {
			return thread, nil
		}
		if err != store.ErrNotFound {
			return nil, fmt.Errorf("thread lookup: %w", err)
		}
	}

	now := t.now().UTC()
	thread := &model.Thread{
		ID:            uuid.Must(uuid.NewV7()).String(),
		Channel:       req.Channel,
		Subject:       req.Subject,
		State:         model.StateNew,
		CustomerEmail: req.From,
		CreatedAt:     now,
		UpdatedAt:     now,
		LastInboundAt: now,
	}
	if req.ExternalThreadID != "" {
		external := req.ExternalThreadID
		thread.ExternalID = &external
	}
	if err := t.store.CreateThread(ctx, thread); err != nil {
		if req.ExternalThreadID != "" {
			if existing, lookupErr := t.store.GetThreadByExternalID(ctx, req.Channel, req.ExternalThreadID); lookupErr == nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("create thread: %w", err)
	}
	return thread, nil
}

func (t *TriageService) buildMessage(thread *model.Thread, req *model.IngestRequest) *model.Message {
	sentAt := t.now().UTC()
	if req.MessageDate != nil {
		sentAt = req.MessageDate.UTC()
	}
	msg := &model.Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		ThreadID:  thread.ID,
		Channel:   req.Channel,
		Direction: model.DirectionInbound,
		Role:      model.RoleNormal,
		From:      req.From,
		To:        req.To,
		Body:      req.Body,
		Metadata:  req.Metadata,
		SentAt:    sentAt,
		CreatedAt: t.now().UTC(),
	}
	if req.ExternalID != "" {
		external := req.ExternalID
		msg.ExternalID = &external
	}
	return msg
}

// observe is the human-handling short-circuit: the message is recorded as an
// observation and every automated step is skipped.
func (t *TriageService) observe(ctx context.Context, thread *model.Thread, msg *model.Message, req *model.IngestRequest, log *logger.Logger) (*model.IngestResult, error) {
	if err := t.observations.RecordObservation(ctx, thread, msg); err != nil {
		return nil, err
	}

	thread.LastInboundAt = msg.SentAt
	if err := t.persistThread(ctx, thread); err != nil {
		return nil, err
	}

	metrics.MessagesIngested.WithLabelValues(req.Channel, "observed").Inc()
	result := &model.IngestResult{
		ThreadID:      thread.ID,
		Intent:        thread.LastIntent,
		Action:        model.ActionNoReply,
		State:         model.StateHumanHandling,
		PreviousState: model.StateHumanHandling,
	}
	t.publishOutcome(ctx, log, result)
	return result, nil
}

// classify runs the classifier and records assignments and the classified
// event. The classifier itself never fails; it degrades internally.
func (t *TriageService) classify(ctx context.Context, log *logger.Logger, thread *model.Thread, req *model.IngestRequest, history []model.Message) model.ClassificationResult {
	res := t.classifier.Classify(ctx, req.Subject, req.Body, historyContext(history, t.cfg.HistoryMaxChars))

	for _, score := range res.Intents {
		if score.Slug == model.IntentUnknown {
			continue
		}
		assignment := &model.ClassificationAssignment{
			ID:         uuid.Must(uuid.NewV7()).String(),
			ThreadID:   thread.ID,
			Intent:     score.Slug,
			Confidence: score.Confidence,
			CreatedAt:  t.now().UTC(),
		}
		if err := t.store.UpsertAssignment(ctx, assignment); err != nil {
			log.Warn("upsert assignment failed", zap.String("intent", score.Slug), zap.Error(err))
		}
	}

	intents := make([]map[string]any, 0, len(res.Intents))
	for _, score := range res.Intents {
		intents = append(intents, map[string]any{
			"slug":       score.Slug,
			"confidence": score.Confidence,
			"reasoning":  score.Reasoning,
		})
	}
	t.appendEvent(ctx, log, thread.ID, model.EventTypeClassified, map[string]any{
		"primary_intent":        res.PrimaryIntent,
		"confidence":            res.Confidence,
		"source":                res.Source,
		"requires_verification": res.RequiresVerification,
		"auto_escalate":         res.AutoEscalate,
		"intents":               intents,
	})
	return res
}

// verify runs the verification gate when the classification requires it.
// Only body and attachment text are scanned for order identifiers; subjects
// routinely quote order numbers the customer never typed.
func (t *TriageService) verify(ctx context.Context, log *logger.Logger, thread *model.Thread, req *model.IngestRequest, classification model.ClassificationResult) (*model.VerificationResult, bool) {
	if !classification.RequiresVerification {
		return nil, false
	}

	text := req.Body
	if extracted := attachmentText(req.Attachments); extracted != "" {
		text += "\n" + extracted
	}
	res := t.verifier.Verify(ctx, req.From, text)

	record := &model.VerificationRecord{
		ID:        uuid.Must(uuid.NewV7()).String(),
		ThreadID:  thread.ID,
		Status:    res.Status,
		Order:     res.Order,
		Customer:  res.Customer,
		Flags:     res.Flags,
		CreatedAt: t.now().UTC(),
	}
	if err := t.store.CreateVerification(ctx, record); err != nil {
		log.Warn("persist verification failed", zap.Error(err))
	}

	payload := map[string]any{
		"status": string(res.Status),
		"flags":  res.Flags,
	}
	if res.Order != nil {
		payload["order_number"] = res.Order.OrderNumber
	}
	t.appendEvent(ctx, log, thread.ID, model.EventTypeVerified, payload)

	missingInfo := res.Status == model.VerificationPending || res.Status == model.VerificationNotFound
	return &res, missingInfo
}

// decide picks the base action and, when warranted, runs retrieval and
// generation. Closing intents, forced escalations, and missing-info cases
// never invoke the retriever or the generator.
func (t *TriageService) decide(
	ctx context.Context,
	log *logger.Logger,
	thread *model.Thread,
	req *model.IngestRequest,
	classification model.ClassificationResult,
	verif *model.VerificationResult,
	missingInfo bool,
	history []model.Message,
) (model.Action, *draft.GenerateResult, bool) {
	primary := classification.PrimaryIntent

	if lifecycle.IsClosing(primary) {
		return model.ActionNoReply, nil, false
	}
	flagged := verif != nil && verif.Status == model.VerificationFlagged
	if classification.AutoEscalate || lifecycle.ForcesEscalation(primary) || flagged {
		return model.ActionEscalate, nil, false
	}
	if missingInfo {
		return model.ActionAskClarifying, nil, false
	}

	knowledge := t.retriever.Search(ctx, retrieval.SearchContext{
		Intent:     primary,
		Query:      strings.TrimSpace(req.Subject + "\n" + req.Body),
		VehicleTag: req.Metadata["vehicle_tag"],
		ProductTag: req.Metadata["product_tag"],
	}, retrieval.Options{Limit: t.cfg.RetrievalLimit, MinScore: t.cfg.RetrievalMinScore})

	in := draft.GenerateInput{
		ThreadID:        thread.ID,
		Intent:          primary,
		Subject:         req.Subject,
		Body:            req.Body,
		Knowledge:       knowledge,
		History:         history,
		AttachmentText:  attachmentText(req.Attachments),
		ThreadCreatedAt: thread.CreatedAt,
	}
	if verif != nil {
		in.Order = verif.Order
		in.Customer = verif.Customer
	}
	genResult := t.generator.Generate(ctx, in)

	t.appendEvent(ctx, log, thread.ID, model.EventTypeDraftGenerated, map[string]any{
		"record_id":     genResult.RecordID,
		"success":       genResult.Success,
		"policy_passed": genResult.PolicyPassed,
		"error":         genResult.Error,
		"citations":     len(genResult.Citations),
	})

	if !genResult.Success {
		log.Warn("draft generation failed", zap.String("error", genResult.Error))
		t.appendEvent(ctx, log, thread.ID, model.EventTypeError, map[string]any{
			"stage": "generation",
			"error": genResult.Error,
		})
		return model.ActionEscalate, &genResult, false
	}
	if !genResult.PolicyPassed {
		t.appendEvent(ctx, log, thread.ID, model.EventTypePolicyBlocked, map[string]any{
			"record_id":  genResult.RecordID,
			"violations": genResult.PolicyViolations,
		})
		return model.ActionSendPreapproved, &genResult, true
	}
	return model.ActionSendPreapproved, &genResult, false
}

// persistThread writes the thread, refetching and reapplying once if an
// out-of-band writer bumped updated_at since our read.
func (t *TriageService) persistThread(ctx context.Context, thread *model.Thread) error {
	err := t.store.UpdateThread(ctx, thread)
	if err == nil {
		return nil
	}
	if err != store.ErrConflict {
		return fmt.Errorf("update thread: %w", err)
	}

	current, getErr := t.store.GetThread(ctx, thread.ID)
	if getErr != nil {
		return fmt.Errorf("reload thread after conflict: %w", getErr)
	}
	current.State = thread.State
	current.LastIntent = thread.LastIntent
	current.LastInboundAt = thread.LastInboundAt
	if err := t.store.UpdateThread(ctx, current); err != nil {
		return fmt.Errorf("update thread after conflict: %w", err)
	}
	*thread = *current
	return nil
}

func (t *TriageService) appendEvent(ctx context.Context, log *logger.Logger, threadID string, eventType model.EventType, payload map[string]any) {
	e := &model.Event{
		ID:        uuid.Must(uuid.NewV7()).String(),
		ThreadID:  threadID,
		Type:      eventType,
		Payload:   payload,
		CreatedAt: t.now().UTC(),
	}
	if err := t.store.AppendEvent(ctx, e); err != nil {
		log.Error("append event failed", zap.String("type", string(eventType)), zap.Error(err))
		return
	}
	if t.publisher != nil {
		if err := t.publisher.PublishEvent(ctx, e); err != nil {
			log.Warn("publish event failed", zap.String("type", string(eventType)), zap.Error(err))
		}
	}
}

func (t *TriageService) publishOutcome(ctx context.Context, log *logger.Logger, res *model.IngestResult) {
	if t.publisher == nil {
		return
	}
	if err := t.publisher.PublishOutcome(ctx, res.ThreadID, res); err != nil {
		log.Warn("publish outcome failed", zap.Error(err))
	}
}

// historyContext renders recent messages for the classifier prompt, oldest
// first, truncated to maxChars from the end so the newest turns survive.
func historyContext(history []model.Message, maxChars int) string {
	if len(history) == 0 {
		return ""
	}
	var b strings.Builder
	for _, msg := range history {
		role := "customer"
		if msg.Direction == model.DirectionOutbound {
			role = "support"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, msg.Body)
	}
	out := b.String()
	if len(out) > maxChars {
		cut := len(out) - maxChars
		for cut < len(out) && !utf8.RuneStart(out[cut]) {
			cut++
		}
		out = out[cut:]
	}
	return out
}

func attachmentText(attachments []model.Attachment) string {
	var parts []string
	for _, a := range attachments {
		if a.ExtractedContent == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s:\n%s", a.Filename, a.ExtractedContent))
	}
	return strings.Join(parts, "\n\n")
}
