package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ridgelineparts/triage/internal/middleware"
	"github.com/ridgelineparts/triage/internal/model"
	"github.com/ridgelineparts/triage/internal/service"
	"github.com/ridgelineparts/triage/internal/store"
	"github.com/ridgelineparts/triage/pkg/logger"
)

// ThreadHandler handles thread read, intervention, and draft-send endpoints.
type ThreadHandler struct {
	store        store.Store
	triage       *service.TriageService
	observations *service.ObservationService
	logger       *logger.Logger
}

// NewThreadHandler creates a new thread handler.
func NewThreadHandler(s store.Store, triage *service.TriageService, observations *service.ObservationService, log *logger.Logger) *ThreadHandler {
	return &ThreadHandler{
		store:        s,
		triage:       triage,
		observations: observations,
		logger:       log,
	}
}

// List handles GET /api/v1/threads
func (h *ThreadHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := 20
	offset := 0

	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	threads, total, err := h.store.ListThreads(ctx, limit, offset)
	if err != nil {
		h.logger.Error("failed to list threads", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list threads")
		return
	}

	writeJSON(w, http.StatusOK, model.ListThreadsResponse{
		Threads: threads,
		Total:   total,
		HasMore: offset+len(threads) < total,
	})
}

// Get handles GET /api/v1/threads/{threadID}
func (h *ThreadHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	threadID := chi.URLParam(r, "threadID")

	if err := middleware.ValidateThreadID(threadID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	thread, err := h.store.GetThread(ctx, threadID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "thread not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get thread", zap.String("thread_id", threadID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get thread")
		return
	}

	detail := model.ThreadDetailResponse{Thread: thread}
	verification, err := h.store.LatestVerification(ctx, threadID)
	if err == nil {
		detail.Verification = verification
	} else if !errors.Is(err, store.ErrNotFound) {
		h.logger.Warn("failed to load verification", zap.String("thread_id", threadID), zap.Error(err))
	}

	writeJSON(w, http.StatusOK, detail)
}

// Events handles GET /api/v1/threads/{threadID}/events
func (h *ThreadHandler) Events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	threadID := chi.URLParam(r, "threadID")

	if err := middleware.ValidateThreadID(threadID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.store.GetThread(ctx, threadID); errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "thread not found")
		return
	} else if err != nil {
		h.logger.Error("failed to get thread", zap.String("thread_id", threadID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get thread")
		return
	}

	events, err := h.store.ListEvents(ctx, threadID)
	if err != nil {
		h.logger.Error("failed to list events", zap.String("thread_id", threadID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"thread_id": threadID,
		"events":    events,
	})
}

// ReleaseRequest is the body for releasing a human-handled thread.
type ReleaseRequest struct {
	ResolutionType string `json:"resolution_type"`
	Summary        string `json:"summary,omitempty"`
}

// Release handles POST /api/v1/threads/{threadID}/release
func (h *ThreadHandler) Release(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	threadID := chi.URLParam(r, "threadID")

	if err := middleware.ValidateThreadID(threadID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req ReleaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ResolutionType == "" {
		writeError(w, http.StatusBadRequest, "resolution_type is required")
		return
	}

	thread, err := h.observations.Release(ctx, threadID, req.ResolutionType, req.Summary)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "thread not found")
		return
	}
	if errors.Is(err, service.ErrNotHumanHandled) {
		writeError(w, http.StatusConflict, "thread is not in human handling mode")
		return
	}
	if err != nil {
		h.logger.Error("failed to release thread", zap.String("thread_id", threadID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to release thread")
		return
	}

	writeJSON(w, http.StatusOK, thread)
}

// DraftSent handles POST /api/v1/threads/{threadID}/drafts/{draftID}/sent.
// The downstream channel adapter calls this after delivering a draft so the
// record flips to sent and the text lands on the thread.
func (h *ThreadHandler) DraftSent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	threadID := chi.URLParam(r, "threadID")
	draftID := chi.URLParam(r, "draftID")

	if err := middleware.ValidateThreadID(threadID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if draftID == "" {
		writeError(w, http.StatusBadRequest, "draft ID is required")
		return
	}

	msg, err := h.triage.ConfirmDraftSent(ctx, threadID, draftID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "draft not found")
		return
	}
	if errors.Is(err, service.ErrDraftNotSendable) {
		writeError(w, http.StatusConflict, "draft did not pass the policy gate")
		return
	}
	if err != nil {
		h.logger.Error("failed to confirm draft sent",
			zap.String("thread_id", threadID), zap.String("draft_id", draftID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to confirm draft sent")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"thread_id":  threadID,
		"draft_id":   draftID,
		"message_id": msg.ID,
		"status":     "sent",
	})
}

// TakeoverRequest is the body for marking a thread human-handled. The
// outbound message the operator sent through the side channel rides along so
// it lands in the thread record.
type TakeoverRequest struct {
	Handler string `json:"handler,omitempty"`
	Body    string `json:"body,omitempty"`
	To      string `json:"to,omitempty"`
}

// Takeover handles POST /api/v1/threads/{threadID}/takeover
func (h *ThreadHandler) Takeover(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	threadID := chi.URLParam(r, "threadID")

	if err := middleware.ValidateThreadID(threadID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req TakeoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	handler := req.Handler
	if handler == "" {
		handler = middleware.GetOperatorID(ctx)
	}

	var outbound *model.Message
	if req.Body != "" {
		outbound = &model.Message{
			Role:   model.RoleNormal,
			From:   handler,
			To:     req.To,
			Body:   req.Body,
			SentAt: time.Now().UTC(),
		}
	}

	err := h.observations.MarkHumanHandling(ctx, threadID, handler, outbound)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "thread not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to mark human handling", zap.String("thread_id", threadID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to mark human handling")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"thread_id": threadID,
		"status":    "human_handling",
	})
}
