// Package handler provides HTTP handlers for the API.
package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/ridgelineparts/triage/internal/middleware"
	"github.com/ridgelineparts/triage/internal/model"
	"github.com/ridgelineparts/triage/internal/service"
	"github.com/ridgelineparts/triage/pkg/logger"
)

// IngestHandler handles inbound message ingestion.
type IngestHandler struct {
	triage *service.TriageService
	logger *logger.Logger
}

// NewIngestHandler creates a new ingest handler.
func NewIngestHandler(svc *service.TriageService, log *logger.Logger) *IngestHandler {
	return &IngestHandler{
		triage: svc,
		logger: log,
	}
}

// Ingest handles POST /api/v1/ingest
func (h *IngestHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateIngestRequest(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.triage.Ingest(ctx, &req)
	if err != nil {
		h.logger.Error("failed to triage message",
			zap.String("channel", req.Channel),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to process message")
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}
