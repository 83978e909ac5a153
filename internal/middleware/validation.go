package middleware

import (
	"errors"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ridgelineparts/triage/internal/model"
)

// ValidateIngestRequest validates an inbound message before it reaches the
// pipeline.
func ValidateIngestRequest(req *model.IngestRequest) error {
	if req.Channel == "" {
		return errors.New("channel is required")
	}
	if len(req.Channel) > 64 {
		return errors.New("channel exceeds maximum length")
	}
	if err := ValidateBody(req.Body); err != nil {
		return err
	}
	if len(req.Subject) > 512 {
		return errors.New("subject exceeds maximum length")
	}
	if !utf8.ValidString(req.Subject) {
		return errors.New("subject must be valid UTF-8")
	}
	for _, a := range req.Attachments {
		if a.Filename == "" {
			return errors.New("attachment filename is required")
		}
	}
	return nil
}

// ValidateBody validates message body text.
func ValidateBody(body string) error {
	if len(body) == 0 {
		return errors.New("body_text cannot be empty")
	}
	if len(body) > 100000 {
		return errors.New("body_text exceeds maximum length")
	}
	if !utf8.ValidString(body) {
		return errors.New("body_text must be valid UTF-8")
	}
	return nil
}

// ValidateThreadID validates a thread ID.
func ValidateThreadID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid thread ID format")
	}
	return nil
}
