package model

import (
	"time"
)

// IngestRequest is one inbound message handed to the orchestrator by a
// channel adapter. ExternalID/ExternalThreadID are channel-native ids used
// for idempotent dedup.
type IngestRequest struct {
	Channel          string            `json:"channel"`
	ExternalID       string            `json:"external_id,omitempty"`
	ExternalThreadID string            `json:"external_thread_id,omitempty"`
	From             string            `json:"from_identifier,omitempty"`
	To               string            `json:"to_identifier,omitempty"`
	Subject          string            `json:"subject"`
	Body             string            `json:"body_text"`
	Attachments      []Attachment      `json:"attachments,omitempty"`
	MessageDate      *time.Time        `json:"message_date,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// IngestResult is the orchestrator's answer for one processed message.
// Downstream consumers use Action to decide whether to send Draft, hold it
// for review, or fire an escalation notification.
type IngestResult struct {
	ThreadID      string      `json:"thread_id"`
	Intent        string      `json:"intent"`
	Confidence    float64     `json:"confidence"`
	Action        Action      `json:"action"`
	Draft         *string     `json:"draft,omitempty"`
	State         ThreadState `json:"state"`
	PreviousState ThreadState `json:"previous_state"`
	Duplicate     bool        `json:"duplicate,omitempty"`
}
