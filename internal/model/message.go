package model

import (
	"time"
)

// Direction indicates whether a message came from the customer or was sent out.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// MessageRole tags how a message participates in the conversation.
type MessageRole string

const (
	RoleNormal   MessageRole = "normal"
	RoleDraft    MessageRole = "draft"
	RoleInternal MessageRole = "internal"
)

// Message represents one unit of communication belonging to a thread.
// Ordering is defined by SentAt, supplied by the originating channel, not
// insertion order. ExternalID is the channel-native message id used for dedup.
type Message struct {
	ID         string            `json:"id"`
	ThreadID   string            `json:"thread_id"`
	Channel    string            `json:"channel"`
	Direction  Direction         `json:"direction"`
	Role       MessageRole       `json:"role"`
	From       string            `json:"from"`
	To         string            `json:"to"`
	Body       string            `json:"body"`
	ExternalID *string           `json:"external_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	SentAt     time.Time         `json:"sent_at"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Attachment carries channel-extracted attachment facts. Binary content never
// enters the pipeline; only pre-extracted text does.
type Attachment struct {
	Filename         string `json:"filename"`
	MimeType         string `json:"mimeType"`
	Size             int64  `json:"size"`
	ExtractedContent string `json:"extractedContent,omitempty"`
}
