package model

import (
	"time"
)

// EventType represents the type of thread event.
type EventType string

const (
	EventTypeMessageReceived EventType = "message_received"
	EventTypeClassified      EventType = "classified"
	EventTypeVerified        EventType = "verified"
	EventTypeDraftGenerated  EventType = "draft_generated"
	EventTypePolicyBlocked   EventType = "policy_blocked"
	EventTypeStateChanged    EventType = "state_changed"
	EventTypeObservation     EventType = "observation"
	EventTypeHumanTakeover   EventType = "human_takeover"
	EventTypeHumanRelease    EventType = "human_release"
	EventTypeError           EventType = "error"
)

// Event is one append-only audit log row for a thread. Events are never
// mutated or deleted; together they reconstruct every automated decision.
type Event struct {
	ID        string         `json:"id"`
	ThreadID  string         `json:"thread_id"`
	Type      EventType      `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Sequence  uint64         `json:"sequence,omitempty"`
}

// Transition is the state-change payload recorded on state_changed events.
type Transition struct {
	From   ThreadState `json:"from"`
	To     ThreadState `json:"to"`
	Reason string      `json:"reason"`
}

// Payload renders the transition as an event payload.
func (t Transition) Payload() map[string]any {
	return map[string]any{
		"from":   string(t.From),
		"to":     string(t.To),
		"reason": t.Reason,
	}
}
