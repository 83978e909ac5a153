// Package model defines data structures for the triage pipeline.
package model

import (
	"time"
)

// ThreadState represents the lifecycle state of a thread.
type ThreadState string

const (
	StateNew           ThreadState = "NEW"
	StateAwaitingInfo  ThreadState = "AWAITING_INFO"
	StateInProgress    ThreadState = "IN_PROGRESS"
	StateEscalated     ThreadState = "ESCALATED"
	StateHumanHandling ThreadState = "HUMAN_HANDLING"
	StateResolved      ThreadState = "RESOLVED"
)

// Action is the pipeline's chosen disposition for one inbound message.
type Action string

const (
	ActionNoReply           Action = "NO_REPLY"
	ActionAskClarifying     Action = "ASK_CLARIFYING_QUESTIONS"
	ActionSendPreapproved   Action = "SEND_PREAPPROVED_MACRO"
	ActionEscalate          Action = "ESCALATE"
	ActionEscalateWithDraft Action = "ESCALATE_WITH_DRAFT"
)

// Thread represents one customer conversation. State transitions go only
// through the lifecycle state machine; threads are never hard-deleted.
type Thread struct {
	ID               string      `json:"id"`
	Channel          string      `json:"channel"`
	ExternalID       *string     `json:"external_id,omitempty"`
	Subject          string      `json:"subject"`
	State            ThreadState `json:"state"`
	LastIntent       string      `json:"last_intent,omitempty"`
	HumanHandling    bool        `json:"human_handling_mode"`
	Handler          string      `json:"handler,omitempty"`
	Summary          string      `json:"summary,omitempty"`
	CustomerEmail    string      `json:"customer_email,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
	LastInboundAt    time.Time   `json:"last_inbound_at"`
}

// ListThreadsResponse is the response for listing threads.
type ListThreadsResponse struct {
	Threads []Thread `json:"threads"`
	Total   int      `json:"total"`
	HasMore bool     `json:"has_more"`
}

// ThreadDetailResponse is the single-thread read model: the thread plus its
// latest verification outcome, when one exists.
type ThreadDetailResponse struct {
	Thread       *Thread             `json:"thread"`
	Verification *VerificationRecord `json:"verification,omitempty"`
}
