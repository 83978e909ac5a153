package model

import (
	"time"
)

// Citation links a draft back to a knowledge-base document it drew on.
type Citation struct {
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
	Marker     string `json:"marker"`
}

// DraftGeneration is the durable record of one generation attempt.
// FinalDraft is nil whenever the policy gate failed; RawDraft is kept for
// human review regardless. WasSent flips exactly once, at send time.
type DraftGeneration struct {
	ID               string     `json:"id"`
	ThreadID         string     `json:"thread_id"`
	Intent           string     `json:"intent"`
	DocumentIDs      []string   `json:"document_ids,omitempty"`
	RawDraft         string     `json:"raw_draft,omitempty"`
	FinalDraft       *string    `json:"final_draft,omitempty"`
	Citations        []Citation `json:"citations,omitempty"`
	PolicyPassed     bool       `json:"policy_passed"`
	PolicyViolations []string   `json:"policy_violations,omitempty"`
	Model            string     `json:"model,omitempty"`
	TokensIn         int        `json:"tokens_in"`
	TokensOut        int        `json:"tokens_out"`
	Error            string     `json:"error,omitempty"`
	WasSent          bool       `json:"was_sent"`
	WasEdited        bool       `json:"was_edited"`
	CreatedAt        time.Time  `json:"created_at"`
}
