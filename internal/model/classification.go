package model

import (
	"time"
)

// IntentUnknown is the sentinel intent substituted when no catalog intent
// clears the confidence floor.
const IntentUnknown = "UNKNOWN"

// Well-known intent slugs the state machine gives special treatment. The
// full catalog lives in the store and is extensible at runtime.
const (
	IntentOrderStatus       = "ORDER_STATUS"
	IntentThankYouClose     = "THANK_YOU_CLOSE"
	IntentVendorSpam        = "VENDOR_SPAM"
	IntentChargebackDispute = "CHARGEBACK_DISPUTE"
)

// IntentDefinition is one entry in the runtime-extensible intent catalog.
type IntentDefinition struct {
	Slug                 string    `json:"slug"`
	Description          string    `json:"description"`
	Examples             []string  `json:"examples,omitempty"`
	RequiresVerification bool      `json:"requires_verification"`
	AutoEscalate         bool      `json:"auto_escalate"`
	Active               bool      `json:"active"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// IntentScore is one scored intent in a classification result.
type IntentScore struct {
	Slug       string  `json:"slug"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// ClassificationResult is the classifier's output for one message. Intents is
// sorted descending by confidence and is never empty: when nothing clears the
// floor it holds the UNKNOWN sentinel.
type ClassificationResult struct {
	Intents              []IntentScore `json:"intents"`
	PrimaryIntent        string        `json:"primary_intent"`
	Confidence           float64       `json:"confidence"`
	RequiresVerification bool          `json:"requires_verification"`
	AutoEscalate         bool          `json:"auto_escalate"`
	Source               string        `json:"source"` // "llm", "keyword", "fallback"
}

// ClassificationAssignment tracks one intent attached to a thread, each with
// its own resolved flag.
type ClassificationAssignment struct {
	ID         string    `json:"id"`
	ThreadID   string    `json:"thread_id"`
	Intent     string    `json:"intent"`
	Confidence float64   `json:"confidence"`
	Resolved   bool      `json:"resolved"`
	CreatedAt  time.Time `json:"created_at"`
}
