// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// MessagesIngested tracks inbound messages processed by the pipeline.
	MessagesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_messages_ingested_total",
			Help: "Inbound messages processed, by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	// ClassificationsTotal tracks classifier outputs by primary intent.
	ClassificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_classifications_total",
			Help: "Classification results by primary intent and source",
		},
		[]string{"intent", "source"},
	)

	// VerificationsTotal tracks verification gate outcomes.
	VerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_verifications_total",
			Help: "Verification gate outcomes by status",
		},
		[]string{"status"},
	)

	// DraftsGenerated tracks draft generation attempts.
	DraftsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_drafts_generated_total",
			Help: "Draft generation attempts by result",
		},
		[]string{"result"},
	)

	// PolicyBlocks tracks policy gate rejections by category.
	PolicyBlocks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_policy_blocks_total",
			Help: "Drafts blocked by the policy gate, by category",
		},
		[]string{"category"},
	)

	// StateTransitions tracks thread lifecycle transitions.
	StateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_state_transitions_total",
			Help: "Thread state transitions",
		},
		[]string{"from", "to"},
	)

	// RetrievalHits tracks knowledge matches by contributing strategy.
	RetrievalHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_retrieval_hits_total",
			Help: "Knowledge-base matches by retrieval strategy",
		},
		[]string{"strategy"},
	)

	// LLMRequestDuration tracks LLM call duration.
	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "LLM request duration",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"model", "purpose", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// ObservationsTotal tracks messages recorded while a human is handling.
	ObservationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "triage_observations_total",
			Help: "Inbound messages recorded in human-handling mode",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordLLMRequest records metrics for one LLM call.
func RecordLLMRequest(model, purpose, status string, duration float64, tokensIn, tokensOut int) {
	LLMRequestDuration.WithLabelValues(model, purpose, status).Observe(duration)
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}

// RecordTransition records a thread state transition.
func RecordTransition(from, to string) {
	StateTransitions.WithLabelValues(from, to).Inc()
}
