package model

import (
	"time"
)

// Document is one knowledge-base entry, tagged for intent, vehicle and
// product matching. The retriever only reads these.
type Document struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	IntentTags  []string  `json:"intent_tags,omitempty"`
	VehicleTags []string  `json:"vehicle_tags,omitempty"`
	ProductTags []string  `json:"product_tags,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Chunk is one embedded slice of a document.
type Chunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Position   int       `json:"position"`
	Text       string    `json:"text"`
	Embedding  []float32 `json:"-"`
}

// SearchResult is one merged retrieval hit. Score is in [0,1] after
// normalization; Sources records every strategy that contributed.
type SearchResult struct {
	Document Document `json:"document"`
	Chunk    *Chunk   `json:"chunk,omitempty"`
	Score    float64  `json:"score"`
	Sources  []string `json:"sources"`
}
