package store

import (
	"context"
	"encoding/json"

	"github.com/pgvector/pgvector-go"

	"github.com/ridgelineparts/triage/internal/model"
)

const documentColumns = `id, title, content, intent_tags, vehicle_tags, product_tags, updated_at`

func scanDocument(row interface{ Scan(...any) error }) (*model.Document, error) {
	var (
		d                           model.Document
		intents, vehicles, products []byte
	)
	if err := row.Scan(&d.ID, &d.Title, &d.Content, &intents, &vehicles, &products, &d.UpdatedAt); err != nil {
		return nil, err
	}
	for _, pair := range []struct {
		raw []byte
		out *[]string
	}{{intents, &d.IntentTags}, {vehicles, &d.VehicleTags}, {products, &d.ProductTags}} {
		if len(pair.raw) > 0 {
			if err := json.Unmarshal(pair.raw, pair.out); err != nil {
				return nil, err
			}
		}
	}
	return &d, nil
}

// ListDocumentsByIntent retrieves documents whose intent tags contain the
// given intent slug.
func (p *Postgres) ListDocumentsByIntent(ctx context.Context, intent string) ([]model.Document, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+documentColumns+` FROM kb_documents
		WHERE intent_tags @> to_jsonb(ARRAY[$1::text])
		ORDER BY updated_at DESC`, intent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// SearchChunks finds the chunks nearest to the query embedding by cosine
// distance, optionally filtered by vehicle/product tags on the parent
// document. Returns parallel slices of chunks, their documents, and cosine
// similarity in [0,1].
func (p *Postgres) SearchChunks(ctx context.Context, embedding []float32, filter ChunkFilter, limit int) ([]model.Chunk, []model.Document, []float64, error) {
	const q = `
		SELECT c.id, c.document_id, c.position, c.text,
		       1 - (c.embedding <=> $1) AS similarity,
		       ` + docPrefixedColumns + `
		FROM kb_chunks c
		JOIN kb_documents d ON d.id = c.document_id
		WHERE ($2 = '' OR d.vehicle_tags @> to_jsonb(ARRAY[$2::text]))
		  AND ($3 = '' OR d.product_tags @> to_jsonb(ARRAY[$3::text]))
		ORDER BY c.embedding <=> $1
		LIMIT $4
	`
	rows, err := p.db.QueryContext(ctx, q,
		pgvector.NewVector(embedding), filter.VehicleTag, filter.ProductTag, limit)
	if err != nil {
		return nil, nil, nil, err
	}
	defer rows.Close()

	var (
		chunks []model.Chunk
		docs   []model.Document
		scores []float64
	)
	for rows.Next() {
		var (
			c                           model.Chunk
			d                           model.Document
			similarity                  float64
			intents, vehicles, products []byte
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Position, &c.Text, &similarity,
			&d.ID, &d.Title, &d.Content, &intents, &vehicles, &products, &d.UpdatedAt); err != nil {
			return nil, nil, nil, err
		}
		for _, pair := range []struct {
			raw []byte
			out *[]string
		}{{intents, &d.IntentTags}, {vehicles, &d.VehicleTags}, {products, &d.ProductTags}} {
			if len(pair.raw) > 0 {
				if err := json.Unmarshal(pair.raw, pair.out); err != nil {
					return nil, nil, nil, err
				}
			}
		}
		chunks = append(chunks, c)
		docs = append(docs, d)
		scores = append(scores, clamp01(similarity))
	}
	return chunks, docs, scores, rows.Err()
}

const docPrefixedColumns = `d.id, d.title, d.content, d.intent_tags, d.vehicle_tags, d.product_tags, d.updated_at`

// SearchDocumentsByText is the plain full-text fallback, lowest confidence tier.
func (p *Postgres) SearchDocumentsByText(ctx context.Context, query string, limit int) ([]model.Document, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+documentColumns+` FROM kb_documents
		WHERE content ILIKE '%' || $1 || '%' OR title ILIKE '%' || $1 || '%'
		ORDER BY updated_at DESC
		LIMIT $2`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
