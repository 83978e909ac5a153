package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/ridgelineparts/triage/internal/model"
)

// ListIntentDefinitions retrieves the active intent catalog.
func (p *Postgres) ListIntentDefinitions(ctx context.Context) ([]model.IntentDefinition, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT slug, description, examples, requires_verification, auto_escalate, active, updated_at
		FROM intent_definitions WHERE active = TRUE ORDER BY slug`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.IntentDefinition
	for rows.Next() {
		var (
			d        model.IntentDefinition
			examples []byte
		)
		if err := rows.Scan(&d.Slug, &d.Description, &examples,
			&d.RequiresVerification, &d.AutoEscalate, &d.Active, &d.UpdatedAt); err != nil {
			return nil, err
		}
		if len(examples) > 0 {
			if err := json.Unmarshal(examples, &d.Examples); err != nil {
				return nil, err
			}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpsertAssignment records one intent on a thread, keeping the highest
// confidence seen and leaving the resolved flag alone on re-classification.
func (p *Postgres) UpsertAssignment(ctx context.Context, a *model.ClassificationAssignment) error {
	const q = `
		INSERT INTO classification_assignments (id, thread_id, intent, confidence, resolved, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (thread_id, intent)
		DO UPDATE SET confidence = GREATEST(classification_assignments.confidence, EXCLUDED.confidence)
	`
	_, err := p.db.ExecContext(ctx, q,
		a.ID, a.ThreadID, a.Intent, a.Confidence, a.Resolved, a.CreatedAt)
	return err
}

// ListAssignments retrieves intent assignments for a thread.
func (p *Postgres) ListAssignments(ctx context.Context, threadID string) ([]model.ClassificationAssignment, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, thread_id, intent, confidence, resolved, created_at
		FROM classification_assignments
		WHERE thread_id = $1 ORDER BY confidence DESC`, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ClassificationAssignment
	for rows.Next() {
		var a model.ClassificationAssignment
		if err := rows.Scan(&a.ID, &a.ThreadID, &a.Intent, &a.Confidence, &a.Resolved, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CreateVerification records one verification outcome.
func (p *Postgres) CreateVerification(ctx context.Context, v *model.VerificationRecord) error {
	order, err := marshalNullable(v.Order)
	if err != nil {
		return err
	}
	customer, err := marshalNullable(v.Customer)
	if err != nil {
		return err
	}
	flags, err := marshalNullable(v.Flags)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO verification_records (id, thread_id, status, order_snapshot, customer, flags, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = p.db.ExecContext(ctx, q, v.ID, v.ThreadID, v.Status, order, customer, flags, v.CreatedAt)
	return err
}

// LatestVerification retrieves the authoritative (most recent) verification
// record for a thread.
func (p *Postgres) LatestVerification(ctx context.Context, threadID string) (*model.VerificationRecord, error) {
	const q = `
		SELECT id, thread_id, status, order_snapshot, customer, flags, created_at
		FROM verification_records
		WHERE thread_id = $1 ORDER BY created_at DESC LIMIT 1
	`
	var (
		v                      model.VerificationRecord
		order, customer, flags []byte
	)
	err := p.db.QueryRowContext(ctx, q, threadID).
		Scan(&v.ID, &v.ThreadID, &v.Status, &order, &customer, &flags, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(order) > 0 {
		if err := json.Unmarshal(order, &v.Order); err != nil {
			return nil, err
		}
	}
	if len(customer) > 0 {
		if err := json.Unmarshal(customer, &v.Customer); err != nil {
			return nil, err
		}
	}
	if len(flags) > 0 {
		if err := json.Unmarshal(flags, &v.Flags); err != nil {
			return nil, err
		}
	}
	return &v, nil
}

// CreateDraft records one draft generation attempt.
func (p *Postgres) CreateDraft(ctx context.Context, d *model.DraftGeneration) error {
	docIDs, err := marshalNullable(d.DocumentIDs)
	if err != nil {
		return err
	}
	citations, err := marshalNullable(d.Citations)
	if err != nil {
		return err
	}
	violations, err := marshalNullable(d.PolicyViolations)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO draft_generations
			(id, thread_id, intent, document_ids, raw_draft, final_draft, citations,
			 policy_passed, policy_violations, model, tokens_in, tokens_out, error,
			 was_sent, was_edited, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err = p.db.ExecContext(ctx, q,
		d.ID, d.ThreadID, d.Intent, docIDs, d.RawDraft, d.FinalDraft, citations,
		d.PolicyPassed, violations, d.Model, d.TokensIn, d.TokensOut, d.Error,
		d.WasSent, d.WasEdited, d.CreatedAt)
	return err
}

// GetDraft retrieves one draft generation record.
func (p *Postgres) GetDraft(ctx context.Context, id string) (*model.DraftGeneration, error) {
	const q = `
		SELECT id, thread_id, intent, document_ids, raw_draft, final_draft, citations,
		       policy_passed, policy_violations, model, tokens_in, tokens_out, error,
		       was_sent, was_edited, created_at
		FROM draft_generations WHERE id = $1
	`
	var (
		d                             model.DraftGeneration
		docIDs, citations, violations []byte
	)
	err := p.db.QueryRowContext(ctx, q, id).Scan(
		&d.ID, &d.ThreadID, &d.Intent, &docIDs, &d.RawDraft, &d.FinalDraft, &citations,
		&d.PolicyPassed, &violations, &d.Model, &d.TokensIn, &d.TokensOut, &d.Error,
		&d.WasSent, &d.WasEdited, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(docIDs) > 0 {
		if err := json.Unmarshal(docIDs, &d.DocumentIDs); err != nil {
			return nil, err
		}
	}
	if len(citations) > 0 {
		if err := json.Unmarshal(citations, &d.Citations); err != nil {
			return nil, err
		}
	}
	if len(violations) > 0 {
		if err := json.Unmarshal(violations, &d.PolicyViolations); err != nil {
			return nil, err
		}
	}
	return &d, nil
}

// MarkDraftSent flips was_sent exactly once; a second call is a no-op.
func (p *Postgres) MarkDraftSent(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE draft_generations SET was_sent = TRUE WHERE id = $1 AND was_sent = FALSE`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Either unknown id or already sent; distinguish for the caller.
		var exists bool
		if err := p.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM draft_generations WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}
