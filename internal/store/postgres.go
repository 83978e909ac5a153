package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/ridgelineparts/triage/internal/model"
)

//go:embed scripts/initdb.sql
var bootstrapFS embed.FS

// Postgres implements Store backed by PostgreSQL with the pgvector extension.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens a pooled connection and runs the bootstrap DDL if the
// schema is not present yet.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	if databaseURL == "" {
		return nil, errors.New("DATABASE_URL is empty")
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := ensureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &Postgres{db: db}, nil
}

func ensureBootstrapped(ctx context.Context, db *sql.DB) error {
	bootCtx, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	var exists bool
	err := db.QueryRowContext(bootCtx, `
		SELECT EXISTS (
		  SELECT 1 FROM information_schema.tables
		  WHERE table_name = 'triage_meta'
		)`).Scan(&exists)
	if err != nil {
		return fmt.Errorf("meta table check failed: %w", err)
	}
	if exists {
		return nil
	}

	sqlBytes, err := bootstrapFS.ReadFile("scripts/initdb.sql")
	if err != nil {
		return fmt.Errorf("read initdb.sql: %w", err)
	}

	tx, err := db.BeginTx(bootCtx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.ExecContext(bootCtx, string(sqlBytes)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("exec bootstrap: %w", err)
	}
	return tx.Commit()
}

// Ping checks database connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close releases the connection pool.
func (p *Postgres) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// CreateThread inserts a new thread.
func (p *Postgres) CreateThread(ctx context.Context, t *model.Thread) error {
	const q = `
		INSERT INTO threads
			(id, channel, external_id, subject, state, last_intent, human_handling,
			 handler, summary, customer_email, created_at, updated_at, last_inbound_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := p.db.ExecContext(ctx, q,
		t.ID, t.Channel, t.ExternalID, t.Subject, t.State, t.LastIntent, t.HumanHandling,
		t.Handler, t.Summary, t.CustomerEmail, t.CreatedAt, t.UpdatedAt, t.LastInboundAt)
	return err
}

const threadColumns = `id, channel, external_id, subject, state, last_intent, human_handling,
	handler, summary, customer_email, created_at, updated_at, last_inbound_at`

func scanThread(row interface{ Scan(...any) error }) (*model.Thread, error) {
	var t model.Thread
	err := row.Scan(&t.ID, &t.Channel, &t.ExternalID, &t.Subject, &t.State, &t.LastIntent,
		&t.HumanHandling, &t.Handler, &t.Summary, &t.CustomerEmail,
		&t.CreatedAt, &t.UpdatedAt, &t.LastInboundAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetThread retrieves a thread by id.
func (p *Postgres) GetThread(ctx context.Context, id string) (*model.Thread, error) {
	return scanThread(p.db.QueryRowContext(ctx,
		`SELECT `+threadColumns+` FROM threads WHERE id = $1`, id))
}

// GetThreadByExternalID retrieves a thread by its channel-native id.
func (p *Postgres) GetThreadByExternalID(ctx context.Context, channel, externalID string) (*model.Thread, error) {
	return scanThread(p.db.QueryRowContext(ctx,
		`SELECT `+threadColumns+` FROM threads WHERE channel = $1 AND external_id = $2`,
		channel, externalID))
}

// UpdateThread persists thread fields with an optimistic concurrency check on
// updated_at: a concurrent writer that committed first wins and this update
// reports ErrConflict so the caller can re-read.
func (p *Postgres) UpdateThread(ctx context.Context, t *model.Thread) error {
	const q = `
		UPDATE threads
		SET subject = $2, state = $3, last_intent = $4, human_handling = $5,
		    handler = $6, summary = $7, customer_email = $8,
		    updated_at = $9, last_inbound_at = $10
		WHERE id = $1 AND updated_at = $11
	`
	prev := t.UpdatedAt
	t.UpdatedAt = time.Now().UTC()
	res, err := p.db.ExecContext(ctx, q,
		t.ID, t.Subject, t.State, t.LastIntent, t.HumanHandling,
		t.Handler, t.Summary, t.CustomerEmail, t.UpdatedAt, t.LastInboundAt, prev)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// ListThreads retrieves threads ordered by most recent activity.
func (p *Postgres) ListThreads(ctx context.Context, limit, offset int) ([]model.Thread, int, error) {
	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM threads`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := p.db.QueryContext(ctx,
		`SELECT `+threadColumns+` FROM threads ORDER BY updated_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []model.Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *t)
	}
	return out, total, rows.Err()
}

// CreateMessage inserts a message.
func (p *Postgres) CreateMessage(ctx context.Context, m *model.Message) error {
	meta, err := marshalNullable(m.Metadata)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO messages
			(id, thread_id, channel, direction, role, from_addr, to_addr, body,
			 external_id, metadata, sent_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = p.db.ExecContext(ctx, q,
		m.ID, m.ThreadID, m.Channel, m.Direction, m.Role, m.From, m.To, m.Body,
		m.ExternalID, meta, m.SentAt, m.CreatedAt)
	return err
}

const messageColumns = `id, thread_id, channel, direction, role, from_addr, to_addr, body,
	external_id, metadata, sent_at, created_at`

func scanMessage(row interface{ Scan(...any) error }) (*model.Message, error) {
	var (
		m    model.Message
		meta []byte
	)
	err := row.Scan(&m.ID, &m.ThreadID, &m.Channel, &m.Direction, &m.Role, &m.From, &m.To,
		&m.Body, &m.ExternalID, &meta, &m.SentAt, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &m.Metadata); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

// GetMessageByExternalID retrieves a message by its channel-native id.
func (p *Postgres) GetMessageByExternalID(ctx context.Context, channel, externalID string) (*model.Message, error) {
	return scanMessage(p.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE channel = $1 AND external_id = $2`,
		channel, externalID))
}

// ListMessages retrieves the most recent messages for a thread, oldest first.
func (p *Postgres) ListMessages(ctx context.Context, threadID string, limit int) ([]model.Message, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT * FROM (
			SELECT `+messageColumns+` FROM messages
			WHERE thread_id = $1 ORDER BY sent_at DESC LIMIT $2
		) recent ORDER BY sent_at ASC`, threadID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// AppendEvent appends one audit event. Events are insert-only.
func (p *Postgres) AppendEvent(ctx context.Context, e *model.Event) error {
	payload, err := marshalNullable(e.Payload)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO events (id, thread_id, type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING sequence
	`
	return p.db.QueryRowContext(ctx, q, e.ID, e.ThreadID, e.Type, payload, e.CreatedAt).
		Scan(&e.Sequence)
}

// ListEvents retrieves a thread's events in append order.
func (p *Postgres) ListEvents(ctx context.Context, threadID string) ([]model.Event, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT sequence, id, thread_id, type, payload, created_at
		FROM events WHERE thread_id = $1 ORDER BY sequence ASC`, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var (
			e       model.Event
			payload []byte
		)
		if err := rows.Scan(&e.Sequence, &e.ID, &e.ThreadID, &e.Type, &payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func marshalNullable(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	return b, nil
}
