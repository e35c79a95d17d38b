package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/gingerGarden/bedrock-be-ai/internal/ledger"
)

// Store implements ledger.Store backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

// New opens a PostgreSQL-backed ledger store using the provided DSN and
// connection pool settings. Zero values leave the pool defaults untouched.
func New(dsn string, maxOpen, maxIdle int, lifetime, idleTime time.Duration) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}

	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if lifetime > 0 {
		db.SetConnMaxLifetime(lifetime)
	}
	if idleTime > 0 {
		db.SetConnMaxIdleTime(idleTime)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS chat_entries (
	id BIGSERIAL PRIMARY KEY,
	request_id TEXT NOT NULL DEFAULT '',
	stream_id TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL,
	kind TEXT NOT NULL CHECK(kind IN ('api','stream','stream_meta')),
	prompt_tokens BIGINT NOT NULL,
	completion_tokens BIGINT NOT NULL,
	total_ns BIGINT NOT NULL DEFAULT 0,
	generate_ns BIGINT NOT NULL DEFAULT 0,
	cancelled BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_chat_entries_model_created ON chat_entries(model, created_at DESC);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts a new chat entry.
func (s *Store) Record(ctx context.Context, entry ledger.Entry) error {
	if entry.Model == "" {
		return errors.New("ledger record requires model")
	}
	switch entry.Kind {
	case ledger.KindAPI, ledger.KindStream, ledger.KindStreamMeta:
	default:
		return fmt.Errorf("invalid kind %q", entry.Kind)
	}
	created := entry.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO chat_entries(request_id, stream_id, model, kind, prompt_tokens, completion_tokens, total_ns, generate_ns, cancelled, created_at)
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.RequestID,
		entry.StreamID,
		entry.Model,
		string(entry.Kind),
		entry.PromptTokens,
		entry.CompletionTokens,
		entry.TotalNS,
		entry.GenerateNS,
		entry.Cancelled,
		created,
	)
	return err
}

// Summary returns aggregated usage, scoped to model when non-empty.
func (s *Store) Summary(ctx context.Context, model string) (ledger.Summary, error) {
	query := `
SELECT
	COUNT(*),
	COALESCE(SUM(CASE WHEN cancelled THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(prompt_tokens), 0),
	COALESCE(SUM(completion_tokens), 0)
FROM chat_entries`
	args := []any{}
	if model != "" {
		query += ` WHERE model = $1`
		args = append(args, model)
	}
	row := s.db.QueryRowContext(ctx, query, args...)

	var summary ledger.Summary
	if err := row.Scan(&summary.Requests, &summary.Cancelled, &summary.PromptTokens, &summary.CompletionTokens); err != nil {
		return ledger.Summary{}, err
	}
	return summary, nil
}

// ListRecent returns the latest entries.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]ledger.Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, request_id, stream_id, model, kind, prompt_tokens, completion_tokens, total_ns, generate_ns, cancelled, created_at
FROM chat_entries
ORDER BY created_at DESC, id DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		var kind string
		if err := rows.Scan(&e.ID, &e.RequestID, &e.StreamID, &e.Model, &kind, &e.PromptTokens, &e.CompletionTokens, &e.TotalNS, &e.GenerateNS, &e.Cancelled, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Kind = ledger.Kind(kind)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
