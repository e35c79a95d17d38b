package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"database/sql"

	// register sqlite driver
	_ "modernc.org/sqlite"

	"github.com/gingerGarden/bedrock-be-ai/internal/ledger"
)

// Store implements ledger.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite store at the given path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
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
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id TEXT NOT NULL DEFAULT '',
	stream_id TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL,
	kind TEXT NOT NULL CHECK(kind IN ('api','stream','stream_meta')),
	prompt_tokens INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	total_ns INTEGER NOT NULL DEFAULT 0,
	generate_ns INTEGER NOT NULL DEFAULT 0,
	cancelled INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
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
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RequestID,
		entry.StreamID,
		entry.Model,
		string(entry.Kind),
		entry.PromptTokens,
		entry.CompletionTokens,
		entry.TotalNS,
		entry.GenerateNS,
		boolToInt(entry.Cancelled),
		created,
	)
	return err
}

// Summary returns aggregated usage, scoped to model when non-empty.
func (s *Store) Summary(ctx context.Context, model string) (ledger.Summary, error) {
	query := `
SELECT
	COUNT(*),
	COALESCE(SUM(cancelled), 0),
	COALESCE(SUM(prompt_tokens), 0),
	COALESCE(SUM(completion_tokens), 0)
FROM chat_entries`
	args := []any{}
	if model != "" {
		query += ` WHERE model = ?`
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
LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		var kind string
		var cancelled int
		if err := rows.Scan(&e.ID, &e.RequestID, &e.StreamID, &e.Model, &kind, &e.PromptTokens, &e.CompletionTokens, &e.TotalNS, &e.GenerateNS, &cancelled, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Kind = ledger.Kind(kind)
		e.Cancelled = cancelled != 0
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
