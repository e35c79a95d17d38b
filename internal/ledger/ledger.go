// Package ledger records one entry per completed chat call: the model that
// served it, token usage and generation durations from the terminal chunk,
// and whether the stream was cancelled mid-flight.
package ledger

import (
	"context"
	"time"
)

// Kind identifies which projection served the request.
type Kind string

const (
	KindAPI        Kind = "api"
	KindStream     Kind = "stream"
	KindStreamMeta Kind = "stream_meta"
)

// Entry is a single usage record.
type Entry struct {
	ID               int64     `json:"id"`
	RequestID        string    `json:"request_id"`
	StreamID         string    `json:"stream_id"`
	Model            string    `json:"model"`
	Kind             Kind      `json:"kind"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	TotalNS          int64     `json:"total_ns"`
	GenerateNS       int64     `json:"generate_ns"`
	Cancelled        bool      `json:"cancelled"`
	CreatedAt        time.Time `json:"created_at"`
}

// Summary aggregates usage, optionally scoped to one model.
type Summary struct {
	Requests         int64 `json:"requests"`
	Cancelled        int64 `json:"cancelled"`
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// Store defines persistence behaviour for the usage ledger.
type Store interface {
	Record(ctx context.Context, entry Entry) error
	Summary(ctx context.Context, model string) (Summary, error)
	ListRecent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}
