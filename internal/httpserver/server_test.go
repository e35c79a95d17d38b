package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gingerGarden/bedrock-be-ai/internal/backend"
	"github.com/gingerGarden/bedrock-be-ai/internal/chat"
	"github.com/gingerGarden/bedrock-be-ai/internal/ledger"
)

// scriptedBackend replays a fixed event sequence and remembers the model it
// was asked for.
type scriptedBackend struct {
	events    []backend.ChunkEvent
	streamErr error
	modelsErr error

	mu        sync.Mutex
	lastModel string
}

func (b *scriptedBackend) Name() string { return "scripted" }

func (b *scriptedBackend) Models(ctx context.Context) ([]string, error) {
	if b.modelsErr != nil {
		return nil, b.modelsErr
	}
	return []string{"gemma:2b", "llama3:8b"}, nil
}

func (b *scriptedBackend) Stream(ctx context.Context, model string, msgs []backend.Message) (<-chan backend.ChunkEvent, error) {
	b.mu.Lock()
	b.lastModel = model
	b.mu.Unlock()
	if b.streamErr != nil {
		return nil, b.streamErr
	}
	ch := make(chan backend.ChunkEvent, len(b.events))
	for _, ev := range b.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (b *scriptedBackend) model() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastModel
}

func scriptedEvents(fragments ...string) []backend.ChunkEvent {
	var events []backend.ChunkEvent
	for _, f := range fragments {
		events = append(events, backend.ChunkEvent{Chunk: &chat.Chunk{Content: f}})
	}
	events = append(events, backend.ChunkEvent{Chunk: &chat.Chunk{
		Done: true,
		Metadata: &chat.Metadata{
			Model: chat.ModelInfo{Name: "gemma:2b", Log: "done_reason=stop"},
			Token: chat.TokenUsage{Input: 10, Output: 30, Total: 40},
			Spent: chat.SpentTime{TotalNS: 12345678, GenerateNS: 9876543},
		},
	}})
	return events
}

// stubLedger records entries in memory.
type stubLedger struct {
	mu      sync.Mutex
	entries []ledger.Entry
}

func (l *stubLedger) Record(ctx context.Context, entry ledger.Entry) error {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
	return nil
}

func (l *stubLedger) Summary(ctx context.Context, model string) (ledger.Summary, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var summary ledger.Summary
	for _, e := range l.entries {
		if model != "" && e.Model != model {
			continue
		}
		summary.Requests++
		if e.Cancelled {
			summary.Cancelled++
		}
		summary.PromptTokens += e.PromptTokens
		summary.CompletionTokens += e.CompletionTokens
	}
	return summary, nil
}

func (l *stubLedger) ListRecent(ctx context.Context, limit int) ([]ledger.Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ledger.Entry(nil), l.entries...), nil
}

func (l *stubLedger) Close() error { return nil }

func (l *stubLedger) last(t *testing.T) ledger.Entry {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		t.Fatalf("no ledger entries recorded")
	}
	return l.entries[len(l.entries)-1]
}

// sseFrame is one parsed wire frame: an optional event name plus data lines.
type sseFrame struct {
	event string
	data  []string
}

func parseSSE(body string) []sseFrame {
	var frames []sseFrame
	for _, block := range strings.Split(body, "\n\n") {
		if strings.TrimSpace(block) == "" {
			continue
		}
		var frame sseFrame
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				frame.event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				frame.data = append(frame.data, strings.TrimPrefix(line, "data: "))
			}
		}
		frames = append(frames, frame)
	}
	return frames
}

func postJSON(t *testing.T, handler http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestBaseEndpoints(t *testing.T) {
	s := New(Options{Backend: &scriptedBackend{}, DefaultModel: "gemma:2b"})
	router := s.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/base/ping", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ping status = %d", rec.Code)
	}
	var ping map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &ping); err != nil {
		t.Fatalf("decode ping: %v", err)
	}
	if ping["status"] != "good" || ping["bot_backend"] != "scripted" {
		t.Fatalf("ping = %v", ping)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/base/model_list", nil))
	var models []string
	if err := json.Unmarshal(rec.Body.Bytes(), &models); err != nil {
		t.Fatalf("decode model list: %v", err)
	}
	if len(models) != 2 || models[0] != "gemma:2b" {
		t.Fatalf("models = %v", models)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/base/default_model", nil))
	var def string
	if err := json.Unmarshal(rec.Body.Bytes(), &def); err != nil {
		t.Fatalf("decode default model: %v", err)
	}
	if def != "gemma:2b" {
		t.Fatalf("default model = %q", def)
	}
}

func TestUsageEndpoints(t *testing.T) {
	be := &scriptedBackend{events: scriptedEvents("Hello")}
	led := &stubLedger{}
	s := New(Options{Backend: be, Ledger: led, DefaultModel: "gemma:2b"})
	router := s.Router()

	if rec := postJSON(t, router, "/chat/api", map[string]any{"txt": "hi"}); rec.Code != http.StatusOK {
		t.Fatalf("chat status = %d", rec.Code)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/usage/recent?limit=10", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("recent status = %d", rec.Code)
	}
	var entries []ledger.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode recent: %v", err)
	}
	if len(entries) != 1 || entries[0].Kind != ledger.KindAPI || entries[0].Model != "gemma:2b" {
		t.Fatalf("entries = %+v", entries)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/usage/summary?model=gemma:2b", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("summary status = %d", rec.Code)
	}
	var summary ledger.Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.Requests != 1 || summary.CompletionTokens != 30 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestUsageEndpointsWithoutLedger(t *testing.T) {
	s := New(Options{Backend: &scriptedBackend{}, DefaultModel: "gemma:2b"})
	for _, path := range []string{"/usage/recent", "/usage/summary"} {
		rec := httptest.NewRecorder()
		s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s status = %d, want 404", path, rec.Code)
		}
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := New(Options{Backend: &scriptedBackend{}, DefaultModel: "gemma:2b"})
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
	var body struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if body.Status != "healthy" || body.Version == "" {
		t.Fatalf("health body = %+v", body)
	}
}

func TestHealthEndpointUnreachableBackend(t *testing.T) {
	be := &scriptedBackend{modelsErr: errors.New("connection refused")}
	s := New(Options{Backend: be, DefaultModel: "gemma:2b"})
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("health status = %d, want 503", rec.Code)
	}
}
