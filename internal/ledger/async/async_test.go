package async

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gingerGarden/bedrock-be-ai/internal/ledger"
)

type memStore struct {
	mu      sync.Mutex
	entries []ledger.Entry
	closed  bool
}

func (m *memStore) Record(ctx context.Context, entry ledger.Entry) error {
	m.mu.Lock()
	m.entries = append(m.entries, entry)
	m.mu.Unlock()
	return nil
}

func (m *memStore) Summary(ctx context.Context, model string) (ledger.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := ledger.Summary{Requests: int64(len(m.entries))}
	return s, nil
}

func (m *memStore) ListRecent(ctx context.Context, limit int) ([]ledger.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ledger.Entry(nil), m.entries...), nil
}

func (m *memStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func TestCloseFlushesQueuedEntries(t *testing.T) {
	mem := &memStore{}
	s := New(mem, Config{BatchSize: 100, FlushInterval: time.Hour})

	ctx := context.Background()
	for i := 0; i < 7; i++ {
		if err := s.Record(ctx, ledger.Entry{Model: "gemma:2b", Kind: ledger.KindStream}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := mem.count(); got != 7 {
		t.Fatalf("flushed %d entries, want 7", got)
	}
	if !mem.closed {
		t.Error("underlying store not closed")
	}
}

func TestBatchSizeTriggersFlush(t *testing.T) {
	mem := &memStore{}
	s := New(mem, Config{BatchSize: 3, FlushInterval: time.Hour})
	defer s.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_ = s.Record(ctx, ledger.Entry{Model: "gemma:2b", Kind: ledger.KindAPI})
	}

	deadline := time.Now().Add(2 * time.Second)
	for mem.count() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("batch not flushed, have %d entries", mem.count())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRecordNeverBlocksWhenQueueFull(t *testing.T) {
	mem := &memStore{}
	s := New(mem, Config{BatchSize: 1000, FlushInterval: time.Hour, ChannelBuffer: 1})
	defer s.Close()

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			_ = s.Record(ctx, ledger.Entry{Model: "gemma:2b", Kind: ledger.KindStream})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked on a full queue")
	}
}

func TestReadsDelegate(t *testing.T) {
	mem := &memStore{entries: []ledger.Entry{{Model: "gemma:2b"}}}
	s := New(mem, Config{})
	defer s.Close()

	sum, err := s.Summary(context.Background(), "")
	if err != nil || sum.Requests != 1 {
		t.Fatalf("summary = %+v, err %v", sum, err)
	}
	list, err := s.ListRecent(context.Background(), 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("list = %v, err %v", list, err)
	}
}
