package async

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gingerGarden/bedrock-be-ai/internal/ledger"
)

// Store wraps a ledger.Store with asynchronous batch writes so a slow
// database never stalls a streaming response. Entries are queued in memory;
// they may be lost if the process crashes before a flush.
type Store struct {
	underlying    ledger.Store
	entryChan     chan ledger.Entry
	batchSize     int
	flushInterval time.Duration
	wg            sync.WaitGroup
	stopChan      chan struct{}
	logger        *log.Logger
}

// Config configures the async ledger behavior.
type Config struct {
	BatchSize     int           // maximum entries per batch (default 100)
	FlushInterval time.Duration // maximum time between flushes (default 1s)
	ChannelBuffer int           // queue size (default 10000)
	Logger        *log.Logger   // optional diagnostics
}

// New wraps an existing ledger store with async batch writing.
func New(underlying ledger.Store, cfg Config) *Store {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.ChannelBuffer <= 0 {
		cfg.ChannelBuffer = 10000
	}

	s := &Store{
		underlying:    underlying,
		entryChan:     make(chan ledger.Entry, cfg.ChannelBuffer),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		stopChan:      make(chan struct{}),
		logger:        cfg.Logger,
	}

	s.wg.Add(1)
	go s.batchWriter()
	return s
}

func (s *Store) batchWriter() {
	defer s.wg.Done()

	batch := make([]ledger.Entry, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx := context.Background()
		for _, entry := range batch {
			if err := s.underlying.Record(ctx, entry); err != nil && s.logger != nil {
				s.logger.Printf("async-ledger: write entry: %v", err)
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-s.entryChan:
			batch = append(batch, entry)
			if len(batch) >= s.batchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-s.stopChan:
			// Drain whatever is still queued before shutting down.
			for {
				select {
				case entry := <-s.entryChan:
					batch = append(batch, entry)
					if len(batch) >= s.batchSize {
						flush()
					}
					continue
				default:
				}
				break
			}
			flush()
			return
		}
	}
}

// Record queues an entry for asynchronous writing. Never blocks; when the
// queue is full the entry is dropped with a warning.
func (s *Store) Record(ctx context.Context, entry ledger.Entry) error {
	select {
	case s.entryChan <- entry:
	default:
		if s.logger != nil {
			s.logger.Printf("async-ledger: queue full, dropping entry")
		}
	}
	return nil
}

// Summary delegates to the underlying store.
func (s *Store) Summary(ctx context.Context, model string) (ledger.Summary, error) {
	return s.underlying.Summary(ctx, model)
}

// ListRecent delegates to the underlying store.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]ledger.Entry, error) {
	return s.underlying.ListRecent(ctx, limit)
}

// Close flushes remaining entries and closes the underlying store.
func (s *Store) Close() error {
	close(s.stopChan)
	s.wg.Wait()
	return s.underlying.Close()
}
