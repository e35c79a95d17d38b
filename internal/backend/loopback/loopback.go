// Package loopback provides a deterministic in-process backend used in tests
// and when no real model server is configured.
package loopback

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gingerGarden/bedrock-be-ai/internal/backend"
	"github.com/gingerGarden/bedrock-be-ai/internal/chat"
)

// Ensure Loopback implements backend.Backend.
var _ backend.Backend = (*Loopback)(nil)

// Loopback echoes the last user message back one word at a time, then emits
// a terminal chunk with fabricated but internally consistent metadata.
type Loopback struct {
	// Delay pauses between chunks; useful for exercising mid-stream
	// cancellation in tests. Zero means no pause.
	Delay time.Duration
}

// New creates a Loopback instance.
func New() *Loopback {
	return &Loopback{}
}

func (l *Loopback) Name() string { return "loopback" }

func (l *Loopback) Models(ctx context.Context) ([]string, error) {
	return []string{"loopback"}, nil
}

// Stream yields one chunk per word of the echoed reply, then the terminal
// chunk. The producer honors ctx so abandoned streams do not leak it.
func (l *Loopback) Stream(ctx context.Context, model string, msgs []backend.Message) (<-chan backend.ChunkEvent, error) {
	if len(msgs) == 0 {
		return nil, errors.New("loopback: no messages provided")
	}

	// Echo the last user message; fall back to the final message.
	message := msgs[len(msgs)-1]
	for i := len(msgs) - 1; i >= 0; i-- {
		if strings.ToLower(msgs[i].Role) == "user" {
			message = msgs[i]
			break
		}
	}
	reply := "[loopback] " + strings.TrimSpace(message.Content)
	words := strings.SplitAfter(reply, " ")

	ch := make(chan backend.ChunkEvent)
	go func() {
		defer close(ch)
		start := time.Now()
		sent := 0
		for _, word := range words {
			if l.Delay > 0 {
				select {
				case <-time.After(l.Delay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- backend.ChunkEvent{Chunk: &chat.Chunk{Content: word}}:
				sent++
			case <-ctx.Done():
				return
			}
		}
		elapsed := time.Since(start).Nanoseconds()
		terminal := &chat.Chunk{
			Done: true,
			Metadata: &chat.Metadata{
				Model: chat.ModelInfo{Name: model, Log: "done_reason=stop"},
				Token: chat.TokenUsage{
					Input:  len(msgs) * 10,
					Output: sent,
					Total:  len(msgs)*10 + sent,
				},
				Spent: chat.SpentTime{TotalNS: elapsed, GenerateNS: elapsed},
			},
		}
		select {
		case ch <- backend.ChunkEvent{Chunk: terminal}:
		case <-ctx.Done():
		}
	}()

	return ch, nil
}
