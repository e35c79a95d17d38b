package loopback

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/gingerGarden/bedrock-be-ai/internal/backend"
)

func TestLoopbackStream(t *testing.T) {
	lb := New()
	src, err := lb.Stream(context.Background(), "loopback", []backend.Message{
		{Role: "system", Content: "echo"},
		{Role: "user", Content: "Hello world"},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var content strings.Builder
	var sawTerminal bool
	for ev := range src {
		if ev.Err != nil {
			t.Fatalf("unexpected stream error: %v", ev.Err)
		}
		content.WriteString(ev.Chunk.Content)
		if ev.Chunk.Done {
			sawTerminal = true
			meta := ev.Chunk.Metadata
			if meta == nil {
				t.Fatalf("terminal chunk missing metadata")
			}
			if meta.Token.Total != meta.Token.Input+meta.Token.Output {
				t.Fatalf("token total %d != input %d + output %d", meta.Token.Total, meta.Token.Input, meta.Token.Output)
			}
			if meta.Model.Name != "loopback" {
				t.Fatalf("model name = %q", meta.Model.Name)
			}
		} else if ev.Chunk.Metadata != nil {
			t.Fatalf("non-terminal chunk carries metadata")
		}
	}
	if !sawTerminal {
		t.Fatalf("stream ended without terminal chunk")
	}
	if content.String() != "[loopback] Hello world" {
		t.Fatalf("content = %q", content.String())
	}
}

func TestLoopbackStreamNoMessages(t *testing.T) {
	if _, err := New().Stream(context.Background(), "loopback", nil); err == nil {
		t.Fatalf("expected error for missing messages")
	}
}

func TestLoopbackStreamHonorsContext(t *testing.T) {
	lb := &Loopback{Delay: 50 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	src, err := lb.Stream(ctx, "loopback", []backend.Message{{Role: "user", Content: "a b c d e f"}})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	<-src // consume one chunk, then walk away
	cancel()

	// The producer must close the channel promptly instead of leaking.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-src:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("stream not closed after context cancellation")
		}
	}
}

func TestLoopbackModels(t *testing.T) {
	models, err := New().Models(context.Background())
	if err != nil {
		t.Fatalf("Models: %v", err)
	}
	if len(models) != 1 || models[0] != "loopback" {
		t.Fatalf("models = %v", models)
	}
}
