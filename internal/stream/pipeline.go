// Package stream converts a backend chunk sequence into SSE frames under a
// cooperative cancellation watch. The pipeline owns the lifecycle of its
// request's registry entry: whichever way a stream ends (terminal chunk,
// cancellation, source failure, or downstream disconnect) the entry is
// cleared exactly once.
package stream

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/gingerGarden/bedrock-be-ai/internal/backend"
	"github.com/gingerGarden/bedrock-be-ai/internal/cancel"
	"github.com/gingerGarden/bedrock-be-ai/internal/chat"
	"github.com/gingerGarden/bedrock-be-ai/internal/sse"
)

// ErrNoTerminalChunk is returned by Collect when the source ends without a
// chunk flagged done.
var ErrNoTerminalChunk = errors.New("stream: source ended without terminal chunk")

// Stats summarizes how a stream ended. Terminal is nil unless the terminal
// chunk was actually received before the stream stopped.
type Stats struct {
	Frames    int
	Cancelled bool
	Terminal  *chat.Chunk
}

// Pipeline drains chunk sources into SSE output.
type Pipeline struct {
	cancels *cancel.Registry
	logger  *log.Logger
}

// New creates a Pipeline bound to the shared cancellation registry.
func New(cancels *cancel.Registry, logger *log.Logger) *Pipeline {
	return &Pipeline{cancels: cancels, logger: logger}
}

// doneEvent is the payload of the trailing SSE event in the metadata
// projection. Content is deliberately absent.
type doneEvent struct {
	Done     bool           `json:"done"`
	Metadata *chat.Metadata `json:"metadata"`
}

// StreamContent emits every chunk's content as a plain data frame and nothing
// else. The registry is checked before each chunk is forwarded; when the
// request has been flagged the current chunk is dropped and the stream stops.
// A requestID of "" disables the cancellation watch entirely.
//
// The terminal chunk produces a frame only when it carries content, so a
// typical empty-content terminal adds nothing to the wire.
func (p *Pipeline) StreamContent(w io.Writer, src <-chan backend.ChunkEvent, requestID string) (Stats, error) {
	defer p.release(requestID)

	var stats Stats
	flusher, _ := w.(http.Flusher)
	for ev := range src {
		if ev.Err != nil {
			return stats, ev.Err
		}
		if requestID != "" && p.cancels.IsRequested(requestID) {
			stats.Cancelled = true
			p.debugf("stream cancelled request_id=%s frames=%d", requestID, stats.Frames)
			return stats, nil
		}
		chunk := ev.Chunk
		if chunk.Done {
			stats.Terminal = chunk
		}
		if !chunk.Done || chunk.Content != "" {
			if _, err := io.WriteString(w, sse.Data(chunk.Content)); err != nil {
				return stats, err
			}
			stats.Frames++
			if flusher != nil {
				flusher.Flush()
			}
		}
		if chunk.Done {
			break
		}
	}
	return stats, nil
}

// StreamWithMetadata behaves like StreamContent for non-terminal chunks, but
// the terminal chunk is emitted as a named "done" event carrying the
// execution metadata instead of a data frame.
//
// The done event is built from the terminal chunk at the moment it arrives;
// if cancellation or a source failure stops the loop first, no terminal
// event is fabricated.
func (p *Pipeline) StreamWithMetadata(w io.Writer, src <-chan backend.ChunkEvent, requestID string) (Stats, error) {
	defer p.release(requestID)

	var stats Stats
	flusher, _ := w.(http.Flusher)
	for ev := range src {
		if ev.Err != nil {
			return stats, ev.Err
		}
		if requestID != "" && p.cancels.IsRequested(requestID) {
			stats.Cancelled = true
			p.debugf("stream cancelled request_id=%s frames=%d", requestID, stats.Frames)
			return stats, nil
		}
		chunk := ev.Chunk
		if chunk.Done {
			stats.Terminal = chunk
			frame, err := sse.Event("done", doneEvent{Done: true, Metadata: chunk.Metadata})
			if err != nil {
				return stats, err
			}
			if _, err := io.WriteString(w, frame); err != nil {
				return stats, err
			}
			stats.Frames++
			if flusher != nil {
				flusher.Flush()
			}
			break
		}
		if _, err := io.WriteString(w, sse.Data(chunk.Content)); err != nil {
			return stats, err
		}
		stats.Frames++
		if flusher != nil {
			flusher.Flush()
		}
	}
	return stats, nil
}

// Collect drains the source fully with no cancellation support, accumulating
// content into the single terminal response structure.
func (p *Pipeline) Collect(src <-chan backend.ChunkEvent) (chat.Response, error) {
	var b strings.Builder
	for ev := range src {
		if ev.Err != nil {
			return chat.Response{}, ev.Err
		}
		b.WriteString(ev.Chunk.Content)
		if ev.Chunk.Done {
			resp := chat.Response{Content: b.String(), Done: true}
			if ev.Chunk.Metadata != nil {
				resp.Metadata = *ev.Chunk.Metadata
			}
			return resp, nil
		}
	}
	return chat.Response{}, ErrNoTerminalChunk
}

func (p *Pipeline) release(requestID string) {
	if requestID != "" {
		p.cancels.Clear(requestID)
	}
}

func (p *Pipeline) debugf(format string, args ...any) {
	if p.logger != nil {
		p.logger.Printf(format, args...)
	}
}
