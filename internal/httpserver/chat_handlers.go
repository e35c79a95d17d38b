package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/gingerGarden/bedrock-be-ai/internal/backend"
	"github.com/gingerGarden/bedrock-be-ai/internal/chat"
	"github.com/gingerGarden/bedrock-be-ai/internal/ledger"
	"github.com/gingerGarden/bedrock-be-ai/internal/stream"
)

// handleChatAPI serves the non-streaming projection: the full generation is
// collected and returned as one JSON object. No cancellation support.
func (s *Server) handleChatAPI(w http.ResponseWriter, r *http.Request) {
	reqStart := time.Now()
	req, model, note, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}

	src, err := s.backend.Stream(r.Context(), model, backend.Messages(req))
	if err != nil {
		s.respondError(w, http.StatusBadGateway, err)
		return
	}
	resp, err := s.pipeline.Collect(annotateModelLog(r.Context(), src, note))
	if err != nil {
		s.respondError(w, http.StatusBadGateway, err)
		return
	}

	s.respondJSON(w, http.StatusOK, resp)
	s.recordUsage(ledger.Entry{
		RequestID:        req.RequestID,
		Model:            model,
		Kind:             ledger.KindAPI,
		PromptTokens:     int64(resp.Metadata.Token.Input),
		CompletionTokens: int64(resp.Metadata.Token.Output),
		TotalNS:          resp.Metadata.Spent.TotalNS,
		GenerateNS:       resp.Metadata.Spent.GenerateNS,
	})
	s.logf("chat.api total_ms=%d model=%s tokens=%d", time.Since(reqStart).Milliseconds(), model, resp.Metadata.Token.Total)
}

// handleChatStream serves the content-only SSE projection.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	s.serveStream(w, r, ledger.KindStream)
}

// handleChatStreamWithMeta serves the SSE projection that trails a "done"
// event carrying the execution metadata.
func (s *Server) handleChatStreamWithMeta(w http.ResponseWriter, r *http.Request) {
	s.serveStream(w, r, ledger.KindStreamMeta)
}

func (s *Server) serveStream(w http.ResponseWriter, r *http.Request, kind ledger.Kind) {
	reqStart := time.Now()
	req, model, note, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}
	streamID := uuid.New().String()

	// Announce ownership before the backend call so a cancel issued while
	// the stream is starting up is not lost as an unknown id.
	s.cancels.Begin(req.RequestID)

	src, err := s.backend.Stream(r.Context(), model, backend.Messages(req))
	if err != nil {
		s.cancels.Clear(req.RequestID)
		s.respondError(w, http.StatusBadGateway, err)
		return
	}
	src = annotateModelLog(r.Context(), src, note)

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	var stats stream.Stats
	if kind == ledger.KindStreamMeta {
		stats, err = s.pipeline.StreamWithMetadata(w, src, req.RequestID)
	} else {
		stats, err = s.pipeline.StreamContent(w, src, req.RequestID)
	}
	if err != nil {
		// Headers are already flushed; the broken stream itself is the error
		// signal for the client. Log and fall through to usage recording.
		s.logf("chat.stream aborted stream_id=%s request_id=%s err=%v", streamID, req.RequestID, err)
	}

	entry := ledger.Entry{
		RequestID: req.RequestID,
		StreamID:  streamID,
		Model:     model,
		Kind:      kind,
		Cancelled: stats.Cancelled,
	}
	if t := stats.Terminal; t != nil && t.Metadata != nil {
		entry.PromptTokens = int64(t.Metadata.Token.Input)
		entry.CompletionTokens = int64(t.Metadata.Token.Output)
		entry.TotalNS = t.Metadata.Spent.TotalNS
		entry.GenerateNS = t.Metadata.Spent.GenerateNS
	}
	s.recordUsage(entry)

	s.logf("chat.%s total_ms=%d model=%s frames=%d cancelled=%v stream_id=%s",
		kind, time.Since(reqStart).Milliseconds(), model, stats.Frames, stats.Cancelled, streamID)
}

// cancelRequest is the body of POST /chat/cancel. Only request_id is read;
// the chat prompt fields are ignored if present.
type cancelRequest struct {
	RequestID string `json:"request_id"`
}

// handleChatCancel flags a request identifier for cooperative cancellation.
// Always acknowledges: cancelling an unknown or already-finished id is a
// harmless no-op, which keeps the client protocol race-free by construction.
func (s *Server) handleChatCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.RequestID != "" {
		s.cancels.Request(req.RequestID)
		s.debugf("chat.cancel request_id=%s", req.RequestID)
	}
	s.respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// decodeChatRequest parses and validates the request body and resolves the
// model name. Rejections happen here, before any streaming starts.
func (s *Server) decodeChatRequest(w http.ResponseWriter, r *http.Request) (*chat.Request, string, string, bool) {
	var req chat.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return nil, "", "", false
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return nil, "", "", false
	}
	model, note, err := s.resolveModel(req.ModelName)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return nil, "", "", false
	}
	return &req, model, note, true
}

// annotateModelLog prefixes the model-resolution note onto the terminal
// chunk's metadata log as events pass through, so the note reaches the done
// event and the collected response. Forwarding selects on ctx so an
// abandoned consumer never strands the goroutine.
func annotateModelLog(ctx context.Context, src <-chan backend.ChunkEvent, note string) <-chan backend.ChunkEvent {
	if note == "" {
		return src
	}
	out := make(chan backend.ChunkEvent, 1)
	go func() {
		defer close(out)
		for ev := range src {
			if ev.Chunk != nil && ev.Chunk.Done && ev.Chunk.Metadata != nil {
				chunk := *ev.Chunk
				meta := *chunk.Metadata
				if meta.Model.Log == "" {
					meta.Model.Log = note
				} else {
					meta.Model.Log = note + " " + meta.Model.Log
				}
				chunk.Metadata = &meta
				ev.Chunk = &chunk
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (s *Server) recordUsage(entry ledger.Entry) {
	if s.ledger == nil {
		return
	}
	// The request context may already be cancelled when a stream ends, so
	// usage writes run against the background context.
	if err := s.ledger.Record(context.Background(), entry); err != nil && !errors.Is(err, context.Canceled) {
		s.logf("ledger record failed: %v", err)
	}
}
