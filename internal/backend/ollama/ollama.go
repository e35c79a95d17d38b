// Package ollama implements the chat backend against a local or remote
// Ollama server. Streaming uses the newline-delimited JSON chat API.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gingerGarden/bedrock-be-ai/internal/backend"
	"github.com/gingerGarden/bedrock-be-ai/internal/chat"
)

// Ensure Client implements backend.Backend.
var _ backend.Backend = (*Client)(nil)

// Client talks to an Ollama server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	reqTimeout time.Duration
}

// Config holds connection settings for the Ollama backend.
type Config struct {
	BaseURL        string // defaults to http://localhost:11434
	RequestTimeout time.Duration
}

// New creates a Client. RequestTimeout applies to non-streaming calls only;
// streaming responses are open-ended and bounded by the request context.
func New(cfg Config) *Client {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		reqTimeout: timeout,
	}
}

// Name returns the backend identifier reported by /base/ping.
func (c *Client) Name() string { return "ollama" }

// chatLine is one NDJSON line of the Ollama /api/chat stream.
type chatLine struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done               bool   `json:"done"`
	DoneReason         string `json:"done_reason,omitempty"`
	TotalDuration      int64  `json:"total_duration,omitempty"`
	LoadDuration       int64  `json:"load_duration,omitempty"`
	PromptEvalCount    int    `json:"prompt_eval_count,omitempty"`
	PromptEvalDuration int64  `json:"prompt_eval_duration,omitempty"`
	EvalCount          int    `json:"eval_count,omitempty"`
	EvalDuration       int64  `json:"eval_duration,omitempty"`
}

type chatRequest struct {
	Model    string            `json:"model"`
	Messages []backend.Message `json:"messages"`
	Stream   bool              `json:"stream"`
}

// Stream opens a streaming chat completion and forwards each NDJSON line as
// a ChunkEvent. The reader goroutine selects on ctx when forwarding so an
// abandoned consumer never strands it; the channel closes after the terminal
// chunk or the first error.
func (c *Client) Stream(ctx context.Context, model string, msgs []backend.Message) (<-chan backend.ChunkEvent, error) {
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("ollama: model name required")
	}
	if len(msgs) == 0 {
		return nil, errors.New("ollama: no messages provided")
	}

	body, err := json.Marshal(chatRequest{Model: model, Messages: msgs, Stream: true})
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama: send request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}

	ch := make(chan backend.ChunkEvent, 8)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var raw chatLine
			if err := json.Unmarshal(line, &raw); err != nil {
				c.send(ctx, ch, backend.ChunkEvent{Err: fmt.Errorf("ollama: decode stream line: %w", err)})
				return
			}
			if !c.send(ctx, ch, backend.ChunkEvent{Chunk: raw.toChunk()}) {
				return
			}
			if raw.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			c.send(ctx, ch, backend.ChunkEvent{Err: fmt.Errorf("ollama: read stream: %w", err)})
			return
		}
		// Stream ended without a terminal line; report as abnormal.
		c.send(ctx, ch, backend.ChunkEvent{Err: errors.New("ollama: stream closed before terminal chunk")})
	}()

	return ch, nil
}

// send forwards an event unless the consumer is gone.
func (c *Client) send(ctx context.Context, ch chan<- backend.ChunkEvent, ev backend.ChunkEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (l *chatLine) toChunk() *chat.Chunk {
	chunk := &chat.Chunk{Content: l.Message.Content, Done: l.Done}
	if l.Done {
		chunk.Metadata = &chat.Metadata{
			Model: chat.ModelInfo{Name: l.Model, Log: "done_reason=" + l.DoneReason},
			Token: chat.TokenUsage{
				Input:  l.PromptEvalCount,
				Output: l.EvalCount,
				Total:  l.PromptEvalCount + l.EvalCount,
			},
			Spent: chat.SpentTime{TotalNS: l.TotalDuration, GenerateNS: l.EvalDuration},
		}
	}
	return chunk
}

// Models lists the model names installed on the server.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.reqTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama: send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("ollama: decode tags: %w", err)
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(resp.Body)
	var errResp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &errResp); err == nil && errResp.Error != "" {
		return fmt.Errorf("ollama: %s (http %d)", errResp.Error, resp.StatusCode)
	}
	return fmt.Errorf("ollama: http %d: %s", resp.StatusCode, string(raw))
}
