// Package backend defines the chunk-source contract consumed by the stream
// pipeline, plus prompt normalization shared by all backend implementations.
package backend

import (
	"context"
	"sort"

	"github.com/gingerGarden/bedrock-be-ai/internal/chat"
)

// Message is one role/content pair sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChunkEvent is a single item on a backend stream: either a chunk or a
// terminal error. After an event with Err != nil, or after an event whose
// chunk has Done set, the channel is closed.
type ChunkEvent struct {
	Chunk *chat.Chunk
	Err   error
}

// Backend produces generation chunks for a prompt. Stream returns a channel
// that is closed when the generation ends; the producer goroutine must honor
// ctx so an abandoned consumer never strands it.
type Backend interface {
	Name() string
	Models(ctx context.Context) ([]string, error)
	Stream(ctx context.Context, model string, msgs []Message) (<-chan ChunkEvent, error)
}

// Messages normalizes the two request prompt forms into a message sequence.
// A plain txt becomes a single user message. A txt_dict maps roles to
// contents; since JSON objects carry no order, the sequence is made
// deterministic: system first, then user, then the rest sorted by role.
func Messages(req *chat.Request) []Message {
	if req.Txt != nil {
		return []Message{{Role: "user", Content: *req.Txt}}
	}
	msgs := make([]Message, 0, len(req.TxtDict))
	if c, ok := req.TxtDict["system"]; ok {
		msgs = append(msgs, Message{Role: "system", Content: c})
	}
	if c, ok := req.TxtDict["user"]; ok {
		msgs = append(msgs, Message{Role: "user", Content: c})
	}
	rest := make([]string, 0, len(req.TxtDict))
	for role := range req.TxtDict {
		if role == "system" || role == "user" {
			continue
		}
		rest = append(rest, role)
	}
	sort.Strings(rest)
	for _, role := range rest {
		msgs = append(msgs, Message{Role: role, Content: req.TxtDict[role]})
	}
	return msgs
}
