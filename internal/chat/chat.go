package chat

import "errors"

// ErrBadPrompt is returned when a request does not carry exactly one prompt form.
var ErrBadPrompt = errors.New("chat: exactly one of txt or txt_dict must be provided")

// Request is the closed request structure accepted by every chat endpoint.
// Exactly one of Txt or TxtDict must be set; ModelName and RequestID are optional.
// A request without RequestID streams normally but cannot be cancelled.
type Request struct {
	Txt       *string           `json:"txt,omitempty"`
	TxtDict   map[string]string `json:"txt_dict,omitempty"`
	ModelName string            `json:"model_name,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

// Validate enforces the exactly-one-of constraint on the prompt fields.
func (r *Request) Validate() error {
	hasTxt := r.Txt != nil && *r.Txt != ""
	hasDict := len(r.TxtDict) > 0
	if hasTxt == hasDict {
		return ErrBadPrompt
	}
	return nil
}

// ModelInfo identifies the model that served a request plus a short note on
// how the name was resolved (default fallback, alias rewrite, explicit).
type ModelInfo struct {
	Name string `json:"name"`
	Log  string `json:"log"`
}

// TokenUsage counts prompt and completion tokens. Total is Input+Output.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Total  int `json:"total"`
}

// SpentTime reports wall-clock durations in nanoseconds.
type SpentTime struct {
	TotalNS    int64 `json:"total_ns"`
	GenerateNS int64 `json:"generate_ns"`
}

// Metadata is the execution summary attached to the terminal chunk.
type Metadata struct {
	Model ModelInfo  `json:"model"`
	Token TokenUsage `json:"token"`
	Spent SpentTime  `json:"spent"`
}

// Chunk is one incremental unit of generated output. Metadata is non-nil
// if and only if Done is true.
type Chunk struct {
	Content  string    `json:"content"`
	Done     bool      `json:"done"`
	Metadata *Metadata `json:"metadata,omitempty"`
}

// Response is the single-object result of the non-streaming endpoint.
type Response struct {
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata"`
	Done     bool     `json:"done"`
}
