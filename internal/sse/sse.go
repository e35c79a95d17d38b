// Package sse formats text fragments and named events into the
// Server-Sent-Events wire syntax. Encoding only; no transport concerns.
package sse

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Data wraps a text fragment into a data frame. Multi-line fragments become
// one "data:" line per content line so the client reassembles them with the
// original newlines intact.
func Data(txt string) string {
	var b strings.Builder
	for _, line := range strings.Split(txt, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.String()
}

// Event wraps a named event with a JSON-serialized payload.
func Event(name string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("sse: marshal %s payload: %w", name, err)
	}
	return fmt.Sprintf("event: %s\ndata: %s\n\n", name, data), nil
}
