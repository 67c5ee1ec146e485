// Package llm is the language-model boundary: one Provider interface with a
// blocking completion and a streaming completion.
package llm

import (
	"context"
	"errors"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	Messages []Message `json:"messages"`
	// Temperature overrides the provider default when set.
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
}

// Chunk is one streamed fragment. A non-nil Err ends the stream.
type Chunk struct {
	Content string
	Err     error
}

type Provider interface {
	// Complete returns the full completion text.
	Complete(ctx context.Context, req Request) (string, error)

	// Stream returns a channel of fragments. Connection errors are returned
	// directly; mid-stream errors arrive as Chunk.Err. The channel is closed
	// when the stream ends or ctx is cancelled.
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)

	ModelName() string
}

var (
	ErrEmptyCompletion = errors.New("model returned no choices")
	ErrRateLimit       = errors.New("model provider rate limited")
	ErrContextLength   = errors.New("model context length exceeded")
	ErrProviderDown    = errors.New("model provider unavailable")
)

func Float(v float64) *float64 {
	return &v
}

// Collect drains a stream into a single string, stopping at the first error.
func Collect(ch <-chan Chunk) (string, error) {
	var out []byte
	for chunk := range ch {
		if chunk.Err != nil {
			return string(out), chunk.Err
		}
		out = append(out, chunk.Content...)
	}
	return string(out), nil
}
