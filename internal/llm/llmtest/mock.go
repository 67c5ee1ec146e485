// Package llmtest provides test doubles for llm.Provider.
package llmtest

import (
	"context"
	"sync"

	"github.com/duckmesh/sqlchat/internal/llm"
)

// MockProvider is a configurable llm.Provider. Unset funcs panic on call.
// Every request is recorded so tests can inspect prompts.
type MockProvider struct {
	CompleteFunc func(ctx context.Context, req llm.Request) (string, error)
	StreamFunc   func(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error)
	Model        string

	mu             sync.Mutex
	CompleteCalls  int
	StreamCalls    int
	CompleteInputs []llm.Request
	StreamInputs   []llm.Request
}

func (m *MockProvider) Complete(ctx context.Context, req llm.Request) (string, error) {
	m.mu.Lock()
	m.CompleteCalls++
	m.CompleteInputs = append(m.CompleteInputs, req)
	m.mu.Unlock()
	return m.CompleteFunc(ctx, req)
}

func (m *MockProvider) Stream(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	m.mu.Lock()
	m.StreamCalls++
	m.StreamInputs = append(m.StreamInputs, req)
	m.mu.Unlock()
	return m.StreamFunc(ctx, req)
}

func (m *MockProvider) ModelName() string {
	if m.Model == "" {
		return "mock"
	}
	return m.Model
}

// Completions returns a CompleteFunc that answers with the given texts in
// order and repeats the last one once exhausted.
func Completions(texts ...string) func(context.Context, llm.Request) (string, error) {
	var mu sync.Mutex
	i := 0
	return func(context.Context, llm.Request) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		text := texts[i]
		if i < len(texts)-1 {
			i++
		}
		return text, nil
	}
}

// StreamOf returns a closed, buffered stream of the given fragments.
func StreamOf(fragments ...string) <-chan llm.Chunk {
	ch := make(chan llm.Chunk, len(fragments))
	for _, fragment := range fragments {
		ch <- llm.Chunk{Content: fragment}
	}
	close(ch)
	return ch
}

// FailingStream emits the given fragments and then err.
func FailingStream(err error, fragments ...string) <-chan llm.Chunk {
	ch := make(chan llm.Chunk, len(fragments)+1)
	for _, fragment := range fragments {
		ch <- llm.Chunk{Content: fragment}
	}
	ch <- llm.Chunk{Err: err}
	close(ch)
	return ch
}

var _ llm.Provider = (*MockProvider)(nil)
