package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *OpenAI {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p, err := NewOpenAI(OpenAIConfig{
		BaseURL:   srv.URL + "/v1",
		APIKey:    "test-key",
		Model:     "test-model",
		MaxTokens: 512,
		Timeout:   5 * time.Second,
	})
	require.NoError(t, err)
	return p
}

func TestNewOpenAIRequiresAPIKey(t *testing.T) {
	_, err := NewOpenAI(OpenAIConfig{BaseURL: "http://localhost"})
	require.Error(t, err)
}

func TestOpenAIComplete(t *testing.T) {
	var got map[string]any
	p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"`+"```sql\\nSELECT 1\\n```"+`"},"finish_reason":"stop"}]}`)
	})

	text, err := p.Complete(context.Background(), Request{
		Messages: []Message{{Role: RoleSystem, Content: "sys"}, {Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "```sql\nSELECT 1\n```", text)
	assert.Equal(t, "test-model", got["model"])
	assert.EqualValues(t, 512, got["max_tokens"])
	messages, ok := got["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, messages, 2)
}

func TestOpenAICompleteSendsZeroTemperature(t *testing.T) {
	var got map[string]any
	p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`)
	})

	_, err := p.Complete(context.Background(), Request{
		Messages:    []Message{{Role: RoleUser, Content: "x"}},
		Temperature: Float(0),
	})
	require.NoError(t, err)
	temperature, ok := got["temperature"].(float64)
	require.True(t, ok, "request body has no temperature: %v", got)
	assert.Less(t, temperature, 1e-6)
}

func TestOpenAICompleteNoChoices(t *testing.T) {
	p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"id":"c1","object":"chat.completion","choices":[]}`)
	})
	_, err := p.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	require.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestOpenAICompleteClassifiesRateLimit(t *testing.T) {
	p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = fmt.Fprint(w, `{"error":{"message":"slow down","type":"rate_limit","code":"rate_limit_exceeded"}}`)
	})
	_, err := p.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	require.ErrorIs(t, err, ErrRateLimit)
}

func TestOpenAICompleteClassifiesContextLength(t *testing.T) {
	p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = fmt.Fprint(w, `{"error":{"message":"too long","type":"invalid_request_error","code":"context_length_exceeded"}}`)
	})
	_, err := p.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	require.ErrorIs(t, err, ErrContextLength)
}

func TestOpenAIStream(t *testing.T) {
	p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Hel", "lo", "!"} {
			_, _ = fmt.Fprintf(w, "data: {\"id\":\"s1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	})

	ch, err := p.Stream(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	require.NoError(t, err)

	text, err := Collect(ch)
	require.NoError(t, err)
	assert.Equal(t, "Hello!", text)
}

func TestOpenAIStreamOpenError(t *testing.T) {
	p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprint(w, `{"error":{"message":"down","type":"server_error"}}`)
	})
	_, err := p.Stream(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProviderDown))
}

func TestCollect(t *testing.T) {
	ch := make(chan Chunk, 3)
	ch <- Chunk{Content: "a"}
	ch <- Chunk{Content: "b"}
	ch <- Chunk{Err: errors.New("cut")}
	close(ch)

	text, err := Collect(ch)
	require.EqualError(t, err, "cut")
	assert.Equal(t, "ab", text)
}
