package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	// Timeout bounds each call, including the full duration of a stream.
	Timeout time.Duration
}

// OpenAI talks to any OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	client      *openai.Client
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
}

func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	clientConfig.HTTPClient = &http.Client{}

	return &OpenAI{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     timeout,
	}, nil
}

func (p *OpenAI) ModelName() string {
	return p.model
}

func (p *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.CreateChatCompletion(ctx, p.chatRequest(req, false))
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", classify(err))
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *OpenAI) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)

	stream, err := p.client.CreateChatCompletionStream(ctx, p.chatRequest(req, true))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open chat stream: %w", classify(err))
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		defer cancel()
		defer func() { _ = stream.Close() }()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				send(ctx, out, Chunk{Err: fmt.Errorf("read chat stream: %w", classify(err))})
				return
			}
			if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
				continue
			}
			if !send(ctx, out, Chunk{Content: resp.Choices[0].Delta.Content}) {
				return
			}
		}
	}()
	return out, nil
}

func (p *OpenAI) chatRequest(req Request, stream bool) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{Role: string(msg.Role), Content: msg.Content}
	}
	temperature := p.temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	// go-openai drops a zero temperature from the request body.
	if temperature == 0 {
		temperature = math.SmallestNonzeroFloat32
	}
	maxTokens := p.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	return openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    messages,
		Temperature: float32(temperature),
		MaxTokens:   maxTokens,
		Stream:      stream,
	}
}

func send(ctx context.Context, out chan<- Chunk, chunk Chunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// classify wraps provider API errors with the package sentinels so callers
// can use errors.Is without importing go-openai.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if code, ok := apiErr.Code.(string); ok && code == "context_length_exceeded" {
			return fmt.Errorf("%w: %v", ErrContextLength, err)
		}
		return classifyStatus(apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode, err)
	}
	return err
}

func classifyStatus(status int, err error) error {
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %v", ErrRateLimit, err)
	case status >= 500:
		return fmt.Errorf("%w: %v", ErrProviderDown, err)
	default:
		return err
	}
}
