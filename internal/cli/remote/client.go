// Package remote talks to a running sqlchat-api over HTTP.
package remote

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"
)

type Options struct {
	BaseURL  string
	APIKey   string
	TenantID string
	// Timeout bounds non-streaming calls. Streams are bounded by ctx only.
	Timeout    time.Duration
	HTTPClient *http.Client
}

type Client struct {
	baseURL  string
	apiKey   string
	tenantID string
	timeout  time.Duration
	http     *http.Client
}

// HTTPError is a non-2xx answer from the server.
type HTTPError struct {
	Status int
	Code   string
	Body   string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d: %s", e.Status, e.Code)
	}
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

func New(opts Options) *Client {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Client{
		baseURL:  strings.TrimRight(firstNonEmpty(opts.BaseURL, "http://localhost:8080"), "/"),
		apiKey:   strings.TrimSpace(opts.APIKey),
		tenantID: strings.TrimSpace(opts.TenantID),
		timeout:  durationOr(opts.Timeout, 10*time.Second),
		http:     client,
	}
}

// Get fetches path and returns the body, indented when it is JSON.
func (c *Client) Get(ctx context.Context, path string) (string, error) {
	body, err := c.call(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", err
	}
	if pretty, ok := prettyJSON(body); ok {
		return pretty, nil
	}
	return string(body), nil
}

func (c *Client) call(ctx context.Context, method, path string, payload any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.do(ctx, method, path, payload)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, newHTTPError(resp.StatusCode, body)
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	var reader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if c.tenantID != "" {
		req.Header.Set("X-Tenant-ID", c.tenantID)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

// Session is a chat session held by the server.
type Session struct {
	client *Client
	id     string

	lastQuery string
	outcome   string
	err       error
}

func (c *Client) OpenSession(ctx context.Context) (*Session, error) {
	body, err := c.call(ctx, http.MethodPost, "/v1/sessions", nil)
	if err != nil {
		return nil, err
	}
	var created struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if created.SessionID == "" {
		return nil, fmt.Errorf("server returned no session id")
	}
	return &Session{client: c, id: created.SessionID}, nil
}

func (s *Session) ID() string {
	return s.id
}

// Ask posts prompt and yields the streamed answer fragments. Transport or
// server failures end the sequence early and are reported by Err.
func (s *Session) Ask(ctx context.Context, prompt string) iter.Seq[string] {
	return func(yield func(string) bool) {
		s.err = nil
		resp, err := s.client.do(ctx, http.MethodPost, "/v1/sessions/"+s.id+"/messages", map[string]string{"prompt": prompt})
		if err != nil {
			s.err = err
			return
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			s.err = newHTTPError(resp.StatusCode, body)
			return
		}

		for event, data := range readEvents(resp.Body, &s.err) {
			switch event {
			case "delta":
				var delta struct {
					Text string `json:"text"`
				}
				if err := json.Unmarshal([]byte(data), &delta); err != nil {
					s.err = fmt.Errorf("decode delta: %w", err)
					return
				}
				if !yield(delta.Text) {
					return
				}
			case "done":
				var done struct {
					LastQuery string `json:"last_query"`
					Outcome   string `json:"outcome"`
				}
				if err := json.Unmarshal([]byte(data), &done); err != nil {
					s.err = fmt.Errorf("decode done: %w", err)
					return
				}
				s.lastQuery, s.outcome = done.LastQuery, done.Outcome
			}
		}
	}
}

func (s *Session) Err() error {
	return s.err
}

// LastQuery is the statement the server ran for the previous answer.
func (s *Session) LastQuery() string {
	return s.lastQuery
}

func (s *Session) Outcome() string {
	return s.outcome
}

// Reset replaces the server session with a fresh one, dropping its memory.
func (s *Session) Reset() {
	ctx := context.Background()
	_ = s.Close(ctx)
	next, err := s.client.OpenSession(ctx)
	if err != nil {
		s.err = err
		return
	}
	s.id, s.lastQuery, s.outcome = next.id, "", ""
}

func (s *Session) Close(ctx context.Context) error {
	_, err := s.client.call(ctx, http.MethodDelete, "/v1/sessions/"+s.id, nil)
	return err
}

// readEvents splits a text/event-stream body into (event, data) pairs.
func readEvents(body io.Reader, errOut *error) iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		event, data := "", ""
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "":
				if event != "" || data != "" {
					if !yield(firstNonEmpty(event, "message"), data) {
						return
					}
				}
				event, data = "", ""
			case strings.HasPrefix(line, "event:"):
				event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				chunk := strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " ")
				if data != "" {
					data += "\n"
				}
				data += chunk
			}
		}
		if err := scanner.Err(); err != nil {
			*errOut = fmt.Errorf("read event stream: %w", err)
		}
	}
}

func newHTTPError(status int, body []byte) *HTTPError {
	httpErr := &HTTPError{Status: status, Body: strings.TrimSpace(string(body))}
	var envelope struct {
		ErrorCode string `json:"error_code"`
	}
	if json.Unmarshal(body, &envelope) == nil {
		httpErr.Code = envelope.ErrorCode
	}
	return httpErr
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
