package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/duckmesh/sqlchat/internal/llm"
)

func TestPostMessageStreamsServerSentEvents(t *testing.T) {
	fixture := newFixture(t, streamAnswer("There are ", "2 users."))
	h := NewHandler(loadConfig(t, nil), Dependencies{Sessions: fixture.registry})
	sessionID := createSession(t, h, "acme")

	rr := postMessage(h, sessionID, "acme", `{"prompt":"how many users?"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("Content-Type = %q", got)
	}

	body := rr.Body.String()
	want := "event: delta\ndata: {\"text\":\"There are \"}\n\n" +
		"event: delta\ndata: {\"text\":\"2 users.\"}\n\n" +
		"event: done\ndata: {\"last_query\":\"SELECT * FROM users;\",\"outcome\":\"success\",\"tier\":\"full\"}\n\n"
	if body != want {
		t.Fatalf("body = %q\nwant  %q", body, want)
	}
	if len(fixture.executor.statements) != 1 {
		t.Fatalf("statements = %v", fixture.executor.statements)
	}

	session, err := fixture.registry.Get(sessionID, "acme")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	state := session.State()
	if len(state.Memory) != 1 || state.Memory[0].Response != "There are 2 users." {
		t.Fatalf("memory = %#v", state.Memory)
	}
}

func TestPostMessageRejectsBadBodies(t *testing.T) {
	fixture := newFixture(t, streamAnswer("ok"))
	h := NewHandler(loadConfig(t, nil), Dependencies{Sessions: fixture.registry})
	sessionID := createSession(t, h, "acme")

	cases := map[string]string{
		"not json":      `{"prompt":`,
		"unknown field": `{"prompt":"hi","model":"x"}`,
		"blank prompt":  `{"prompt":"   "}`,
	}
	for name, payload := range cases {
		rr := postMessage(h, sessionID, "acme", payload)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", name, rr.Code)
		}
	}
	if fixture.provider.CompleteCalls != 0 {
		t.Fatalf("CompleteCalls = %d", fixture.provider.CompleteCalls)
	}
}

func TestPostMessageUnknownSession(t *testing.T) {
	fixture := newFixture(t, streamAnswer("ok"))
	h := NewHandler(loadConfig(t, nil), Dependencies{Sessions: fixture.registry})

	rr := postMessage(h, "missing", "acme", `{"prompt":"hi"}`)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestPostMessageWhileTurnInFlight(t *testing.T) {
	fixture := newFixture(t, streamAnswer("ok"))
	h := NewHandler(loadConfig(t, nil), Dependencies{Sessions: fixture.registry})
	sessionID := createSession(t, h, "acme")

	_, release, err := fixture.registry.Acquire(sessionID, "acme")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	rr := postMessage(h, sessionID, "acme", `{"prompt":"hi"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["error_code"] != "SESSION_BUSY" || body["retryable"] != true {
		t.Fatalf("body = %#v", body)
	}

	release()
	rr = postMessage(h, sessionID, "acme", `{"prompt":"hi"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status after release = %d", rr.Code)
	}
}

func TestPostMessageRateLimited(t *testing.T) {
	fixture := newFixture(t, streamAnswer("ok"))
	h := NewHandler(loadConfig(t, nil), Dependencies{
		Sessions:    fixture.registry,
		ChatLimiter: rate.NewLimiter(rate.Every(time.Hour), 1),
	})
	sessionID := createSession(t, h, "acme")

	if rr := postMessage(h, sessionID, "acme", `{"prompt":"first"}`); rr.Code != http.StatusOK {
		t.Fatalf("first status = %d", rr.Code)
	}
	rr := postMessage(h, sessionID, "acme", `{"prompt":"second"}`)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d", rr.Code)
	}
}

func TestPostMessageDegradedAnswerStillCompletes(t *testing.T) {
	fixture := newFixture(t, func(context.Context, llm.Request) (<-chan llm.Chunk, error) {
		return nil, llm.ErrContextLength
	})
	h := NewHandler(loadConfig(t, nil), Dependencies{Sessions: fixture.registry})
	sessionID := createSession(t, h, "acme")

	rr := postMessage(h, sessionID, "acme", `{"prompt":"summarise everything"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `"tier":"degraded"`) {
		t.Fatalf("body = %s", body)
	}
	if strings.Count(body, "event: delta") < 10 {
		t.Fatalf("expected degraded message streamed rune by rune, body = %s", body)
	}
}

func TestPostMessageClientGoneSkipsDoneEvent(t *testing.T) {
	fixture := newFixture(t, streamAnswer("ok"))
	h := NewHandler(loadConfig(t, nil), Dependencies{Sessions: fixture.registry})
	sessionID := createSession(t, h, "acme")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/"+sessionID+"/messages", strings.NewReader(`{"prompt":"hi"}`)).WithContext(ctx)
	req.Header.Set("X-Tenant-ID", "acme")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if strings.Contains(rr.Body.String(), "event: done") {
		t.Fatalf("body = %s", rr.Body.String())
	}
	if _, release, err := fixture.registry.Acquire(sessionID, "acme"); err != nil {
		t.Fatalf("session still busy: %v", err)
	} else {
		release()
	}
}

type brokenPipeWriter struct {
	*httptest.ResponseRecorder
	writes int
}

func (w *brokenPipeWriter) Write(body []byte) (int, error) {
	w.writes++
	return 0, errors.New("broken pipe")
}

func TestPostMessageStopsAfterFailedWrite(t *testing.T) {
	fixture := newFixture(t, streamAnswer("There are ", "2 users."))
	h := NewHandler(loadConfig(t, nil), Dependencies{Sessions: fixture.registry})
	sessionID := createSession(t, h, "acme")

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/"+sessionID+"/messages", strings.NewReader(`{"prompt":"how many users?"}`))
	req.Header.Set("X-Tenant-ID", "acme")
	w := &brokenPipeWriter{ResponseRecorder: httptest.NewRecorder()}
	h.ServeHTTP(w, req)

	if w.writes != 1 {
		t.Fatalf("writes = %d, want only the first delta attempt", w.writes)
	}
	if _, release, err := fixture.registry.Acquire(sessionID, "acme"); err != nil {
		t.Fatalf("session still busy: %v", err)
	} else {
		release()
	}
}

func postMessage(h http.Handler, sessionID, tenant, payload string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/"+sessionID+"/messages", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", tenant)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}
