package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const maxPromptBytes = 16 << 10

type messageRequest struct {
	Prompt string `json:"prompt"`
}

type deltaEvent struct {
	Text string `json:"text"`
}

type doneEvent struct {
	LastQuery string `json:"last_query"`
	Outcome   string `json:"outcome"`
	Tier      string `json:"tier,omitempty"`
}

func handlePostMessage(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !authorize(deps, w, r) {
		return
	}

	var req messageRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPromptBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid message request body", false, map[string]any{"details": err.Error()})
		return
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "PROMPT_REQUIRED", "prompt is required", false, nil)
		return
	}

	if deps.ChatLimiter != nil && !deps.ChatLimiter.Allow() {
		writeError(r.Context(), w, http.StatusTooManyRequests, "RATE_LIMITED", "too many chat messages, retry shortly", true, nil)
		return
	}

	session, release, err := deps.Sessions.Acquire(r.PathValue("id"), ownerFromRequest(r))
	if err != nil {
		writeSessionError(deps, w, r, err)
		return
	}
	defer release()

	rc := http.NewResponseController(w)
	// Answers can outlive the server write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	writeFailed := false
	for fragment := range session.Ask(r.Context(), prompt) {
		if err := writeEvent(w, "delta", deltaEvent{Text: fragment}); err != nil {
			deps.Logger.WarnContext(r.Context(), "stream write failed", "session_id", session.ID(), "error", err)
			writeFailed = true
			break
		}
		if err := rc.Flush(); err != nil {
			writeFailed = true
			break
		}
	}
	if writeFailed || r.Context().Err() != nil {
		return
	}

	state := session.State()
	done := doneEvent{LastQuery: state.LastQuery}
	if state.LastTurn != nil {
		done.Outcome = state.LastTurn.Outcome
		done.Tier = state.LastTurn.Tier
	}
	if err := writeEvent(w, "done", done); err == nil {
		_ = rc.Flush()
	}
}

func writeEvent(w http.ResponseWriter, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
