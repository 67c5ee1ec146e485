// Package transcript is the durable record of finalized chat turns.
package transcript

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("transcript not found")

type Turn struct {
	TurnID     int64     `json:"turn_id"`
	SessionID  string    `json:"session_id"`
	Subject    string    `json:"subject"`
	Question   string    `json:"question"`
	SQL        string    `json:"sql"`
	Response   string    `json:"response"`
	Outcome    string    `json:"outcome"`
	Attempts   int       `json:"attempts"`
	Tier       string    `json:"tier"`
	Model      string    `json:"model"`
	Abandoned  bool      `json:"abandoned"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
}

type Recorder interface {
	Record(ctx context.Context, turn Turn) (Turn, error)
}

type Store interface {
	Recorder
	// ListBySession returns turns oldest first, at most limit of them.
	ListBySession(ctx context.Context, sessionID string, limit int) ([]Turn, error)
	HealthCheck(ctx context.Context) error
}
