// Package chat runs conversational turns: it resolves a question into a
// query result through a bounded repair loop, then streams an answer grounded
// in that result while keeping a short conversation memory.
package chat

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/duckmesh/sqlchat/internal/llm"
	"github.com/duckmesh/sqlchat/internal/memory"
	"github.com/duckmesh/sqlchat/internal/nl2sql"
	"github.com/duckmesh/sqlchat/internal/observability"
	"github.com/duckmesh/sqlchat/internal/query"
	"github.com/duckmesh/sqlchat/internal/transcript"
)

const (
	defaultMemoryCapacity = 4
	defaultMaxAttempts    = 4
	transcriptTimeout     = 5 * time.Second
)

type Config struct {
	// ID defaults to a random UUID.
	ID             string
	Subject        string
	MemoryCapacity int
	MaxAttempts    int
	MaxTokens      int
}

type Deps struct {
	Synthesizer nl2sql.Synthesizer
	Executor    query.Executor
	Provider    llm.Provider
	Schema      query.Schema
	// Transcript is optional.
	Transcript transcript.Recorder
	Logger     *slog.Logger
	Clock      func() time.Time
}

// TurnSummary describes a finished turn.
type TurnSummary struct {
	Question  string        `json:"question"`
	SQL       string        `json:"sql"`
	Outcome   string        `json:"outcome"`
	Attempts  int           `json:"attempts"`
	Tier      string        `json:"tier"`
	Response  string        `json:"response"`
	Abandoned bool          `json:"abandoned"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// State is a point-in-time view of a session.
type State struct {
	ID           string            `json:"session_id"`
	Subject      string            `json:"subject,omitempty"`
	CurrentQuery string            `json:"current_query,omitempty"`
	LastQuery    string            `json:"last_query,omitempty"`
	HasContext   bool              `json:"has_context"`
	Memory       []memory.Exchange `json:"memory"`
	LastTurn     *TurnSummary      `json:"last_turn,omitempty"`
}

type Session struct {
	id          string
	subject     string
	maxAttempts int
	maxTokens   int
	tables      []string
	schema      query.Schema
	tableInfo   string

	synthesizer nl2sql.Synthesizer
	executor    query.Executor
	provider    llm.Provider
	recorder    transcript.Recorder
	logger      *slog.Logger
	clock       func() time.Time

	// turnMu serializes turns. stateMu guards the fields below it so State
	// can be read while a turn is running.
	turnMu       sync.Mutex
	stateMu      sync.RWMutex
	currentQuery string
	lastQuery    string
	context      *query.Result
	lastTurn     *TurnSummary

	memory *memory.Window
}

func New(cfg Config, deps Deps) (*Session, error) {
	if deps.Synthesizer == nil {
		return nil, fmt.Errorf("synthesizer is required")
	}
	if deps.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if deps.Provider == nil {
		return nil, fmt.Errorf("llm provider is required")
	}
	if cfg.MemoryCapacity <= 0 {
		cfg.MemoryCapacity = defaultMemoryCapacity
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if strings.TrimSpace(cfg.ID) == "" {
		cfg.ID = uuid.NewString()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	return &Session{
		id:          cfg.ID,
		subject:     cfg.Subject,
		maxAttempts: cfg.MaxAttempts,
		maxTokens:   cfg.MaxTokens,
		tables:      deps.Schema.Names(),
		schema:      deps.Schema,
		tableInfo:   deps.Schema.Prompt(),
		synthesizer: deps.Synthesizer,
		executor:    deps.Executor,
		provider:    deps.Provider,
		recorder:    deps.Transcript,
		logger:      observability.LoggerOrDiscard(deps.Logger).With(slog.String("session_id", cfg.ID)),
		clock:       deps.Clock,
		memory:      memory.NewWindow(cfg.MemoryCapacity),
	}, nil
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Subject() string {
	return s.subject
}

func (s *Session) Tables() []string {
	return append([]string(nil), s.tables...)
}

// Ask answers prompt as a lazy sequence of response fragments. Nothing runs
// until the sequence is ranged over; turns on one session run one at a time.
// Breaking out of the range cancels the in-flight model call and ends the
// turn without remembering it.
func (s *Session) Ask(ctx context.Context, prompt string) iter.Seq[string] {
	return func(yield func(string) bool) {
		prompt := strings.TrimSpace(prompt)
		if prompt == "" {
			return
		}

		s.turnMu.Lock()
		defer s.turnMu.Unlock()

		turnCtx, cancel := context.WithCancel(observability.ContextWithSessionID(ctx, s.id))
		defer cancel()
		turnCtx, span := observability.StartSpan(turnCtx, observability.SpanTurn)
		defer span.End()

		summary := TurnSummary{Question: prompt, StartedAt: s.clock()}
		defer s.finishTurn(context.WithoutCancel(turnCtx), &summary)

		s.logger.InfoContext(turnCtx, "turn started", observability.RequestAttrs(ctx)...)

		resolved, err := s.resolve(turnCtx, prompt)
		summary.Outcome = resolved.Outcome
		summary.Attempts = resolved.Attempts
		if err != nil {
			summary.Abandoned = true
			return
		}

		answer := s.respond(turnCtx, prompt, yield)
		summary.Tier = answer.Tier
		summary.Response = answer.Text
		summary.Abandoned = answer.Abandoned
	}
}

// finishTurn clears the transient turn state on every path and carries the
// turn's query over to the next one.
func (s *Session) finishTurn(ctx context.Context, summary *TurnSummary) {
	s.stateMu.Lock()
	summary.SQL = s.currentQuery
	summary.Duration = s.clock().Sub(summary.StartedAt)
	s.lastQuery = s.currentQuery
	s.currentQuery = ""
	s.context = nil
	finished := *summary
	s.lastTurn = &finished
	s.stateMu.Unlock()

	observability.ObserveTurn(summary.Duration)
	s.logger.InfoContext(ctx, "turn finished",
		slog.String("outcome", summary.Outcome),
		slog.Int("attempts", summary.Attempts),
		slog.String("tier", summary.Tier),
		slog.Bool("abandoned", summary.Abandoned),
		slog.Int64("duration_ms", summary.Duration.Milliseconds()),
	)
	s.record(ctx, finished)
}

func (s *Session) record(ctx context.Context, summary TurnSummary) {
	if s.recorder == nil {
		return
	}
	recordCtx, cancel := context.WithTimeout(ctx, transcriptTimeout)
	defer cancel()
	_, err := s.recorder.Record(recordCtx, transcript.Turn{
		SessionID:  s.id,
		Subject:    s.subject,
		Question:   summary.Question,
		SQL:        summary.SQL,
		Response:   summary.Response,
		Outcome:    summary.Outcome,
		Attempts:   summary.Attempts,
		Tier:       summary.Tier,
		Model:      s.provider.ModelName(),
		Abandoned:  summary.Abandoned,
		StartedAt:  summary.StartedAt.UTC(),
		DurationMS: summary.Duration.Milliseconds(),
	})
	if err != nil {
		observability.IncrementTranscriptFailure()
		s.logger.WarnContext(ctx, "record turn transcript failed", slog.Any("error", err))
	}
}

// Reset forgets the conversation and the carried-over query. It waits for
// a running turn to finish.
func (s *Session) Reset() {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()
	s.memory.Reset(nil)
	s.stateMu.Lock()
	s.lastQuery = ""
	s.stateMu.Unlock()
}

func (s *Session) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	state := State{
		ID:           s.id,
		Subject:      s.subject,
		CurrentQuery: s.currentQuery,
		LastQuery:    s.lastQuery,
		HasContext:   s.context != nil,
		Memory:       s.memory.LoadAll(),
	}
	if s.lastTurn != nil {
		last := *s.lastTurn
		state.LastTurn = &last
	}
	return state
}

func (s *Session) setCurrentQuery(sql string) {
	s.stateMu.Lock()
	s.currentQuery = sql
	s.stateMu.Unlock()
}

func (s *Session) setContext(result *query.Result) {
	s.stateMu.Lock()
	s.context = result
	s.stateMu.Unlock()
}

func (s *Session) turnState() (currentQuery, lastQuery string, result *query.Result) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.currentQuery, s.lastQuery, s.context
}
