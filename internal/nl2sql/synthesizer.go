// Package nl2sql turns a natural-language question into a single SQL
// statement and refuses anything that would modify the database.
package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/duckmesh/sqlchat/internal/llm"
	"github.com/duckmesh/sqlchat/internal/observability"
)

// ErrMalformedCompletion is returned when the model reply has no fenced sql
// block or the block is empty.
var ErrMalformedCompletion = errors.New("completion has no sql block")

type Request struct {
	Question string
	// LastQuery is the statement used in the previous turn, if any.
	LastQuery string
	Tables    []string
	// TableInfo is the rendered schema with sample rows.
	TableInfo string
	Dialect   string
}

type Result struct {
	SQL string
	// Raw is the unprocessed model reply.
	Raw            string
	Blocked        bool
	BlockedKeyword string
}

type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (Result, error)
}

type Config struct {
	Temperature float64
	MaxTokens   int
}

type LLMSynthesizer struct {
	provider    llm.Provider
	temperature float64
	maxTokens   int
	logger      *slog.Logger
}

func NewLLMSynthesizer(provider llm.Provider, cfg Config, logger *slog.Logger) (*LLMSynthesizer, error) {
	if provider == nil {
		return nil, fmt.Errorf("llm provider is required")
	}
	return &LLMSynthesizer{
		provider:    provider,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      observability.LoggerOrDiscard(logger),
	}, nil
}

// Synthesize makes exactly one model call. Denylisted statements are
// swapped for PlaceholderSQL and reported through Result.Blocked rather
// than an error.
func (s *LLMSynthesizer) Synthesize(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Question) == "" {
		return Result{}, fmt.Errorf("question is required")
	}
	ctx, span := observability.StartSpan(ctx, observability.SpanSynthesize)
	defer span.End()

	raw, err := s.provider.Complete(ctx, llm.Request{
		Messages:    BuildMessages(req),
		Temperature: llm.Float(s.temperature),
		MaxTokens:   s.maxTokens,
	})
	if err != nil {
		observability.IncrementSynthesis(observability.SynthesisFailed)
		observability.RecordError(span, err)
		return Result{}, fmt.Errorf("synthesize query: %w", err)
	}

	sql, err := ExtractSQL(raw)
	if err != nil {
		observability.IncrementSynthesis(observability.SynthesisMalformed)
		observability.RecordError(span, err)
		s.logger.WarnContext(ctx, "malformed sql completion", append(observability.RequestAttrs(ctx),
			slog.Int("completion_bytes", len(raw)))...)
		return Result{Raw: raw}, err
	}

	result := Result{SQL: sql, Raw: raw}
	if keyword, blocked := Denylisted(sql); blocked {
		observability.IncrementSynthesis(observability.SynthesisBlocked)
		s.logger.WarnContext(ctx, "blocked modifying statement", append(observability.RequestAttrs(ctx),
			slog.String("keyword", keyword),
			slog.String("sql", sql))...)
		result.SQL = PlaceholderSQL
		result.Blocked = true
		result.BlockedKeyword = keyword
		return result, nil
	}

	observability.IncrementSynthesis(observability.SynthesisAccepted)
	return result, nil
}

var _ Synthesizer = (*LLMSynthesizer)(nil)
