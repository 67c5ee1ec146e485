package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/duckmesh/sqlchat/internal/llm"
	"github.com/duckmesh/sqlchat/internal/observability"
	"github.com/duckmesh/sqlchat/internal/query"
)

// Response tiers, in the order they are tried.
const (
	TierFull     = "full"
	TierTrimmed  = "trimmed"
	TierDegraded = "degraded"
)

type answer struct {
	Tier      string
	Text      string
	Abandoned bool
}

// respond streams the answer to yield. A failed full-memory stream is
// retried once with memory cut to its latest exchange; a second failure
// empties memory and streams DegradedResponse rune by rune. Every tier that
// completes records exactly one exchange.
func (s *Session) respond(ctx context.Context, prompt string, yield func(string) bool) answer {
	ctx, span := observability.StartSpan(ctx, observability.SpanRespond,
		attribute.String(observability.KeyModel, s.provider.ModelName()))
	defer span.End()

	sql, _, result := s.turnState()
	for _, tier := range []string{TierFull, TierTrimmed} {
		if tier == TierTrimmed {
			s.trimMemory()
		}
		text, err := s.stream(ctx, prompt, sql, result, yield)
		if err == nil {
			s.memory.Append(prompt, text)
			observability.IncrementResponseTier(tier)
			span.SetAttributes(attribute.String(observability.KeyTier, tier))
			return answer{Tier: tier, Text: text}
		}
		if errors.Is(err, errAbandoned) || ctx.Err() != nil {
			return answer{Tier: tier, Text: text, Abandoned: true}
		}
		observability.RecordError(span, err)
		s.logger.WarnContext(ctx, "response stream failed", slog.String("tier", tier), slog.Any("error", err))
	}

	s.memory.Reset(nil)
	observability.IncrementResponseTier(TierDegraded)
	span.SetAttributes(attribute.String(observability.KeyTier, TierDegraded))
	for _, r := range DegradedResponse {
		if !yield(string(r)) {
			return answer{Tier: TierDegraded, Abandoned: true}
		}
	}
	s.memory.Append(prompt, DegradedResponse)
	return answer{Tier: TierDegraded, Text: DegradedResponse}
}

func (s *Session) trimMemory() {
	if last, ok := s.memory.Last(); ok {
		s.memory.Reset(&last)
		return
	}
	s.memory.Reset(nil)
}

// stream forwards fragments as they arrive and returns the full text.
func (s *Session) stream(ctx context.Context, prompt, sql string, result *query.Result, yield func(string) bool) (string, error) {
	chunks, err := s.provider.Stream(ctx, llm.Request{
		Messages:  responseMessages(s.memory.LoadAll(), prompt, sql, result),
		MaxTokens: s.maxTokens,
	})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			return b.String(), chunk.Err
		}
		if chunk.Content == "" {
			continue
		}
		b.WriteString(chunk.Content)
		if !yield(chunk.Content) {
			return b.String(), errAbandoned
		}
	}
	if err := ctx.Err(); err != nil {
		return b.String(), err
	}
	return b.String(), nil
}
