package chat

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/duckmesh/sqlchat/internal/nl2sql"
	"github.com/duckmesh/sqlchat/internal/observability"
	"github.com/duckmesh/sqlchat/internal/query"
)

// Resolve outcomes.
const (
	OutcomeSuccess = "success"
	// OutcomeBlocked is a success on the placeholder statement that stands
	// in for a denylisted one.
	OutcomeBlocked = "blocked"
	// OutcomeEmpty means the attempts ran out and the last statement that
	// executed returned no rows.
	OutcomeEmpty = "empty"
	// OutcomeFailed means the attempts ran out without any statement
	// executing.
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

type cycleState int

const (
	cycleSuccess cycleState = iota
	cycleEmpty
	cycleExecError
)

type cycle struct {
	state   cycleState
	blocked bool
	// next is the synthesis request for the following cycle.
	next string
}

type resolution struct {
	Outcome  string
	Attempts int
}

// resolve runs synthesize then execute until a statement returns rows or
// maxAttempts cycles have run. Running out of attempts is not an error; the
// last non-failing execution, if any, stays as the turn context. Only
// cancellation of ctx is returned.
func (s *Session) resolve(ctx context.Context, prompt string) (resolution, error) {
	ctx, span := observability.StartSpan(ctx, observability.SpanResolve)
	defer span.End()

	request := prompt
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		step, err := s.runCycle(ctx, attempt, prompt, request)
		if err != nil {
			observability.ObserveResolve(OutcomeCancelled, attempt)
			observability.RecordError(span, err)
			return resolution{Outcome: OutcomeCancelled, Attempts: attempt}, err
		}
		if step.state == cycleSuccess {
			outcome := OutcomeSuccess
			if step.blocked {
				outcome = OutcomeBlocked
			}
			observability.ObserveResolve(outcome, attempt)
			span.SetAttributes(attribute.String(observability.KeyOutcome, outcome), attribute.Int(observability.KeyAttempt, attempt))
			return resolution{Outcome: outcome, Attempts: attempt}, nil
		}
		request = step.next
	}

	outcome := OutcomeFailed
	if _, _, result := s.turnState(); result != nil {
		outcome = OutcomeEmpty
	}
	s.logger.WarnContext(ctx, "query attempts exhausted", slog.String("outcome", outcome), slog.Int("attempts", s.maxAttempts))
	observability.ObserveResolve(outcome, s.maxAttempts)
	span.SetAttributes(attribute.String(observability.KeyOutcome, outcome))
	return resolution{Outcome: outcome, Attempts: s.maxAttempts}, nil
}

func (s *Session) runCycle(ctx context.Context, attempt int, prompt, request string) (cycle, error) {
	ctx, span := observability.StartAttemptSpan(ctx, attempt)
	defer span.End()

	currentQuery, lastQuery, _ := s.turnState()
	synthesized, err := s.synthesizer.Synthesize(ctx, nl2sql.Request{
		Question:  request,
		LastQuery: lastQuery,
		Tables:    s.tables,
		TableInfo: s.tableInfo,
		Dialect:   s.schema.Dialect,
	})
	if err != nil {
		if ctx.Err() != nil {
			return cycle{}, ctx.Err()
		}
		observability.RecordError(span, err)
		s.logger.WarnContext(ctx, "query synthesis failed", slog.Int("attempt", attempt), slog.Any("error", err))
		return cycle{state: cycleExecError, next: repairRequest(prompt, currentQuery, err)}, nil
	}
	s.setCurrentQuery(synthesized.SQL)
	s.logger.DebugContext(ctx, "executing query", slog.Int("attempt", attempt), slog.String("sql", synthesized.SQL))

	result, err := s.execute(ctx, synthesized.SQL)
	if err != nil {
		if ctx.Err() != nil {
			return cycle{}, ctx.Err()
		}
		observability.RecordError(span, err)
		s.logger.InfoContext(ctx, "query failed, repairing", slog.Int("attempt", attempt), slog.Any("error", err))
		return cycle{state: cycleExecError, next: repairRequest(prompt, synthesized.SQL, err)}, nil
	}
	s.setContext(&result)
	if result.Empty() {
		s.logger.InfoContext(ctx, "query returned no rows, simplifying", slog.Int("attempt", attempt))
		return cycle{state: cycleEmpty, next: simplifyRequest(prompt, synthesized.SQL)}, nil
	}
	return cycle{state: cycleSuccess, blocked: synthesized.Blocked}, nil
}

func (s *Session) execute(ctx context.Context, sql string) (query.Result, error) {
	ctx, span := observability.StartSpan(ctx, observability.SpanExecute)
	defer span.End()

	result, err := s.executor.Run(ctx, sql)
	switch {
	case err != nil:
		observability.IncrementExecution("error")
		observability.RecordError(span, err)
	case result.Empty():
		observability.IncrementExecution("empty")
	default:
		observability.IncrementExecution("rows")
	}
	span.SetAttributes(attribute.Int(observability.KeyRows, len(result.Rows)))
	return result, err
}
