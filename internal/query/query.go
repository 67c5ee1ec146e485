package query

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type Result struct {
	Columns []string
	Rows    [][]any
	// Truncated is set when the executor stopped reading at its row cap.
	Truncated bool
	Duration  time.Duration
}

// Empty reports whether the statement produced no rows.
func (r Result) Empty() bool {
	return len(r.Rows) == 0
}

// Text renders the result as a pipe-separated table.
func (r Result) Text() string {
	var b strings.Builder
	b.WriteString(strings.Join(r.Columns, " | "))
	for _, row := range r.Rows {
		b.WriteByte('\n')
		cells := make([]string, len(row))
		for i, value := range row {
			cells[i] = FormatValue(value)
		}
		b.WriteString(strings.Join(cells, " | "))
	}
	if r.Empty() {
		b.WriteString("\n(no rows)")
	}
	if r.Truncated {
		fmt.Fprintf(&b, "\n(truncated after %d rows)", len(r.Rows))
	}
	return b.String()
}

func FormatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return "NULL"
	case time.Time:
		return typed.Format(time.RFC3339)
	case []byte:
		return string(typed)
	default:
		return fmt.Sprint(typed)
	}
}

type Executor interface {
	Run(ctx context.Context, sql string) (Result, error)
}

// ExecutionError wraps a database rejection of a statement.
type ExecutionError struct {
	SQL string
	Err error
}

func (e *ExecutionError) Error() string {
	return e.Err.Error()
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Source is a queryable database that can also describe itself.
type Source interface {
	Executor
	SchemaProvider
	Dialect() string
	HealthCheck(ctx context.Context) error
	Close() error
}
