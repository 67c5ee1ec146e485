package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/duckmesh/sqlchat/internal/transcript"
)

func TestOpenRequiresDSN(t *testing.T) {
	if _, err := Open(context.Background(), DBConfig{}); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestRecord(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`
INSERT INTO chat_turn (session_id, subject, question, sql_text, response, outcome, attempts, tier, model, abandoned, started_at, duration_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING turn_id`)).
		WithArgs("session-1", "analyst", "show all users", "SELECT * FROM users", "There are 3 users.", "success", 1, "full", "gpt-4o-mini", false, started, int64(1250)).
		WillReturnRows(sqlmock.NewRows([]string{"turn_id"}).AddRow(int64(7)))

	turn, err := repo.Record(context.Background(), transcript.Turn{
		SessionID:  "session-1",
		Subject:    "analyst",
		Question:   "show all users",
		SQL:        "SELECT * FROM users",
		Response:   "There are 3 users.",
		Outcome:    "success",
		Attempts:   1,
		Tier:       "full",
		Model:      "gpt-4o-mini",
		StartedAt:  started,
		DurationMS: 1250,
	})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if turn.TurnID != 7 {
		t.Fatalf("TurnID = %d", turn.TurnID)
	}
	assertSQLMock(t, mock)
}

func TestRecordRequiresSession(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	if _, err := repo.Record(context.Background(), transcript.Turn{Question: "q"}); err == nil {
		t.Fatal("expected error for missing session id")
	}
	assertSQLMock(t, mock)
}

func TestRecordWrapsDriverError(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	driverErr := errors.New("connection reset")

	mock.ExpectQuery(`INSERT INTO chat_turn`).WillReturnError(driverErr)

	_, err := repo.Record(context.Background(), transcript.Turn{SessionID: "session-1"})
	if !errors.Is(err, driverErr) {
		t.Fatalf("Record() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestListBySession(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT turn_id, session_id, subject, question, sql_text, response, outcome, attempts, tier, model, abandoned, started_at, duration_ms
FROM chat_turn
WHERE session_id = $1
ORDER BY turn_id ASC
LIMIT $2`)).
		WithArgs("session-1", defaultListLimit).
		WillReturnRows(sqlmock.NewRows([]string{"turn_id", "session_id", "subject", "question", "sql_text", "response", "outcome", "attempts", "tier", "model", "abandoned", "started_at", "duration_ms"}).
			AddRow(int64(1), "session-1", "analyst", "q1", "SELECT 1", "r1", "success", 1, "full", "m", false, now, int64(10)).
			AddRow(int64(2), "session-1", "analyst", "q2", "", "r2", "failed", 4, "degraded", "m", false, now, int64(20)))

	turns, err := repo.ListBySession(context.Background(), "session-1", 0)
	if err != nil {
		t.Fatalf("ListBySession() error = %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("len(turns) = %d", len(turns))
	}
	if turns[1].Tier != "degraded" || turns[1].Attempts != 4 {
		t.Fatalf("turns[1] = %#v", turns[1])
	}
	assertSQLMock(t, mock)
}

func TestListBySessionNotFound(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)

	mock.ExpectQuery(`FROM chat_turn`).
		WithArgs("missing", 5).
		WillReturnRows(sqlmock.NewRows([]string{"turn_id"}))

	if _, err := repo.ListBySession(context.Background(), "missing", 5); !errors.Is(err, transcript.ErrNotFound) {
		t.Fatalf("ListBySession() error = %v, want ErrNotFound", err)
	}
	assertSQLMock(t, mock)
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
