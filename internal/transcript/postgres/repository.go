package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/duckmesh/sqlchat/internal/transcript"
)

const defaultListLimit = 100

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping transcript db: %w", err)
	}
	return nil
}

func (r *Repository) Record(ctx context.Context, turn transcript.Turn) (transcript.Turn, error) {
	if strings.TrimSpace(turn.SessionID) == "" {
		return transcript.Turn{}, fmt.Errorf("session id is required")
	}

	query := `
INSERT INTO chat_turn (session_id, subject, question, sql_text, response, outcome, attempts, tier, model, abandoned, started_at, duration_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING turn_id`
	if err := r.db.QueryRowContext(ctx, query,
		turn.SessionID,
		turn.Subject,
		turn.Question,
		turn.SQL,
		turn.Response,
		turn.Outcome,
		turn.Attempts,
		turn.Tier,
		turn.Model,
		turn.Abandoned,
		turn.StartedAt,
		turn.DurationMS,
	).Scan(&turn.TurnID); err != nil {
		return transcript.Turn{}, fmt.Errorf("record turn: %w", err)
	}
	return turn, nil
}

func (r *Repository) ListBySession(ctx context.Context, sessionID string, limit int) ([]transcript.Turn, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `
SELECT turn_id, session_id, subject, question, sql_text, response, outcome, attempts, tier, model, abandoned, started_at, duration_ms
FROM chat_turn
WHERE session_id = $1
ORDER BY turn_id ASC
LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	turns := make([]transcript.Turn, 0)
	for rows.Next() {
		var turn transcript.Turn
		if err := rows.Scan(
			&turn.TurnID,
			&turn.SessionID,
			&turn.Subject,
			&turn.Question,
			&turn.SQL,
			&turn.Response,
			&turn.Outcome,
			&turn.Attempts,
			&turn.Tier,
			&turn.Model,
			&turn.Abandoned,
			&turn.StartedAt,
			&turn.DurationMS,
		); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows: %w", err)
	}
	if len(turns) == 0 {
		return nil, transcript.ErrNotFound
	}
	return turns, nil
}

var _ transcript.Store = (*Repository)(nil)
