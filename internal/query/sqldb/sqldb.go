// Package sqldb runs generated statements against a database/sql database
// and introspects its tables for prompting.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb/v2"
	_ "modernc.org/sqlite"

	"github.com/duckmesh/sqlchat/internal/query"
)

type DBConfig struct {
	URI             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

type Options struct {
	// MaxRows caps rows read per statement; 0 reads everything.
	MaxRows int
	// QueryTimeout bounds each statement; 0 relies on the caller's context.
	QueryTimeout time.Duration
}

type DB struct {
	db           *sql.DB
	dialect      Dialect
	maxRows      int
	queryTimeout time.Duration
}

func Open(ctx context.Context, cfg DBConfig, opts Options) (*DB, error) {
	if strings.TrimSpace(cfg.URI) == "" {
		return nil, fmt.Errorf("database uri is required")
	}
	target, err := ParseURI(cfg.URI)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(target.Driver, target.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", target.Dialect, err)
	}
	// An in-memory sqlite database exists per connection.
	if target.Dialect == SQLite && target.DSN == ":memory:" {
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", target.Dialect, err)
	}

	return New(db, target.Dialect, opts), nil
}

// New wraps an already opened database.
func New(db *sql.DB, dialect Dialect, opts Options) *DB {
	return &DB{
		db:           db,
		dialect:      dialect,
		maxRows:      opts.MaxRows,
		queryTimeout: opts.QueryTimeout,
	}
}

func (d *DB) Dialect() string {
	return string(d.dialect)
}

func (d *DB) SQL() *sql.DB {
	return d.db
}

func (d *DB) HealthCheck(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Run executes one statement. Database rejections come back as
// *query.ExecutionError; a cancelled ctx is returned unwrapped.
func (d *DB) Run(ctx context.Context, statement string) (query.Result, error) {
	sqlText := stripTrailingSemicolons(statement)
	if sqlText == "" {
		return query.Result{}, &query.ExecutionError{SQL: statement, Err: fmt.Errorf("sql is required")}
	}
	parent := ctx
	if d.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.queryTimeout)
		defer cancel()
	}

	start := time.Now()
	rows, err := d.db.QueryContext(ctx, sqlText)
	if err != nil {
		return query.Result{}, executionError(parent, statement, err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return query.Result{}, executionError(parent, statement, fmt.Errorf("query columns: %w", err))
	}

	result := query.Result{Columns: columns, Rows: make([][]any, 0)}
	for rows.Next() {
		if d.maxRows > 0 && len(result.Rows) >= d.maxRows {
			result.Truncated = true
			break
		}
		values, err := scanRow(rows, len(columns))
		if err != nil {
			return query.Result{}, executionError(parent, statement, err)
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return query.Result{}, executionError(parent, statement, fmt.Errorf("iterate rows: %w", err))
	}
	result.Duration = time.Since(start)
	return result, nil
}

// executionError reports caller cancellation as is. A statement that hits
// the per-query timeout is an execution failure like any other.
func executionError(parent context.Context, statement string, err error) error {
	if ctxErr := parent.Err(); ctxErr != nil {
		return ctxErr
	}
	return &query.ExecutionError{SQL: statement, Err: err}
}

func (d *DB) ListTables(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, d.dialect.listTablesSQL())
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tables := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return tables, nil
}

func (d *DB) DescribeTable(ctx context.Context, table string, sampleRows int) (query.TableInfo, error) {
	rows, err := d.db.QueryContext(ctx, d.dialect.columnsSQL(), table)
	if err != nil {
		return query.TableInfo{}, fmt.Errorf("list columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	info := query.TableInfo{Name: table, Columns: make([]query.Column, 0), SampleRows: make([][]any, 0)}
	for rows.Next() {
		var col query.Column
		if err := rows.Scan(&col.Name, &col.Type); err != nil {
			return query.TableInfo{}, fmt.Errorf("scan column: %w", err)
		}
		info.Columns = append(info.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return query.TableInfo{}, fmt.Errorf("iterate columns: %w", err)
	}
	if sampleRows <= 0 {
		return info, nil
	}

	sampleSQL := fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteIdent(table), sampleRows)
	samples, err := d.db.QueryContext(ctx, sampleSQL)
	if err != nil {
		return query.TableInfo{}, fmt.Errorf("sample rows: %w", err)
	}
	defer func() { _ = samples.Close() }()
	sampleCols, err := samples.Columns()
	if err != nil {
		return query.TableInfo{}, fmt.Errorf("sample columns: %w", err)
	}
	for samples.Next() {
		values, err := scanRow(samples, len(sampleCols))
		if err != nil {
			return query.TableInfo{}, err
		}
		info.SampleRows = append(info.SampleRows, values)
	}
	if err := samples.Err(); err != nil {
		return query.TableInfo{}, fmt.Errorf("iterate sample rows: %w", err)
	}
	return info, nil
}

func scanRow(rows *sql.Rows, width int) ([]any, error) {
	values := make([]any, width)
	scanTargets := make([]any, width)
	for i := range values {
		scanTargets[i] = &values[i]
	}
	if err := rows.Scan(scanTargets...); err != nil {
		return nil, fmt.Errorf("scan row: %w", err)
	}
	return normalizeValues(values), nil
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}

var _ query.Source = (*DB)(nil)
