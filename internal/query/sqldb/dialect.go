package sqldb

import (
	"fmt"
	"strings"
)

type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
	DuckDB   Dialect = "duckdb"
)

// Target is a parsed database URI.
type Target struct {
	Dialect Dialect
	Driver  string
	DSN     string
}

// ParseURI maps a database URI onto a database/sql driver. sqlite and duckdb
// URIs follow the sqlite:///relative.db and sqlite:////abs/path.db form; an
// empty path opens an in-memory database.
func ParseURI(uri string) (Target, error) {
	uri = strings.TrimSpace(uri)
	scheme, rest, ok := strings.Cut(uri, ":")
	if !ok || scheme == "" {
		return Target{}, fmt.Errorf("database uri %q has no scheme", uri)
	}
	switch strings.ToLower(scheme) {
	case "postgres", "postgresql":
		return Target{Dialect: Postgres, Driver: "pgx", DSN: uri}, nil
	case "file":
		return Target{Dialect: SQLite, Driver: "sqlite", DSN: uri}, nil
	case "sqlite", "sqlite3":
		path := filePath(rest)
		if path == "" {
			path = ":memory:"
		}
		return Target{Dialect: SQLite, Driver: "sqlite", DSN: path}, nil
	case "duckdb":
		return Target{Dialect: DuckDB, Driver: "duckdb", DSN: filePath(rest)}, nil
	default:
		return Target{}, fmt.Errorf("unsupported database scheme %q", scheme)
	}
}

func filePath(rest string) string {
	rest = strings.TrimPrefix(rest, "//")
	return strings.TrimPrefix(rest, "/")
}

func (d Dialect) listTablesSQL() string {
	switch d {
	case SQLite:
		return `SELECT name FROM sqlite_master WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%' ORDER BY name`
	default:
		return `SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() AND table_type IN ('BASE TABLE', 'VIEW') ORDER BY table_name`
	}
}

func (d Dialect) columnsSQL() string {
	switch d {
	case SQLite:
		return `SELECT name, type FROM pragma_table_info(?) ORDER BY cid`
	default:
		return `SELECT column_name, data_type FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1 ORDER BY ordinal_position`
	}
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}
