// Package duckdb exposes a parquet lake held in an object store as a
// queryable DuckDB database with one view per table.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/duckmesh/sqlchat/internal/query"
	"github.com/duckmesh/sqlchat/internal/query/sqldb"
	"github.com/duckmesh/sqlchat/internal/storage"
)

type LakeConfig struct {
	// Prefix narrows the listing below the store root.
	Prefix string
	// WorkDir is where parquet files are staged; empty uses a temp dir.
	WorkDir string
}

// Lake is a query.Source over parquet files staged from an object store.
type Lake struct {
	*sqldb.DB
	workDir string
	owned   bool
	tables  map[string]int
}

func OpenLake(ctx context.Context, store storage.ObjectStore, cfg LakeConfig, opts sqldb.Options) (*Lake, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}

	objects, err := store.List(ctx, cfg.Prefix)
	if err != nil {
		return nil, fmt.Errorf("list lake objects: %w", err)
	}
	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix != "" {
		for i := range objects {
			objects[i].Key = strings.TrimPrefix(objects[i].Key, prefix+"/")
		}
	}
	grouped := storage.GroupByTable(objects)
	if len(grouped) == 0 {
		return nil, fmt.Errorf("no parquet tables found under %q", cfg.Prefix)
	}

	workDir := strings.TrimSpace(cfg.WorkDir)
	owned := workDir == ""
	if owned {
		workDir, err = os.MkdirTemp("", "sqlchat-lake-")
		if err != nil {
			return nil, fmt.Errorf("create lake work dir: %w", err)
		}
	} else if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("create lake work dir: %w", err)
	}
	cleanup := func() {
		if owned {
			_ = os.RemoveAll(workDir)
		}
	}

	localPaths, err := stage(ctx, store, grouped, prefix, workDir)
	if err != nil {
		cleanup()
		return nil, err
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	tables := make(map[string]int, len(localPaths))
	for _, tableName := range sortedKeys(localPaths) {
		paths := localPaths[tableName]
		viewSQL := fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS SELECT * FROM read_parquet(%s)`, quoteIdent(tableName), quoteStringArray(paths))
		if _, err := db.ExecContext(ctx, viewSQL); err != nil {
			_ = db.Close()
			cleanup()
			return nil, fmt.Errorf("create view for table %q: %w", tableName, err)
		}
		tables[tableName] = len(paths)
	}

	return &Lake{
		DB:      sqldb.New(db, sqldb.DuckDB, opts),
		workDir: workDir,
		owned:   owned,
		tables:  tables,
	}, nil
}

func stage(ctx context.Context, store storage.ObjectStore, grouped map[string][]storage.ObjectInfo, prefix, workDir string) (map[string][]string, error) {
	localPaths := make(map[string][]string, len(grouped))
	for tableName, files := range grouped {
		for index, file := range files {
			key := file.Key
			if prefix != "" {
				key = prefix + "/" + key
			}
			reader, err := store.Get(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("get object %q: %w", key, err)
			}

			localPath := filepath.Join(workDir, fmt.Sprintf("%s_%d.parquet", sanitizeFileComponent(tableName), index))
			if err := writeFile(localPath, reader); err != nil {
				_ = reader.Close()
				return nil, fmt.Errorf("write local parquet file %q: %w", localPath, err)
			}
			if err := reader.Close(); err != nil {
				return nil, fmt.Errorf("close object %q: %w", key, err)
			}
			localPaths[tableName] = append(localPaths[tableName], localPath)
		}
	}
	return localPaths, nil
}

// FileCount reports how many parquet files back each table view.
func (l *Lake) FileCount(table string) int {
	return l.tables[table]
}

func (l *Lake) Close() error {
	err := l.DB.Close()
	if l.owned {
		if removeErr := os.RemoveAll(l.workDir); removeErr != nil && err == nil {
			err = removeErr
		}
	}
	return err
}

func sortedKeys(values map[string][]string) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteStringArray(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, `'`+strings.ReplaceAll(value, `'`, `''`)+`'`)
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

func sanitizeFileComponent(value string) string {
	value = strings.ReplaceAll(value, "/", "_")
	value = strings.ReplaceAll(value, "..", "_")
	if value == "" {
		return "table"
	}
	return value
}

var _ query.Source = (*Lake)(nil)
