package duckdb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"testing"

	"github.com/parquet-go/parquet-go"

	"github.com/duckmesh/sqlchat/internal/query"
	"github.com/duckmesh/sqlchat/internal/query/sqldb"
	"github.com/duckmesh/sqlchat/internal/storage"
)

type orderRow struct {
	ID       int64  `parquet:"id"`
	Customer string `parquet:"customer"`
}

func TestOpenLakeCreatesViewPerTable(t *testing.T) {
	first := mustParquet(t, []orderRow{{ID: 1, Customer: "ada"}, {ID: 2, Customer: "grace"}})
	second := mustParquet(t, []orderRow{{ID: 3, Customer: "linus"}})
	store := &memoryStore{objects: map[string][]byte{
		"orders/part-0.parquet": first,
		"orders/part-1.parquet": second,
		"customers.parquet":     first,
		"orders/_SUCCESS":       nil,
	}}

	lake, err := OpenLake(context.Background(), store, LakeConfig{}, sqldb.Options{MaxRows: 10})
	if err != nil {
		t.Fatalf("OpenLake() error = %v", err)
	}
	defer func() { _ = lake.Close() }()

	if lake.Dialect() != "duckdb" {
		t.Fatalf("Dialect() = %q", lake.Dialect())
	}
	if lake.FileCount("orders") != 2 || lake.FileCount("customers") != 1 {
		t.Fatalf("file counts = %d/%d", lake.FileCount("orders"), lake.FileCount("customers"))
	}

	result, err := lake.Run(context.Background(), "SELECT COUNT(*) AS c FROM orders;")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Rows) != 1 || result.Rows[0][0] != int64(3) {
		t.Fatalf("rows = %#v", result.Rows)
	}

	tables, err := lake.ListTables(context.Background())
	if err != nil {
		t.Fatalf("ListTables() error = %v", err)
	}
	if strings.Join(tables, ",") != "customers,orders" {
		t.Fatalf("tables = %v", tables)
	}

	schema, err := query.LoadSchema(context.Background(), lake, lake.Dialect(), 2)
	if err != nil {
		t.Fatalf("LoadSchema() error = %v", err)
	}
	if !strings.Contains(schema.Prompt(), "customer (VARCHAR)") {
		t.Fatalf("Prompt() = %q", schema.Prompt())
	}
}

func TestOpenLakeBadStatementIsExecutionError(t *testing.T) {
	store := &memoryStore{objects: map[string][]byte{"orders.parquet": mustParquet(t, []orderRow{{ID: 1, Customer: "ada"}})}}
	lake, err := OpenLake(context.Background(), store, LakeConfig{}, sqldb.Options{})
	if err != nil {
		t.Fatalf("OpenLake() error = %v", err)
	}
	defer func() { _ = lake.Close() }()

	_, err = lake.Run(context.Background(), "SELECT nope FROM orders")
	var execErr *query.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("Run() error = %v, want ExecutionError", err)
	}
}

func TestOpenLakeUsesPrefixForKeys(t *testing.T) {
	store := &memoryStore{
		objects: map[string][]byte{"exports/orders/part-0.parquet": mustParquet(t, []orderRow{{ID: 1, Customer: "ada"}})},
	}
	lake, err := OpenLake(context.Background(), store, LakeConfig{Prefix: "exports"}, sqldb.Options{})
	if err != nil {
		t.Fatalf("OpenLake() error = %v", err)
	}
	defer func() { _ = lake.Close() }()
	if lake.FileCount("orders") != 1 {
		t.Fatalf("FileCount() = %d", lake.FileCount("orders"))
	}
}

func TestOpenLakeRemovesOwnedWorkDirOnClose(t *testing.T) {
	store := &memoryStore{objects: map[string][]byte{"orders.parquet": mustParquet(t, []orderRow{{ID: 1}})}}
	lake, err := OpenLake(context.Background(), store, LakeConfig{}, sqldb.Options{})
	if err != nil {
		t.Fatalf("OpenLake() error = %v", err)
	}
	workDir := lake.workDir
	if err := lake.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := os.Stat(workDir); !os.IsNotExist(err) {
		t.Fatalf("work dir still present: %v", err)
	}
}

func TestOpenLakeWithoutTables(t *testing.T) {
	store := &memoryStore{objects: map[string][]byte{"readme.md": []byte("x")}}
	if _, err := OpenLake(context.Background(), store, LakeConfig{}, sqldb.Options{}); err == nil {
		t.Fatal("expected error for lake without parquet tables")
	}
}

func mustParquet(t *testing.T, rows []orderRow) []byte {
	t.Helper()
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[orderRow](buf)
	if _, err := writer.Write(rows); err != nil {
		t.Fatalf("parquet Write() error = %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("parquet Close() error = %v", err)
	}
	return buf.Bytes()
}

type memoryStore struct {
	objects map[string][]byte
}

func (m *memoryStore) List(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	prefix = strings.Trim(prefix, "/")
	out := make([]storage.ObjectInfo, 0, len(m.objects))
	for key, body := range m.objects {
		if prefix != "" && !strings.HasPrefix(key, prefix+"/") {
			continue
		}
		out = append(out, storage.ObjectInfo{Key: key, Size: int64(len(body))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *memoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	body, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%q: %w", key, storage.ErrObjectNotFound)
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

func (m *memoryStore) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	body, ok := m.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(body))}, nil
}
