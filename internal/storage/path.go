package storage

import (
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

const parquetSuffix = ".parquet"

// TableFromKey maps a lake object key to the table it belongs to. Layouts
// accepted are <table>.parquet and <table>/<any partitions>/<file>.parquet.
// Keys that are not parquet or whose table segment is not a plain name
// (hidden, temporary, traversal) are skipped.
func TableFromKey(key string) (string, bool) {
	key = strings.TrimPrefix(path.Clean("/"+key), "/")
	if !strings.HasSuffix(strings.ToLower(key), parquetSuffix) {
		return "", false
	}
	segment, _, nested := strings.Cut(key, "/")
	table := segment
	if !nested {
		table = segment[:len(segment)-len(parquetSuffix)]
	}
	if validatePathComponent(table, "table name") != nil {
		return "", false
	}
	return table, true
}

// GroupByTable buckets parquet objects by table, keys sorted within each.
func GroupByTable(objects []ObjectInfo) map[string][]ObjectInfo {
	grouped := map[string][]ObjectInfo{}
	for _, obj := range objects {
		table, ok := TableFromKey(obj.Key)
		if !ok {
			continue
		}
		grouped[table] = append(grouped[table], obj)
	}
	for table := range grouped {
		files := grouped[table]
		sort.Slice(files, func(i, j int) bool { return files[i].Key < files[j].Key })
	}
	return grouped
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
