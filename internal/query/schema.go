package query

import (
	"context"
	"fmt"
	"strings"
)

type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type TableInfo struct {
	Name       string   `json:"name"`
	Columns    []Column `json:"columns"`
	SampleRows [][]any  `json:"sample_rows"`
}

type SchemaProvider interface {
	ListTables(ctx context.Context) ([]string, error)
	DescribeTable(ctx context.Context, table string, sampleRows int) (TableInfo, error)
}

// Schema is loaded once per process and never changes afterwards.
type Schema struct {
	Dialect string
	Tables  []TableInfo
}

func LoadSchema(ctx context.Context, provider SchemaProvider, dialect string, sampleRows int) (Schema, error) {
	names, err := provider.ListTables(ctx)
	if err != nil {
		return Schema{}, fmt.Errorf("list tables: %w", err)
	}
	tables := make([]TableInfo, 0, len(names))
	for _, name := range names {
		info, err := provider.DescribeTable(ctx, name, sampleRows)
		if err != nil {
			return Schema{}, fmt.Errorf("describe table %q: %w", name, err)
		}
		tables = append(tables, info)
	}
	return Schema{Dialect: dialect, Tables: tables}, nil
}

func (s Schema) Names() []string {
	names := make([]string, len(s.Tables))
	for i, table := range s.Tables {
		names[i] = table.Name
	}
	return names
}

// Prompt renders every table with its columns and sample rows.
func (s Schema) Prompt() string {
	blocks := make([]string, 0, len(s.Tables))
	for _, table := range s.Tables {
		var b strings.Builder
		fmt.Fprintf(&b, "Table: %s\n", table.Name)
		cols := make([]string, len(table.Columns))
		names := make([]string, len(table.Columns))
		for i, col := range table.Columns {
			cols[i] = fmt.Sprintf("%s (%s)", col.Name, col.Type)
			names[i] = col.Name
		}
		fmt.Fprintf(&b, "Columns: %s", strings.Join(cols, ", "))
		if len(table.SampleRows) > 0 {
			sample := Result{Columns: names, Rows: table.SampleRows}
			fmt.Fprintf(&b, "\n%d sample rows:\n%s", len(table.SampleRows), sample.Text())
		}
		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, "\n\n")
}
