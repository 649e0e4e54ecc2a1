// Package sql provides database source and target nodes on top of
// database/sql. The sqlite and pgx drivers are linked in; any other
// registered driver works as well.
package sql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ironman-/brewery/graph"
	"github.com/ironman-/brewery/metadata"

	// Database drivers.
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Register adds the SQL node types to the registry.
func Register(r *graph.Registry) error {
	if err := r.Register("sql_source", func() graph.Node { return NewSource() }); err != nil {
		return err
	}
	return r.Register("sql_target", func() graph.Node { return NewTarget() })
}

// Source emits the rows of one SQL query. The result shape is derived
// from the result columns, so it is unknown until the query runs.
type Source struct {
	driver string
	dsn    string
	query  string
}

func NewSource() *Source {
	return &Source{driver: "sqlite"}
}

func (s *Source) Info() graph.NodeInfo {
	return graph.NodeInfo{
		Type:        "sql_source",
		Label:       "SQL Source",
		Description: "Emits the rows of a SQL query",
		Attributes: []graph.AttrSpec{
			{Name: "driver", Label: "Driver", Description: "database/sql driver name"},
			{Name: "dsn", Label: "DSN", Description: "Connection string", Required: true},
			{Name: "query", Label: "Query", Description: "SELECT statement to run", Required: true},
		},
	}
}

func (s *Source) InputSlots() []graph.SlotSpec { return nil }

func (s *Source) OutputSlots() []graph.SlotSpec {
	return []graph.SlotSpec{{Name: graph.DefaultOutput}}
}

func (s *Source) SetAttribute(name string, value any) error {
	switch name {
	case "driver":
		return setString(&s.driver, name, value)
	case "dsn":
		return setString(&s.dsn, name, value)
	case "query":
		return setString(&s.query, name, value)
	default:
		return fmt.Errorf("%w: sql_source does not recognize %q", graph.ErrUnknownAttribute, name)
	}
}

func (s *Source) Open(map[string]*metadata.FieldList) (map[string]*metadata.FieldList, error) {
	if s.dsn == "" {
		return nil, fmt.Errorf("sql source: no dsn set")
	}
	if s.query == "" {
		return nil, fmt.Errorf("sql source: no query set")
	}
	return map[string]*metadata.FieldList{graph.DefaultOutput: nil}, nil
}

func (s *Source) Produce(ctx context.Context, out graph.Emitter) error {
	db, err := sql.Open(s.driver, s.dsn)
	if err != nil {
		return fmt.Errorf("sql source: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, s.query)
	if err != nil {
		return fmt.Errorf("sql source: %w", err)
	}
	defer rows.Close()

	cols, err := rows.ColumnTypes()
	if err != nil {
		return fmt.Errorf("sql source: %w", err)
	}
	fields := &metadata.FieldList{}
	for _, col := range cols {
		f := metadata.NewField(col.Name(), storageForColumn(col.DatabaseTypeName()))
		f.Extra = map[string]any{"column_type": col.DatabaseTypeName()}
		if err := fields.Append(f); err != nil {
			return fmt.Errorf("sql source: %w", err)
		}
	}

	raw := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("sql source: %w", err)
		}
		values := make([]metadata.Value, 0, len(raw))
		for i, cell := range raw {
			v, err := convertCell(cell, fields.At(i).StorageType)
			if err != nil {
				return fmt.Errorf("sql source: column %q: %w", fields.At(i).Name, err)
			}
			values = append(values, v)
		}
		rec, err := metadata.NewRecord(fields, values...)
		if err != nil {
			return fmt.Errorf("sql source: %w", err)
		}
		if err := out.Emit(graph.DefaultOutput, rec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("sql source: %w", err)
	}
	return nil
}

func (s *Source) Process(context.Context, string, metadata.Record, graph.Emitter) error {
	return nil
}

func (s *Source) Finalize(context.Context, graph.Emitter) error { return nil }

// storageForColumn maps a driver column type name onto a storage type.
// Unrecognized types come through as string.
func storageForColumn(typeName string) metadata.StorageType {
	switch strings.ToUpper(typeName) {
	case "INT", "INT2", "INT4", "INT8", "INTEGER", "BIGINT", "SMALLINT", "SERIAL", "BIGSERIAL":
		return metadata.Integer
	case "REAL", "FLOAT", "FLOAT4", "FLOAT8", "DOUBLE", "DOUBLE PRECISION", "NUMERIC", "DECIMAL":
		return metadata.Float
	case "BOOL", "BOOLEAN":
		return metadata.Boolean
	case "DATE", "TIME", "TIMESTAMP", "TIMESTAMPTZ", "DATETIME":
		return metadata.Date
	case "BLOB", "BYTEA", "BINARY", "VARBINARY":
		return metadata.Binary
	default:
		return metadata.String
	}
}

// convertCell turns a scanned cell into a value of the column's storage
// type. Drivers are not uniform in what they hand back, so numeric and
// text cross-representations are coerced.
func convertCell(cell any, t metadata.StorageType) (metadata.Value, error) {
	if cell == nil {
		return metadata.Missing, nil
	}
	switch t {
	case metadata.Integer:
		switch x := cell.(type) {
		case int64:
			return metadata.IntValue(x), nil
		case float64:
			return metadata.IntValue(int64(x)), nil
		}
	case metadata.Float:
		switch x := cell.(type) {
		case float64:
			return metadata.FloatValue(x), nil
		case int64:
			return metadata.FloatValue(float64(x)), nil
		case []byte:
			// NUMERIC often scans as text.
			var f float64
			if _, err := fmt.Sscanf(string(x), "%g", &f); err == nil {
				return metadata.FloatValue(f), nil
			}
		case string:
			var f float64
			if _, err := fmt.Sscanf(x, "%g", &f); err == nil {
				return metadata.FloatValue(f), nil
			}
		}
	case metadata.Boolean:
		switch x := cell.(type) {
		case bool:
			return metadata.BoolValue(x), nil
		case int64:
			return metadata.BoolValue(x != 0), nil
		}
	case metadata.Date:
		switch x := cell.(type) {
		case time.Time:
			return metadata.DateValue(x), nil
		case string:
			d, err := time.Parse(time.RFC3339, x)
			if err == nil {
				return metadata.DateValue(d), nil
			}
		}
	case metadata.String:
		switch x := cell.(type) {
		case string:
			return metadata.StringValue(x), nil
		case []byte:
			return metadata.StringValue(string(x)), nil
		default:
			return metadata.StringValue(fmt.Sprintf("%v", x)), nil
		}
	case metadata.Binary:
		if x, ok := cell.([]byte); ok {
			return metadata.BinaryValue(x), nil
		}
	}
	return metadata.ValueOf(cell)
}
