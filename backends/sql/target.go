package sql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ironman-/brewery/graph"
	"github.com/ironman-/brewery/metadata"
)

// DefaultBatchSize is the number of buffered rows per INSERT batch.
const DefaultBatchSize = 1000

// Target writes records into a database table, batching inserts inside
// transactions. The table can be created from the incoming shape.
type Target struct {
	driver    string
	dsn       string
	table     string
	create    bool
	replace   bool
	batchSize int

	db     *sql.DB
	fields *metadata.FieldList
	insert string
	batch  [][]any
}

func NewTarget() *Target {
	return &Target{driver: "sqlite", batchSize: DefaultBatchSize}
}

func (t *Target) Info() graph.NodeInfo {
	return graph.NodeInfo{
		Type:        "sql_target",
		Label:       "SQL Target",
		Description: "Writes records into a database table",
		Attributes: []graph.AttrSpec{
			{Name: "driver", Label: "Driver", Description: "database/sql driver name"},
			{Name: "dsn", Label: "DSN", Description: "Connection string", Required: true},
			{Name: "table", Label: "Table", Description: "Target table", Required: true},
			{Name: "create", Label: "Create", Description: "Create the table from the record shape"},
			{Name: "replace", Label: "Replace", Description: "Drop an existing table before creating"},
			{Name: "batch_size", Label: "Batch size", Description: "Rows per insert transaction"},
		},
	}
}

func (t *Target) InputSlots() []graph.SlotSpec {
	return []graph.SlotSpec{{Name: graph.DefaultInput}}
}

func (t *Target) OutputSlots() []graph.SlotSpec { return nil }

func (t *Target) SetAttribute(name string, value any) error {
	switch name {
	case "driver":
		return setString(&t.driver, name, value)
	case "dsn":
		return setString(&t.dsn, name, value)
	case "table":
		return setString(&t.table, name, value)
	case "create":
		return setBool(&t.create, name, value)
	case "replace":
		return setBool(&t.replace, name, value)
	case "batch_size":
		n, ok := value.(int)
		if !ok || n < 1 {
			return fmt.Errorf("%w: batch_size expects a positive integer", graph.ErrBadAttribute)
		}
		t.batchSize = n
		return nil
	default:
		return fmt.Errorf("%w: sql_target does not recognize %q", graph.ErrUnknownAttribute, name)
	}
}

func (t *Target) Open(inputs map[string]*metadata.FieldList) (map[string]*metadata.FieldList, error) {
	if t.dsn == "" {
		return nil, fmt.Errorf("sql target: no dsn set")
	}
	if t.table == "" {
		return nil, fmt.Errorf("sql target: no table set")
	}
	if in := inputs[graph.DefaultInput]; in != nil {
		if err := t.prepare(in); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (t *Target) prepare(fields *metadata.FieldList) error {
	db, err := sql.Open(t.driver, t.dsn)
	if err != nil {
		return fmt.Errorf("sql target: %w", err)
	}
	t.db = db
	t.fields = fields

	if t.replace {
		if _, err := db.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS %q`, t.table)); err != nil {
			return fmt.Errorf("sql target: dropping table: %w", err)
		}
	}
	if t.create {
		if _, err := db.Exec(t.createStatement()); err != nil {
			return fmt.Errorf("sql target: creating table: %w", err)
		}
	}
	t.insert = t.insertStatement()
	return nil
}

func (t *Target) createStatement() string {
	cols := make([]string, 0, t.fields.Len())
	for i := 0; i < t.fields.Len(); i++ {
		f := t.fields.At(i)
		cols = append(cols, fmt.Sprintf("%q %s", f.Name, columnType(f.StorageType)))
	}
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (%s)`, t.table, strings.Join(cols, ", "))
}

func (t *Target) insertStatement() string {
	names := make([]string, 0, t.fields.Len())
	marks := make([]string, 0, t.fields.Len())
	for i := 0; i < t.fields.Len(); i++ {
		names = append(names, fmt.Sprintf("%q", t.fields.At(i).Name))
		marks = append(marks, placeholder(t.driver, i+1))
	}
	return fmt.Sprintf(`INSERT INTO %q (%s) VALUES (%s)`,
		t.table, strings.Join(names, ", "), strings.Join(marks, ", "))
}

// placeholder returns the parameter marker for the driver's SQL
// dialect. Postgres wants $1 style, everything else takes ?.
func placeholder(driver string, n int) string {
	if driver == "pgx" || driver == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func columnType(t metadata.StorageType) string {
	switch t {
	case metadata.Integer:
		return "INTEGER"
	case metadata.Float:
		return "DOUBLE PRECISION"
	case metadata.Boolean:
		return "BOOLEAN"
	case metadata.Date:
		return "TIMESTAMP"
	case metadata.Binary:
		return "BLOB"
	default:
		return "TEXT"
	}
}

func (t *Target) Process(ctx context.Context, _ string, rec metadata.Record, _ graph.Emitter) error {
	if t.db == nil {
		if err := t.prepare(rec.Fields()); err != nil {
			return err
		}
	}
	row := make([]any, 0, rec.Len())
	for i := 0; i < rec.Len(); i++ {
		row = append(row, rec.At(i).Any())
	}
	t.batch = append(t.batch, row)
	if len(t.batch) >= t.batchSize {
		return t.flush(ctx)
	}
	return nil
}

func (t *Target) flush(ctx context.Context) error {
	if len(t.batch) == 0 {
		return nil
	}
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sql target: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, t.insert)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("sql target: %w", err)
	}
	for _, row := range t.batch {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			stmt.Close()
			tx.Rollback()
			return fmt.Errorf("sql target: %w", err)
		}
	}
	stmt.Close()
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sql target: %w", err)
	}
	t.batch = t.batch[:0]
	return nil
}

func (t *Target) Finalize(ctx context.Context, _ graph.Emitter) error {
	if t.db == nil {
		return nil
	}
	err := t.flush(ctx)
	if cerr := t.db.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("sql target: %w", cerr)
	}
	t.db = nil
	return err
}

func setString(dst *string, name string, value any) error {
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("%w: %q expects a string, got %T", graph.ErrBadAttribute, name, value)
	}
	*dst = s
	return nil
}

func setBool(dst *bool, name string, value any) error {
	b, ok := value.(bool)
	if !ok {
		return fmt.Errorf("%w: %q expects a boolean, got %T", graph.ErrBadAttribute, name, value)
	}
	*dst = b
	return nil
}
