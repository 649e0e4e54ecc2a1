// Package csv provides file-based CSV source and target nodes. Field
// types default to string; a declared field list turns on per-column
// parsing.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/ironman-/brewery/graph"
	"github.com/ironman-/brewery/metadata"
)

// Register adds the CSV node types to the registry.
func Register(r *graph.Registry) error {
	if err := r.Register("csv_source", func() graph.Node { return NewSource() }); err != nil {
		return err
	}
	return r.Register("csv_target", func() graph.Node { return NewTarget() })
}

// Source reads records from a CSV file. With header enabled (the
// default) the first row names the fields; a declared "fields" list
// overrides the header and switches on typed parsing.
type Source struct {
	path     string
	comma    rune
	header   bool
	declared *metadata.FieldList

	fields *metadata.FieldList
}

func NewSource() *Source {
	return &Source{comma: ',', header: true}
}

func (s *Source) Info() graph.NodeInfo {
	return graph.NodeInfo{
		Type:        "csv_source",
		Label:       "CSV Source",
		Description: "Reads records from a CSV file",
		Attributes: []graph.AttrSpec{
			{Name: "path", Label: "Path", Description: "File to read", Required: true},
			{Name: "delimiter", Label: "Delimiter", Description: "Field delimiter, comma by default"},
			{Name: "header", Label: "Header", Description: "First row names the fields"},
			{Name: "fields", Label: "Fields", Description: "Field shorthands overriding the header"},
		},
	}
}

func (s *Source) InputSlots() []graph.SlotSpec { return nil }

func (s *Source) OutputSlots() []graph.SlotSpec {
	return []graph.SlotSpec{{Name: graph.DefaultOutput, Fields: s.declared}}
}

func (s *Source) SetAttribute(name string, value any) error {
	switch name {
	case "path":
		p, ok := value.(string)
		if !ok {
			return fmt.Errorf("%w: path expects a string, got %T", graph.ErrBadAttribute, value)
		}
		s.path = p
		return nil
	case "delimiter":
		return setDelimiter(&s.comma, value)
	case "header":
		b, ok := value.(bool)
		if !ok {
			return fmt.Errorf("%w: header expects a boolean, got %T", graph.ErrBadAttribute, value)
		}
		s.header = b
		return nil
	case "fields":
		return setFields(&s.declared, value)
	default:
		return fmt.Errorf("%w: csv_source does not recognize %q", graph.ErrUnknownAttribute, name)
	}
}

func (s *Source) Open(map[string]*metadata.FieldList) (map[string]*metadata.FieldList, error) {
	if s.path == "" {
		return nil, fmt.Errorf("csv source: no path set")
	}
	if !s.header && s.declared == nil {
		return nil, fmt.Errorf("csv source: need a header row or declared fields")
	}
	s.fields = s.declared
	// With a header and no declaration the shape is only known once the
	// file is read.
	return map[string]*metadata.FieldList{graph.DefaultOutput: s.declared}, nil
}

func (s *Source) Produce(ctx context.Context, out graph.Emitter) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("csv source: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = s.comma
	r.ReuseRecord = true

	if s.header {
		row, err := r.Read()
		if err != nil {
			return fmt.Errorf("csv source: reading header: %w", err)
		}
		if s.fields == nil {
			fields := &metadata.FieldList{}
			for _, name := range row {
				if err := fields.Append(metadata.NewField(name, metadata.String)); err != nil {
					return fmt.Errorf("csv source: header: %w", err)
				}
			}
			s.fields = fields
		}
	}

	for {
		row, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("csv source: %w", err)
		}
		rec, err := s.parseRow(row)
		if err != nil {
			return err
		}
		if err := out.Emit(graph.DefaultOutput, rec); err != nil {
			return err
		}
	}
}

func (s *Source) parseRow(row []string) (metadata.Record, error) {
	if len(row) != s.fields.Len() {
		return metadata.Record{}, fmt.Errorf("csv source: %w: %d columns for %d fields",
			metadata.ErrArityMismatch, len(row), s.fields.Len())
	}
	values := make([]metadata.Value, 0, len(row))
	for i, cell := range row {
		v, err := ParseCell(cell, s.fields.At(i).StorageType)
		if err != nil {
			return metadata.Record{}, fmt.Errorf("csv source: field %q: %w", s.fields.At(i).Name, err)
		}
		values = append(values, v)
	}
	return metadata.NewRecord(s.fields, values...)
}

func (s *Source) Process(context.Context, string, metadata.Record, graph.Emitter) error {
	return nil
}

func (s *Source) Finalize(context.Context, graph.Emitter) error { return nil }

// ParseCell converts one CSV cell to a value of the given storage type.
// Empty cells of typed columns become Missing.
func ParseCell(cell string, t metadata.StorageType) (metadata.Value, error) {
	if cell == "" && t != metadata.String && t != metadata.Unknown {
		return metadata.Missing, nil
	}
	switch t {
	case metadata.Integer:
		i, err := strconv.ParseInt(cell, 10, 64)
		if err != nil {
			return metadata.Missing, err
		}
		return metadata.IntValue(i), nil
	case metadata.Float:
		f, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return metadata.Missing, err
		}
		return metadata.FloatValue(f), nil
	case metadata.Boolean:
		b, err := strconv.ParseBool(cell)
		if err != nil {
			return metadata.Missing, err
		}
		return metadata.BoolValue(b), nil
	case metadata.Date:
		d, err := time.Parse(time.RFC3339, cell)
		if err != nil {
			return metadata.Missing, err
		}
		return metadata.DateValue(d), nil
	default:
		return metadata.StringValue(cell), nil
	}
}

// FormatCell renders a value for CSV output. Missing renders as the
// empty string.
func FormatCell(v metadata.Value) string {
	if v.IsMissing() {
		return ""
	}
	switch v.Kind() {
	case metadata.Date:
		d, _ := v.AsDate()
		return d.Format(time.RFC3339)
	case metadata.Float:
		f, _ := v.AsFloat()
		return strconv.FormatFloat(f, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", v.Any())
	}
}

// Target writes records to a CSV file, optionally preceded by a header
// row.
type Target struct {
	path   string
	comma  rune
	header bool

	fields *metadata.FieldList
	file   *os.File
	w      *csv.Writer
}

func NewTarget() *Target {
	return &Target{comma: ',', header: true}
}

func (t *Target) Info() graph.NodeInfo {
	return graph.NodeInfo{
		Type:        "csv_target",
		Label:       "CSV Target",
		Description: "Writes records to a CSV file",
		Attributes: []graph.AttrSpec{
			{Name: "path", Label: "Path", Description: "File to write", Required: true},
			{Name: "delimiter", Label: "Delimiter", Description: "Field delimiter, comma by default"},
			{Name: "header", Label: "Header", Description: "Write a header row"},
		},
	}
}

func (t *Target) InputSlots() []graph.SlotSpec {
	return []graph.SlotSpec{{Name: graph.DefaultInput}}
}

func (t *Target) OutputSlots() []graph.SlotSpec { return nil }

func (t *Target) SetAttribute(name string, value any) error {
	switch name {
	case "path":
		p, ok := value.(string)
		if !ok {
			return fmt.Errorf("%w: path expects a string, got %T", graph.ErrBadAttribute, value)
		}
		t.path = p
		return nil
	case "delimiter":
		return setDelimiter(&t.comma, value)
	case "header":
		b, ok := value.(bool)
		if !ok {
			return fmt.Errorf("%w: header expects a boolean, got %T", graph.ErrBadAttribute, value)
		}
		t.header = b
		return nil
	default:
		return fmt.Errorf("%w: csv_target does not recognize %q", graph.ErrUnknownAttribute, name)
	}
}

func (t *Target) Open(inputs map[string]*metadata.FieldList) (map[string]*metadata.FieldList, error) {
	if t.path == "" {
		return nil, fmt.Errorf("csv target: no path set")
	}
	t.fields = inputs[graph.DefaultInput]
	return nil, nil
}

func (t *Target) Process(_ context.Context, _ string, rec metadata.Record, _ graph.Emitter) error {
	if t.w == nil {
		if err := t.create(rec.Fields()); err != nil {
			return err
		}
	}
	row := make([]string, 0, rec.Len())
	for i := 0; i < rec.Len(); i++ {
		row = append(row, FormatCell(rec.At(i)))
	}
	if err := t.w.Write(row); err != nil {
		return fmt.Errorf("csv target: %w", err)
	}
	return nil
}

func (t *Target) create(fields *metadata.FieldList) error {
	f, err := os.Create(t.path)
	if err != nil {
		return fmt.Errorf("csv target: %w", err)
	}
	t.file = f
	t.w = csv.NewWriter(f)
	t.w.Comma = t.comma
	t.fields = fields
	if t.header {
		if err := t.w.Write(fields.Names()); err != nil {
			return fmt.Errorf("csv target: header: %w", err)
		}
	}
	return nil
}

func (t *Target) Finalize(context.Context, graph.Emitter) error {
	if t.w == nil {
		// Empty stream: still produce the file, with a header if
		// configured and the shape is known.
		if t.fields == nil {
			return nil
		}
		if err := t.create(t.fields); err != nil {
			return err
		}
	}
	t.w.Flush()
	var err error
	if werr := t.w.Error(); werr != nil {
		err = fmt.Errorf("csv target: %w", werr)
	}
	if cerr := t.file.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("csv target: %w", cerr)
	}
	t.w = nil
	t.file = nil
	return err
}

func setDelimiter(dst *rune, value any) error {
	s, ok := value.(string)
	if !ok || len([]rune(s)) != 1 {
		return fmt.Errorf("%w: delimiter expects a single character string", graph.ErrBadAttribute)
	}
	*dst = []rune(s)[0]
	return nil
}

func setFields(dst **metadata.FieldList, value any) error {
	var specs []string
	switch x := value.(type) {
	case []string:
		specs = x
	case []any:
		for _, e := range x {
			s, ok := e.(string)
			if !ok {
				return fmt.Errorf("%w: fields expects strings, got %T", graph.ErrBadAttribute, e)
			}
			specs = append(specs, s)
		}
	default:
		return fmt.Errorf("%w: fields expects a string list, got %T", graph.ErrBadAttribute, value)
	}
	fields, err := metadata.ParseFieldList(specs)
	if err != nil {
		return fmt.Errorf("%w: %v", graph.ErrBadAttribute, err)
	}
	*dst = fields
	return nil
}
