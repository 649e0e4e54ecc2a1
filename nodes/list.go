package nodes

import (
	"context"
	"fmt"
	"sync"

	"github.com/ironman-/brewery/graph"
	"github.com/ironman-/brewery/metadata"
)

// ListSource emits a fixed, in-memory list of records. Rows are added
// programmatically with Add; the "fields" attribute accepts the
// "name:storage" shorthand for use from graph definitions.
type ListSource struct {
	fields  *metadata.FieldList
	records []metadata.Record
}

func NewListSource(fields *metadata.FieldList) *ListSource {
	return &ListSource{fields: fields}
}

func (s *ListSource) Info() graph.NodeInfo {
	return graph.NodeInfo{
		Type:        "list_source",
		Label:       "List Source",
		Description: "Emits an in-memory list of records",
		Attributes: []graph.AttrSpec{
			{Name: "fields", Label: "Fields", Description: "Field shorthands, e.g. id:integer"},
		},
	}
}

func (s *ListSource) InputSlots() []graph.SlotSpec { return nil }

func (s *ListSource) OutputSlots() []graph.SlotSpec {
	return []graph.SlotSpec{{Name: graph.DefaultOutput, Fields: s.fields}}
}

func (s *ListSource) SetAttribute(name string, value any) error {
	switch name {
	case "fields":
		specs, err := attrStrings(name, value)
		if err != nil {
			return err
		}
		fields, err := metadata.ParseFieldList(specs)
		if err != nil {
			return fmt.Errorf("%w: %v", graph.ErrBadAttribute, err)
		}
		s.fields = fields
		return nil
	default:
		return errUnknownAttr(s.Info(), name)
	}
}

// Add appends one row. Values are checked against the declared fields.
func (s *ListSource) Add(values ...metadata.Value) error {
	rec, err := metadata.NewRecord(s.fields, values...)
	if err != nil {
		return err
	}
	s.records = append(s.records, rec)
	return nil
}

// AddRecords appends prebuilt records.
func (s *ListSource) AddRecords(recs ...metadata.Record) {
	s.records = append(s.records, recs...)
}

func (s *ListSource) Open(map[string]*metadata.FieldList) (map[string]*metadata.FieldList, error) {
	return map[string]*metadata.FieldList{graph.DefaultOutput: s.fields}, nil
}

func (s *ListSource) Produce(ctx context.Context, out graph.Emitter) error {
	for _, rec := range s.records {
		if err := out.Emit(graph.DefaultOutput, rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *ListSource) Process(context.Context, string, metadata.Record, graph.Emitter) error {
	return nil
}

func (s *ListSource) Finalize(context.Context, graph.Emitter) error { return nil }

// ListTarget collects every record it receives. Records are retrievable
// with Records after the run finished.
type ListTarget struct {
	mu      sync.Mutex
	fields  *metadata.FieldList
	records []metadata.Record
}

func NewListTarget() *ListTarget {
	return &ListTarget{}
}

func (t *ListTarget) Info() graph.NodeInfo {
	return graph.NodeInfo{
		Type:        "list_target",
		Label:       "List Target",
		Description: "Collects records into memory",
	}
}

func (t *ListTarget) InputSlots() []graph.SlotSpec {
	return []graph.SlotSpec{{Name: graph.DefaultInput}}
}

func (t *ListTarget) OutputSlots() []graph.SlotSpec { return nil }

func (t *ListTarget) SetAttribute(name string, value any) error {
	return errUnknownAttr(t.Info(), name)
}

func (t *ListTarget) Open(inputs map[string]*metadata.FieldList) (map[string]*metadata.FieldList, error) {
	t.fields = inputs[graph.DefaultInput]
	return nil, nil
}

func (t *ListTarget) Process(_ context.Context, _ string, rec metadata.Record, _ graph.Emitter) error {
	t.mu.Lock()
	t.records = append(t.records, rec)
	t.mu.Unlock()
	return nil
}

func (t *ListTarget) Finalize(context.Context, graph.Emitter) error { return nil }

// Records returns the collected records.
func (t *ListTarget) Records() []metadata.Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]metadata.Record, len(t.records))
	copy(out, t.records)
	return out
}

// Fields returns the shape the target was bound to, or nil.
func (t *ListTarget) Fields() *metadata.FieldList {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fields
}
