package nodes

import (
	"context"
	"fmt"

	"github.com/ironman-/brewery/graph"
	"github.com/ironman-/brewery/metadata"
)

// FieldMap renames and drops fields. Renames keep values in place; drops
// remove the value positions, so downstream nodes see the narrowed
// shape.
type FieldMap struct {
	mapping metadata.FieldMap

	out    *metadata.FieldList
	filter metadata.RowFilter
}

func NewFieldMap() *FieldMap {
	return &FieldMap{mapping: metadata.FieldMap{Rename: map[string]string{}}}
}

func (n *FieldMap) Info() graph.NodeInfo {
	return graph.NodeInfo{
		Type:        "field_map",
		Label:       "Field Map",
		Description: "Renames and drops fields",
		Attributes: []graph.AttrSpec{
			{Name: "rename", Label: "Rename", Description: "Map of old field name to new name"},
			{Name: "drop", Label: "Drop", Description: "Names of fields to remove"},
		},
	}
}

func (n *FieldMap) InputSlots() []graph.SlotSpec {
	return []graph.SlotSpec{{Name: graph.DefaultInput}}
}

func (n *FieldMap) OutputSlots() []graph.SlotSpec {
	return []graph.SlotSpec{{Name: graph.DefaultOutput}}
}

func (n *FieldMap) SetAttribute(name string, value any) error {
	switch name {
	case "rename":
		m, err := attrStringMap(name, value)
		if err != nil {
			return err
		}
		n.mapping.Rename = m
		return nil
	case "drop":
		names, err := attrStrings(name, value)
		if err != nil {
			return err
		}
		n.mapping.Drop = names
		return nil
	default:
		return errUnknownAttr(n.Info(), name)
	}
}

// Rename maps the field old to the name new during the run.
func (n *FieldMap) Rename(from, to string) {
	n.mapping.Rename[from] = to
}

// Drop removes the named fields from the stream.
func (n *FieldMap) Drop(names ...string) {
	n.mapping.Drop = append(n.mapping.Drop, names...)
}

func (n *FieldMap) Open(inputs map[string]*metadata.FieldList) (map[string]*metadata.FieldList, error) {
	in := inputs[graph.DefaultInput]
	if in == nil {
		// Shape unknown until the first record; mapping is then applied
		// lazily in Process.
		return map[string]*metadata.FieldList{graph.DefaultOutput: nil}, nil
	}
	if err := n.bind(in); err != nil {
		return nil, err
	}
	return map[string]*metadata.FieldList{graph.DefaultOutput: n.out}, nil
}

func (n *FieldMap) bind(in *metadata.FieldList) error {
	out, err := n.mapping.Map(in)
	if err != nil {
		return fmt.Errorf("field map: %w", err)
	}
	filter, err := n.mapping.RowFilter(in)
	if err != nil {
		return fmt.Errorf("field map: %w", err)
	}
	n.out = out
	n.filter = filter
	return nil
}

func (n *FieldMap) Process(_ context.Context, _ string, rec metadata.Record, out graph.Emitter) error {
	if n.out == nil {
		if err := n.bind(rec.Fields()); err != nil {
			return err
		}
	}
	mapped, err := metadata.NewRecord(n.out, n.filter.Filter(rec.Values())...)
	if err != nil {
		return err
	}
	return out.Emit(graph.DefaultOutput, mapped)
}

func (n *FieldMap) Finalize(context.Context, graph.Emitter) error { return nil }
