package nodes

import (
	"context"
	"fmt"

	"github.com/ironman-/brewery/graph"
	"github.com/ironman-/brewery/metadata"
)

// DeriveFunc computes the value of a derived field from the input
// record.
type DeriveFunc func(metadata.Record) (metadata.Value, error)

// Derive appends one computed field to every record. The compute
// function is injected programmatically.
type Derive struct {
	field   metadata.Field
	compute DeriveFunc

	out *metadata.FieldList
}

func NewDerive(name string, storage metadata.StorageType, f DeriveFunc) *Derive {
	return &Derive{field: metadata.NewField(name, storage), compute: f}
}

func (n *Derive) Info() graph.NodeInfo {
	return graph.NodeInfo{
		Type:        "derive",
		Label:       "Derive Field",
		Description: "Appends a computed field to each record",
		Attributes: []graph.AttrSpec{
			{Name: "field", Label: "Field", Description: "Shorthand of the derived field, e.g. total:float", Required: true},
		},
	}
}

func (n *Derive) InputSlots() []graph.SlotSpec {
	return []graph.SlotSpec{{Name: graph.DefaultInput}}
}

func (n *Derive) OutputSlots() []graph.SlotSpec {
	return []graph.SlotSpec{{Name: graph.DefaultOutput}}
}

func (n *Derive) SetAttribute(name string, value any) error {
	switch name {
	case "field":
		spec, err := attrString(name, value)
		if err != nil {
			return err
		}
		f, err := metadata.ParseField(spec)
		if err != nil {
			return fmt.Errorf("%w: %v", graph.ErrBadAttribute, err)
		}
		n.field = f
		return nil
	default:
		return errUnknownAttr(n.Info(), name)
	}
}

// SetFunc injects the compute function.
func (n *Derive) SetFunc(f DeriveFunc) {
	n.compute = f
}

func (n *Derive) Open(inputs map[string]*metadata.FieldList) (map[string]*metadata.FieldList, error) {
	if n.compute == nil {
		return nil, fmt.Errorf("derive: no compute function set")
	}
	if n.field.Name == "" {
		return nil, fmt.Errorf("derive: no field set")
	}
	in := inputs[graph.DefaultInput]
	if in == nil {
		return map[string]*metadata.FieldList{graph.DefaultOutput: nil}, nil
	}
	out := in.Clone()
	if err := out.Append(n.field); err != nil {
		return nil, fmt.Errorf("derive: %w", err)
	}
	n.out = out
	return map[string]*metadata.FieldList{graph.DefaultOutput: out}, nil
}

func (n *Derive) Process(_ context.Context, _ string, rec metadata.Record, out graph.Emitter) error {
	if n.out == nil {
		shape := rec.Fields().Clone()
		if err := shape.Append(n.field); err != nil {
			return fmt.Errorf("derive: %w", err)
		}
		n.out = shape
	}
	v, err := n.compute(rec)
	if err != nil {
		return err
	}
	derived, err := metadata.NewRecord(n.out, append(rec.Values(), v)...)
	if err != nil {
		return err
	}
	return out.Emit(graph.DefaultOutput, derived)
}

func (n *Derive) Finalize(context.Context, graph.Emitter) error { return nil }
