package nodes

import (
	"context"
	"fmt"

	"github.com/ironman-/brewery/graph"
	"github.com/ironman-/brewery/metadata"
)

// Sample modes.
const (
	SampleFirst = "first" // pass the first size records
	SampleNth   = "nth"   // pass every size-th record
)

// Sample thins the stream: either the first N records or every Nth
// record. With discard set, the complement passes instead.
type Sample struct {
	mode    string
	size    int
	discard bool

	seen int
}

func NewSample() *Sample {
	return &Sample{mode: SampleFirst, size: 1000}
}

func (n *Sample) Info() graph.NodeInfo {
	return graph.NodeInfo{
		Type:        "sample",
		Label:       "Sample",
		Description: "Passes a subset of the stream",
		Attributes: []graph.AttrSpec{
			{Name: "mode", Label: "Mode", Description: "first or nth"},
			{Name: "size", Label: "Size", Description: "Record count (first) or period (nth)"},
			{Name: "discard", Label: "Discard", Description: "Pass the complement of the sample"},
		},
	}
}

func (n *Sample) InputSlots() []graph.SlotSpec {
	return []graph.SlotSpec{{Name: graph.DefaultInput}}
}

func (n *Sample) OutputSlots() []graph.SlotSpec {
	return []graph.SlotSpec{{Name: graph.DefaultOutput}}
}

func (n *Sample) SetAttribute(name string, value any) error {
	switch name {
	case "mode":
		s, err := attrString(name, value)
		if err != nil {
			return err
		}
		if s != SampleFirst && s != SampleNth {
			return fmt.Errorf("%w: mode must be %q or %q, got %q",
				graph.ErrBadAttribute, SampleFirst, SampleNth, s)
		}
		n.mode = s
		return nil
	case "size":
		v, err := attrInt(name, value)
		if err != nil {
			return err
		}
		if v < 1 {
			return fmt.Errorf("%w: size must be positive, got %d", graph.ErrBadAttribute, v)
		}
		n.size = v
		return nil
	case "discard":
		b, err := attrBool(name, value)
		if err != nil {
			return err
		}
		n.discard = b
		return nil
	default:
		return errUnknownAttr(n.Info(), name)
	}
}

func (n *Sample) Open(inputs map[string]*metadata.FieldList) (map[string]*metadata.FieldList, error) {
	n.seen = 0
	return map[string]*metadata.FieldList{graph.DefaultOutput: inputs[graph.DefaultInput]}, nil
}

func (n *Sample) Process(_ context.Context, _ string, rec metadata.Record, out graph.Emitter) error {
	n.seen++
	var inSample bool
	switch n.mode {
	case SampleNth:
		inSample = n.seen%n.size == 0
	default:
		inSample = n.seen <= n.size
	}
	if inSample == n.discard {
		return nil
	}
	return out.Emit(graph.DefaultOutput, rec)
}

func (n *Sample) Finalize(context.Context, graph.Emitter) error { return nil }
