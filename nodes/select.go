package nodes

import (
	"context"
	"fmt"

	"github.com/ironman-/brewery/graph"
	"github.com/ironman-/brewery/metadata"
)

// Predicate decides whether a record passes a Select node.
type Predicate func(metadata.Record) (bool, error)

// Select keeps records matched by a predicate function. With discard
// set, the selection inverts and matching records are dropped instead.
// The predicate is injected programmatically; Select carries no
// expression language of its own.
type Select struct {
	predicate Predicate
	discard   bool
}

func NewSelect(p Predicate) *Select {
	return &Select{predicate: p}
}

func (n *Select) Info() graph.NodeInfo {
	return graph.NodeInfo{
		Type:        "select",
		Label:       "Select",
		Description: "Filters records by a predicate",
		Attributes: []graph.AttrSpec{
			{Name: "discard", Label: "Discard", Description: "Drop matching records instead of keeping them"},
		},
	}
}

func (n *Select) InputSlots() []graph.SlotSpec {
	return []graph.SlotSpec{{Name: graph.DefaultInput}}
}

func (n *Select) OutputSlots() []graph.SlotSpec {
	return []graph.SlotSpec{{Name: graph.DefaultOutput}}
}

func (n *Select) SetAttribute(name string, value any) error {
	switch name {
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

// SetPredicate injects the filter function.
func (n *Select) SetPredicate(p Predicate) {
	n.predicate = p
}

func (n *Select) Open(inputs map[string]*metadata.FieldList) (map[string]*metadata.FieldList, error) {
	if n.predicate == nil {
		return nil, fmt.Errorf("select: no predicate set")
	}
	return map[string]*metadata.FieldList{graph.DefaultOutput: inputs[graph.DefaultInput]}, nil
}

func (n *Select) Process(_ context.Context, _ string, rec metadata.Record, out graph.Emitter) error {
	keep, err := n.predicate(rec)
	if err != nil {
		return err
	}
	if keep == n.discard {
		return nil
	}
	return out.Emit(graph.DefaultOutput, rec)
}

func (n *Select) Finalize(context.Context, graph.Emitter) error { return nil }
