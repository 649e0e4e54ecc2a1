package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/ironman-/brewery/graph"
	"github.com/ironman-/brewery/metadata"
)

// Distinct passes the first record of every distinct key, where the key
// is the tuple of the configured key fields (all fields when none are
// configured). With discard set it passes only the duplicates instead,
// which turns the node into a duplicate detector.
type Distinct struct {
	keys    []string
	discard bool

	keyIdx []int
	seen   map[string]struct{}
}

func NewDistinct() *Distinct {
	return &Distinct{}
}

func (n *Distinct) Info() graph.NodeInfo {
	return graph.NodeInfo{
		Type:        "distinct",
		Label:       "Distinct",
		Description: "Passes one record per distinct key",
		Attributes: []graph.AttrSpec{
			{Name: "keys", Label: "Key fields", Description: "Fields forming the distinct key; all fields when empty"},
			{Name: "discard", Label: "Discard", Description: "Pass duplicates instead of distinct records"},
		},
	}
}

func (n *Distinct) InputSlots() []graph.SlotSpec {
	return []graph.SlotSpec{{Name: graph.DefaultInput}}
}

func (n *Distinct) OutputSlots() []graph.SlotSpec {
	return []graph.SlotSpec{{Name: graph.DefaultOutput}}
}

func (n *Distinct) SetAttribute(name string, value any) error {
	switch name {
	case "keys":
		keys, err := attrStrings(name, value)
		if err != nil {
			return err
		}
		n.keys = keys
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

func (n *Distinct) Open(inputs map[string]*metadata.FieldList) (map[string]*metadata.FieldList, error) {
	n.seen = make(map[string]struct{})
	n.keyIdx = nil
	in := inputs[graph.DefaultInput]
	if in != nil && len(n.keys) > 0 {
		idx, err := in.Indexes(n.keys...)
		if err != nil {
			return nil, fmt.Errorf("distinct: %w", err)
		}
		n.keyIdx = idx
	}
	return map[string]*metadata.FieldList{graph.DefaultOutput: in}, nil
}

func (n *Distinct) Process(_ context.Context, _ string, rec metadata.Record, out graph.Emitter) error {
	if n.keyIdx == nil && len(n.keys) > 0 {
		idx, err := rec.Fields().Indexes(n.keys...)
		if err != nil {
			return fmt.Errorf("distinct: %w", err)
		}
		n.keyIdx = idx
	}
	key := recordKey(rec, n.keyIdx)
	_, dup := n.seen[key]
	n.seen[key] = struct{}{}
	if dup != n.discard {
		return nil
	}
	return out.Emit(graph.DefaultOutput, rec)
}

func (n *Distinct) Finalize(context.Context, graph.Emitter) error { return nil }

// recordKey builds a map key from the values at idx, or all values when
// idx is nil.
func recordKey(rec metadata.Record, idx []int) string {
	var b strings.Builder
	if idx == nil {
		for i := 0; i < rec.Len(); i++ {
			fmt.Fprintf(&b, "%v\x00", rec.At(i).Any())
		}
		return b.String()
	}
	for _, i := range idx {
		fmt.Fprintf(&b, "%v\x00", rec.At(i).Any())
	}
	return b.String()
}
