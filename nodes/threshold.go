package nodes

import (
	"context"
	"fmt"
	"sort"

	"github.com/ironman-/brewery/graph"
	"github.com/ironman-/brewery/metadata"
)

// ValueThreshold appends a bin name derived from comparing a numeric
// field against one or more ascending thresholds. One threshold yields
// low/high, two yield low/medium/high; custom bin names can be set.
// Each threshold is the inclusive lower bound of its bin.
type ValueThreshold struct {
	field      string
	thresholds []float64
	bins       []string
	prefix     string
	suffix     string

	idx int
	out *metadata.FieldList
}

func NewValueThreshold() *ValueThreshold {
	return &ValueThreshold{suffix: "_threshold", idx: -1}
}

func (n *ValueThreshold) Info() graph.NodeInfo {
	return graph.NodeInfo{
		Type:        "value_threshold",
		Label:       "Value Threshold",
		Description: "Bins numeric values against thresholds",
		Attributes: []graph.AttrSpec{
			{Name: "field", Label: "Field", Description: "Numeric field to bin", Required: true},
			{Name: "thresholds", Label: "Thresholds", Description: "Ascending bin boundaries", Required: true},
			{Name: "bins", Label: "Bins", Description: "Bin names, one more than thresholds"},
			{Name: "prefix", Label: "Prefix", Description: "Derived field name prefix"},
			{Name: "suffix", Label: "Suffix", Description: "Derived field name suffix"},
		},
	}
}

func (n *ValueThreshold) InputSlots() []graph.SlotSpec {
	return []graph.SlotSpec{{Name: graph.DefaultInput}}
}

func (n *ValueThreshold) OutputSlots() []graph.SlotSpec {
	return []graph.SlotSpec{{Name: graph.DefaultOutput}}
}

func (n *ValueThreshold) SetAttribute(name string, value any) error {
	switch name {
	case "field":
		s, err := attrString(name, value)
		if err != nil {
			return err
		}
		n.field = s
		return nil
	case "thresholds":
		ts, err := attrFloats(name, value)
		if err != nil {
			return err
		}
		if len(ts) == 0 {
			return fmt.Errorf("%w: at least one threshold required", graph.ErrBadAttribute)
		}
		if !sort.Float64sAreSorted(ts) {
			return fmt.Errorf("%w: thresholds must be ascending, got %v", graph.ErrBadAttribute, ts)
		}
		n.thresholds = ts
		return nil
	case "bins":
		names, err := attrStrings(name, value)
		if err != nil {
			return err
		}
		n.bins = names
		return nil
	case "prefix":
		return attrStringInto(&n.prefix, name, value)
	case "suffix":
		return attrStringInto(&n.suffix, name, value)
	default:
		return errUnknownAttr(n.Info(), name)
	}
}

func attrStringInto(dst *string, name string, value any) error {
	s, err := attrString(name, value)
	if err != nil {
		return err
	}
	*dst = s
	return nil
}

// defaultBins are the docstring names for one and two thresholds.
func defaultBins(thresholds int) []string {
	switch thresholds {
	case 1:
		return []string{"low", "high"}
	case 2:
		return []string{"low", "medium", "high"}
	default:
		return nil
	}
}

func (n *ValueThreshold) Open(inputs map[string]*metadata.FieldList) (map[string]*metadata.FieldList, error) {
	if n.field == "" {
		return nil, fmt.Errorf("value_threshold: no field set")
	}
	if len(n.thresholds) == 0 {
		return nil, fmt.Errorf("value_threshold: no thresholds set")
	}
	if n.bins == nil {
		n.bins = defaultBins(len(n.thresholds))
	}
	if len(n.bins) != len(n.thresholds)+1 {
		return nil, fmt.Errorf("value_threshold: %d thresholds need %d bin names, got %d",
			len(n.thresholds), len(n.thresholds)+1, len(n.bins))
	}
	n.idx = -1
	n.out = nil
	in := inputs[graph.DefaultInput]
	if in == nil {
		return map[string]*metadata.FieldList{graph.DefaultOutput: nil}, nil
	}
	out, err := n.bind(in)
	if err != nil {
		return nil, err
	}
	return map[string]*metadata.FieldList{graph.DefaultOutput: out}, nil
}

func (n *ValueThreshold) bind(in *metadata.FieldList) (*metadata.FieldList, error) {
	idx, ok := in.IndexOf(n.field)
	if !ok {
		return nil, fmt.Errorf("value_threshold: %w: %q", metadata.ErrUnknownField, n.field)
	}
	out := in.Clone()
	derived := metadata.NewField(n.prefix+n.field+n.suffix, metadata.String)
	if err := out.Append(derived); err != nil {
		return nil, fmt.Errorf("value_threshold: %w", err)
	}
	n.idx = idx
	n.out = out
	return out, nil
}

func (n *ValueThreshold) Process(_ context.Context, _ string, rec metadata.Record, out graph.Emitter) error {
	if n.out == nil {
		if _, err := n.bind(rec.Fields()); err != nil {
			return err
		}
	}
	v := rec.At(n.idx)
	bin := metadata.Missing
	if f, ok := v.AsFloat(); ok {
		i := 0
		for i < len(n.thresholds) && f >= n.thresholds[i] {
			i++
		}
		bin = metadata.StringValue(n.bins[i])
	}
	derived, err := metadata.NewRecord(n.out, append(rec.Values(), bin)...)
	if err != nil {
		return err
	}
	return out.Emit(graph.DefaultOutput, derived)
}

func (n *ValueThreshold) Finalize(context.Context, graph.Emitter) error { return nil }
