package nodes

import (
	"context"
	"fmt"
	"math"

	"github.com/ironman-/brewery/graph"
	"github.com/ironman-/brewery/metadata"
)

// Binning modes.
const (
	BinFixedWidth = "width" // bins of a fixed width starting at zero
	BinFixedCount = "count" // a fixed number of equal bins over [min, max]
)

// Binning appends a histogram bucket label derived from a numeric
// field. Fixed-width mode buckets by multiples of the width; fixed-count
// mode splits a declared [min, max] range into equal bins, clamping
// out-of-range values into the edge bins.
type Binning struct {
	field string
	mode  string
	width float64
	count int
	min   float64
	max   float64

	idx int
	out *metadata.FieldList
}

func NewBinning() *Binning {
	return &Binning{mode: BinFixedWidth, idx: -1}
}

func (n *Binning) Info() graph.NodeInfo {
	return graph.NodeInfo{
		Type:        "binning",
		Label:       "Binning",
		Description: "Derives a histogram bucket from a numeric field",
		Attributes: []graph.AttrSpec{
			{Name: "field", Label: "Field", Description: "Numeric field to bucket", Required: true},
			{Name: "mode", Label: "Mode", Description: "width or count"},
			{Name: "width", Label: "Width", Description: "Bucket width (width mode)"},
			{Name: "bins", Label: "Bins", Description: "Bucket count (count mode)"},
			{Name: "min", Label: "Min", Description: "Range lower bound (count mode)"},
			{Name: "max", Label: "Max", Description: "Range upper bound (count mode)"},
		},
	}
}

func (n *Binning) InputSlots() []graph.SlotSpec {
	return []graph.SlotSpec{{Name: graph.DefaultInput}}
}

func (n *Binning) OutputSlots() []graph.SlotSpec {
	return []graph.SlotSpec{{Name: graph.DefaultOutput}}
}

func (n *Binning) SetAttribute(name string, value any) error {
	switch name {
	case "field":
		return attrStringInto(&n.field, name, value)
	case "mode":
		s, err := attrString(name, value)
		if err != nil {
			return err
		}
		if s != BinFixedWidth && s != BinFixedCount {
			return fmt.Errorf("%w: mode must be %q or %q, got %q",
				graph.ErrBadAttribute, BinFixedWidth, BinFixedCount, s)
		}
		n.mode = s
		return nil
	case "width":
		f, err := attrFloat(name, value)
		if err != nil {
			return err
		}
		if f <= 0 {
			return fmt.Errorf("%w: width must be positive, got %v", graph.ErrBadAttribute, f)
		}
		n.width = f
		return nil
	case "bins":
		v, err := attrInt(name, value)
		if err != nil {
			return err
		}
		if v < 1 {
			return fmt.Errorf("%w: bins must be positive, got %d", graph.ErrBadAttribute, v)
		}
		n.count = v
		return nil
	case "min":
		f, err := attrFloat(name, value)
		if err != nil {
			return err
		}
		n.min = f
		return nil
	case "max":
		f, err := attrFloat(name, value)
		if err != nil {
			return err
		}
		n.max = f
		return nil
	default:
		return errUnknownAttr(n.Info(), name)
	}
}

func (n *Binning) Open(inputs map[string]*metadata.FieldList) (map[string]*metadata.FieldList, error) {
	if n.field == "" {
		return nil, fmt.Errorf("binning: no field set")
	}
	switch n.mode {
	case BinFixedWidth:
		if n.width <= 0 {
			return nil, fmt.Errorf("binning: width mode requires a positive width")
		}
	case BinFixedCount:
		if n.count < 1 {
			return nil, fmt.Errorf("binning: count mode requires a positive bins attribute")
		}
		if n.max <= n.min {
			return nil, fmt.Errorf("binning: count mode requires min < max, got [%v, %v]", n.min, n.max)
		}
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

func (n *Binning) bind(in *metadata.FieldList) (*metadata.FieldList, error) {
	idx, ok := in.IndexOf(n.field)
	if !ok {
		return nil, fmt.Errorf("binning: %w: %q", metadata.ErrUnknownField, n.field)
	}
	out := in.Clone()
	if err := out.Append(metadata.NewField(n.field+"_bin", metadata.String)); err != nil {
		return nil, fmt.Errorf("binning: %w", err)
	}
	n.idx = idx
	n.out = out
	return out, nil
}

func (n *Binning) Process(_ context.Context, _ string, rec metadata.Record, out graph.Emitter) error {
	if n.out == nil {
		if _, err := n.bind(rec.Fields()); err != nil {
			return err
		}
	}
	bin := metadata.Missing
	if f, ok := rec.At(n.idx).AsFloat(); ok {
		lo, hi := n.bucket(f)
		bin = metadata.StringValue(fmt.Sprintf("%g..%g", lo, hi))
	}
	derived, err := metadata.NewRecord(n.out, append(rec.Values(), bin)...)
	if err != nil {
		return err
	}
	return out.Emit(graph.DefaultOutput, derived)
}

func (n *Binning) bucket(v float64) (lo, hi float64) {
	if n.mode == BinFixedCount {
		width := (n.max - n.min) / float64(n.count)
		i := int(math.Floor((v - n.min) / width))
		if i < 0 {
			i = 0
		}
		if i >= n.count {
			i = n.count - 1
		}
		lo = n.min + float64(i)*width
		return lo, lo + width
	}
	lo = math.Floor(v/n.width) * n.width
	return lo, lo + n.width
}

func (n *Binning) Finalize(context.Context, graph.Emitter) error { return nil }
