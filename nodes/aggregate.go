package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/ironman-/brewery/graph"
	"github.com/ironman-/brewery/metadata"
)

// Aggregate measure operations.
const (
	AggSum     = "sum"
	AggMin     = "min"
	AggMax     = "max"
	AggAverage = "average"
)

// Measure is one aggregated value over a numeric field.
type Measure struct {
	Field string
	Op    string
}

func (m Measure) name() string { return m.Field + "_" + m.Op }

// Aggregate groups the stream by key fields and computes numeric
// measures per group, plus a record count. Groups buffer until
// end-of-stream and are emitted by Finalize in first-seen order. With
// no key fields the whole stream forms a single group.
type Aggregate struct {
	keys     []string
	measures []Measure
	count    bool

	keyIdx     []int
	measureIdx []int
	out        *metadata.FieldList

	groups map[string]*group
	order  []string
}

type group struct {
	keyValues []metadata.Value
	sums      []float64
	mins      []float64
	maxs      []float64
	nonNull   []int64
	records   int64
}

func NewAggregate() *Aggregate {
	return &Aggregate{count: true}
}

func (n *Aggregate) Info() graph.NodeInfo {
	return graph.NodeInfo{
		Type:        "aggregate",
		Label:       "Aggregate",
		Description: "Groups records and computes numeric measures",
		Attributes: []graph.AttrSpec{
			{Name: "keys", Label: "Key fields", Description: "Group-by fields; a single group when empty"},
			{Name: "measures", Label: "Measures", Description: "Shorthands like amount:sum, amount:average"},
			{Name: "record_count", Label: "Record count", Description: "Include a record_count field"},
		},
	}
}

func (n *Aggregate) InputSlots() []graph.SlotSpec {
	return []graph.SlotSpec{{Name: graph.DefaultInput}}
}

func (n *Aggregate) OutputSlots() []graph.SlotSpec {
	return []graph.SlotSpec{{Name: graph.DefaultOutput, Fields: n.out}}
}

func (n *Aggregate) SetAttribute(name string, value any) error {
	switch name {
	case "keys":
		keys, err := attrStrings(name, value)
		if err != nil {
			return err
		}
		n.keys = keys
		return nil
	case "measures":
		specs, err := attrStrings(name, value)
		if err != nil {
			return err
		}
		measures := make([]Measure, 0, len(specs))
		for _, spec := range specs {
			m, err := parseMeasure(spec)
			if err != nil {
				return err
			}
			measures = append(measures, m)
		}
		n.measures = measures
		return nil
	case "record_count":
		b, err := attrBool(name, value)
		if err != nil {
			return err
		}
		n.count = b
		return nil
	default:
		return errUnknownAttr(n.Info(), name)
	}
}

// AddMeasure appends one measure.
func (n *Aggregate) AddMeasure(field, op string) error {
	m := Measure{Field: field, Op: op}
	if !validAggOp(op) {
		return fmt.Errorf("%w: unknown aggregate op %q", graph.ErrBadAttribute, op)
	}
	n.measures = append(n.measures, m)
	return nil
}

// SetKeys sets the group-by fields.
func (n *Aggregate) SetKeys(keys ...string) {
	n.keys = keys
}

func parseMeasure(spec string) (Measure, error) {
	field, op, ok := strings.Cut(spec, ":")
	if !ok || field == "" {
		return Measure{}, fmt.Errorf("%w: measure %q, want field:op", graph.ErrBadAttribute, spec)
	}
	if !validAggOp(op) {
		return Measure{}, fmt.Errorf("%w: unknown aggregate op %q", graph.ErrBadAttribute, op)
	}
	return Measure{Field: field, Op: op}, nil
}

func validAggOp(op string) bool {
	switch op {
	case AggSum, AggMin, AggMax, AggAverage:
		return true
	}
	return false
}

func (n *Aggregate) Open(inputs map[string]*metadata.FieldList) (map[string]*metadata.FieldList, error) {
	in := inputs[graph.DefaultInput]
	if in == nil {
		return nil, fmt.Errorf("aggregate: input shape must be known")
	}

	keyIdx, err := in.Indexes(n.keys...)
	if err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}
	n.keyIdx = keyIdx

	n.measureIdx = n.measureIdx[:0]
	for _, m := range n.measures {
		i, ok := in.IndexOf(m.Field)
		if !ok {
			return nil, fmt.Errorf("aggregate: %w: %q", metadata.ErrUnknownField, m.Field)
		}
		n.measureIdx = append(n.measureIdx, i)
	}

	out := &metadata.FieldList{}
	for _, i := range keyIdx {
		if err := out.Append(in.At(i)); err != nil {
			return nil, fmt.Errorf("aggregate: %w", err)
		}
	}
	for _, m := range n.measures {
		if err := out.Append(metadata.NewField(m.name(), metadata.Float)); err != nil {
			return nil, fmt.Errorf("aggregate: %w", err)
		}
	}
	if n.count {
		if err := out.Append(metadata.NewField("record_count", metadata.Integer)); err != nil {
			return nil, fmt.Errorf("aggregate: %w", err)
		}
	}
	n.out = out
	n.groups = make(map[string]*group)
	n.order = nil

	return map[string]*metadata.FieldList{graph.DefaultOutput: out}, nil
}

func (n *Aggregate) Process(_ context.Context, _ string, rec metadata.Record, _ graph.Emitter) error {
	key := recordKey(rec, n.keyIdx)
	g, ok := n.groups[key]
	if !ok {
		g = &group{
			sums:    make([]float64, len(n.measures)),
			mins:    make([]float64, len(n.measures)),
			maxs:    make([]float64, len(n.measures)),
			nonNull: make([]int64, len(n.measures)),
		}
		for _, i := range n.keyIdx {
			g.keyValues = append(g.keyValues, rec.At(i))
		}
		n.groups[key] = g
		n.order = append(n.order, key)
	}

	g.records++
	for mi, ri := range n.measureIdx {
		f, ok := rec.At(ri).AsFloat()
		if !ok {
			// Missing or non-numeric values do not contribute.
			continue
		}
		if g.nonNull[mi] == 0 || f < g.mins[mi] {
			g.mins[mi] = f
		}
		if g.nonNull[mi] == 0 || f > g.maxs[mi] {
			g.maxs[mi] = f
		}
		g.sums[mi] += f
		g.nonNull[mi]++
	}
	return nil
}

func (n *Aggregate) Finalize(_ context.Context, out graph.Emitter) error {
	for _, key := range n.order {
		g := n.groups[key]
		values := append([]metadata.Value{}, g.keyValues...)
		for mi, m := range n.measures {
			values = append(values, measureValue(m.Op, g, mi))
		}
		if n.count {
			values = append(values, metadata.IntValue(g.records))
		}
		rec, err := metadata.NewRecord(n.out, values...)
		if err != nil {
			return err
		}
		if err := out.Emit(graph.DefaultOutput, rec); err != nil {
			return err
		}
	}
	n.groups = nil
	n.order = nil
	return nil
}

func measureValue(op string, g *group, mi int) metadata.Value {
	if g.nonNull[mi] == 0 {
		return metadata.Missing
	}
	switch op {
	case AggMin:
		return metadata.FloatValue(g.mins[mi])
	case AggMax:
		return metadata.FloatValue(g.maxs[mi])
	case AggAverage:
		return metadata.FloatValue(g.sums[mi] / float64(g.nonNull[mi]))
	default:
		return metadata.FloatValue(g.sums[mi])
	}
}
