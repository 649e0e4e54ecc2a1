package execution

import (
	"context"
	"sync"

	"github.com/ironman-/brewery/graph"
	"github.com/ironman-/brewery/metadata"
)

// testNode is a configurable node for engine tests.
type testNode struct {
	info     graph.NodeInfo
	inSlots  []graph.SlotSpec
	outSlots []graph.SlotSpec

	processFn  func(ctx context.Context, slot string, rec metadata.Record, out graph.Emitter) error
	finalizeFn func(ctx context.Context, out graph.Emitter) error

	mu        sync.Mutex
	opened    bool
	finalized int
}

func (n *testNode) Info() graph.NodeInfo           { return n.info }
func (n *testNode) InputSlots() []graph.SlotSpec   { return n.inSlots }
func (n *testNode) OutputSlots() []graph.SlotSpec  { return n.outSlots }
func (n *testNode) SetAttribute(string, any) error { return nil }

func (n *testNode) Open(inputs map[string]*metadata.FieldList) (map[string]*metadata.FieldList, error) {
	n.mu.Lock()
	n.opened = true
	n.mu.Unlock()
	out := make(map[string]*metadata.FieldList)
	for _, s := range n.outSlots {
		if s.Fields != nil {
			out[s.Name] = s.Fields
			continue
		}
		// Pass the (single) input shape through by default.
		for _, in := range inputs {
			out[s.Name] = in
		}
	}
	return out, nil
}

func (n *testNode) Process(ctx context.Context, slot string, rec metadata.Record, out graph.Emitter) error {
	if n.processFn != nil {
		return n.processFn(ctx, slot, rec, out)
	}
	return out.Emit(graph.DefaultOutput, rec)
}

func (n *testNode) Finalize(ctx context.Context, out graph.Emitter) error {
	n.mu.Lock()
	n.finalized++
	n.mu.Unlock()
	if n.finalizeFn != nil {
		return n.finalizeFn(ctx, out)
	}
	return nil
}

func (n *testNode) wasOpened() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.opened
}

func newPassthrough() *testNode {
	return &testNode{
		info:     graph.NodeInfo{Type: "passthrough"},
		inSlots:  []graph.SlotSpec{{Name: graph.DefaultInput}},
		outSlots: []graph.SlotSpec{{Name: graph.DefaultOutput}},
	}
}

// testSource emits a fixed list of records.
type testSource struct {
	testNode
	records   []metadata.Record
	produceFn func(ctx context.Context, out graph.Emitter) error
}

func newSource(fields *metadata.FieldList, rows ...[]metadata.Value) *testSource {
	s := &testSource{
		testNode: testNode{
			info:     graph.NodeInfo{Type: "list_source"},
			outSlots: []graph.SlotSpec{{Name: graph.DefaultOutput, Fields: fields}},
		},
	}
	for _, row := range rows {
		s.records = append(s.records, metadata.MustRecord(fields, row...))
	}
	return s
}

func (s *testSource) Produce(ctx context.Context, out graph.Emitter) error {
	if s.produceFn != nil {
		return s.produceFn(ctx, out)
	}
	for _, rec := range s.records {
		if err := out.Emit(graph.DefaultOutput, rec); err != nil {
			return err
		}
	}
	return nil
}

// testSink collects every record it consumes.
type testSink struct {
	testNode

	mu      sync.Mutex
	records []metadata.Record
	consume func(rec metadata.Record) error
}

func newSink() *testSink {
	s := &testSink{
		testNode: testNode{
			info:    graph.NodeInfo{Type: "list_target"},
			inSlots: []graph.SlotSpec{{Name: graph.DefaultInput}},
		},
	}
	s.testNode.processFn = func(ctx context.Context, slot string, rec metadata.Record, out graph.Emitter) error {
		if s.consume != nil {
			if err := s.consume(rec); err != nil {
				return err
			}
		}
		s.mu.Lock()
		s.records = append(s.records, rec)
		s.mu.Unlock()
		return nil
	}
	return s
}

func (s *testSink) collected() []metadata.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]metadata.Record, len(s.records))
	copy(out, s.records)
	return out
}

func idValFields() *metadata.FieldList {
	return metadata.MustFieldList(
		metadata.NewField("id", metadata.Integer),
		metadata.NewField("val", metadata.Float),
	)
}

func intRows(n int) [][]metadata.Value {
	rows := make([][]metadata.Value, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, []metadata.Value{
			metadata.IntValue(int64(i)),
			metadata.FloatValue(float64(i) / 2),
		})
	}
	return rows
}
