package graph

import (
	"context"

	"github.com/ironman-/brewery/metadata"
)

// fakeNode is a minimal Node for structural tests. Slots and attribute
// schema are configurable per test.
type fakeNode struct {
	info    NodeInfo
	inputs  []SlotSpec
	outputs []SlotSpec
	attrs   map[string]any
}

func newFakeNode(typ string) *fakeNode {
	return &fakeNode{
		info: NodeInfo{
			Type: typ,
			Attributes: []AttrSpec{
				{Name: "path"},
				{Name: "dsn"},
				{Name: "limit"},
			},
		},
		inputs:  []SlotSpec{{Name: DefaultInput}},
		outputs: []SlotSpec{{Name: DefaultOutput}},
		attrs:   make(map[string]any),
	}
}

func (n *fakeNode) withInputs(slots ...SlotSpec) *fakeNode {
	n.inputs = slots
	return n
}

func (n *fakeNode) withOutputs(slots ...SlotSpec) *fakeNode {
	n.outputs = slots
	return n
}

func (n *fakeNode) Info() NodeInfo          { return n.info }
func (n *fakeNode) InputSlots() []SlotSpec  { return n.inputs }
func (n *fakeNode) OutputSlots() []SlotSpec { return n.outputs }

func (n *fakeNode) SetAttribute(name string, value any) error {
	n.attrs[name] = value
	return nil
}

func (n *fakeNode) Open(inputs map[string]*metadata.FieldList) (map[string]*metadata.FieldList, error) {
	out := make(map[string]*metadata.FieldList)
	for _, s := range n.outputs {
		out[s.Name] = s.Fields
	}
	return out, nil
}

func (n *fakeNode) Process(ctx context.Context, slot string, rec metadata.Record, out Emitter) error {
	return out.Emit(DefaultOutput, rec)
}

func (n *fakeNode) Finalize(ctx context.Context, out Emitter) error { return nil }

func sourceNode(typ string) *fakeNode {
	return newFakeNode(typ).withInputs()
}

func sinkNode(typ string) *fakeNode {
	return newFakeNode(typ).withOutputs()
}
