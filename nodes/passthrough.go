package nodes

import (
	"context"

	"github.com/ironman-/brewery/graph"
	"github.com/ironman-/brewery/metadata"
)

// Passthrough forwards every record unchanged. Useful as a placeholder
// while building a pipeline and as a probe attachment point.
type Passthrough struct{}

func NewPassthrough() *Passthrough { return &Passthrough{} }

func (p *Passthrough) Info() graph.NodeInfo {
	return graph.NodeInfo{
		Type:        "passthrough",
		Label:       "Pass-through",
		Description: "Forwards records unchanged",
	}
}

func (p *Passthrough) InputSlots() []graph.SlotSpec {
	return []graph.SlotSpec{{Name: graph.DefaultInput}}
}

func (p *Passthrough) OutputSlots() []graph.SlotSpec {
	return []graph.SlotSpec{{Name: graph.DefaultOutput}}
}

func (p *Passthrough) SetAttribute(name string, value any) error {
	return errUnknownAttr(p.Info(), name)
}

func (p *Passthrough) Open(inputs map[string]*metadata.FieldList) (map[string]*metadata.FieldList, error) {
	return map[string]*metadata.FieldList{graph.DefaultOutput: inputs[graph.DefaultInput]}, nil
}

func (p *Passthrough) Process(_ context.Context, _ string, rec metadata.Record, out graph.Emitter) error {
	return out.Emit(graph.DefaultOutput, rec)
}

func (p *Passthrough) Finalize(context.Context, graph.Emitter) error { return nil }
