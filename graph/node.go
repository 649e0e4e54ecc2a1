package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/ironman-/brewery/metadata"
)

// Default slot names. Most nodes have exactly one input and one output
// slot and use these.
const (
	DefaultInput  = "in"
	DefaultOutput = "out"
)

// NodeID is a strongly-typed identifier for graph nodes. NodeIDs must be
// non-empty and cannot contain whitespace.
type NodeID string

// Validate checks if the NodeID is valid.
func (id NodeID) Validate() error {
	if id == "" {
		return fmt.Errorf("%w: node ID cannot be empty", ErrInvalidNodeID)
	}
	if strings.ContainsAny(string(id), " \t\n\r") {
		return fmt.Errorf("%w: node ID %q cannot contain whitespace", ErrInvalidNodeID, id)
	}
	return nil
}

// SlotSpec declares one input or output slot of a node.
type SlotSpec struct {
	Name string

	// Fields declares the shape expected (input) or produced (output) on
	// the slot. nil means unknown until runtime inference.
	Fields *metadata.FieldList

	// Optional marks an input slot that may be left unconnected.
	Optional bool
}

// AttrSpec describes one recognized configuration attribute of a node
// type. Configure rejects attributes a node does not declare.
type AttrSpec struct {
	Name        string
	Label       string
	Description string
	Required    bool
}

// NodeInfo describes a node type: its registry key, display metadata and
// configuration schema.
type NodeInfo struct {
	Type        string
	Label       string
	Description string
	Attributes  []AttrSpec

	// Retryable nodes get their failed Process calls retried by the
	// engine up to the configured budget before the failure is fatal.
	Retryable bool
}

// Attribute returns the spec for the named attribute.
func (i NodeInfo) Attribute(name string) (AttrSpec, bool) {
	for _, a := range i.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return AttrSpec{}, false
}

// Emitter routes records produced by a node to its output slots. The
// engine supplies the implementation; emitting blocks when a downstream
// channel is full.
type Emitter interface {
	Emit(slot string, rec metadata.Record) error
}

// Node is the processing contract every node type implements. Nodes are
// configured before the run, bound to their actual input shapes by Open,
// fed records through Process and flushed exactly once by Finalize.
//
// A node is owned by the graph it is attached to and must not be shared
// between graphs or runs.
type Node interface {
	Info() NodeInfo
	InputSlots() []SlotSpec
	OutputSlots() []SlotSpec

	// SetAttribute applies one configuration attribute. Implementations
	// validate the attribute name and value type and return
	// ErrUnknownAttribute or ErrBadAttribute accordingly. Protection of
	// attributes is enforced by the owning Graph, not by the node.
	SetAttribute(name string, value any) error

	// Open binds the node to the resolved shapes of its connected input
	// slots (nil entries mean unknown) and returns the shapes produced
	// on its output slots (nil entries allowed for runtime inference).
	// Called once, before any Process call.
	Open(inputs map[string]*metadata.FieldList) (map[string]*metadata.FieldList, error)

	// Process handles one record arriving on the given input slot,
	// emitting any derived records. Source nodes never receive Process
	// calls.
	Process(ctx context.Context, slot string, rec metadata.Record, out Emitter) error

	// Finalize flushes buffered output and releases resources. It is
	// called exactly once per run on end-of-stream, and must tolerate a
	// second call on abort paths.
	Finalize(ctx context.Context, out Emitter) error
}

// Source is implemented by nodes that originate records. The engine
// calls Produce once; it returns after emitting the node's full output.
type Source interface {
	Node
	Produce(ctx context.Context, out Emitter) error
}

// Probe passively observes records crossing a connection, accumulating
// derived field metadata. Observe must not fail; implementations swallow
// internal errors rather than perturbing the flow. A probe's state may
// be read concurrently only after the run finished.
type Probe interface {
	Observe(rec metadata.Record)

	// Finish marks the observed stream as complete.
	Finish()
}

// FindSlot returns the slot with the given name from specs.
func FindSlot(specs []SlotSpec, name string) (SlotSpec, bool) {
	for _, s := range specs {
		if s.Name == name {
			return s, true
		}
	}
	return SlotSpec{}, false
}
