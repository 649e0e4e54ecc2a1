package graph

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidNodeID      = errors.New("invalid node ID")
	ErrNodeAlreadyExists  = errors.New("node already exists")
	ErrNodeNotFound       = errors.New("node not found")
	ErrSlotNotFound       = errors.New("slot not found")
	ErrFanIn              = errors.New("input slot already connected")
	ErrCycleDetected      = errors.New("cycle detected in graph")
	ErrTypeMismatch       = errors.New("field type mismatch")
	ErrUnconnectedInput   = errors.New("required input not connected")
	ErrUnknownAttribute   = errors.New("unknown attribute")
	ErrBadAttribute       = errors.New("bad attribute value")
	ErrProtectedAttribute = errors.New("attribute is protected")
)

// Connection is a directed edge from an output slot of one node to an
// input slot of another. Its field list is fixed once the first record
// traverses it at run time.
type Connection struct {
	Source     NodeID
	OutputSlot string
	Target     NodeID
	InputSlot  string

	probe Probe
}

// AttachProbe attaches a passive observer to the connection. Must be
// called before the run starts.
func (c *Connection) AttachProbe(p Probe) {
	c.probe = p
}

// Probe returns the attached probe, or nil.
func (c *Connection) Probe() Probe {
	return c.probe
}

func (c *Connection) String() string {
	return fmt.Sprintf("%s:%s -> %s:%s", c.Source, c.OutputSlot, c.Target, c.InputSlot)
}

type graphNode struct {
	id        NodeID
	impl      Node
	protected map[string]struct{}
}

// Graph is the directed acyclic graph of nodes and connections defining
// a pipeline. It is built incrementally, validated once, and immutable
// during a run.
//
// Graph is not safe for concurrent mutation; the read accessors are safe
// once building is done.
type Graph struct {
	nodes map[NodeID]*graphNode
	order []NodeID
	conns []*Connection
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{nodes: make(map[NodeID]*graphNode)}
}

// AddNode attaches a node to the graph under the given ID. The graph
// takes ownership of the node.
func (g *Graph) AddNode(id NodeID, n Node) error {
	if err := id.Validate(); err != nil {
		return err
	}
	if _, exists := g.nodes[id]; exists {
		return fmt.Errorf("%w: %s", ErrNodeAlreadyExists, id)
	}
	g.nodes[id] = &graphNode{id: id, impl: n, protected: make(map[string]struct{})}
	g.order = append(g.order, id)
	return nil
}

// Node returns the node registered under id.
func (g *Graph) Node(id NodeID) (Node, bool) {
	gn, ok := g.nodes[id]
	if !ok {
		return nil, false
	}
	return gn.impl, true
}

// Nodes returns all node IDs in insertion order. The slice is a copy;
// callers may not mutate the graph through it.
func (g *Graph) Nodes() []NodeID {
	out := make([]NodeID, len(g.order))
	copy(out, g.order)
	return out
}

// Connections returns all connections in insertion order.
func (g *Graph) Connections() []*Connection {
	out := make([]*Connection, len(g.conns))
	copy(out, g.conns)
	return out
}

// Connect adds a directed connection from an output slot of src to an
// input slot of dst. Fan-out from one output slot is permitted; a second
// connection into the same input slot is rejected with ErrFanIn.
func (g *Graph) Connect(src NodeID, outSlot string, dst NodeID, inSlot string) (*Connection, error) {
	srcNode, ok := g.nodes[src]
	if !ok {
		return nil, fmt.Errorf("%w: source %s", ErrNodeNotFound, src)
	}
	dstNode, ok := g.nodes[dst]
	if !ok {
		return nil, fmt.Errorf("%w: target %s", ErrNodeNotFound, dst)
	}
	if _, ok := FindSlot(srcNode.impl.OutputSlots(), outSlot); !ok {
		return nil, fmt.Errorf("%w: node %s has no output slot %q", ErrSlotNotFound, src, outSlot)
	}
	if _, ok := FindSlot(dstNode.impl.InputSlots(), inSlot); !ok {
		return nil, fmt.Errorf("%w: node %s has no input slot %q", ErrSlotNotFound, dst, inSlot)
	}
	for _, c := range g.conns {
		if c.Target == dst && c.InputSlot == inSlot {
			return nil, fmt.Errorf("%w: %s:%s already fed by %s:%s",
				ErrFanIn, dst, inSlot, c.Source, c.OutputSlot)
		}
	}
	conn := &Connection{Source: src, OutputSlot: outSlot, Target: dst, InputSlot: inSlot}
	g.conns = append(g.conns, conn)
	return conn, nil
}

// Link connects the default output slot of src to the default input slot
// of dst.
func (g *Graph) Link(src, dst NodeID) (*Connection, error) {
	return g.Connect(src, DefaultOutput, dst, DefaultInput)
}

// Incoming returns the connections feeding node id, in insertion order.
func (g *Graph) Incoming(id NodeID) []*Connection {
	var out []*Connection
	for _, c := range g.conns {
		if c.Target == id {
			out = append(out, c)
		}
	}
	return out
}

// Outgoing returns the connections leaving node id, in insertion order.
func (g *Graph) Outgoing(id NodeID) []*Connection {
	var out []*Connection
	for _, c := range g.conns {
		if c.Source == id {
			out = append(out, c)
		}
	}
	return out
}
