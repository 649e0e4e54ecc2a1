package graph

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/ironman-/brewery/metadata"
)

// Validate performs all structural checks on the graph: cycle detection,
// field compatibility on connections with declared shapes, and
// connectivity of required input slots. It returns the first error found.
// A graph that validates cleanly is ready for the execution engine.
func (g *Graph) Validate() error {
	if err := g.detectCycles(); err != nil {
		return err
	}
	if err := g.validateFieldCompatibility(); err != nil {
		return err
	}
	return g.validateInputsConnected()
}

// detectCycles runs DFS with a recursion stack over the connection
// relation. The error message carries the offending path.
func (g *Graph) detectCycles() error {
	children := make(map[NodeID][]NodeID, len(g.nodes))
	for _, c := range g.conns {
		children[c.Source] = append(children[c.Source], c.Target)
	}

	visited := make(map[NodeID]bool, len(g.nodes))
	recStack := make(map[NodeID]bool, len(g.nodes))

	var dfs func(NodeID, []NodeID) error
	dfs = func(id NodeID, path []NodeID) error {
		visited[id] = true
		recStack[id] = true
		path = append(path, id)

		for _, child := range children[id] {
			if !visited[child] {
				if err := dfs(child, path); err != nil {
					return err
				}
			} else if recStack[child] {
				cycle := append(path, child)
				parts := make([]string, len(cycle))
				for i, n := range cycle {
					parts[i] = string(n)
				}
				return fmt.Errorf("%w: %s", ErrCycleDetected, strings.Join(parts, " -> "))
			}
		}

		recStack[id] = false
		return nil
	}

	// Insertion order keeps error messages deterministic across runs.
	for _, id := range g.order {
		if !visited[id] {
			if err := dfs(id, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// validateFieldCompatibility checks every connection whose endpoints both
// declare concrete shapes: the target's expected field names must be a
// subset of the source's produced names, with matching storage types.
// Shapes left unknown are deferred to runtime inference.
func (g *Graph) validateFieldCompatibility() error {
	for _, c := range g.conns {
		src := g.nodes[c.Source].impl
		dst := g.nodes[c.Target].impl

		outSpec, _ := FindSlot(src.OutputSlots(), c.OutputSlot)
		inSpec, _ := FindSlot(dst.InputSlots(), c.InputSlot)
		if outSpec.Fields == nil || inSpec.Fields == nil {
			continue
		}
		if err := CompatibleFields(outSpec.Fields, inSpec.Fields); err != nil {
			return fmt.Errorf("connection %s: %w", c, err)
		}
	}
	return nil
}

// CompatibleFields reports whether records shaped like produced satisfy
// a consumer expecting expected: every expected name must be produced,
// with an agreeing storage type. Unknown storage on either side matches
// anything.
func CompatibleFields(produced, expected *metadata.FieldList) error {
	for _, name := range expected.Names() {
		want, _ := expected.Field(name)
		got, err := produced.Field(name)
		if err != nil {
			return fmt.Errorf("%w: expected field %q not produced (produced: %s)",
				ErrTypeMismatch, name, produced)
		}
		if want.StorageType != metadata.Unknown &&
			got.StorageType != metadata.Unknown &&
			want.StorageType != got.StorageType {
			return fmt.Errorf("%w: field %q expected %s, produced %s",
				ErrTypeMismatch, name, want.StorageType, got.StorageType)
		}
	}
	return nil
}

// validateInputsConnected verifies that every input slot not marked
// optional has exactly one incoming connection. Fan-in is already
// rejected at Connect time.
func (g *Graph) validateInputsConnected() error {
	for _, id := range g.order {
		node := g.nodes[id].impl
		for _, slot := range node.InputSlots() {
			if slot.Optional {
				continue
			}
			connected := false
			for _, c := range g.conns {
				if c.Target == id && c.InputSlot == slot.Name {
					connected = true
					break
				}
			}
			if !connected {
				return fmt.Errorf("%w: node %s slot %q", ErrUnconnectedInput, id, slot.Name)
			}
		}
	}
	return nil
}

// TopologicalOrder returns the node IDs in a deterministic topological
// ordering using Kahn's algorithm. Ties are broken by sorted node ID so
// repeated calls on equal graphs agree.
func (g *Graph) TopologicalOrder() ([]NodeID, error) {
	inDegree := make(map[NodeID]int, len(g.nodes))
	children := make(map[NodeID][]NodeID, len(g.nodes))
	for _, id := range g.order {
		inDegree[id] = 0
	}
	for _, c := range g.conns {
		children[c.Source] = append(children[c.Source], c.Target)
		inDegree[c.Target]++
	}

	var queue []NodeID
	for _, id := range g.order {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	slices.Sort(queue)

	result := make([]NodeID, 0, len(g.nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		result = append(result, id)

		kids := slices.Clone(children[id])
		slices.Sort(kids)
		for _, child := range kids {
			inDegree[child]--
			if inDegree[child] == 0 {
				queue = insertSorted(queue, child)
			}
		}
	}

	if len(result) != len(g.nodes) {
		return nil, fmt.Errorf("%w: topological sort failed", ErrCycleDetected)
	}
	return result, nil
}

// insertSorted inserts an item into a sorted slice maintaining sort
// order, cheaper than re-sorting the queue on every push.
func insertSorted(slice []NodeID, item NodeID) []NodeID {
	idx := sort.Search(len(slice), func(i int) bool {
		return slice[i] >= item
	})
	return slices.Insert(slice, idx, item)
}
