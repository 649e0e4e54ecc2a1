package graph

import (
	"fmt"
	"io"
)

// WriteDOT renders the graph in Graphviz DOT form for external
// visualization. Nodes and edges appear in insertion order so the output
// is stable.
func WriteDOT(w io.Writer, g *Graph, name string) error {
	if name == "" {
		name = "stream"
	}
	if _, err := fmt.Fprintf(w, "digraph %q {\n", name); err != nil {
		return err
	}
	for _, id := range g.Nodes() {
		node, _ := g.Node(id)
		// Node IDs contain no whitespace or quotes, plain quoting is safe.
		if _, err := fmt.Fprintf(w, "  \"%s\" [label=\"%s\\n(%s)\"];\n", id, id, node.Info().Type); err != nil {
			return err
		}
	}
	for _, c := range g.Connections() {
		edgeLabel := ""
		if c.OutputSlot != DefaultOutput || c.InputSlot != DefaultInput {
			edgeLabel = fmt.Sprintf(" [label=\"%s/%s\"]", c.OutputSlot, c.InputSlot)
		}
		if _, err := fmt.Fprintf(w, "  \"%s\" -> \"%s\"%s;\n", c.Source, c.Target, edgeLabel); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, "}")
	return err
}
