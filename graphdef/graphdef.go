// Package graphdef loads serialized graph definitions. Documents are
// YAML; JSON works too since every JSON document is valid YAML.
//
// Definitions are treated as untrusted input: nodes are instantiated
// through a caller-supplied registry and configured without the
// authorization to override protected attributes, so values pinned by
// the host program stay pinned.
package graphdef

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ironman-/brewery/graph"
)

// Document is the serialized form of a graph.
type Document struct {
	Name        string    `yaml:"name,omitempty"`
	Description string    `yaml:"description,omitempty"`
	Nodes       []NodeDef `yaml:"nodes"`
	Connections []ConnDef `yaml:"connections"`
}

// NodeDef declares one node instance.
type NodeDef struct {
	ID     string         `yaml:"id"`
	Type   string         `yaml:"type"`
	Config map[string]any `yaml:"config,omitempty"`
}

// ConnDef declares one connection. Output and Input default to the
// standard slot names.
type ConnDef struct {
	From   string `yaml:"from"`
	To     string `yaml:"to"`
	Output string `yaml:"output,omitempty"`
	Input  string `yaml:"input,omitempty"`
}

// Parse decodes a document from r.
func Parse(r io.Reader) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parsing graph definition: %w", err)
	}
	return &doc, nil
}

// Build instantiates the document's nodes through the registry and
// assembles the graph. The graph is not validated; call Validate when
// the caller is done augmenting it.
func Build(reg *graph.Registry, doc *Document) (*graph.Graph, error) {
	g := graph.New()
	for _, nd := range doc.Nodes {
		if nd.Type == "" {
			return nil, fmt.Errorf("node %q: no type given", nd.ID)
		}
		n, err := reg.New(nd.Type)
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", nd.ID, err)
		}
		if err := g.AddNode(graph.NodeID(nd.ID), n); err != nil {
			return nil, err
		}
		if len(nd.Config) > 0 {
			if err := g.Configure(graph.NodeID(nd.ID), nd.Config); err != nil {
				return nil, err
			}
		}
	}
	for _, cd := range doc.Connections {
		out := cd.Output
		if out == "" {
			out = graph.DefaultOutput
		}
		in := cd.Input
		if in == "" {
			in = graph.DefaultInput
		}
		if _, err := g.Connect(graph.NodeID(cd.From), out, graph.NodeID(cd.To), in); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Load reads, parses and builds a definition file.
func Load(reg *graph.Registry, path string) (*graph.Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("loading graph definition: %w", err)
	}
	defer f.Close()
	doc, err := Parse(f)
	if err != nil {
		return nil, err
	}
	return Build(reg, doc)
}
