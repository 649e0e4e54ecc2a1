package graph

import (
	"errors"
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestNodeIDValidate(t *testing.T) {
	assert.NoError(t, NodeID("source-1").Validate())
	assert.True(t, errors.Is(NodeID("").Validate(), ErrInvalidNodeID))
	assert.True(t, errors.Is(NodeID("has space").Validate(), ErrInvalidNodeID))
}

func TestAddNode(t *testing.T) {
	t.Run("insertion order", func(t *testing.T) {
		g := New()
		assert.NoError(t, g.AddNode("a", sourceNode("src")))
		assert.NoError(t, g.AddNode("b", newFakeNode("mid")))
		assert.Equal(t, []NodeID{"a", "b"}, g.Nodes())

		n, ok := g.Node("a")
		assert.True(t, ok)
		assert.Equal(t, "src", n.Info().Type)
	})

	t.Run("duplicate ID", func(t *testing.T) {
		g := New()
		assert.NoError(t, g.AddNode("a", sourceNode("src")))
		err := g.AddNode("a", sourceNode("src"))
		assert.True(t, errors.Is(err, ErrNodeAlreadyExists))
	})

	t.Run("invalid ID", func(t *testing.T) {
		g := New()
		err := g.AddNode("", sourceNode("src"))
		assert.True(t, errors.Is(err, ErrInvalidNodeID))
	})
}

func TestConnect(t *testing.T) {
	build := func() *Graph {
		g := New()
		assert := func(err error) {
			if err != nil {
				panic(err)
			}
		}
		assert(g.AddNode("src", sourceNode("source")))
		assert(g.AddNode("mid", newFakeNode("transform")))
		assert(g.AddNode("sink", sinkNode("target")))
		return g
	}

	t.Run("valid chain", func(t *testing.T) {
		g := build()
		c1, err := g.Link("src", "mid")
		assert.NoError(t, err)
		assert.Equal(t, NodeID("src"), c1.Source)

		_, err = g.Link("mid", "sink")
		assert.NoError(t, err)

		assert.Equal(t, 2, len(g.Connections()))
		assert.Equal(t, 1, len(g.Incoming("mid")))
		assert.Equal(t, 1, len(g.Outgoing("mid")))
	})

	t.Run("unknown node", func(t *testing.T) {
		g := build()
		_, err := g.Link("nope", "sink")
		assert.True(t, errors.Is(err, ErrNodeNotFound))
	})

	t.Run("unknown slot", func(t *testing.T) {
		g := build()
		_, err := g.Connect("src", "side", "sink", DefaultInput)
		assert.True(t, errors.Is(err, ErrSlotNotFound))
	})

	t.Run("fan-in rejected", func(t *testing.T) {
		g := build()
		_, err := g.Link("src", "sink")
		assert.NoError(t, err)
		_, err = g.Link("mid", "sink")
		assert.True(t, errors.Is(err, ErrFanIn))
	})

	t.Run("fan-out permitted", func(t *testing.T) {
		g := build()
		_, err := g.Link("src", "mid")
		assert.NoError(t, err)
		_, err = g.Link("src", "sink")
		assert.NoError(t, err)
		assert.Equal(t, 2, len(g.Outgoing("src")))
	})
}

func TestRegistry(t *testing.T) {
	t.Run("register and create", func(t *testing.T) {
		r := NewRegistry()
		assert.NoError(t, r.Register("fake", func() Node { return newFakeNode("fake") }))

		n, err := r.New("fake")
		assert.NoError(t, err)
		assert.Equal(t, "fake", n.Info().Type)
	})

	t.Run("duplicate type", func(t *testing.T) {
		r := NewRegistry()
		assert.NoError(t, r.Register("fake", func() Node { return newFakeNode("fake") }))
		err := r.Register("fake", func() Node { return newFakeNode("fake") })
		assert.True(t, errors.Is(err, ErrTypeAlreadyRegistered))
	})

	t.Run("unknown type", func(t *testing.T) {
		r := NewRegistry()
		_, err := r.New("nope")
		assert.True(t, errors.Is(err, ErrUnknownNodeType))
	})

	t.Run("types sorted", func(t *testing.T) {
		r := NewRegistry()
		r.MustRegister("zeta", func() Node { return newFakeNode("zeta") })
		r.MustRegister("alpha", func() Node { return newFakeNode("alpha") })
		assert.Equal(t, []string{"alpha", "zeta"}, r.Types())
	})
}
