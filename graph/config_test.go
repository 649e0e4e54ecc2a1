package graph

import (
	"errors"
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestConfigure(t *testing.T) {
	setup := func() (*Graph, *fakeNode) {
		g := New()
		n := sourceNode("source")
		if err := g.AddNode("src", n); err != nil {
			t.Fatal(err)
		}
		return g, n
	}

	t.Run("applies declared attributes", func(t *testing.T) {
		g, n := setup()
		err := g.Configure("src", map[string]any{"path": "/tmp/in.csv", "limit": 10})
		assert.NoError(t, err)
		assert.Equal(t, "/tmp/in.csv", n.attrs["path"])
		assert.Equal(t, 10, n.attrs["limit"].(int))
	})

	t.Run("unknown attribute", func(t *testing.T) {
		g, _ := setup()
		err := g.Configure("src", map[string]any{"bogus": 1})
		assert.True(t, errors.Is(err, ErrUnknownAttribute))
	})

	t.Run("unknown node", func(t *testing.T) {
		g, _ := setup()
		err := g.Configure("nope", map[string]any{"path": "x"})
		assert.True(t, errors.Is(err, ErrNodeNotFound))
	})

	t.Run("protected attribute blocks overwrite", func(t *testing.T) {
		g, n := setup()
		assert.NoError(t, g.Configure("src", map[string]any{"dsn": "postgres://real"}, Protect()))

		err := g.Configure("src", map[string]any{"dsn": "postgres://evil"})
		assert.True(t, errors.Is(err, ErrProtectedAttribute))
		assert.Equal(t, "postgres://real", n.attrs["dsn"])

		// Repeated attempts fail regardless of call count or order.
		err = g.Configure("src", map[string]any{"path": "ok", "dsn": "postgres://evil"})
		assert.True(t, errors.Is(err, ErrProtectedAttribute))
		_, touched := n.attrs["path"]
		assert.False(t, touched)
	})

	t.Run("non-protected keys stay overridable", func(t *testing.T) {
		g, n := setup()
		assert.NoError(t, g.Configure("src", map[string]any{"dsn": "a"}, Protect()))
		assert.NoError(t, g.Configure("src", map[string]any{"path": "first"}))
		assert.NoError(t, g.Configure("src", map[string]any{"path": "second"}))
		assert.Equal(t, "second", n.attrs["path"])
	})

	t.Run("explicit override authorization", func(t *testing.T) {
		g, n := setup()
		assert.NoError(t, g.Configure("src", map[string]any{"dsn": "a"}, Protect()))
		assert.NoError(t, g.Configure("src", map[string]any{"dsn": "b"}, OverrideProtected()))
		assert.Equal(t, "b", n.attrs["dsn"])

		// Override does not clear protection for later callers.
		err := g.Configure("src", map[string]any{"dsn": "c"})
		assert.True(t, errors.Is(err, ErrProtectedAttribute))
	})

	t.Run("protection is sticky across protect calls", func(t *testing.T) {
		g, _ := setup()
		assert.NoError(t, g.Configure("src", map[string]any{"dsn": "a"}, Protect()))
		// A second Protect call cannot steal the key either.
		err := g.Configure("src", map[string]any{"dsn": "b"}, Protect())
		assert.True(t, errors.Is(err, ErrProtectedAttribute))

		assert.Equal(t, []string{"dsn"}, g.ProtectedAttributes("src"))
	})
}
