package graph

import "fmt"

type configureOptions struct {
	protect  bool
	override bool
}

// ConfigureOption adjusts how Configure applies attributes.
type ConfigureOption func(*configureOptions)

// Protect marks every attribute set by this Configure call as protected.
// Protected attributes cannot be overwritten by later Configure calls
// that lack OverrideProtected, which keeps untrusted graph definitions
// from clobbering values the graph builder pinned down.
func Protect() ConfigureOption {
	return func(o *configureOptions) { o.protect = true }
}

// OverrideProtected is the explicit authorization to overwrite protected
// attributes.
func OverrideProtected() ConfigureOption {
	return func(o *configureOptions) { o.override = true }
}

// Configure applies a set of attributes to the node registered under id.
// Every attribute must be declared in the node's schema. Attempting to
// set a protected attribute without OverrideProtected fails with
// ErrProtectedAttribute before any attribute of the call is applied.
func (g *Graph) Configure(id NodeID, attrs map[string]any, opts ...ConfigureOption) error {
	gn, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}

	var o configureOptions
	for _, opt := range opts {
		opt(&o)
	}

	info := gn.impl.Info()
	for name := range attrs {
		if _, ok := info.Attribute(name); !ok {
			return fmt.Errorf("%w: node %s (%s) does not recognize %q",
				ErrUnknownAttribute, id, info.Type, name)
		}
		if _, prot := gn.protected[name]; prot && !o.override {
			return fmt.Errorf("%w: %q on node %s", ErrProtectedAttribute, name, id)
		}
	}

	for name, value := range attrs {
		if err := gn.impl.SetAttribute(name, value); err != nil {
			return fmt.Errorf("node %s: %w", id, err)
		}
		if o.protect {
			gn.protected[name] = struct{}{}
		}
	}
	return nil
}

// ProtectedAttributes returns the names of attributes currently marked
// protected on node id, in no particular order.
func (g *Graph) ProtectedAttributes(id NodeID) []string {
	gn, ok := g.nodes[id]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(gn.protected))
	for name := range gn.protected {
		out = append(out, name)
	}
	return out
}
