package graph

import (
	"errors"
	"fmt"
	"slices"

	"golang.org/x/exp/maps"
)

var (
	ErrTypeAlreadyRegistered = errors.New("node type already registered")
	ErrUnknownNodeType       = errors.New("unknown node type")
)

// Factory produces a fresh, unconfigured node of one type.
type Factory func() Node

// Registry maps node type names to factories. It is populated once at
// startup and read-only thereafter; registration is not synchronized.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under the given type name.
func (r *Registry) Register(typeName string, f Factory) error {
	if typeName == "" {
		return fmt.Errorf("%w: empty type name", ErrUnknownNodeType)
	}
	if _, exists := r.factories[typeName]; exists {
		return fmt.Errorf("%w: %q", ErrTypeAlreadyRegistered, typeName)
	}
	r.factories[typeName] = f
	return nil
}

// MustRegister panics on registration error. Intended for wiring at
// process start.
func (r *Registry) MustRegister(typeName string, f Factory) {
	if err := r.Register(typeName, f); err != nil {
		panic(err)
	}
}

// New instantiates a node of the given type.
func (r *Registry) New(typeName string) (Node, error) {
	f, ok := r.factories[typeName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNodeType, typeName)
	}
	return f(), nil
}

// Types returns all registered type names, sorted.
func (r *Registry) Types() []string {
	out := maps.Keys(r.factories)
	slices.Sort(out)
	return out
}
