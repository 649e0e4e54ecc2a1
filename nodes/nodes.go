// Package nodes provides the built-in node library: in-memory sources
// and targets plus the record and field transforms most pipelines are
// made of. Backend nodes (files, databases, brokers) live in their own
// packages under backends.
package nodes

import (
	"fmt"

	"github.com/ironman-/brewery/graph"
	"github.com/ironman-/brewery/metadata"
)

// Register adds every built-in node type to the registry.
func Register(r *graph.Registry) error {
	for name, f := range map[string]graph.Factory{
		"list_source":     func() graph.Node { return NewListSource(nil) },
		"list_target":     func() graph.Node { return NewListTarget() },
		"passthrough":     func() graph.Node { return NewPassthrough() },
		"field_map":       func() graph.Node { return NewFieldMap() },
		"select":          func() graph.Node { return NewSelect(nil) },
		"derive":          func() graph.Node { return NewDerive("", metadata.Unknown, nil) },
		"sample":          func() graph.Node { return NewSample() },
		"distinct":        func() graph.Node { return NewDistinct() },
		"value_threshold": func() graph.Node { return NewValueThreshold() },
		"binning":         func() graph.Node { return NewBinning() },
		"aggregate":       func() graph.Node { return NewAggregate() },
		"string_strip":    func() graph.Node { return NewStringStrip() },
		"text_substitute": func() graph.Node { return NewTextSubstitute() },
	} {
		if err := r.Register(name, f); err != nil {
			return err
		}
	}
	return nil
}

// MustRegister panics on registration error.
func MustRegister(r *graph.Registry) {
	if err := Register(r); err != nil {
		panic(err)
	}
}

func attrString(name string, value any) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("%w: %q expects a string, got %T", graph.ErrBadAttribute, name, value)
	}
	return s, nil
}

func attrInt(name string, value any) (int, error) {
	switch x := value.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	// YAML and JSON decoders hand over numbers as float64 at times.
	case float64:
		if x != float64(int(x)) {
			return 0, fmt.Errorf("%w: %q expects an integer, got %v", graph.ErrBadAttribute, name, x)
		}
		return int(x), nil
	default:
		return 0, fmt.Errorf("%w: %q expects an integer, got %T", graph.ErrBadAttribute, name, value)
	}
}

func attrFloat(name string, value any) (float64, error) {
	switch x := value.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	default:
		return 0, fmt.Errorf("%w: %q expects a number, got %T", graph.ErrBadAttribute, name, value)
	}
}

func attrFloats(name string, value any) ([]float64, error) {
	switch x := value.(type) {
	case []float64:
		return x, nil
	case []any:
		out := make([]float64, 0, len(x))
		for _, e := range x {
			f, err := attrFloat(name, e)
			if err != nil {
				return nil, err
			}
			out = append(out, f)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %q expects a number list, got %T", graph.ErrBadAttribute, name, value)
	}
}

func attrBool(name string, value any) (bool, error) {
	b, ok := value.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %q expects a boolean, got %T", graph.ErrBadAttribute, name, value)
	}
	return b, nil
}

func attrStrings(name string, value any) ([]string, error) {
	switch x := value.(type) {
	case []string:
		return x, nil
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %q expects strings, got %T", graph.ErrBadAttribute, name, e)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %q expects a string list, got %T", graph.ErrBadAttribute, name, value)
	}
}

func attrStringMap(name string, value any) (map[string]string, error) {
	switch x := value.(type) {
	case map[string]string:
		return x, nil
	case map[string]any:
		out := make(map[string]string, len(x))
		for k, e := range x {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %q expects string values, got %T", graph.ErrBadAttribute, name, e)
			}
			out[k] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %q expects a string map, got %T", graph.ErrBadAttribute, name, value)
	}
}

func errUnknownAttr(info graph.NodeInfo, name string) error {
	return fmt.Errorf("%w: node type %s does not recognize %q", graph.ErrUnknownAttribute, info.Type, name)
}
