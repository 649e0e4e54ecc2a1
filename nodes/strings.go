package nodes

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ironman-/brewery/graph"
	"github.com/ironman-/brewery/metadata"
)

// StringStrip trims a set of characters from both ends of string field
// values. By default it strips whitespace from every string field.
type StringStrip struct {
	fields []string
	chars  string

	idx []int
}

func NewStringStrip() *StringStrip {
	return &StringStrip{chars: " \t\n\r"}
}

func (n *StringStrip) Info() graph.NodeInfo {
	return graph.NodeInfo{
		Type:        "string_strip",
		Label:       "String Strip",
		Description: "Trims characters from string field values",
		Attributes: []graph.AttrSpec{
			{Name: "fields", Label: "Fields", Description: "Fields to strip; all string fields when empty"},
			{Name: "chars", Label: "Characters", Description: "Characters to trim; whitespace by default"},
		},
	}
}

func (n *StringStrip) InputSlots() []graph.SlotSpec {
	return []graph.SlotSpec{{Name: graph.DefaultInput}}
}

func (n *StringStrip) OutputSlots() []graph.SlotSpec {
	return []graph.SlotSpec{{Name: graph.DefaultOutput}}
}

func (n *StringStrip) SetAttribute(name string, value any) error {
	switch name {
	case "fields":
		fields, err := attrStrings(name, value)
		if err != nil {
			return err
		}
		n.fields = fields
		return nil
	case "chars":
		s, err := attrString(name, value)
		if err != nil {
			return err
		}
		n.chars = s
		return nil
	default:
		return errUnknownAttr(n.Info(), name)
	}
}

func (n *StringStrip) Open(inputs map[string]*metadata.FieldList) (map[string]*metadata.FieldList, error) {
	in := inputs[graph.DefaultInput]
	if in != nil {
		idx, err := n.resolve(in)
		if err != nil {
			return nil, err
		}
		n.idx = idx
	}
	return map[string]*metadata.FieldList{graph.DefaultOutput: in}, nil
}

func (n *StringStrip) resolve(in *metadata.FieldList) ([]int, error) {
	if len(n.fields) > 0 {
		idx, err := in.Indexes(n.fields...)
		if err != nil {
			return nil, fmt.Errorf("string strip: %w", err)
		}
		return idx, nil
	}
	var idx []int
	for i := 0; i < in.Len(); i++ {
		if in.At(i).StorageType == metadata.String {
			idx = append(idx, i)
		}
	}
	return idx, nil
}

func (n *StringStrip) Process(_ context.Context, _ string, rec metadata.Record, out graph.Emitter) error {
	if n.idx == nil {
		idx, err := n.resolve(rec.Fields())
		if err != nil {
			return err
		}
		n.idx = idx
	}
	values := rec.Values()
	changed := false
	for _, i := range n.idx {
		s, ok := values[i].AsString()
		if !ok {
			continue
		}
		trimmed := strings.Trim(s, n.chars)
		if trimmed != s {
			values[i] = metadata.StringValue(trimmed)
			changed = true
		}
	}
	if !changed {
		return out.Emit(graph.DefaultOutput, rec)
	}
	stripped, err := metadata.NewRecord(rec.Fields(), values...)
	if err != nil {
		return err
	}
	return out.Emit(graph.DefaultOutput, stripped)
}

func (n *StringStrip) Finalize(context.Context, graph.Emitter) error { return nil }

// TextSubstitute applies regular expression substitutions to one string
// field, in the order the substitutions were added.
type TextSubstitute struct {
	field string
	subs  []substitution

	idx int
}

type substitution struct {
	re   *regexp.Regexp
	repl string
}

func NewTextSubstitute() *TextSubstitute {
	return &TextSubstitute{idx: -1}
}

func (n *TextSubstitute) Info() graph.NodeInfo {
	return graph.NodeInfo{
		Type:        "text_substitute",
		Label:       "Text Substitute",
		Description: "Applies regexp substitutions to a string field",
		Attributes: []graph.AttrSpec{
			{Name: "field", Label: "Field", Description: "Field to rewrite", Required: true},
			{Name: "pattern", Label: "Pattern", Description: "Regular expression to replace"},
			{Name: "replacement", Label: "Replacement", Description: "Replacement text, $1 style groups allowed"},
		},
	}
}

func (n *TextSubstitute) InputSlots() []graph.SlotSpec {
	return []graph.SlotSpec{{Name: graph.DefaultInput}}
}

func (n *TextSubstitute) OutputSlots() []graph.SlotSpec {
	return []graph.SlotSpec{{Name: graph.DefaultOutput}}
}

func (n *TextSubstitute) SetAttribute(name string, value any) error {
	switch name {
	case "field":
		s, err := attrString(name, value)
		if err != nil {
			return err
		}
		n.field = s
		return nil
	case "pattern":
		s, err := attrString(name, value)
		if err != nil {
			return err
		}
		re, err := regexp.Compile(s)
		if err != nil {
			return fmt.Errorf("%w: %v", graph.ErrBadAttribute, err)
		}
		// The pattern attribute describes a single substitution; pairing
		// with the replacement attribute replaces the whole list.
		n.subs = []substitution{{re: re}}
		return nil
	case "replacement":
		s, err := attrString(name, value)
		if err != nil {
			return err
		}
		if len(n.subs) == 0 {
			return fmt.Errorf("%w: replacement without pattern", graph.ErrBadAttribute)
		}
		n.subs[len(n.subs)-1].repl = s
		return nil
	default:
		return errUnknownAttr(n.Info(), name)
	}
}

// AddSubstitution appends one pattern/replacement pair.
func (n *TextSubstitute) AddSubstitution(pattern, replacement string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	n.subs = append(n.subs, substitution{re: re, repl: replacement})
	return nil
}

// SetField sets the field to rewrite.
func (n *TextSubstitute) SetField(field string) {
	n.field = field
}

func (n *TextSubstitute) Open(inputs map[string]*metadata.FieldList) (map[string]*metadata.FieldList, error) {
	if n.field == "" {
		return nil, fmt.Errorf("text substitute: no field set")
	}
	n.idx = -1
	in := inputs[graph.DefaultInput]
	if in != nil {
		i, ok := in.IndexOf(n.field)
		if !ok {
			return nil, fmt.Errorf("text substitute: %w: %q", metadata.ErrUnknownField, n.field)
		}
		n.idx = i
	}
	return map[string]*metadata.FieldList{graph.DefaultOutput: in}, nil
}

func (n *TextSubstitute) Process(_ context.Context, _ string, rec metadata.Record, out graph.Emitter) error {
	if n.idx < 0 {
		i, ok := rec.Fields().IndexOf(n.field)
		if !ok {
			return fmt.Errorf("text substitute: %w: %q", metadata.ErrUnknownField, n.field)
		}
		n.idx = i
	}
	s, ok := rec.At(n.idx).AsString()
	if !ok {
		return out.Emit(graph.DefaultOutput, rec)
	}
	for _, sub := range n.subs {
		s = sub.re.ReplaceAllString(s, sub.repl)
	}
	values := rec.Values()
	values[n.idx] = metadata.StringValue(s)
	rewritten, err := metadata.NewRecord(rec.Fields(), values...)
	if err != nil {
		return err
	}
	return out.Emit(graph.DefaultOutput, rewritten)
}

func (n *TextSubstitute) Finalize(context.Context, graph.Emitter) error { return nil }
