package metadata

import (
	"fmt"
	"slices"
	"strings"
)

// StorageType is the normalized, backend-independent type of a field's
// values. Backends map their concrete column types onto one of these.
type StorageType int

const (
	Unknown StorageType = iota
	String
	Integer
	Float
	Boolean
	Date
	Binary
)

func (t StorageType) String() string {
	switch t {
	case Unknown:
		return "unknown"
	case String:
		return "string"
	case Integer:
		return "integer"
	case Float:
		return "float"
	case Boolean:
		return "boolean"
	case Date:
		return "date"
	case Binary:
		return "binary"
	default:
		return fmt.Sprintf("storage(%d)", int(t))
	}
}

// ParseStorageType parses the textual form used in graph definitions.
func ParseStorageType(s string) (StorageType, error) {
	switch s {
	case "unknown", "":
		return Unknown, nil
	case "string", "text":
		return String, nil
	case "integer", "int":
		return Integer, nil
	case "float":
		return Float, nil
	case "boolean", "bool":
		return Boolean, nil
	case "date":
		return Date, nil
	case "binary":
		return Binary, nil
	default:
		return Unknown, fmt.Errorf("%w: storage type %q", ErrUnknownType, s)
	}
}

// AnalyticalType describes how a field's values are interpreted by
// analytical nodes, independently of how they are stored.
type AnalyticalType int

const (
	Typeless AnalyticalType = iota
	Discrete
	Continuous
	Flag
	Ordinal
)

func (t AnalyticalType) String() string {
	switch t {
	case Typeless:
		return "typeless"
	case Discrete:
		return "discrete"
	case Continuous:
		return "continuous"
	case Flag:
		return "flag"
	case Ordinal:
		return "ordinal"
	default:
		return fmt.Sprintf("analytical(%d)", int(t))
	}
}

// ParseAnalyticalType parses the textual form used in graph definitions.
func ParseAnalyticalType(s string) (AnalyticalType, error) {
	switch s {
	case "typeless", "":
		return Typeless, nil
	case "discrete":
		return Discrete, nil
	case "continuous", "range":
		return Continuous, nil
	case "flag":
		return Flag, nil
	case "ordinal", "ordered_set":
		return Ordinal, nil
	default:
		return Typeless, fmt.Errorf("%w: analytical type %q", ErrUnknownType, s)
	}
}

// DefaultAnalyticalType returns the analytical type implied by a storage
// type when none was declared: integers are discrete, floats continuous,
// everything else typeless.
func DefaultAnalyticalType(t StorageType) AnalyticalType {
	switch t {
	case Integer:
		return Discrete
	case Float:
		return Continuous
	default:
		return Typeless
	}
}

// Field describes one column of a record stream. A Field is a value type;
// once a FieldList is in use by a running graph its fields do not change.
type Field struct {
	Name           string
	StorageType    StorageType
	AnalyticalType AnalyticalType

	// Label is an optional human readable name for display purposes.
	Label string

	// Extra carries backend specific annotations, e.g. the concrete
	// database column type a field originated from.
	Extra map[string]any
}

// NewField creates a field with the default analytical type for the given
// storage type.
func NewField(name string, storage StorageType) Field {
	return Field{
		Name:           name,
		StorageType:    storage,
		AnalyticalType: DefaultAnalyticalType(storage),
	}
}

func (f Field) String() string {
	return f.Name
}

// Equal compares name, storage type and analytical type. Label and Extra
// are presentation metadata and do not participate.
func (f Field) Equal(other Field) bool {
	return f.Name == other.Name &&
		f.StorageType == other.StorageType &&
		f.AnalyticalType == other.AnalyticalType
}

// ParseField parses the "name", "name:storage" or
// "name:storage:analytical" shorthand used in graph definitions.
func ParseField(spec string) (Field, error) {
	parts := strings.SplitN(spec, ":", 3)
	if parts[0] == "" {
		return Field{}, fmt.Errorf("%w: empty field name in %q", ErrInvalidField, spec)
	}
	f := NewField(parts[0], Unknown)
	if len(parts) > 1 {
		st, err := ParseStorageType(parts[1])
		if err != nil {
			return Field{}, err
		}
		f.StorageType = st
		f.AnalyticalType = DefaultAnalyticalType(st)
	}
	if len(parts) > 2 {
		at, err := ParseAnalyticalType(parts[2])
		if err != nil {
			return Field{}, err
		}
		f.AnalyticalType = at
	}
	return f, nil
}

// ParseFieldList builds a FieldList from a list of field shorthands.
func ParseFieldList(specs []string) (*FieldList, error) {
	list := &FieldList{}
	for _, spec := range specs {
		f, err := ParseField(spec)
		if err != nil {
			return nil, err
		}
		if err := list.Append(f); err != nil {
			return nil, err
		}
	}
	return list, nil
}

// FieldList is an ordered, name-unique collection of fields. Insertion
// order defines the positional layout of records. Lookup by name is O(1)
// through a name index maintained next to the ordered slice.
type FieldList struct {
	fields []Field
	index  map[string]int
}

// NewFieldList creates a field list, failing on duplicate names.
func NewFieldList(fields ...Field) (*FieldList, error) {
	l := &FieldList{}
	for _, f := range fields {
		if err := l.Append(f); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// MustFieldList is NewFieldList panicking on error, for statically known
// field sets.
func MustFieldList(fields ...Field) *FieldList {
	l, err := NewFieldList(fields...)
	if err != nil {
		panic(err)
	}
	return l
}

// Append adds a field at the end of the list.
func (l *FieldList) Append(f Field) error {
	if f.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidField)
	}
	if _, ok := l.index[f.Name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateField, f.Name)
	}
	if l.index == nil {
		l.index = make(map[string]int)
	}
	l.index[f.Name] = len(l.fields)
	l.fields = append(l.fields, f)
	return nil
}

func (l *FieldList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.fields)
}

// At returns the field at position i. Panics on out of range, like slice
// indexing.
func (l *FieldList) At(i int) Field {
	return l.fields[i]
}

// Field returns the field with the given name.
func (l *FieldList) Field(name string) (Field, error) {
	if l != nil {
		if i, ok := l.index[name]; ok {
			return l.fields[i], nil
		}
	}
	return Field{}, fmt.Errorf("%w: %q", ErrUnknownField, name)
}

// IndexOf returns the position of the named field.
func (l *FieldList) IndexOf(name string) (int, bool) {
	if l == nil {
		return 0, false
	}
	i, ok := l.index[name]
	return i, ok
}

// Contains reports whether the list has a field with the given name.
func (l *FieldList) Contains(name string) bool {
	_, ok := l.IndexOf(name)
	return ok
}

// Names returns the field names in positional order.
func (l *FieldList) Names() []string {
	names := make([]string, 0, l.Len())
	for _, f := range l.fields {
		names = append(names, f.Name)
	}
	return names
}

// Indexes resolves names to positions, in the order given.
func (l *FieldList) Indexes(names ...string) ([]int, error) {
	idx := make([]int, 0, len(names))
	for _, name := range names {
		i, ok := l.IndexOf(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownField, name)
		}
		idx = append(idx, i)
	}
	return idx, nil
}

// Select returns a new list containing only the named fields, preserving
// their relative order in the receiver. Selecting every field yields a
// list equal to the receiver.
func (l *FieldList) Select(names ...string) (*FieldList, error) {
	want := make(map[string]bool, len(names))
	for _, name := range names {
		if !l.Contains(name) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownField, name)
		}
		want[name] = true
	}
	out := &FieldList{}
	for _, f := range l.fields {
		if want[f.Name] {
			// Append cannot fail: names were unique in the receiver.
			_ = out.Append(f)
		}
	}
	return out, nil
}

// Union returns a new list with the receiver's fields followed by the
// fields of other whose names are not already present.
func (l *FieldList) Union(other *FieldList) *FieldList {
	out := l.Clone()
	if other == nil {
		return out
	}
	for _, f := range other.fields {
		if !out.Contains(f.Name) {
			_ = out.Append(f)
		}
	}
	return out
}

// Clone returns a shallow copy of the list.
func (l *FieldList) Clone() *FieldList {
	out := &FieldList{}
	if l == nil {
		return out
	}
	for _, f := range l.fields {
		_ = out.Append(f)
	}
	return out
}

// Equal reports structural equality: same names, types and order.
func (l *FieldList) Equal(other *FieldList) bool {
	if l.Len() != other.Len() {
		return false
	}
	for i := range l.fields {
		if !l.fields[i].Equal(other.fields[i]) {
			return false
		}
	}
	return true
}

func (l *FieldList) String() string {
	return "[" + strings.Join(l.Names(), ", ") + "]"
}

// FieldMap rewrites a field list by renaming and dropping fields. It is
// the shape-level companion of the field-map node.
type FieldMap struct {
	Rename map[string]string
	Drop   []string
}

// Map applies the renames and drops to fields, returning the derived
// list. Unknown names in Rename or Drop are rejected so that typos in a
// graph definition fail loudly instead of silently passing everything.
func (m FieldMap) Map(fields *FieldList) (*FieldList, error) {
	for name := range m.Rename {
		if !fields.Contains(name) {
			return nil, fmt.Errorf("%w: rename of %q", ErrUnknownField, name)
		}
	}
	for _, name := range m.Drop {
		if !fields.Contains(name) {
			return nil, fmt.Errorf("%w: drop of %q", ErrUnknownField, name)
		}
	}
	out := &FieldList{}
	for _, f := range fields.fields {
		if slices.Contains(m.Drop, f.Name) {
			continue
		}
		if target, ok := m.Rename[f.Name]; ok {
			f.Name = target
		}
		if err := out.Append(f); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// RowFilter returns the positional filter that projects rows of the
// given shape onto the mapped shape. Renames do not move values, so the
// filter only has to drop positions.
func (m FieldMap) RowFilter(fields *FieldList) (RowFilter, error) {
	for _, name := range m.Drop {
		if !fields.Contains(name) {
			return RowFilter{}, fmt.Errorf("%w: drop of %q", ErrUnknownField, name)
		}
	}
	var idx []int
	for i, f := range fields.fields {
		if !slices.Contains(m.Drop, f.Name) {
			idx = append(idx, i)
		}
	}
	return RowFilter{indexes: idx}, nil
}

// RowFilter selects a fixed subset of positions from rows.
type RowFilter struct {
	indexes []int
}

// NewRowFilter builds a filter keeping the given positions, in order.
func NewRowFilter(indexes ...int) RowFilter {
	return RowFilter{indexes: indexes}
}

// Filter returns the values at the filter's positions.
func (rf RowFilter) Filter(values []Value) []Value {
	out := make([]Value, 0, len(rf.indexes))
	for _, i := range rf.indexes {
		out = append(out, values[i])
	}
	return out
}
