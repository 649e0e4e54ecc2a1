package metadata

import "fmt"

// Record is one row of data positionally conforming to a FieldList. The
// value at position i belongs to field i. Records are immutable; derived
// records are built with new value slices.
type Record struct {
	fields *FieldList
	values []Value
}

// NewRecord builds a record, checking arity and per-position storage
// types against the field list.
func NewRecord(fields *FieldList, values ...Value) (Record, error) {
	if len(values) != fields.Len() {
		return Record{}, fmt.Errorf("%w: %d values for %d fields",
			ErrArityMismatch, len(values), fields.Len())
	}
	for i, v := range values {
		if !v.AssignableTo(fields.At(i)) {
			return Record{}, fmt.Errorf("%w: field %q expects %s, got %s",
				ErrValueType, fields.At(i).Name, fields.At(i).StorageType, v.Kind())
		}
	}
	vals := make([]Value, len(values))
	copy(vals, values)
	return Record{fields: fields, values: vals}, nil
}

// MustRecord is NewRecord panicking on error, for statically known rows.
func MustRecord(fields *FieldList, values ...Value) Record {
	r, err := NewRecord(fields, values...)
	if err != nil {
		panic(err)
	}
	return r
}

func (r Record) Fields() *FieldList { return r.fields }

func (r Record) Len() int { return len(r.values) }

// At returns the value at position i.
func (r Record) At(i int) Value { return r.values[i] }

// Value returns the value of the named field.
func (r Record) Value(name string) (Value, error) {
	i, ok := r.fields.IndexOf(name)
	if !ok {
		return Missing, fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	return r.values[i], nil
}

// Values returns a copy of the record's values.
func (r Record) Values() []Value {
	out := make([]Value, len(r.values))
	copy(out, r.values)
	return out
}

// Equal reports whether two records have equal shape and values.
func (r Record) Equal(other Record) bool {
	if !r.fields.Equal(other.fields) || len(r.values) != len(other.values) {
		return false
	}
	for i := range r.values {
		if !r.values[i].Equal(other.values[i]) {
			return false
		}
	}
	return true
}

func (r Record) String() string {
	return fmt.Sprintf("%v", r.values)
}
