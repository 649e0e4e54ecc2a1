package metadata

import (
	"fmt"
	"time"
)

// Value is a tagged record value. The tag is the storage type of the
// payload; a zero Value is the missing marker.
type Value struct {
	kind    StorageType
	present bool

	s  string
	i  int64
	f  float64
	b  bool
	t  time.Time
	bs []byte
}

// Missing is the designated marker for an absent value. It is assignable
// to a field of any storage type.
var Missing = Value{}

func StringValue(s string) Value  { return Value{kind: String, present: true, s: s} }
func IntValue(i int64) Value      { return Value{kind: Integer, present: true, i: i} }
func FloatValue(f float64) Value  { return Value{kind: Float, present: true, f: f} }
func BoolValue(b bool) Value      { return Value{kind: Boolean, present: true, b: b} }
func DateValue(t time.Time) Value { return Value{kind: Date, present: true, t: t} }
func BinaryValue(b []byte) Value  { return Value{kind: Binary, present: true, bs: b} }

// ValueOf converts a native Go value into a tagged Value. nil maps to
// Missing. It accepts the types produced by database/sql, JSON and BSON
// decoding.
func ValueOf(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Missing, nil
	case Value:
		return x, nil
	case string:
		return StringValue(x), nil
	case int:
		return IntValue(int64(x)), nil
	case int32:
		return IntValue(int64(x)), nil
	case int64:
		return IntValue(x), nil
	case float32:
		return FloatValue(float64(x)), nil
	case float64:
		return FloatValue(x), nil
	case bool:
		return BoolValue(x), nil
	case time.Time:
		return DateValue(x), nil
	case []byte:
		return BinaryValue(x), nil
	default:
		return Missing, fmt.Errorf("%w: unsupported Go type %T", ErrValueType, v)
	}
}

// MustValue is ValueOf panicking on error, for literals in tests and
// node construction.
func MustValue(v any) Value {
	val, err := ValueOf(v)
	if err != nil {
		panic(err)
	}
	return val
}

// Kind returns the storage type tag. Missing values report Unknown.
func (v Value) Kind() StorageType {
	if !v.present {
		return Unknown
	}
	return v.kind
}

func (v Value) IsMissing() bool { return !v.present }

func (v Value) AsString() (string, bool)  { return v.s, v.present && v.kind == String }
func (v Value) AsInt() (int64, bool)      { return v.i, v.present && v.kind == Integer }
func (v Value) AsBool() (bool, bool)      { return v.b, v.present && v.kind == Boolean }
func (v Value) AsDate() (time.Time, bool) { return v.t, v.present && v.kind == Date }
func (v Value) AsBinary() ([]byte, bool)  { return v.bs, v.present && v.kind == Binary }

// AsFloat returns the value as a float64, coercing integers. Used by
// numeric aggregation.
func (v Value) AsFloat() (float64, bool) {
	if !v.present {
		return 0, false
	}
	switch v.kind {
	case Float:
		return v.f, true
	case Integer:
		return float64(v.i), true
	default:
		return 0, false
	}
}

// Any returns the native Go form of the value, nil for Missing.
func (v Value) Any() any {
	if !v.present {
		return nil
	}
	switch v.kind {
	case String:
		return v.s
	case Integer:
		return v.i
	case Float:
		return v.f
	case Boolean:
		return v.b
	case Date:
		return v.t
	case Binary:
		return v.bs
	default:
		return nil
	}
}

// Equal compares tag and payload. Missing equals only Missing.
func (v Value) Equal(other Value) bool {
	if v.present != other.present {
		return false
	}
	if !v.present {
		return true
	}
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case Date:
		return v.t.Equal(other.t)
	case Binary:
		return string(v.bs) == string(other.bs)
	default:
		return v.s == other.s && v.i == other.i && v.f == other.f && v.b == other.b
	}
}

func (v Value) String() string {
	if !v.present {
		return "<missing>"
	}
	if v.kind == Date {
		return v.t.Format(time.RFC3339)
	}
	return fmt.Sprint(v.Any())
}

// AssignableTo reports whether the value may occupy a position described
// by field. Missing values and fields of unknown storage type accept
// anything.
func (v Value) AssignableTo(f Field) bool {
	if !v.present || f.StorageType == Unknown {
		return true
	}
	return v.kind == f.StorageType
}
