package metadata

import (
	"errors"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
)

func TestNewRecord(t *testing.T) {
	fields := MustFieldList(
		NewField("id", Integer),
		NewField("val", Float),
	)

	t.Run("valid", func(t *testing.T) {
		r, err := NewRecord(fields, IntValue(1), FloatValue(2.5))
		assert.NoError(t, err)
		assert.Equal(t, 2, r.Len())

		v, err := r.Value("val")
		assert.NoError(t, err)
		f, ok := v.AsFloat()
		assert.True(t, ok)
		assert.Equal(t, 2.5, f)
	})

	t.Run("arity mismatch", func(t *testing.T) {
		_, err := NewRecord(fields, IntValue(1))
		assert.True(t, errors.Is(err, ErrArityMismatch))
	})

	t.Run("storage type mismatch", func(t *testing.T) {
		_, err := NewRecord(fields, StringValue("x"), FloatValue(2.5))
		assert.True(t, errors.Is(err, ErrValueType))
	})

	t.Run("missing fits any field", func(t *testing.T) {
		r, err := NewRecord(fields, Missing, FloatValue(1))
		assert.NoError(t, err)
		assert.True(t, r.At(0).IsMissing())
	})

	t.Run("unknown storage accepts anything", func(t *testing.T) {
		loose := MustFieldList(NewField("x", Unknown))
		_, err := NewRecord(loose, BoolValue(true))
		assert.NoError(t, err)
	})
}

func TestValueTags(t *testing.T) {
	cases := []struct {
		name string
		v    Value
		kind StorageType
	}{
		{"string", StringValue("a"), String},
		{"integer", IntValue(3), Integer},
		{"float", FloatValue(1.5), Float},
		{"boolean", BoolValue(true), Boolean},
		{"date", DateValue(time.Unix(0, 0)), Date},
		{"binary", BinaryValue([]byte{1}), Binary},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.kind, tc.v.Kind())
			assert.False(t, tc.v.IsMissing())
		})
	}

	t.Run("missing", func(t *testing.T) {
		assert.True(t, Missing.IsMissing())
		assert.Equal(t, Unknown, Missing.Kind())
		assert.Zero(t, Missing.Any())
	})

	t.Run("float coercion", func(t *testing.T) {
		f, ok := IntValue(4).AsFloat()
		assert.True(t, ok)
		assert.Equal(t, 4.0, f)
		_, ok = StringValue("4").AsFloat()
		assert.False(t, ok)
	})
}

func TestValueOf(t *testing.T) {
	v, err := ValueOf(42)
	assert.NoError(t, err)
	assert.Equal(t, Integer, v.Kind())

	v, err = ValueOf(nil)
	assert.NoError(t, err)
	assert.True(t, v.IsMissing())

	_, err = ValueOf(struct{}{})
	assert.True(t, errors.Is(err, ErrValueType))
}

func TestRecordEqual(t *testing.T) {
	fields := MustFieldList(NewField("a", Integer), NewField("b", String))
	r1 := MustRecord(fields, IntValue(1), StringValue("x"))
	r2 := MustRecord(fields, IntValue(1), StringValue("x"))
	r3 := MustRecord(fields, IntValue(2), StringValue("x"))

	assert.True(t, r1.Equal(r2))
	assert.False(t, r1.Equal(r3))
}
