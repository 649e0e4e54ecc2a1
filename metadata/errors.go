package metadata

import "errors"

var (
	ErrDuplicateField = errors.New("duplicate field name")
	ErrUnknownField   = errors.New("unknown field")
	ErrInvalidField   = errors.New("invalid field")
	ErrUnknownType    = errors.New("unknown type")
	ErrArityMismatch  = errors.New("record arity mismatch")
	ErrValueType      = errors.New("value type mismatch")
)
