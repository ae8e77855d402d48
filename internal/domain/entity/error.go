package entity

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownType = errors.New("unknown entity type")
)

// DecodeError reports a server payload that could not be decoded into the
// entity's wire format.
type DecodeError struct {
	Type  Type
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("decode %s: missing or invalid field %q", e.Type, e.Field)
	}
	return fmt.Sprintf("decode %s: %v", e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
