package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrTooShort is returned when the request string is below the minimum
	// viable length (1-char kind plus a 2-element JSON array).
	ErrTooShort = errors.New("protocol: request too short")

	// ErrUnknownKind is returned when the leading kind tag is not registered.
	ErrUnknownKind = errors.New("protocol: unknown request kind")

	// ErrMalformedArray is returned when the body does not parse as a JSON
	// array.
	ErrMalformedArray = errors.New("protocol: request body is not a JSON array")

	// ErrMissingCorrelationID is returned when the array is empty or its
	// first element is not an integer.
	ErrMissingCorrelationID = errors.New("protocol: missing or non-integer correlation id")

	// ErrArityMismatch is returned when the argument count does not match
	// the schema.
	ErrArityMismatch = errors.New("protocol: argument count does not match schema")
)

// ValidationError reports the first argument that failed its positional
// validator. It does not wrap the offending value to avoid leaking client
// input into logs verbatim.
type ValidationError struct {
	Kind       byte
	FieldIndex int
	FieldName  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("protocol: kind %q field %d (%s) failed validation", e.Kind, e.FieldIndex, e.FieldName)
}
