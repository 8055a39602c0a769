package codec

import (
	"fmt"

	"github.com/pkg/errors"

	"Shopify/parquet-arrow-bridge/schema"
)

// ErrClosed is returned when pulling from an encoder or decoder that was
// closed before its input was exhausted.
var ErrClosed = errors.New("codec: iterator closed")

// ConversionError is returned when a row value cannot be represented in the
// arrow column of its field.
type ConversionError struct {
	Field  string
	Type   schema.Type
	Row    int64
	Reason string
}

func (e *ConversionError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("cannot convert row %d: %s", e.Row, e.Reason)
	}
	return fmt.Sprintf("cannot convert row %d, field %q (%s): %s", e.Row, e.Field, e.Type, e.Reason)
}

// DeserializationError is returned when bytes read during decoding are
// truncated, malformed or describe a different schema. Suppressed holds a
// failure that happened while releasing resources after the original error.
type DeserializationError struct {
	Op         string
	Err        error
	Suppressed error
}

func (e *DeserializationError) Error() string {
	msg := fmt.Sprintf("deserialize %s: %v", e.Op, e.Err)
	if e.Suppressed != nil {
		msg += fmt.Sprintf(" (cleanup: %v)", e.Suppressed)
	}
	return msg
}

func (e *DeserializationError) Unwrap() error { return e.Err }

func deserializationError(op string, err error) error {
	var de *DeserializationError
	if errors.As(err, &de) {
		return err
	}
	return &DeserializationError{Op: op, Err: err}
}
