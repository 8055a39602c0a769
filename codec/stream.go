package codec

import (
	"io"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/ipc"
	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/pkg/errors"
)

// StreamReader splits a framed arrow IPC stream into serialized batches
// that can be fed to a RowDecoder.
type StreamReader struct {
	r       io.Reader
	schema  *arrow.Schema
	batches int
	done    bool
}

// NewStreamReader reads the schema header from r. When expected is not nil
// the stream schema must be equal to it.
func NewStreamReader(r io.Reader, expected *arrow.Schema) (*StreamReader, error) {
	msg, err := readMessage(r)
	switch {
	case err == io.EOF:
		return nil, &DeserializationError{Op: "read schema", Err: errors.New("empty stream")}
	case err == errEndOfStream:
		return nil, &DeserializationError{Op: "read schema", Err: errors.New("stream has no schema")}
	case err != nil:
		return nil, &DeserializationError{Op: "read schema", Err: err}
	}
	if msg.typ != ipc.MessageSchema {
		return nil, &DeserializationError{Op: "read schema", Err: errors.Errorf("expected schema message, got %s", msg.typ)}
	}

	as, err := schemaFromHeader(msg.raw, memory.DefaultAllocator)
	if err != nil {
		return nil, &DeserializationError{Op: "read schema", Err: err}
	}
	if expected != nil && !expected.Equal(as) {
		return nil, &DeserializationError{
			Op:  "read schema",
			Err: errors.Errorf("stream schema %s does not match expected schema %s", as, expected),
		}
	}
	return &StreamReader{r: r, schema: as}, nil
}

func (s *StreamReader) Schema() *arrow.Schema { return s.schema }

// Next returns the next record batch message, or io.EOF after the
// end-of-stream marker.
func (s *StreamReader) Next() ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}
	msg, err := readMessage(s.r)
	switch {
	case err == errEndOfStream:
		s.done = true
		return nil, io.EOF
	case err == io.EOF:
		return nil, &DeserializationError{Op: "read batch", Err: errors.New("stream ended without end-of-stream marker")}
	case err != nil:
		return nil, &DeserializationError{Op: "read batch", Err: err}
	}

	switch msg.typ {
	case ipc.MessageRecordBatch:
		s.batches++
		return msg.raw, nil
	case ipc.MessageDictionaryBatch:
		return nil, &DeserializationError{Op: "read batch", Err: errors.New("dictionary batches are not supported")}
	default:
		return nil, &DeserializationError{Op: "read batch", Err: errors.Errorf("unexpected %s message", msg.typ)}
	}
}

// NumBatches returns the number of batches read so far.
func (s *StreamReader) NumBatches() int { return s.batches }

// ReadStream reads a whole framed stream.
func ReadStream(r io.Reader, expected *arrow.Schema) (*arrow.Schema, [][]byte, error) {
	sr, err := NewStreamReader(r, expected)
	if err != nil {
		return nil, nil, err
	}
	batches, err := CollectBatches(sr)
	if err != nil {
		return nil, nil, err
	}
	return sr.Schema(), batches, nil
}

// ReadStreamSchema reads only the schema header of a framed stream.
func ReadStreamSchema(r io.Reader) (*arrow.Schema, error) {
	sr, err := NewStreamReader(r, nil)
	if err != nil {
		return nil, err
	}
	return sr.Schema(), nil
}
