package codec

import (
	"io"

	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/pkg/errors"

	"Shopify/parquet-arrow-bridge/schema"
)

// StreamWriter frames serialized batches into a single arrow IPC stream:
// the schema header, the batches verbatim and a 4-byte end-of-stream marker.
// It never closes the underlying writer.
type StreamWriter struct {
	w       io.Writer
	batches int
	written int64
}

// NewStreamWriter writes the schema header to w before returning.
func NewStreamWriter(w io.Writer, s schema.Schema, timeZoneID string) (*StreamWriter, error) {
	as, err := s.ArrowSchema(timeZoneID)
	if err != nil {
		return nil, err
	}
	header, err := SchemaHeader(as, memory.DefaultAllocator)
	if err != nil {
		return nil, err
	}
	sw := &StreamWriter{w: w}
	if err := sw.write(header); err != nil {
		return nil, errors.Wrap(err, "write schema header")
	}
	return sw, nil
}

func (s *StreamWriter) WriteBatch(batch []byte) error {
	if err := s.write(batch); err != nil {
		return errors.Wrapf(err, "write batch %d", s.batches)
	}
	s.batches++
	return nil
}

func (s *StreamWriter) WriteBatches(batches [][]byte) error {
	for _, batch := range batches {
		if err := s.WriteBatch(batch); err != nil {
			return err
		}
	}
	return nil
}

// End writes the end-of-stream marker.
func (s *StreamWriter) End() error {
	if err := s.write(endOfStream); err != nil {
		return errors.Wrap(err, "write end of stream")
	}
	return nil
}

// NumBatches returns the number of batches written so far.
func (s *StreamWriter) NumBatches() int { return s.batches }

// BytesWritten includes the header and, after End, the marker.
func (s *StreamWriter) BytesWritten() int64 { return s.written }

func (s *StreamWriter) write(p []byte) error {
	n, err := s.w.Write(p)
	s.written += int64(n)
	return err
}
