package codec

import (
	"bytes"
	"io"
	"sync"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/ipc"
	"github.com/pkg/errors"
	"github.com/segmentio/parquet-go"

	"Shopify/parquet-arrow-bridge/arena"
	"Shopify/parquet-arrow-bridge/schema"
)

// RowDecoder turns serialized record batches back into rows. It holds at
// most one deserialized batch at a time and can only be iterated once.
type RowDecoder struct {
	task        Task
	batches     BatchIterator
	schema      schema.Schema
	arrowSchema *arrow.Schema
	header      []byte
	mem         *arena.Arena

	reader  *ipc.Reader
	record  arrow.Record
	readers []valueReader
	row     int
	numRows int

	exhausted bool
	closed    bool
	closeOnce sync.Once
}

// NewRowDecoder takes ownership of mem, which is released when the decoder
// is closed; a nil mem gets a private unbounded arena. The decoder closes
// itself at the end of the input, on errors and, if task is not nil, when
// the task completes.
func NewRowDecoder(task Task, batches BatchIterator, s schema.Schema, timeZoneID string, mem *arena.Arena) (*RowDecoder, error) {
	if mem == nil {
		mem = arena.NewRoot(nil, 0)
	}
	as, err := s.ArrowSchema(timeZoneID)
	if err != nil {
		return nil, releaseOnError(err, mem)
	}
	header, err := SchemaHeader(as, mem)
	if err != nil {
		return nil, releaseOnError(err, mem)
	}

	d := &RowDecoder{
		task:        task,
		batches:     batches,
		schema:      s,
		arrowSchema: as,
		header:      header,
		mem:         mem,
	}
	if task != nil {
		task.AddCompletionListener(d.Close)
	}
	return d, nil
}

func (d *RowDecoder) Schema() schema.Schema { return d.schema }

// Next returns the next row, or io.EOF after the last row of the last batch.
// Values of the returned row do not reference decoder memory.
func (d *RowDecoder) Next() (parquet.Row, error) {
	if d.closed {
		if d.exhausted {
			return nil, io.EOF
		}
		return nil, ErrClosed
	}

	if d.task != nil {
		if err := d.task.Context().Err(); err != nil {
			return nil, d.fail(errors.Wrap(err, "decoder cancelled"))
		}
	}
	for d.record == nil || d.row >= d.numRows {
		err := d.loadNextBatch()
		if err == io.EOF {
			d.exhausted = true
			if err := d.Close(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		if err != nil {
			return nil, d.fail(err)
		}
	}

	row := make(parquet.Row, len(d.readers))
	for i, read := range d.readers {
		if d.record.Column(i).IsNull(d.row) {
			row[i] = parquet.Value{}.Level(0, 0, i)
			continue
		}
		row[i] = d.schema.Leveled(i, read(d.row))
	}
	d.row++
	return row, nil
}

// fail closes the decoder and returns err, attaching a cleanup failure to it
// without replacing it.
func (d *RowDecoder) fail(err error) error {
	closeErr := d.Close()
	if closeErr == nil {
		return err
	}
	var de *DeserializationError
	if errors.As(err, &de) {
		de.Suppressed = closeErr
		return err
	}
	return errors.Wrapf(err, "cleanup: %v", closeErr)
}

func (d *RowDecoder) loadNextBatch() (err error) {
	d.releaseBatch()

	data, err := d.batches.Next()
	if err == io.EOF {
		return io.EOF
	}
	if err != nil {
		return deserializationError("read batch", err)
	}

	defer func() {
		if r := recover(); r != nil {
			d.releaseBatch()
			if exhausted, ok := r.(*arena.ExhaustedError); ok {
				err = &DeserializationError{Op: "load batch", Err: exhausted}
				return
			}
			err = &DeserializationError{Op: "load batch", Err: errors.Errorf("%v", r)}
		}
	}()

	msg, err := readMessage(bytes.NewReader(data))
	if err == io.EOF || err == errEndOfStream {
		return &DeserializationError{Op: "load batch", Err: errors.New("empty batch")}
	}
	if err != nil {
		return &DeserializationError{Op: "load batch", Err: err}
	}
	if msg.typ != ipc.MessageRecordBatch {
		return &DeserializationError{Op: "load batch", Err: errors.Errorf("expected record batch, got %s message", msg.typ)}
	}
	if len(msg.raw) != len(data) {
		return &DeserializationError{Op: "load batch", Err: errors.Errorf("%d trailing bytes after record batch", len(data)-len(msg.raw))}
	}

	stream := io.MultiReader(bytes.NewReader(d.header), bytes.NewReader(data), bytes.NewReader(endOfStream))
	reader, err := ipc.NewReader(stream, ipc.WithSchema(d.arrowSchema), ipc.WithAllocator(d.mem))
	if err != nil {
		return &DeserializationError{Op: "load batch", Err: err}
	}
	d.reader = reader
	if !reader.Next() {
		err := reader.Err()
		if err == nil {
			err = errors.New("no record batch in message")
		}
		d.releaseBatch()
		return &DeserializationError{Op: "load batch", Err: err}
	}

	rec := reader.Record()
	rec.Retain()
	d.record = rec
	if int(rec.NumCols()) != d.schema.Len() {
		d.releaseBatch()
		return &DeserializationError{Op: "load batch", Err: errors.Errorf("batch has %d columns, schema has %d", rec.NumCols(), d.schema.Len())}
	}

	readers := make([]valueReader, d.schema.Len())
	for i := range readers {
		readers[i], err = newValueReader(d.schema.Field(i), rec.Column(i))
		if err != nil {
			d.releaseBatch()
			return &DeserializationError{Op: "load batch", Err: err}
		}
	}
	d.readers = readers
	d.row, d.numRows = 0, int(rec.NumRows())
	return nil
}

func (d *RowDecoder) releaseBatch() {
	if d.record != nil {
		d.record.Release()
		d.record = nil
	}
	if d.reader != nil {
		d.reader.Release()
		d.reader = nil
	}
	d.readers = nil
	d.row, d.numRows = 0, 0
}

// Close releases the current batch and the arena. Only the first call has
// an effect.
func (d *RowDecoder) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.closed = true
		d.releaseBatch()
		err = d.mem.Release()
	})
	return err
}
