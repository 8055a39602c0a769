package codec

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/apache/arrow/go/v10/arrow/ipc"
	"github.com/pkg/errors"
	"github.com/segmentio/parquet-go"

	"Shopify/parquet-arrow-bridge/arena"
	"Shopify/parquet-arrow-bridge/schema"
)

// cancelCheckInterval is how many rows are appended between two checks of
// the task context while filling a batch.
const cancelCheckInterval = 1024

type EncoderOptions struct {
	// MaxRecordsPerBatch caps the rows of a batch. Values <= 0 put all rows
	// into a single batch.
	MaxRecordsPerBatch int
	// MaxBatchBytes caps the estimated in-memory size of a batch. Values <= 0
	// disable the cap. A batch always holds at least one row.
	MaxBatchBytes int64
	TimeZoneID    string
}

// BatchEncoder turns a row iterator into serialized arrow record batches,
// one batch per call to Next.
type BatchEncoder struct {
	task   Task
	rows   RowIterator
	schema schema.Schema
	opts   EncoderOptions
	mem    *arena.Arena

	builder *array.RecordBuilder
	writers []valueWriter
	writer  *ipc.Writer
	sink    bytes.Buffer

	pending  int
	bytes    int64
	rowIndex int64

	exhausted bool
	closed    bool
	closeOnce sync.Once
}

// NewBatchEncoder takes ownership of mem, which is released when the encoder
// is closed; a nil mem gets a private unbounded arena. The encoder closes
// itself when rows are exhausted and, if task is not nil, when the task
// completes.
func NewBatchEncoder(task Task, rows RowIterator, s schema.Schema, opts EncoderOptions, mem *arena.Arena) (*BatchEncoder, error) {
	if mem == nil {
		mem = arena.NewRoot(nil, 0)
	}
	as, err := s.ArrowSchema(opts.TimeZoneID)
	if err != nil {
		return nil, releaseOnError(err, mem)
	}

	builder := array.NewRecordBuilder(mem, as)
	writers := make([]valueWriter, s.Len())
	for i := 0; i < s.Len(); i++ {
		writers[i] = newValueWriter(s.Field(i), builder.Field(i))
	}

	e := &BatchEncoder{
		task:    task,
		rows:    rows,
		schema:  s,
		opts:    opts,
		mem:     mem,
		builder: builder,
		writers: writers,
	}
	e.writer = ipc.NewWriter(&e.sink, ipc.WithSchema(as), ipc.WithAllocator(mem))
	if task != nil {
		task.AddCompletionListener(e.Close)
	}
	return e, nil
}

// Next returns the next serialized batch, or io.EOF once all rows have been
// encoded. A failed step leaves no partially built batch behind and closes
// the encoder, so later calls return ErrClosed.
func (e *BatchEncoder) Next() (batch []byte, err error) {
	if e.exhausted {
		if err := e.Close(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	if e.closed {
		return nil, ErrClosed
	}

	defer func() {
		if r := recover(); r != nil {
			exhausted, ok := r.(*arena.ExhaustedError)
			if !ok {
				panic(r)
			}
			batch, err = nil, errors.Wrap(exhausted, "encode batch")
		}
		e.discard()
		if err != nil && err != io.EOF {
			err = e.fail(err)
		}
	}()

	if err := e.checkCancelled(); err != nil {
		return nil, err
	}

	for !e.batchFull() {
		if e.pending > 0 && e.pending%cancelCheckInterval == 0 {
			if err := e.checkCancelled(); err != nil {
				return nil, err
			}
		}
		row, err := e.rows.Next()
		if err == io.EOF {
			e.exhausted = true
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "read row")
		}
		if err := e.appendRow(row); err != nil {
			return nil, err
		}
	}
	if e.pending == 0 {
		if err := e.Close(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	return e.serialize()
}

// RowsEncoded returns the number of rows consumed from the input so far.
func (e *BatchEncoder) RowsEncoded() int64 { return e.rowIndex }

func (e *BatchEncoder) batchFull() bool {
	if e.pending == 0 {
		return false
	}
	if e.opts.MaxRecordsPerBatch > 0 && e.pending >= e.opts.MaxRecordsPerBatch {
		return true
	}
	return e.opts.MaxBatchBytes > 0 && e.bytes >= e.opts.MaxBatchBytes
}

func (e *BatchEncoder) appendRow(row parquet.Row) error {
	defer func() { e.rowIndex++ }()
	if len(row) != len(e.writers) {
		return &ConversionError{
			Row:    e.rowIndex,
			Reason: fmt.Sprintf("row has %d values, schema has %d fields", len(row), len(e.writers)),
		}
	}
	for i, write := range e.writers {
		n, err := write(row[i])
		if err != nil {
			f := e.schema.Field(i)
			return &ConversionError{Field: f.Name, Type: f.Type, Row: e.rowIndex, Reason: err.Error()}
		}
		e.bytes += int64(n)
	}
	e.pending++
	return nil
}

func (e *BatchEncoder) serialize() ([]byte, error) {
	rec := e.builder.NewRecord()
	defer rec.Release()
	e.pending, e.bytes = 0, 0

	defer e.sink.Reset()
	if err := e.writer.Write(rec); err != nil {
		return nil, errors.Wrap(err, "serialize batch")
	}
	batch, err := extractBatch(e.sink.Bytes())
	if err != nil {
		return nil, errors.Wrap(err, "serialize batch")
	}
	return batch, nil
}

// discard drops whatever the builders hold. Columns are reset one by one
// since a failed row can leave them with different lengths.
func (e *BatchEncoder) discard() {
	if e.pending == 0 && e.bytes == 0 && !e.partial() {
		return
	}
	for _, fb := range e.builder.Fields() {
		fb.NewArray().Release()
	}
	e.pending, e.bytes = 0, 0
}

func (e *BatchEncoder) partial() bool {
	for _, fb := range e.builder.Fields() {
		if fb.Len() > 0 {
			return true
		}
	}
	return false
}

func (e *BatchEncoder) checkCancelled() error {
	if e.task == nil {
		return nil
	}
	if err := e.task.Context().Err(); err != nil {
		return errors.Wrap(err, "encoder cancelled")
	}
	return nil
}

// fail closes the encoder and returns err, attaching a cleanup failure to it
// without replacing it.
func (e *BatchEncoder) fail(err error) error {
	if closeErr := e.Close(); closeErr != nil {
		return errors.Wrapf(err, "cleanup: %v", closeErr)
	}
	return err
}

// Close releases the builders and the arena. Only the first call has an
// effect.
func (e *BatchEncoder) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.closed = true
		e.discard()
		e.builder.Release()
		if closeErr := e.writer.Close(); closeErr != nil {
			err = errors.Wrap(closeErr, "close ipc writer")
		}
		e.sink.Reset()
		if releaseErr := e.mem.Release(); releaseErr != nil && err == nil {
			err = releaseErr
		}
	})
	return err
}

func releaseOnError(err error, mem interface{ Release() error }) error {
	if releaseErr := mem.Release(); releaseErr != nil {
		return errors.Wrapf(err, "cleanup: %v", releaseErr)
	}
	return err
}

// EncodeAll encodes rows into batches outside of any task, using a private
// arena.
func EncodeAll(rows RowIterator, s schema.Schema, opts EncoderOptions) ([][]byte, error) {
	enc, err := NewBatchEncoder(nil, rows, s, opts, nil)
	if err != nil {
		return nil, err
	}
	batches, err := CollectBatches(enc)
	if err != nil {
		if closeErr := enc.Close(); closeErr != nil {
			return nil, errors.Wrapf(err, "cleanup: %v", closeErr)
		}
		return nil, err
	}
	return batches, nil
}
