package codec

import (
	"context"
	"io"

	"github.com/segmentio/parquet-go"
)

// RowIterator is a pull based source of rows. Next returns io.EOF once the
// source is exhausted.
type RowIterator interface {
	Next() (parquet.Row, error)
}

// BatchIterator is a pull based source of serialized batches. Next returns
// io.EOF once the source is exhausted.
type BatchIterator interface {
	Next() ([]byte, error)
}

// Task is the lifecycle of the unit of work an encoder or decoder runs in.
// Completion listeners run once when the task finishes, whether it
// succeeded, failed or was cancelled.
type Task interface {
	Context() context.Context
	AddCompletionListener(func() error)
}

type sliceRows struct {
	rows []parquet.Row
}

// RowsOf returns an iterator over rows.
func RowsOf(rows ...parquet.Row) RowIterator {
	return &sliceRows{rows: rows}
}

func (s *sliceRows) Next() (parquet.Row, error) {
	if len(s.rows) == 0 {
		return nil, io.EOF
	}
	row := s.rows[0]
	s.rows = s.rows[1:]
	return row, nil
}

type sliceBatches struct {
	batches [][]byte
}

// BatchesOf returns an iterator over already serialized batches.
func BatchesOf(batches ...[]byte) BatchIterator {
	return &sliceBatches{batches: batches}
}

func (s *sliceBatches) Next() ([]byte, error) {
	if len(s.batches) == 0 {
		return nil, io.EOF
	}
	batch := s.batches[0]
	s.batches = s.batches[1:]
	return batch, nil
}

// CollectBatches drains it.
func CollectBatches(it BatchIterator) ([][]byte, error) {
	var batches [][]byte
	for {
		batch, err := it.Next()
		if err == io.EOF {
			return batches, nil
		}
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
}

// CollectRows drains it. Rows are cloned, so they stay valid after it moves on.
func CollectRows(it RowIterator) ([]parquet.Row, error) {
	var rows []parquet.Row
	for {
		row, err := it.Next()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, row.Clone())
	}
}
