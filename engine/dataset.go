package engine

import (
	"bytes"
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/segmentio/parquet-go"

	"Shopify/parquet-arrow-bridge/schema"
)

// RowIterator is a pull based source of rows. Next returns io.EOF once the
// partition is exhausted.
type RowIterator interface {
	Next() (parquet.Row, error)
}

// PartitionFunc opens the rows of one partition. Resources it acquires must
// be released by a completion listener registered on task.
type PartitionFunc func(task *TaskContext, partition int) (RowIterator, error)

// Dataset is a lazily computed, partitioned collection of rows sharing one
// schema.
type Dataset struct {
	schema        schema.Schema
	numPartitions int
	compute       PartitionFunc
}

func NewDataset(s schema.Schema, numPartitions int, compute PartitionFunc) *Dataset {
	return &Dataset{
		schema:        s,
		numPartitions: numPartitions,
		compute:       compute,
	}
}

// FromRows creates a dataset with one partition per rows slice.
func FromRows(s schema.Schema, partitions ...[]parquet.Row) *Dataset {
	return NewDataset(s, len(partitions), func(_ *TaskContext, partition int) (RowIterator, error) {
		return &sliceRows{rows: partitions[partition]}, nil
	})
}

// FromParquetFile creates a dataset with one partition per row group of f.
func FromParquetFile(f *parquet.File) (*Dataset, error) {
	s, err := schema.FromParquet(f.Schema())
	if err != nil {
		return nil, errors.Wrap(err, "read parquet schema")
	}
	rowGroups := f.RowGroups()
	return NewDataset(s, len(rowGroups), func(task *TaskContext, partition int) (RowIterator, error) {
		rows := newPrefetcher(task.Context(), rowGroups[partition].Rows())
		task.AddCompletionListener(rows.Close)
		return rows, nil
	}), nil
}

// OpenParquet opens an in-memory parquet file as a dataset.
func OpenParquet(data []byte) (*Dataset, error) {
	f, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, errors.Wrap(err, "open parquet file")
	}
	return FromParquetFile(f)
}

func (d *Dataset) Schema() schema.Schema { return d.schema }

func (d *Dataset) NumPartitions() int { return d.numPartitions }

// Collect returns all rows of ds in partition order.
func (e *Engine) Collect(ctx context.Context, ds *Dataset) ([]parquet.Row, error) {
	partitions, err := Map(ctx, e, ds, func(_ *TaskContext, rows RowIterator) ([]parquet.Row, error) {
		return drain(rows)
	})
	if err != nil {
		return nil, err
	}
	var all []parquet.Row
	for _, rows := range partitions {
		all = append(all, rows...)
	}
	return all, nil
}

// Count returns the number of rows of ds.
func (e *Engine) Count(ctx context.Context, ds *Dataset) (int64, error) {
	counts, err := Map(ctx, e, ds, func(_ *TaskContext, rows RowIterator) (int64, error) {
		var n int64
		for {
			_, err := rows.Next()
			if err == io.EOF {
				return n, nil
			}
			if err != nil {
				return 0, err
			}
			n++
		}
	})
	if err != nil {
		return 0, err
	}
	var total int64
	for _, n := range counts {
		total += n
	}
	return total, nil
}

// WriteParquet writes ds to w as a parquet file with one row group per
// non-empty partition, in partition order.
func (e *Engine) WriteParquet(ctx context.Context, ds *Dataset, w io.Writer) error {
	partitions, err := Map(ctx, e, ds, func(_ *TaskContext, rows RowIterator) ([]parquet.Row, error) {
		return drain(rows)
	})
	if err != nil {
		return err
	}

	writer := parquet.NewWriter(w, ds.Schema().ParquetSchema(), parquet.DataPageStatistics(true))
	for partition, rows := range partitions {
		if len(rows) == 0 {
			continue
		}
		if _, err := writer.WriteRows(rows); err != nil {
			return errors.Wrapf(err, "write partition %d", partition)
		}
		if err := writer.Flush(); err != nil {
			return errors.Wrapf(err, "flush partition %d", partition)
		}
	}
	if err := writer.Close(); err != nil {
		return errors.Wrap(err, "close parquet writer")
	}
	return nil
}

func drain(rows RowIterator) ([]parquet.Row, error) {
	var result []parquet.Row
	for {
		row, err := rows.Next()
		if err == io.EOF {
			return result, nil
		}
		if err != nil {
			return nil, err
		}
		result = append(result, row.Clone())
	}
}

type sliceRows struct {
	rows []parquet.Row
}

func (s *sliceRows) Next() (parquet.Row, error) {
	if len(s.rows) == 0 {
		return nil, io.EOF
	}
	row := s.rows[0]
	s.rows = s.rows[1:]
	return row, nil
}
