package bridge

import (
	"bytes"
	"context"
	"io"

	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"

	"Shopify/parquet-arrow-bridge/codec"
	"Shopify/parquet-arrow-bridge/engine"
)

// EncodePartitions encodes every partition of ds into serialized record
// batches. The result is indexed by partition.
func (b *Bridge) EncodePartitions(ctx context.Context, ds *engine.Dataset) ([][][]byte, error) {
	return engine.Map(ctx, b.engine, ds, func(task *engine.TaskContext, rows engine.RowIterator) ([][]byte, error) {
		batches, err := b.encodePartition(task, ds, rows)
		if err != nil {
			b.countFailure(opEncode, err)
			return nil, errors.Wrapf(err, "encode partition %d", task.PartitionID())
		}
		return batches, nil
	})
}

func (b *Bridge) encodePartition(task *engine.TaskContext, ds *engine.Dataset, rows engine.RowIterator) ([][]byte, error) {
	mem, err := b.taskArena(opEncode, task)
	if err != nil {
		return nil, err
	}
	enc, err := codec.NewBatchEncoder(task, rows, ds.Schema(), b.opts.encoderOptions(), mem)
	if err != nil {
		return nil, err
	}

	var (
		batches [][]byte
		size    int
	)
	for {
		batch, err := enc.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
		size += len(batch)
		b.metrics.batchesEncoded.Inc()
		b.metrics.batchBytes.Add(float64(len(batch)))
	}
	b.metrics.rowsEncoded.Add(float64(enc.RowsEncoded()))
	level.Debug(b.logger).Log(
		"msg", "encoded partition",
		"job", task.JobID(),
		"partition", task.PartitionID(),
		"rows", enc.RowsEncoded(),
		"batches", len(batches),
		"bytes", size,
	)
	return batches, nil
}

// EncodeDatasetTo writes ds to w as a single framed stream. Batches keep
// partition order and, within a partition, row order.
func (b *Bridge) EncodeDatasetTo(ctx context.Context, ds *engine.Dataset, w io.Writer) error {
	partitions, err := b.EncodePartitions(ctx, ds)
	if err != nil {
		return err
	}

	sw, err := codec.NewStreamWriter(w, ds.Schema(), b.opts.TimeZoneID)
	if err != nil {
		return err
	}
	for _, batches := range partitions {
		if err := sw.WriteBatches(batches); err != nil {
			return err
		}
	}
	if err := sw.End(); err != nil {
		return err
	}
	level.Info(b.logger).Log("msg", "encoded dataset", "partitions", len(partitions), "batches", sw.NumBatches(), "bytes", sw.BytesWritten())
	return nil
}

// EncodeDataset returns ds as a single framed stream.
func (b *Bridge) EncodeDataset(ctx context.Context, ds *engine.Dataset) ([]byte, error) {
	var buf bytes.Buffer
	if err := b.EncodeDatasetTo(ctx, ds, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
