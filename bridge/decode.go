package bridge

import (
	"bytes"
	"io"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"github.com/segmentio/parquet-go"

	"Shopify/parquet-arrow-bridge/codec"
	"Shopify/parquet-arrow-bridge/engine"
	"Shopify/parquet-arrow-bridge/schema"
)

// DecodeToDataset returns a dataset with one partition per element of
// batchesPerPartition. Batches are decoded lazily, when a task pulls the
// rows of its partition.
func (b *Bridge) DecodeToDataset(batchesPerPartition [][][]byte, s schema.Schema) *engine.Dataset {
	return b.decodeToDataset(batchesPerPartition, s, b.opts.TimeZoneID)
}

func (b *Bridge) decodeToDataset(batchesPerPartition [][][]byte, s schema.Schema, timeZoneID string) *engine.Dataset {
	return engine.NewDataset(s, len(batchesPerPartition), func(task *engine.TaskContext, partition int) (engine.RowIterator, error) {
		mem, err := b.taskArena(opDecode, task)
		if err != nil {
			return nil, err
		}
		batches := &countingBatches{
			batches: codec.BatchesOf(batchesPerPartition[partition]...),
			metrics: b.metrics,
		}
		dec, err := codec.NewRowDecoder(task, batches, s, timeZoneID, mem)
		if err != nil {
			b.countFailure(opDecode, err)
			return nil, err
		}
		return &countingRows{bridge: b, rows: dec}, nil
	})
}

// DecodeStream reads a framed stream and spreads its batches over
// numPartitions partitions in contiguous chunks, so that reading the
// partitions in order yields the rows in stream order. An empty schema is
// taken from the stream, along with its time zone, instead of being checked
// against it.
func (b *Bridge) DecodeStream(r io.Reader, s schema.Schema, numPartitions int) (*engine.Dataset, error) {
	if numPartitions <= 0 {
		numPartitions = 1
	}

	expected, tz := s, b.opts.TimeZoneID
	sr, err := b.streamReader(r, s)
	if err != nil {
		return nil, err
	}
	if s.Len() == 0 {
		if expected, tz, err = streamSchema(sr.Schema(), tz); err != nil {
			return nil, err
		}
	}
	batches, err := codec.CollectBatches(sr)
	if err != nil {
		return nil, err
	}

	level.Debug(b.logger).Log("msg", "decoded stream", "batches", len(batches), "partitions", numPartitions)
	return b.decodeToDataset(SplitBatches(batches, numPartitions), expected, tz), nil
}

// DecodeStreams returns a dataset with one partition per framed stream. All
// streams must share one schema: s when it is not empty, otherwise the
// schema and time zone of the first stream.
func (b *Bridge) DecodeStreams(streams [][]byte, s schema.Schema) (*engine.Dataset, error) {
	tz := b.opts.TimeZoneID
	var expected *arrow.Schema
	if s.Len() > 0 {
		as, err := s.ArrowSchema(b.opts.TimeZoneID)
		if err != nil {
			return nil, err
		}
		expected = as
	} else if len(streams) == 0 {
		return nil, errors.New("no streams to take the schema from")
	}

	partitions := make([][][]byte, len(streams))
	for i, stream := range streams {
		sr, err := codec.NewStreamReader(bytes.NewReader(stream), expected)
		if err != nil {
			return nil, errors.Wrapf(err, "stream %d", i)
		}
		if expected == nil {
			expected = sr.Schema()
			if s, tz, err = streamSchema(expected, tz); err != nil {
				return nil, errors.Wrapf(err, "stream %d", i)
			}
		}
		if partitions[i], err = codec.CollectBatches(sr); err != nil {
			return nil, errors.Wrapf(err, "stream %d", i)
		}
	}
	level.Debug(b.logger).Log("msg", "decoded streams", "streams", len(streams))
	return b.decodeToDataset(partitions, s, tz), nil
}

func (b *Bridge) streamReader(r io.Reader, s schema.Schema) (*codec.StreamReader, error) {
	if s.Len() == 0 {
		return codec.NewStreamReader(r, nil)
	}
	as, err := s.ArrowSchema(b.opts.TimeZoneID)
	if err != nil {
		return nil, err
	}
	return codec.NewStreamReader(r, as)
}

// streamSchema converts the schema of a stream. Streams without timestamp
// fields carry no time zone and keep fallback.
func streamSchema(as *arrow.Schema, fallback string) (schema.Schema, string, error) {
	s, tz, err := schema.FromArrow(as)
	if err != nil {
		return schema.Schema{}, "", errors.Wrap(err, "read stream schema")
	}
	if tz == "" {
		tz = fallback
	}
	return s, tz, nil
}

// SplitBatches divides batches into n contiguous chunks whose sizes differ
// by at most one. n is raised to 1 when smaller.
func SplitBatches(batches [][]byte, n int) [][][]byte {
	if n < 1 {
		n = 1
	}
	chunks := make([][][]byte, n)
	for i := 0; i < n; i++ {
		from, to := i*len(batches)/n, (i+1)*len(batches)/n
		chunks[i] = batches[from:to]
	}
	return chunks
}

type countingBatches struct {
	batches codec.BatchIterator
	metrics *metrics
}

func (c *countingBatches) Next() ([]byte, error) {
	batch, err := c.batches.Next()
	if err == nil {
		c.metrics.batchesDecoded.Inc()
	}
	return batch, err
}

type countingRows struct {
	bridge *Bridge
	rows   *codec.RowDecoder
	failed bool
}

func (c *countingRows) Next() (parquet.Row, error) {
	row, err := c.rows.Next()
	switch {
	case err == nil:
		c.bridge.metrics.rowsDecoded.Inc()
	case err != io.EOF && !c.failed:
		c.failed = true
		c.bridge.countFailure(opDecode, err)
	}
	return row, err
}
