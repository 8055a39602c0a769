// Package bridge moves partitioned row datasets in and out of arrow IPC
// streams. Encoding runs one task per partition and frames the batches of
// all partitions, in partition order, into a single stream; decoding turns
// batches back into a lazily computed dataset.
package bridge

import (
	"context"
	"fmt"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"Shopify/parquet-arrow-bridge/arena"
	"Shopify/parquet-arrow-bridge/codec"
	"Shopify/parquet-arrow-bridge/engine"
	"Shopify/parquet-arrow-bridge/schema"
)

const DefaultMaxRecordsPerBatch = 10000

type Options struct {
	// MaxRecordsPerBatch caps the rows of a batch; <= 0 means one batch per
	// partition.
	MaxRecordsPerBatch int
	// MaxBatchBytes additionally caps the estimated size of a batch; <= 0
	// disables the cap.
	MaxBatchBytes int64
	// TimeZoneID is attached to timestamp columns of the arrow schema.
	TimeZoneID string
	// TaskArenaLimit bounds the memory of a single encode or decode task;
	// <= 0 means unbounded.
	TaskArenaLimit int64
	// MemoryLimit bounds the memory of all running tasks; <= 0 means
	// unbounded.
	MemoryLimit int64
}

func DefaultOptions() Options {
	return Options{
		MaxRecordsPerBatch: DefaultMaxRecordsPerBatch,
		TimeZoneID:         "UTC",
	}
}

func (o Options) encoderOptions() codec.EncoderOptions {
	return codec.EncoderOptions{
		MaxRecordsPerBatch: o.MaxRecordsPerBatch,
		MaxBatchBytes:      o.MaxBatchBytes,
		TimeZoneID:         o.TimeZoneID,
	}
}

type Bridge struct {
	engine  *engine.Engine
	opts    Options
	memory  *arena.Arena
	metrics *metrics
	logger  log.Logger
}

// New creates a bridge running its tasks on e. Metrics are registered with
// reg unless it is nil.
func New(e *engine.Engine, opts Options, logger log.Logger, reg prometheus.Registerer) (*Bridge, error) {
	if err := schema.ValidateTimeZone(opts.TimeZoneID); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Bridge{
		engine:  e,
		opts:    opts,
		memory:  arena.NewRoot(nil, opts.MemoryLimit),
		metrics: newMetrics(reg),
		logger:  logger,
	}, nil
}

func (b *Bridge) Options() Options { return b.opts }

func (b *Bridge) Engine() *engine.Engine { return b.engine }

// MemoryInUse returns the bytes currently held by running tasks.
func (b *Bridge) MemoryInUse() int64 { return b.memory.Allocated() }

// PeakMemory returns the highest number of bytes held by running tasks at
// once.
func (b *Bridge) PeakMemory() int64 { return b.memory.Peak() }

// ActiveTasks returns the number of task arenas that are still open.
func (b *Bridge) ActiveTasks() int { return b.memory.NumChildren() }

func (b *Bridge) taskArena(op string, task *engine.TaskContext) (*arena.Arena, error) {
	mem, err := b.memory.NewChild(fmt.Sprintf("%s-%s-%d", op, task.JobID(), task.PartitionID()), b.opts.TaskArenaLimit)
	if err != nil {
		return nil, errors.Wrapf(err, "allocate %s arena", op)
	}
	return mem, nil
}

// countFailure records a failed task. Tasks stopped because another task of
// the job failed are not counted.
func (b *Bridge) countFailure(op string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	b.metrics.taskFailures.WithLabelValues(op).Inc()
	level.Warn(b.logger).Log("msg", "task failed", "op", op, "err", err)
}
