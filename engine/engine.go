package engine

import (
	"context"
	"runtime"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// TaskFunc consumes the rows of one partition.
type TaskFunc func(task *TaskContext, rows RowIterator) error

// Engine runs one task per dataset partition on a bounded number of
// goroutines.
type Engine struct {
	parallelism int
	logger      log.Logger
	observer    func(task *TaskContext, err error)
}

type Option func(*Engine)

func WithParallelism(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.parallelism = n
		}
	}
}

func WithLogger(logger log.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithTaskObserver calls fn after every task has completed, with the error
// the task failed with.
func WithTaskObserver(fn func(task *TaskContext, err error)) Option {
	return func(e *Engine) {
		e.observer = fn
	}
}

func New(opts ...Option) *Engine {
	e := &Engine{
		parallelism: runtime.GOMAXPROCS(0),
		logger:      log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Parallelism() int { return e.parallelism }

// Run executes fn once per partition of ds. The first failing task cancels
// the context of the others and its error is returned. Every task is
// completed, running its listeners, before Run returns.
func (e *Engine) Run(ctx context.Context, ds *Dataset, fn TaskFunc) error {
	jobID := uuid.NewString()
	level.Debug(e.logger).Log("msg", "starting job", "job", jobID, "partitions", ds.NumPartitions(), "parallelism", e.parallelism)

	errGroup, groupCtx := errgroup.WithContext(ctx)
	errGroup.SetLimit(e.parallelism)
	for partition := 0; partition < ds.NumPartitions(); partition++ {
		if groupCtx.Err() != nil {
			break
		}
		partition := partition
		errGroup.Go(func() error {
			return e.runTask(groupCtx, jobID, ds, partition, fn)
		})
	}
	if err := errGroup.Wait(); err != nil {
		level.Error(e.logger).Log("msg", "job failed", "job", jobID, "err", err)
		return err
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrapf(err, "job %s", jobID)
	}
	level.Debug(e.logger).Log("msg", "job finished", "job", jobID)
	return nil
}

func (e *Engine) runTask(ctx context.Context, jobID string, ds *Dataset, partition int, fn TaskFunc) (err error) {
	task := newTaskContext(ctx, jobID, partition, e.logger)
	defer func() {
		// Listener failures are already logged; they only surface when
		// the task itself succeeded.
		if completeErr := task.Complete(); completeErr != nil && err == nil {
			err = errors.Wrapf(completeErr, "complete partition %d", partition)
		}
		if e.observer != nil {
			e.observer(task, err)
		}
	}()

	rows, err := ds.compute(task, partition)
	if err != nil {
		return errors.Wrapf(err, "compute partition %d", partition)
	}
	if err := fn(task, rows); err != nil {
		level.Debug(e.logger).Log("msg", "task failed", "job", jobID, "partition", partition, "err", err)
		return err
	}
	return nil
}

// Map runs fn on every partition and returns the results indexed by
// partition.
func Map[T any](ctx context.Context, e *Engine, ds *Dataset, fn func(*TaskContext, RowIterator) (T, error)) ([]T, error) {
	results := make([]T, ds.NumPartitions())
	err := e.Run(ctx, ds, func(task *TaskContext, rows RowIterator) error {
		result, err := fn(task, rows)
		if err != nil {
			return err
		}
		results[task.PartitionID()] = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}
