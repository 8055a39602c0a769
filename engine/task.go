package engine

import (
	"context"
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/google/uuid"
)

// TaskContext is the lifecycle of one partition task. Resources opened on
// behalf of the task register a completion listener to release them.
type TaskContext struct {
	ctx       context.Context
	jobID     string
	partition int
	logger    log.Logger

	mu        sync.Mutex
	listeners []func() error
	completed bool
}

// NewTaskContext creates a task outside of an engine job. Callers must call
// Complete once the task is done.
func NewTaskContext(ctx context.Context, partition int, logger log.Logger) *TaskContext {
	return newTaskContext(ctx, uuid.NewString(), partition, logger)
}

func newTaskContext(ctx context.Context, jobID string, partition int, logger log.Logger) *TaskContext {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &TaskContext{
		ctx:       ctx,
		jobID:     jobID,
		partition: partition,
		logger:    logger,
	}
}

func (t *TaskContext) Context() context.Context { return t.ctx }

func (t *TaskContext) PartitionID() int { return t.partition }

func (t *TaskContext) JobID() string { return t.jobID }

// AddCompletionListener registers fn to run when the task completes. If the
// task has already completed fn runs immediately.
func (t *TaskContext) AddCompletionListener(fn func() error) {
	t.mu.Lock()
	if t.completed {
		t.mu.Unlock()
		if err := fn(); err != nil {
			t.logListenerError(err)
		}
		return
	}
	t.listeners = append(t.listeners, fn)
	t.mu.Unlock()
}

func (t *TaskContext) IsCompleted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed
}

// Complete runs the registered listeners in reverse registration order and
// returns the first error. Only the first call has an effect.
func (t *TaskContext) Complete() error {
	t.mu.Lock()
	if t.completed {
		t.mu.Unlock()
		return nil
	}
	t.completed = true
	listeners := t.listeners
	t.listeners = nil
	t.mu.Unlock()

	var firstErr error
	for i := len(listeners) - 1; i >= 0; i-- {
		if err := listeners[i](); err != nil {
			t.logListenerError(err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (t *TaskContext) logListenerError(err error) {
	level.Warn(t.logger).Log("msg", "task completion listener failed", "job", t.jobID, "partition", t.partition, "err", err)
}
