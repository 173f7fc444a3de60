package relay

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/oshokin/alarm-relay/internal/logger"
	"github.com/oshokin/alarm-relay/internal/metrics"
)

// defaultQueueSize bounds the number of pending background tasks.
const defaultQueueSize = 64

// task is a unit of background work.
type task struct {
	// ctx carries the task logger and its task_id.
	ctx context.Context //nolint:containedctx // Travels with the task through the queue.
	// fn is the work itself.
	fn func(ctx context.Context)
}

// executor runs tasks one at a time on a single worker goroutine, in submission order.
// Submit never blocks the caller.
type executor struct {
	// queue holds pending tasks.
	queue chan task
	// wg tracks the worker goroutine.
	wg sync.WaitGroup
	// mu guards closed against concurrent Submit and Close.
	mu sync.RWMutex
	// closed is set once Close was called.
	closed bool
	// metrics counts dropped tasks.
	metrics *metrics.Metrics
}

// newExecutor starts the worker. size <= 0 selects defaultQueueSize.
func newExecutor(size int, m *metrics.Metrics) *executor {
	if size <= 0 {
		size = defaultQueueSize
	}

	e := &executor{
		queue:   make(chan task, size),
		metrics: m,
	}

	e.wg.Go(e.run)

	return e
}

// Submit queues fn and reports whether it was accepted. The task context
// keeps the values of ctx but not its cancellation.
func (e *executor) Submit(ctx context.Context, name string, fn func(ctx context.Context)) bool {
	taskCtx := logger.WithFields(context.WithoutCancel(ctx), "task", name, "task_id", uuid.NewString())

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		logger.Warn(taskCtx, "Executor closed, dropping task")
		e.metrics.RecordDroppedTask()

		return false
	}

	select {
	case e.queue <- task{ctx: taskCtx, fn: fn}:
		return true
	default:
		logger.Warn(taskCtx, "Task queue full, dropping task")
		e.metrics.RecordDroppedTask()

		return false
	}
}

// Close stops accepting tasks, runs the queued ones and waits for the worker.
func (e *executor) Close() {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.mu.Unlock()

	e.wg.Wait()
}

func (e *executor) run() {
	for t := range e.queue {
		e.execute(t)
	}
}

// execute runs a single task, a panic is logged and does not stop the worker.
func (e *executor) execute(t task) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorKV(t.ctx, "Task panicked", "panic", r)
		}
	}()

	logger.Debug(t.ctx, "Task started")
	t.fn(t.ctx)
	logger.Debug(t.ctx, "Task finished")
}
