// Package worker runs scheduled tasks pulled from the task queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/okian/skillstats/internal/adapters/lock"
	"github.com/okian/skillstats/internal/adapters/mq/queue"
	"github.com/okian/skillstats/pkg/logger"
	"github.com/okian/skillstats/pkg/metrics"
)

const (
	defaultWorkerCount  = 2
	defaultRetryDelay   = time.Second
	poolShutdownTimeout = 30 * time.Second
)

// ErrUnknownTask is returned for tasks without a registered handler.
var ErrUnknownTask = errors.New("unknown task")

// Task is what workers read off the queue.
type Task = queue.Task

// Handler runs one task.
type Handler func(ctx context.Context, t Task) error

// Queue defines how workers receive tasks.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Task
}

// Requeuer puts a deferred task back after delay.
type Requeuer interface {
	RunAfter(ctx context.Context, delay time.Duration, t Task) error
}

// Worker processes tasks until stopped.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown stops the worker after its current task.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker dispatches tasks to handlers. A task runs only while its
// worker holds the lock named after the task, so at most one run of a given
// task is in flight across the pool.
type InMemoryWorker struct {
	queue      Queue
	handlers   map[string]Handler
	locker     lock.Locker
	requeuer   Requeuer
	retryDelay time.Duration
	name       string
	processed  *atomic.Int64

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a worker with configuration options.
func NewInMemoryWorker(q Queue, handlers map[string]Handler, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:      q,
		handlers:   handlers,
		locker:     lock.NewLocalLocker(),
		retryDelay: defaultRetryDelay,
		name:       "worker",
		processed:  &atomic.Int64{},
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named(w.name)
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	tasks := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case t, ok := <-tasks:
			if !ok {
				return
			}
			if err := w.processTask(ctx, t); err != nil {
				w.logger.Error(ctx, "task failed",
					logger.String("task", t.Name),
					logger.Error(err))
			}
		}
	}
}

// Shutdown stops the worker after its current task.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	select {
	case <-w.shutdown:
	default:
		close(w.shutdown)
	}

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker) processTask(ctx context.Context, t Task) error {
	handler, ok := w.handlers[t.Name]
	if !ok {
		metrics.RecordErrorByComponent("worker", "unknown_task")
		return fmt.Errorf("%w: %q", ErrUnknownTask, t.Name)
	}

	start := time.Now()
	release, err := w.locker.TryLock(ctx, t.Name)
	if errors.Is(err, lock.ErrLockHeld) {
		metrics.RecordLockContention(t.Name)
		metrics.RecordTaskRun(t.Name, "deferred", msSince(start))
		w.logger.Debug(ctx, "task already running, deferring", logger.String("task", t.Name))
		return w.requeue(ctx, t)
	}
	if err != nil {
		metrics.RecordTaskRun(t.Name, "error", msSince(start))
		return fmt.Errorf("acquire lock for %s: %w", t.Name, err)
	}
	defer release()

	err = handler(ctx, t)
	w.processed.Add(1)
	if err != nil {
		metrics.RecordTaskRun(t.Name, "error", msSince(start))
		metrics.RecordErrorByComponent("worker", "task_error")
		return err
	}
	metrics.RecordTaskRun(t.Name, "ok", msSince(start))
	return nil
}

// requeue puts back a task whose lock was held so a drain continuation is
// never dropped. Without a requeuer the task is discarded.
func (w *InMemoryWorker) requeue(ctx context.Context, t Task) error {
	if w.requeuer == nil {
		return nil
	}
	if err := w.requeuer.RunAfter(ctx, w.retryDelay, t); err != nil {
		return fmt.Errorf("requeue %s: %w", t.Name, err)
	}
	return nil
}

// Pool manages multiple workers sharing one queue, lock and handler set.
type Pool struct {
	workers   []*InMemoryWorker
	queue     Queue
	processed atomic.Int64
	logger    logger.Logger
}

// NewPool creates a pool of workerCount workers. Options apply to every
// worker; without WithLocker the workers share one in-process lock.
func NewPool(workerCount int, q Queue, handlers map[string]Handler, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = defaultWorkerCount
	}

	pool := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		logger:  logger.Nop(),
	}

	probe := &InMemoryWorker{logger: logger.Nop()}
	for _, opt := range opts {
		opt(probe)
	}
	pool.logger = probe.logger.Named("worker-pool")

	shared := []Option{WithLocker(lock.NewLocalLocker())}
	for i := 0; i < workerCount; i++ {
		workerOpts := append(append([]Option{}, shared...), opts...)
		workerOpts = append(workerOpts, WithName("worker-"+strconv.Itoa(i)), withCounter(&pool.processed))
		pool.workers[i] = NewInMemoryWorker(q, handlers, workerOpts...)
	}

	metrics.UpdateWorkerCount(workerCount)
	return pool
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Processed returns how many tasks ran to completion or failure.
func (p *Pool) Processed() int64 { return p.processed.Load() }

// Shutdown closes the queue and waits for every worker to stop.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var errs []error
	for i, w := range p.workers {
		if err := w.Shutdown(shutdownCtx); err != nil {
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			errs = append(errs, err)
		}
	}
	metrics.UpdateWorkerCount(0)
	return errors.Join(errs...)
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
