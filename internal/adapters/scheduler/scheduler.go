// Package scheduler turns periodic cron triggers and delayed runs into tasks
// on the task queue.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/okian/skillstats/internal/domain/model"
	"github.com/okian/skillstats/pkg/logger"
)

// ErrStopped is returned for tasks scheduled after Stop.
var ErrStopped = errors.New("scheduler stopped")

// Enqueuer accepts tasks for immediate execution.
type Enqueuer interface {
	Enqueue(ctx context.Context, t model.Task) error
}

// Scheduler owns the cron entries and the pending delayed runs.
type Scheduler struct {
	cron   *cron.Cron
	queue  Enqueuer
	logger logger.Logger

	mu      sync.Mutex
	timers  map[*time.Timer]struct{}
	stopped bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithLocation sets the time zone cron specs are evaluated in. Defaults to UTC.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.cron = cron.New(cron.WithLocation(loc))
		}
	}
}

// New creates a scheduler feeding q.
func New(q Enqueuer, opts ...Option) *Scheduler {
	s := &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		queue:  q,
		logger: logger.Nop(),
		timers: make(map[*time.Timer]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Every enqueues task on the cron spec, e.g. "@every 5m" or "0 * * * *".
func (s *Scheduler) Every(spec string, task model.Task) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx := context.Background()
		if err := s.queue.Enqueue(ctx, task); err != nil {
			s.logger.Warn(ctx, "periodic task not enqueued",
				logger.String("task", task.Name),
				logger.String("spec", spec),
				logger.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %s on %q: %w", task.Name, spec, err)
	}
	return nil
}

// RunAfter enqueues task now when delay is zero, otherwise once delay has
// elapsed. Delayed runs that fail to enqueue are logged.
func (s *Scheduler) RunAfter(ctx context.Context, delay time.Duration, task model.Task) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if delay <= 0 {
		s.mu.Unlock()
		return s.queue.Enqueue(ctx, task)
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, timer)
		s.mu.Unlock()

		bg := context.Background()
		if err := s.queue.Enqueue(bg, task); err != nil {
			s.logger.Warn(bg, "delayed task not enqueued",
				logger.String("task", task.Name),
				logger.Error(err))
		}
	})
	s.timers[timer] = struct{}{}
	s.mu.Unlock()
	return nil
}

// Pending returns the number of delayed runs not yet enqueued.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Start begins firing cron entries.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts cron, cancels pending delayed runs and waits for running cron
// callbacks or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	for t := range s.timers {
		t.Stop()
		delete(s.timers, t)
	}
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}
