package worker

import (
	"sync/atomic"
	"time"

	"github.com/okian/skillstats/internal/adapters/lock"
	"github.com/okian/skillstats/pkg/logger"
)

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithLocker sets the single-flight lock shared by the pool.
func WithLocker(l lock.Locker) Option {
	return func(w *InMemoryWorker) {
		if l != nil {
			w.locker = l
		}
	}
}

// WithRequeuer sets where deferred tasks go back to.
func WithRequeuer(r Requeuer) Option {
	return func(w *InMemoryWorker) {
		if r != nil {
			w.requeuer = r
		}
	}
}

// WithRetryDelay sets how long a deferred task waits before it is retried.
func WithRetryDelay(d time.Duration) Option {
	return func(w *InMemoryWorker) {
		if d > 0 {
			w.retryDelay = d
		}
	}
}

func withCounter(c *atomic.Int64) Option {
	return func(w *InMemoryWorker) {
		w.processed = c
	}
}
