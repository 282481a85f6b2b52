package service

import (
	"time"

	"github.com/okian/skillstats/internal/adapters/lock"
	"github.com/okian/skillstats/internal/adapters/repository"
	"github.com/okian/skillstats/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the persistence backend. The service closes it on Stop.
// Without it Start creates a MemoryStore.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithLocker sets the single-flight lock shared by task workers.
func WithLocker(l lock.Locker) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

// WithWorkerCount sets the number of task workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the task queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets the size of the event id deduplication cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithBatchSize sets the number of events one processor run claims.
func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithGroupConcurrency bounds concurrent skill groups within a batch.
func WithGroupConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.groupConcurrency = n
		}
	}
}

// WithSchedules sets the cron specs for the processor and the publisher.
// An empty spec disables that trigger.
func WithSchedules(process, publish string) Option {
	return func(s *Service) {
		s.processSchedule = process
		s.publishSchedule = publish
	}
}

// WithTrendingLimit sets how many entries each snapshot stores.
func WithTrendingLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.trendingLimit = n
		}
	}
}

// WithRetention sets how many snapshots survive and how far past them a prune looks.
func WithRetention(keep, cushion int) Option {
	return func(s *Service) {
		if keep > 0 {
			s.keepSnapshots = keep
		}
		if cushion >= 0 {
			s.pruneCushion = cushion
		}
	}
}

// WithTrendingCacheTTL caches the latest snapshot for reads.
func WithTrendingCacheTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl >= 0 {
			s.cacheTTL = ttl
		}
	}
}

// WithRetryDelay sets how long a task waits when another run holds its lock.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.retryDelay = d
		}
	}
}

// WithStartupRuns controls whether Start enqueues one processor and one
// publisher run immediately.
func WithStartupRuns(enabled bool) Option {
	return func(s *Service) {
		s.startupRuns = enabled
	}
}

// WithClock overrides the time source used by every component.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
