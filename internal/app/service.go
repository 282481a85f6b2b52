// Package service wires the stats engine together and implements the
// dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/okian/skillstats/internal/adapters/lock"
	"github.com/okian/skillstats/internal/adapters/mq/queue"
	"github.com/okian/skillstats/internal/adapters/mq/worker"
	"github.com/okian/skillstats/internal/adapters/repository"
	"github.com/okian/skillstats/internal/adapters/scheduler"
	"github.com/okian/skillstats/internal/domain/dedupe"
	"github.com/okian/skillstats/internal/domain/model"
	"github.com/okian/skillstats/internal/domain/ranking"
	"github.com/okian/skillstats/internal/domain/stats"
	"github.com/okian/skillstats/internal/domain/types"
	"github.com/okian/skillstats/pkg/logger"
	"github.com/okian/skillstats/pkg/metrics"
)

// Service owns the event log, the batch processor, the trending publisher
// and consumer, and the scheduler and workers that drive them.
type Service struct {
	mu sync.RWMutex

	store     repository.Store
	locker    lock.Locker
	deduper   dedupe.Deduper
	events    *stats.EventLog
	processor *stats.Processor
	builder   *ranking.Builder
	publisher *ranking.Publisher
	consumer  *ranking.Consumer
	queue     *queue.InMemoryQueue
	scheduler *scheduler.Scheduler
	pool      *worker.Pool

	workerCount      int
	queueSize        int
	dedupeSize       int
	batchSize        int
	groupConcurrency int
	processSchedule  string
	publishSchedule  string
	trendingLimit    int
	keepSnapshots    int
	pruneCushion     int
	cacheTTL         time.Duration
	retryDelay       time.Duration
	startupRuns      bool
	now              func() time.Time

	started bool
	cancel  context.CancelFunc

	logger logger.Logger
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:      runtime.NumCPU(),
		queueSize:        1024,
		dedupeSize:       50_000,
		batchSize:        stats.DefaultBatchSize,
		groupConcurrency: 4,
		processSchedule:  "@every 5m",
		publishSchedule:  "@every 1h",
		trendingLimit:    ranking.MaxLimit,
		keepSnapshots:    ranking.DefaultKeep,
		pruneCushion:     ranking.DefaultCushion,
		cacheTTL:         30 * time.Second,
		retryDelay:       time.Second,
		startupRuns:      true,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds the components, registers the periodic triggers and starts
// the workers. Starting a started service is a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	named := func(name string) logger.Logger { return s.logger.Named(name) }

	s.logger.Info(ctx, "starting skill stats service...")

	runCtx, cancel := context.WithCancel(ctx)

	if s.store == nil {
		s.store = repository.NewMemoryStore(runCtx)
		s.logger.Info(ctx, "using in-memory store")
	}
	if s.locker == nil {
		s.locker = lock.NewLocalLocker()
	}

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.events = stats.NewEventLog(s.store,
		stats.WithEventLogLogger(named("event-log")),
		stats.WithEventLogClock(s.now))

	s.builder = ranking.NewBuilder(s.store)
	s.consumer = ranking.NewConsumer(s.store, s.builder,
		ranking.WithConsumerLogger(named("consumer")),
		ranking.WithConsumerClock(s.now),
		ranking.WithCacheTTL(s.cacheTTL))
	s.publisher = ranking.NewPublisher(s.builder, s.store,
		ranking.WithPublisherLogger(named("publisher")),
		ranking.WithPublisherClock(s.now),
		ranking.WithRetention(s.keepSnapshots, s.pruneCushion),
		ranking.WithPublishHook(s.consumer.Observe))

	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	s.scheduler = scheduler.New(s.queue, scheduler.WithLogger(named("scheduler")))
	s.processor = stats.NewProcessor(s.store, s.scheduler,
		stats.WithLogger(named("processor")),
		stats.WithClock(s.now),
		stats.WithGroupConcurrency(s.groupConcurrency),
		stats.WithDefaultBatchSize(s.batchSize))

	handlers := map[string]worker.Handler{
		model.TaskProcessStatEvents: func(ctx context.Context, t worker.Task) error {
			_, err := s.processor.ProcessBatch(ctx, t.BatchSize)
			return err
		},
		model.TaskRebuildTrending: func(ctx context.Context, t worker.Task) error {
			_, err := s.publisher.Rebuild(ctx, t.Limit)
			return err
		},
	}
	s.pool = worker.NewPool(s.workerCount, s.queue, handlers,
		worker.WithLogger(named("worker")),
		worker.WithLocker(s.locker),
		worker.WithRequeuer(s.scheduler),
		worker.WithRetryDelay(s.retryDelay))

	if s.processSchedule != "" {
		if err := s.scheduler.Every(s.processSchedule, s.task(model.TaskProcessStatEvents)); err != nil {
			cancel()
			return err
		}
	}
	if s.publishSchedule != "" {
		if err := s.scheduler.Every(s.publishSchedule, s.task(model.TaskRebuildTrending)); err != nil {
			cancel()
			return err
		}
	}

	s.pool.Start(runCtx)
	s.scheduler.Start()
	s.cancel = cancel
	s.started = true

	if s.startupRuns {
		for _, name := range []string{model.TaskProcessStatEvents, model.TaskRebuildTrending} {
			if err := s.queue.Enqueue(ctx, s.task(name)); err != nil {
				s.logger.Warn(ctx, "startup task not enqueued",
					logger.String("task", name), logger.Error(err))
			}
		}
	}

	s.logger.Info(ctx, "skill stats service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queue_size", s.queueSize),
		logger.Int("batch_size", s.batchSize),
		logger.String("process_schedule", s.processSchedule),
		logger.String("publish_schedule", s.publishSchedule),
	)
	return nil
}

// Stop halts the triggers, drains the workers and closes the store.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping skill stats service...")

	if err := s.scheduler.Stop(ctx); err != nil {
		s.logger.Warn(ctx, "scheduler stop", logger.Error(err))
	}
	if err := s.pool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "worker pool shutdown", logger.Error(err))
	}
	s.cancel()
	if err := s.store.Close(); err != nil {
		s.logger.Warn(ctx, "store close", logger.Error(err))
	}

	s.started = false
	s.logger.Info(ctx, "skill stats service stopped")
}

func (s *Service) task(name string) model.Task {
	switch name {
	case model.TaskProcessStatEvents:
		return model.Task{Name: name, BatchSize: s.batchSize}
	case model.TaskRebuildTrending:
		return model.Task{Name: name, Limit: s.trendingLimit}
	}
	return model.Task{Name: name}
}

func (s *Service) running() error {
	if !s.started {
		return ErrNotStarted
	}
	return nil
}

// SeenAndRecord reports whether a client event id was already accepted and
// records it if not.
func (s *Service) SeenAndRecord(ctx context.Context, id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.deduper == nil {
		return false
	}
	seen := s.deduper.SeenAndRecord(ctx, id)
	if seen {
		metrics.RecordEventDuplicate()
	}
	return seen
}

// Unrecord forgets a client event id so a failed append can be retried.
func (s *Service) Unrecord(ctx context.Context, id string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.deduper != nil {
		s.deduper.Unrecord(ctx, id)
	}
}

// Size returns the number of remembered client event ids.
func (s *Service) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.deduper == nil {
		return 0
	}
	return s.deduper.Size()
}

// Append records one stat event.
func (s *Service) Append(ctx context.Context, skillID string, kind model.Kind, opts ...stats.AppendOption) (model.StatEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.running(); err != nil {
		return model.StatEvent{}, err
	}
	return s.events.Append(ctx, skillID, kind, opts...)
}

// Trending returns the current trending leaderboard with ranks assigned.
func (s *Service) Trending(ctx context.Context, limit int) (types.Trending, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.running(); err != nil {
		return types.Trending{}, err
	}

	board, err := s.consumer.Trending(ctx, limit)
	if err != nil {
		return types.Trending{}, err
	}
	out := types.Trending{
		GeneratedAt:   board.GeneratedAt,
		RangeStartDay: board.StartDay,
		RangeEndDay:   board.EndDay,
		Fallback:      board.Fallback,
		Items:         make([]types.Entry, len(board.Items)),
	}
	for i, it := range board.Items {
		out.Items[i] = types.Entry{
			Rank:      i + 1,
			SkillID:   it.SkillID,
			Score:     it.Score,
			Installs:  it.Installs,
			Downloads: it.Downloads,
		}
	}
	return out, nil
}

// Skill returns the denormalized counters of a skill.
func (s *Service) Skill(ctx context.Context, id string) (types.SkillStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.running(); err != nil {
		return types.SkillStats{}, err
	}
	sk, err := s.store.GetSkill(ctx, id)
	if err != nil {
		return types.SkillStats{}, fmt.Errorf("skill %s: %w", id, err)
	}
	return toSkillStats(sk), nil
}

// RegisterSkill creates a skill with zero counters. An existing skill is
// returned unchanged with created false.
func (s *Service) RegisterSkill(ctx context.Context, id, slug string) (types.SkillStats, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.running(); err != nil {
		return types.SkillStats{}, false, err
	}
	if id == "" {
		return types.SkillStats{}, false, stats.ErrEmptySkillID
	}

	existing, err := s.store.GetSkill(ctx, id)
	if err == nil {
		return toSkillStats(existing), false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return types.SkillStats{}, false, fmt.Errorf("skill %s: %w", id, err)
	}

	sk := model.Skill{ID: id, Slug: slug, UpdatedAt: s.now()}
	if err := s.store.PutSkill(ctx, sk); err != nil {
		return types.SkillStats{}, false, fmt.Errorf("register skill %s: %w", id, err)
	}
	s.logger.Info(ctx, "skill registered", logger.String("skill_id", id))
	return toSkillStats(sk), true, nil
}

// PurgeSkill deletes a skill and everything this engine derived from it.
func (s *Service) PurgeSkill(ctx context.Context, id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.running(); err != nil {
		return err
	}
	if id == "" {
		return stats.ErrEmptySkillID
	}
	if err := s.store.PurgeSkill(ctx, id); err != nil {
		metrics.RecordErrorByComponent("service", "purge")
		return fmt.Errorf("purge skill %s: %w", id, err)
	}
	s.consumer.Invalidate()
	s.logger.Info(ctx, "skill purged", logger.String("skill_id", id))
	return nil
}

// EnqueueTask schedules a named task to run now with the configured
// batch size or limit.
func (s *Service) EnqueueTask(ctx context.Context, name string) (model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.running(); err != nil {
		return model.Task{}, err
	}
	if name != model.TaskProcessStatEvents && name != model.TaskRebuildTrending {
		return model.Task{}, fmt.Errorf("%w: %q", ErrUnknownTask, name)
	}
	t := s.task(name)
	if err := s.scheduler.RunAfter(ctx, 0, t); err != nil {
		return model.Task{}, fmt.Errorf("enqueue %s: %w", name, err)
	}
	return t, nil
}

// ProcessNow runs one processor batch synchronously under the task lock.
// It returns lock.ErrLockHeld while a worker is processing.
func (s *Service) ProcessNow(ctx context.Context) (stats.BatchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.running(); err != nil {
		return stats.BatchResult{}, err
	}
	release, err := s.locker.TryLock(ctx, model.TaskProcessStatEvents)
	if err != nil {
		return stats.BatchResult{}, err
	}
	defer release()
	return s.processor.ProcessBatch(ctx, s.batchSize)
}

// PublishNow runs one publisher rebuild synchronously under the task lock.
func (s *Service) PublishNow(ctx context.Context) (model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.running(); err != nil {
		return model.Snapshot{}, err
	}
	release, err := s.locker.TryLock(ctx, model.TaskRebuildTrending)
	if err != nil {
		return model.Snapshot{}, err
	}
	defer release()
	return s.publisher.Rebuild(ctx, s.trendingLimit)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	out := map[string]interface{}{
		"started":         s.started,
		"workerCount":     s.workerCount,
		"queueSize":       s.queueSize,
		"batchSize":       s.batchSize,
		"trendingLimit":   s.trendingLimit,
		"processSchedule": s.processSchedule,
		"publishSchedule": s.publishSchedule,
	}
	if !s.started {
		return out
	}

	out["queueLength"] = s.queue.Len(ctx)
	out["pendingRetries"] = s.scheduler.Pending()
	out["tasksProcessed"] = s.pool.Processed()
	out["dedupeEntries"] = s.deduper.Size()
	if b, ok := s.store.(interface{ Backlog() int }); ok {
		backlog := b.Backlog()
		out["unprocessedEvents"] = backlog
		metrics.UpdateUnprocessedBacklog(backlog)
	}
	metrics.UpdateQueueSize(s.queue.Len(ctx))
	return out
}

func toSkillStats(sk model.Skill) types.SkillStats {
	return types.SkillStats{
		SkillID:         sk.ID,
		Slug:            sk.Slug,
		Downloads:       sk.Counters.Downloads,
		Stars:           sk.Counters.Stars,
		InstallsCurrent: sk.Counters.InstallsCurrent,
		InstallsAllTime: sk.Counters.InstallsAllTime,
		UpdatedAt:       sk.UpdatedAt,
	}
}
