package stats

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/skillstats/internal/adapters/repository"
	"github.com/okian/skillstats/internal/domain/model"
	"github.com/okian/skillstats/pkg/logger"
	"github.com/okian/skillstats/pkg/metrics"
)

// DefaultBatchSize is the number of events one run fetches by default.
const DefaultBatchSize = 100

const defaultGroupConcurrency = 4

// Scheduler enqueues a task to run after delay. A zero delay means now.
type Scheduler interface {
	RunAfter(ctx context.Context, delay time.Duration, task model.Task) error
}

// ProcessorStore is what the processor needs from persistence.
type ProcessorStore interface {
	UnprocessedEvents(ctx context.Context, limit int) ([]model.StatEvent, error)
	repository.GroupUpdater
}

// BatchResult summarises one run.
type BatchResult struct {
	Processed   int  // events marked processed
	Skills      int  // skill groups touched
	Missing     int  // groups whose skill no longer exists
	Rescheduled bool // a drain continuation was enqueued
}

// Processor drains the event log into skill counters and daily buckets.
// Runs are assumed to be serialized; the worker pool guarantees that with a
// single-flight lock.
type Processor struct {
	store            ProcessorStore
	scheduler        Scheduler
	logger           logger.Logger
	now              func() time.Time
	groupConcurrency int
	defaultBatchSize int
}

// NewProcessor creates a processor. scheduler may be nil, in which case a full
// batch is reported as an error instead of silently stopping the drain.
func NewProcessor(store ProcessorStore, scheduler Scheduler, opts ...ProcessorOption) *Processor {
	p := &Processor{
		store:            store,
		scheduler:        scheduler,
		logger:           logger.Nop(),
		now:              time.Now,
		groupConcurrency: defaultGroupConcurrency,
		defaultBatchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type group struct {
	skillID string
	events  []model.StatEvent
}

// ProcessBatch fetches up to batchSize unprocessed events and applies them one
// skill group at a time. Each group's counter patch, bucket upserts and
// processed marks commit together, so a failed run leaves the remaining
// groups unprocessed for the next one. A full batch enqueues a continuation.
func (p *Processor) ProcessBatch(ctx context.Context, batchSize int) (BatchResult, error) {
	if batchSize <= 0 {
		batchSize = p.defaultBatchSize
	}
	start := time.Now()

	events, err := p.store.UnprocessedEvents(ctx, batchSize)
	if err != nil {
		metrics.RecordErrorByComponent("processor", "fetch")
		return BatchResult{}, fmt.Errorf("fetch unprocessed events: %w", err)
	}
	if len(events) == 0 {
		metrics.RecordBatch(msSince(start), 0)
		return BatchResult{}, nil
	}

	groups := groupBySkill(events)
	now := p.now()

	var processed, missing atomic.Int64
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(p.groupConcurrency)
	for _, g := range groups {
		eg.Go(func() error {
			wasMissing, err := p.applyGroup(gctx, g, now)
			if err != nil {
				return fmt.Errorf("skill %s: %w", g.skillID, err)
			}
			processed.Add(int64(len(g.events)))
			if wasMissing {
				missing.Add(1)
			}
			return nil
		})
	}
	groupErr := eg.Wait()

	res := BatchResult{
		Processed: int(processed.Load()),
		Skills:    len(groups),
		Missing:   int(missing.Load()),
	}
	metrics.RecordEventsProcessed(res.Processed)
	metrics.RecordBatch(msSince(start), len(events))

	if groupErr != nil {
		metrics.RecordErrorByComponent("processor", "group")
		p.logger.Error(ctx, "stat event batch partially applied",
			logger.Int("fetched", len(events)),
			logger.Int("processed", res.Processed),
			logger.Error(groupErr))
		return res, groupErr
	}

	if len(events) == batchSize {
		if p.scheduler == nil {
			return res, ErrNoScheduler
		}
		task := model.Task{Name: model.TaskProcessStatEvents, BatchSize: batchSize}
		if err := p.scheduler.RunAfter(ctx, 0, task); err != nil {
			return res, fmt.Errorf("schedule drain continuation: %w", err)
		}
		res.Rescheduled = true
		metrics.RecordDrainReschedule()
	}

	p.logger.Info(ctx, "processed stat events",
		logger.Int("events", res.Processed),
		logger.Int("skills", res.Skills),
		logger.Int("missing_skills", res.Missing),
		logger.Bool("drained", !res.Rescheduled),
		logger.Duration("took", time.Since(start)))

	return res, nil
}

func (p *Processor) applyGroup(ctx context.Context, g group, now time.Time) (bool, error) {
	ids := make([]string, len(g.events))
	for i, e := range g.events {
		ids[i] = e.ID
	}

	missing := false
	err := p.store.UpdateSkillGroup(ctx, g.skillID, func(ctx context.Context, tx repository.GroupTx) error {
		skill, ok, err := tx.Skill(ctx)
		if err != nil {
			return err
		}
		missing = !ok
		if missing {
			return tx.MarkProcessed(ctx, ids, now)
		}

		agg := Aggregate(g.events)
		if !agg.IsZero() {
			if err := tx.SetCounters(ctx, ApplyDeltas(skill.Counters, agg.Deltas), now); err != nil {
				return err
			}
		}
		for _, at := range agg.DownloadTimes {
			if err := Bump(ctx, tx, at, 1, 0); err != nil {
				return err
			}
		}
		for _, at := range agg.InstallTimes {
			if err := Bump(ctx, tx, at, 0, 1); err != nil {
				return err
			}
		}
		return tx.MarkProcessed(ctx, ids, now)
	})
	if err != nil {
		return false, err
	}
	if missing {
		metrics.RecordMissingSkillGroup()
		p.logger.Debug(ctx, "skill missing, events marked processed",
			logger.String("skill_id", g.skillID),
			logger.Int("events", len(g.events)))
	}
	return missing, nil
}

// groupBySkill keeps the order in which skills first appear.
func groupBySkill(events []model.StatEvent) []group {
	index := make(map[string]int)
	var groups []group
	for _, e := range events {
		i, ok := index[e.SkillID]
		if !ok {
			i = len(groups)
			index[e.SkillID] = i
			groups = append(groups, group{skillID: e.SkillID})
		}
		groups[i].events = append(groups[i].events, e)
	}
	return groups
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
