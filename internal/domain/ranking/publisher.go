package ranking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okian/skillstats/internal/domain/model"
	"github.com/okian/skillstats/pkg/logger"
	"github.com/okian/skillstats/pkg/metrics"
)

// Retention defaults.
const (
	DefaultKeep    = 3
	DefaultCushion = 5
)

// SnapshotStore persists leaderboard snapshots.
type SnapshotStore interface {
	InsertSnapshot(ctx context.Context, s model.Snapshot) error
	RecentSnapshots(ctx context.Context, kind model.LeaderboardKind, limit int) ([]model.Snapshot, error)
	DeleteSnapshot(ctx context.Context, id string) error
}

// Publisher writes a new trending snapshot and prunes old ones.
type Publisher struct {
	builder *Builder
	store   SnapshotStore
	logger  logger.Logger
	now     func() time.Time
	newID   func() string
	keep    int
	cushion int
	hooks   []func(model.Snapshot)
}

// NewPublisher creates a publisher.
func NewPublisher(builder *Builder, store SnapshotStore, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		builder: builder,
		store:   store,
		logger:  logger.Nop(),
		now:     time.Now,
		newID:   uuid.NewString,
		keep:    DefaultKeep,
		cushion: DefaultCushion,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Rebuild computes the leaderboard as of now, inserts it, then keeps only the
// newest snapshots. Insert and prune are separate steps: a failed prune
// leaves extra snapshots behind and is logged, never returned.
func (p *Publisher) Rebuild(ctx context.Context, limit int) (model.Snapshot, error) {
	start := time.Now()
	limit = ClampLimit(limit)
	now := p.now()

	board, err := p.builder.Build(ctx, limit, now)
	if err != nil {
		metrics.RecordErrorByComponent("publisher", "build")
		return model.Snapshot{}, err
	}

	snap := model.Snapshot{
		ID:            p.newID(),
		Kind:          model.KindTrending,
		GeneratedAt:   now,
		RangeStartDay: board.StartDay,
		RangeEndDay:   board.EndDay,
		Items:         board.Items,
	}
	if err := p.store.InsertSnapshot(ctx, snap); err != nil {
		metrics.RecordErrorByComponent("publisher", "insert")
		return model.Snapshot{}, fmt.Errorf("insert snapshot: %w", err)
	}
	metrics.RecordSnapshotPublished(len(snap.Items), msSince(start))
	for _, hook := range p.hooks {
		hook(snap)
	}

	pruned, err := p.prune(ctx)
	if err != nil {
		metrics.RecordSnapshotPruneError()
		p.logger.Warn(ctx, "snapshot prune failed", logger.Error(err))
	}

	p.logger.Info(ctx, "published trending leaderboard",
		logger.String("snapshot_id", snap.ID),
		logger.Int("items", len(snap.Items)),
		logger.Int64("start_day", snap.RangeStartDay),
		logger.Int64("end_day", snap.RangeEndDay),
		logger.Int("pruned", pruned))

	return snap, nil
}

func (p *Publisher) prune(ctx context.Context) (int, error) {
	recent, err := p.store.RecentSnapshots(ctx, model.KindTrending, p.keep+p.cushion)
	if err != nil {
		return 0, fmt.Errorf("list snapshots: %w", err)
	}
	if len(recent) <= p.keep {
		return 0, nil
	}

	pruned := 0
	for _, old := range recent[p.keep:] {
		if err := p.store.DeleteSnapshot(ctx, old.ID); err != nil {
			metrics.RecordSnapshotsPruned(pruned)
			return pruned, fmt.Errorf("delete snapshot %s: %w", old.ID, err)
		}
		pruned++
	}
	metrics.RecordSnapshotsPruned(pruned)
	return pruned, nil
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
