package ranking

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/okian/skillstats/internal/domain/model"
	"github.com/okian/skillstats/pkg/logger"
	"github.com/okian/skillstats/pkg/metrics"
)

// Trending is what readers get back.
type Trending struct {
	GeneratedAt time.Time
	StartDay    int64
	EndDay      int64
	Items       []model.LeaderboardEntry
	// Fallback is set when no snapshot existed and the board was computed
	// on the fly.
	Fallback bool
}

// SnapshotReader reads recent snapshots.
type SnapshotReader interface {
	RecentSnapshots(ctx context.Context, kind model.LeaderboardKind, limit int) ([]model.Snapshot, error)
}

// Consumer serves the latest trending snapshot.
type Consumer struct {
	store   SnapshotReader
	builder *Builder
	logger  logger.Logger
	now     func() time.Time
	ttl     time.Duration
	cache   *expirable.LRU[model.LeaderboardKind, model.Snapshot]
}

// NewConsumer creates a consumer. Snapshot reads are cached for the TTL
// set with WithCacheTTL; a zero TTL disables the cache.
func NewConsumer(store SnapshotReader, builder *Builder, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		store:   store,
		builder: builder,
		logger:  logger.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.ttl > 0 {
		c.cache = expirable.NewLRU[model.LeaderboardKind, model.Snapshot](1, nil, c.ttl)
	}
	return c
}

// Trending returns the first limit items of the newest snapshot. Before the
// first publish it computes the board from the wall clock; that result is
// never cached.
func (c *Consumer) Trending(ctx context.Context, limit int) (Trending, error) {
	limit = ClampLimit(limit)

	if c.cache != nil {
		if snap, ok := c.cache.Get(model.KindTrending); ok {
			metrics.RecordTrendingRead("cache")
			return fromSnapshot(snap, limit), nil
		}
	}

	latest, err := c.store.RecentSnapshots(ctx, model.KindTrending, 1)
	if err != nil {
		metrics.RecordErrorByComponent("consumer", "read")
		return Trending{}, fmt.Errorf("read latest snapshot: %w", err)
	}
	if len(latest) > 0 {
		if c.cache != nil {
			c.cache.Add(model.KindTrending, latest[0])
		}
		metrics.RecordTrendingRead("snapshot")
		return fromSnapshot(latest[0], limit), nil
	}

	now := c.now()
	board, err := c.builder.Build(ctx, limit, now)
	if err != nil {
		return Trending{}, err
	}
	metrics.RecordTrendingRead("fallback")
	c.logger.Info(ctx, "no trending snapshot yet, computed on demand",
		logger.Int("items", len(board.Items)))

	return Trending{
		GeneratedAt: now,
		StartDay:    board.StartDay,
		EndDay:      board.EndDay,
		Items:       board.Items,
		Fallback:    true,
	}, nil
}

// Invalidate drops the cached snapshot so the next read hits the store.
func (c *Consumer) Invalidate() {
	if c.cache != nil {
		c.cache.Purge()
	}
}

// Observe is a publisher hook that replaces the cached snapshot.
func (c *Consumer) Observe(snap model.Snapshot) {
	if c.cache != nil && snap.Kind == model.KindTrending {
		c.cache.Add(snap.Kind, snap)
	}
}

func fromSnapshot(snap model.Snapshot, limit int) Trending {
	items := snap.Items
	if len(items) > limit {
		items = items[:limit]
	}
	return Trending{
		GeneratedAt: snap.GeneratedAt,
		StartDay:    snap.RangeStartDay,
		EndDay:      snap.RangeEndDay,
		Items:       items,
	}
}
