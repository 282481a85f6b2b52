// Package ranking builds, publishes and serves the trending leaderboard.
package ranking

import (
	"cmp"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/okian/skillstats/internal/domain/model"
	"github.com/okian/skillstats/internal/domain/stats"
)

// Leaderboard bounds.
const (
	TrendingDays = 7
	MaxLimit     = 200
)

// ClampLimit maps a requested limit into [1, MaxLimit]; non-positive
// requests get MaxLimit.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return MaxLimit
	}
	return min(limit, MaxLimit)
}

// Range returns the inclusive trailing window of day keys ending on now's day.
func Range(now time.Time) (startDay, endDay int64) {
	endDay = stats.DayKey(now)
	return endDay - (TrendingDays - 1), endDay
}

// DailyStatReader scans daily buckets by day.
type DailyStatReader interface {
	DailyStatsInRange(ctx context.Context, startDay, endDay int64) ([]model.DailyStat, error)
}

// Board is a computed leaderboard, greatest first.
type Board struct {
	StartDay int64
	EndDay   int64
	Items    []model.LeaderboardEntry
}

// Builder computes the trending leaderboard from daily buckets.
type Builder struct {
	store DailyStatReader
}

// NewBuilder creates a builder over store.
func NewBuilder(store DailyStatReader) *Builder {
	return &Builder{store: store}
}

// CompareEntries orders by score, then downloads, then lower skill id first
// so equal entries rank deterministically.
func CompareEntries(a, b model.LeaderboardEntry) int {
	if c := cmp.Compare(a.Score, b.Score); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Downloads, b.Downloads); c != 0 {
		return c
	}
	return strings.Compare(b.SkillID, a.SkillID)
}

// Build sums installs and downloads per skill over the window ending at now
// and returns the limit best. The score is the install count; downloads
// only break ties.
func (b *Builder) Build(ctx context.Context, limit int, now time.Time) (Board, error) {
	if limit < 1 || limit > MaxLimit {
		return Board{}, fmt.Errorf("%w: %d", ErrInvalidLimit, limit)
	}
	startDay, endDay := Range(now)

	rows, err := b.store.DailyStatsInRange(ctx, startDay, endDay)
	if err != nil {
		return Board{}, fmt.Errorf("scan daily stats: %w", err)
	}

	totals := make(map[string]*model.LeaderboardEntry)
	for _, row := range rows {
		e, ok := totals[row.SkillID]
		if !ok {
			e = &model.LeaderboardEntry{SkillID: row.SkillID}
			totals[row.SkillID] = e
		}
		e.Installs += row.Installs
		e.Downloads += row.Downloads
	}

	candidates := make([]model.LeaderboardEntry, 0, len(totals))
	for _, e := range totals {
		e.Score = e.Installs
		candidates = append(candidates, *e)
	}

	return Board{StartDay: startDay, EndDay: endDay, Items: topK(candidates, limit, CompareEntries)}, nil
}
