package testevents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/skillstats/pkg/logger"
)

// ErrNotSettled is returned when the service did not converge in time.
var ErrNotSettled = errors.New("service did not settle")

// poll calls check every interval until it reports done or timeout passes.
func poll(ctx context.Context, interval, timeout time.Duration, check func(context.Context) (bool, error)) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		done, err := check(ctx)
		if done {
			return nil
		}
		if err != nil {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return fmt.Errorf("%w: %w", ErrNotSettled, lastErr)
			}
			return ErrNotSettled
		case <-ticker.C:
		}
	}
}

// compareSkill reports the first counter that differs.
func compareSkill(want, got SkillStats) error {
	switch {
	case want.Downloads != got.Downloads:
		return fmt.Errorf("skill %s downloads: want %d, got %d", want.SkillID, want.Downloads, got.Downloads)
	case want.Stars != got.Stars:
		return fmt.Errorf("skill %s stars: want %d, got %d", want.SkillID, want.Stars, got.Stars)
	case want.InstallsCurrent != got.InstallsCurrent:
		return fmt.Errorf("skill %s installs_current: want %d, got %d", want.SkillID, want.InstallsCurrent, got.InstallsCurrent)
	case want.InstallsAllTime != got.InstallsAllTime:
		return fmt.Errorf("skill %s installs_all_time: want %d, got %d", want.SkillID, want.InstallsAllTime, got.InstallsAllTime)
	}
	return nil
}

// compareTrending checks that got matches want row by row.
func compareTrending(want, got []Entry) error {
	if len(want) != len(got) {
		return fmt.Errorf("leaderboard size: want %d, got %d", len(want), len(got))
	}
	for i := range want {
		if want[i] != got[i] {
			return fmt.Errorf("leaderboard row %d: want %+v, got %+v", i+1, want[i], got[i])
		}
	}
	return nil
}

// waitForCounters polls every skill until its counters match expected.
func waitForCounters(ctx context.Context, config *Config, client *HTTPClient, expected Expected, stats *Stats) error {
	logger.Get().Info(ctx, "waiting for counters to settle", logger.Int("skills", len(expected.Skills)))

	pending := make(map[string]SkillStats, len(expected.Skills))
	for id, s := range expected.Skills {
		pending[id] = s
	}

	err := poll(ctx, config.PollInterval, config.SettleTimeout, func(ctx context.Context) (bool, error) {
		var lastErr error
		for id, want := range pending {
			got, err := fetchSkill(ctx, client, id)
			if err == nil {
				err = compareSkill(want, got)
			}
			if err != nil {
				lastErr = err
				continue
			}
			delete(pending, id)
		}
		return len(pending) == 0, lastErr
	})
	stats.SkillsVerified = len(expected.Skills) - len(pending)
	if err != nil {
		return fmt.Errorf("counters: %w", err)
	}
	logger.Get().Info(ctx, "counters verified", logger.Int("skills", stats.SkillsVerified))
	return nil
}

// waitForTrending polls the leaderboard until a snapshot newer than since
// is served, then compares it with expected.
func waitForTrending(ctx context.Context, config *Config, client *HTTPClient, expected Expected, since time.Time, stats *Stats) error {
	logger.Get().Info(ctx, "waiting for a new trending snapshot", logger.Int("topN", config.TopN))

	want := expected.Trending(config.TopN)
	err := poll(ctx, config.PollInterval, config.SettleTimeout, func(ctx context.Context) (bool, error) {
		board, err := fetchTrending(ctx, client, config.TopN)
		if err != nil {
			return false, err
		}
		if board.Fallback || !board.GeneratedAt.After(since) {
			return false, nil
		}
		stats.LeaderboardEntries = len(board.Items)
		if err := compareTrending(want, board.Items); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("trending: %w", err)
	}

	for i := range min(len(want), 10) {
		logger.Get().Info(ctx, "trending",
			logger.Int("rank", want[i].Rank),
			logger.String("skillID", want[i].SkillID),
			logger.Int64("installs", want[i].Installs),
			logger.Int64("downloads", want[i].Downloads))
	}
	return nil
}
