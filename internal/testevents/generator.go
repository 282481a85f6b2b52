package testevents

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/okian/skillstats/pkg/logger"
)

// Event kinds the generator emits. Only monotonic kinds are used so the
// expected counters never depend on clamping or batch boundaries.
const (
	kindDownload   = "download"
	kindStar       = "star"
	kindInstallNew = "install_new"
)

// kindWeights skews traffic towards downloads, roughly 6:2:2.
var kindWeights = []string{ //nolint:gochecknoglobals // static distribution
	kindDownload, kindDownload, kindDownload, kindDownload, kindDownload, kindDownload,
	kindStar, kindStar,
	kindInstallNew, kindInstallNew,
}

// Expected is the locally computed state the service should converge to.
type Expected struct {
	Skills map[string]SkillStats
}

// Trending returns the expected leaderboard: installs descending, then
// downloads descending, then skill id ascending. Skills that were only
// starred have no daily bucket and are omitted.
func (e Expected) Trending(limit int) []Entry {
	out := make([]Entry, 0, len(e.Skills))
	for id, s := range e.Skills {
		if s.InstallsAllTime == 0 && s.Downloads == 0 {
			continue
		}
		out = append(out, Entry{SkillID: id, Score: s.InstallsAllTime, Installs: s.InstallsAllTime, Downloads: s.Downloads})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Downloads != out[j].Downloads {
			return out[i].Downloads > out[j].Downloads
		}
		return out[i].SkillID < out[j].SkillID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// randIntn returns a uniform int in [0, n) using crypto/rand.
func randIntn(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}

// generateSkillIDs creates unique skill ids.
func generateSkillIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = "skill-" + uuid.NewString()
	}
	return ids
}

// generateEvents creates NumEvents events spread over skillIDs and the
// counters they should produce. Skill popularity is skewed so the
// leaderboard has a clear head.
func generateEvents(ctx context.Context, config *Config, skillIDs []string, stats *Stats) ([]Event, Expected, error) {
	logger.Get().Info(ctx, "generating events",
		logger.Int("numEvents", config.NumEvents), logger.Int("numSkills", len(skillIDs)))

	expected := Expected{Skills: make(map[string]SkillStats, len(skillIDs))}
	for _, id := range skillIDs {
		expected.Skills[id] = SkillStats{SkillID: id}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	events := make([]Event, config.NumEvents)
	for i := range events {
		if i%1000 == 0 && ctx.Err() != nil {
			return nil, Expected{}, fmt.Errorf("context cancelled during event generation: %w", ctx.Err())
		}

		// min of two draws biases towards low indexes.
		skillID := skillIDs[min(randIntn(len(skillIDs)), randIntn(len(skillIDs)))]
		kind := kindWeights[randIntn(len(kindWeights))]

		events[i] = Event{
			EventID:    uuid.NewString(),
			SkillID:    skillID,
			Kind:       kind,
			OccurredAt: now,
		}

		s := expected.Skills[skillID]
		switch kind {
		case kindDownload:
			s.Downloads++
		case kindStar:
			s.Stars++
		case kindInstallNew:
			s.InstallsAllTime++
			s.InstallsCurrent++
		}
		expected.Skills[skillID] = s
	}

	stats.EventsGenerated = len(events)
	logger.Get().Info(ctx, "generated events successfully", logger.Int("count", len(events)))
	return events, expected, nil
}
