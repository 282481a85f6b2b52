// Package repository defines the persistent store contract used by the stats
// engine together with its in-memory, PostgreSQL and MongoDB implementations.
//
// The contract only assumes per-document atomicity: a skill group update
// (counters, daily buckets and processed marks for one skill) commits as a
// unit, nothing spans more than one skill.
package repository

import (
	"context"
	"time"

	"github.com/okian/skillstats/internal/domain/model"
)

// EventStore is the append-only stat event log.
type EventStore interface {
	// InsertEvent appends one event. It never reads prior state.
	InsertEvent(ctx context.Context, e model.StatEvent) error
	// UnprocessedEvents returns up to limit events whose ProcessedAt is unset,
	// oldest first.
	UnprocessedEvents(ctx context.Context, limit int) ([]model.StatEvent, error)
}

// SkillStore reads and registers skills. Skill CRUD proper lives outside
// this engine; PutSkill exists so collaborators and tests can seed rows.
type SkillStore interface {
	// GetSkill returns ErrNotFound for unknown ids.
	GetSkill(ctx context.Context, id string) (model.Skill, error)
	PutSkill(ctx context.Context, s model.Skill) error
}

// DailyStatStore exposes the range-indexed scan over daily buckets.
type DailyStatStore interface {
	// DailyStatsInRange returns every row with startDay <= day <= endDay.
	DailyStatsInRange(ctx context.Context, startDay, endDay int64) ([]model.DailyStat, error)
	// DailyStat returns ErrNotFound when no row exists for (skillID, day).
	DailyStat(ctx context.Context, skillID string, day int64) (model.DailyStat, error)
}

// SnapshotStore persists immutable leaderboard snapshots.
type SnapshotStore interface {
	InsertSnapshot(ctx context.Context, s model.Snapshot) error
	// RecentSnapshots returns up to limit snapshots of kind, newest first.
	RecentSnapshots(ctx context.Context, kind model.LeaderboardKind, limit int) ([]model.Snapshot, error)
	DeleteSnapshot(ctx context.Context, id string) error
}

// GroupTx is the unit of work for one skill inside UpdateSkillGroup. Writes
// become visible only if the callback returns nil.
type GroupTx interface {
	// Skill loads the group's skill; ok is false when it no longer exists.
	Skill(ctx context.Context) (s model.Skill, ok bool, err error)
	SetCounters(ctx context.Context, c model.Counters, at time.Time) error
	// UpsertDaily adds the deltas to the (skill, day) row, clamping at zero.
	UpsertDaily(ctx context.Context, day, downloads, installs int64, at time.Time) error
	MarkProcessed(ctx context.Context, eventIDs []string, at time.Time) error
}

// GroupUpdater runs fn atomically for a single skill.
type GroupUpdater interface {
	UpdateSkillGroup(ctx context.Context, skillID string, fn func(ctx context.Context, tx GroupTx) error) error
}

// Purger removes everything this engine stores about a skill. It is the
// engine's side of the cascading skill delete.
type Purger interface {
	PurgeSkill(ctx context.Context, skillID string) error
}

// Store is the full persistence contract.
type Store interface {
	EventStore
	SkillStore
	DailyStatStore
	SnapshotStore
	GroupUpdater
	Purger

	// Close releases connections and background goroutines.
	Close() error
}
