package model

import "time"

// LeaderboardKind names a family of snapshots.
type LeaderboardKind string

// KindTrending is the only leaderboard currently published.
const KindTrending LeaderboardKind = "trending"

// LeaderboardEntry is one ranked row.
type LeaderboardEntry struct {
	SkillID   string `json:"skill_id" bson:"skill_id"`
	Score     int64  `json:"score" bson:"score"`
	Installs  int64  `json:"installs" bson:"installs"`
	Downloads int64  `json:"downloads" bson:"downloads"`
}

// Snapshot is an immutable, already-sorted leaderboard.
type Snapshot struct {
	ID            string
	Kind          LeaderboardKind
	GeneratedAt   time.Time
	RangeStartDay int64
	RangeEndDay   int64
	Items         []LeaderboardEntry
}
