package model

import "time"

// Counters are the denormalized aggregates carried on a skill. They are a
// materialized view of the event log and never go below zero.
type Counters struct {
	Downloads       int64 `json:"downloads" bson:"downloads"`
	Stars           int64 `json:"stars" bson:"stars"`
	InstallsCurrent int64 `json:"installs_current" bson:"installs_current"`
	InstallsAllTime int64 `json:"installs_all_time" bson:"installs_all_time"`
}

// Skill is the subset of the skill entity this engine reads and writes.
type Skill struct {
	ID        string
	Slug      string
	Counters  Counters
	UpdatedAt time.Time
}

// DailyStat accumulates downloads and new installs for one skill on one UTC day.
type DailyStat struct {
	SkillID   string
	Day       int64
	Downloads int64
	Installs  int64
	UpdatedAt time.Time
}
