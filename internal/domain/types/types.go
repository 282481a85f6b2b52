// Package types contains the JSON read shapes served by the HTTP API.
package types

import "time"

// Entry represents one row of a served leaderboard.
type Entry struct {
	Rank      int    `json:"rank"`
	SkillID   string `json:"skill_id"`
	Score     int64  `json:"score"`
	Installs  int64  `json:"installs"`
	Downloads int64  `json:"downloads"`
}

// Trending is the response for GET /leaderboard/trending.
type Trending struct {
	GeneratedAt   time.Time `json:"generated_at"`
	RangeStartDay int64     `json:"range_start_day"`
	RangeEndDay   int64     `json:"range_end_day"`
	Fallback      bool      `json:"fallback"`
	Items         []Entry   `json:"items"`
}

// SkillStats is the response for GET /skills/{id}.
type SkillStats struct {
	SkillID         string    `json:"skill_id"`
	Slug            string    `json:"slug,omitempty"`
	Downloads       int64     `json:"downloads"`
	Stars           int64     `json:"stars"`
	InstallsCurrent int64     `json:"installs_current"`
	InstallsAllTime int64     `json:"installs_all_time"`
	UpdatedAt       time.Time `json:"updated_at"`
}
