package testevents

import "time"

// Config holds configuration for the load test.
type Config struct {
	BaseURL       string        // Base URL of the service
	NumSkills     int           // Number of skills to register
	NumEvents     int           // Number of events to generate
	TopN          int           // Number of trending entries to verify
	Workers       int           // Number of concurrent submitters
	Timeout       time.Duration // HTTP request timeout
	SettleTimeout time.Duration // How long to wait for processing and publishing
	PollInterval  time.Duration // Delay between settle polls
	OutputFile    string        // Output file for events; empty disables saving
	Verbose       bool          // Enable verbose logging
}

// Event is the body of POST /events.
type Event struct {
	EventID    string `json:"event_id"`
	SkillID    string `json:"skill_id"`
	Kind       string `json:"kind"`
	OccurredAt string `json:"occurred_at,omitempty"`
}

// AckResponse is the response from event submission.
type AckResponse struct {
	Status    string `json:"status"`
	EventID   string `json:"event_id"`
	Duplicate bool   `json:"duplicate"`
}

// Entry is one trending leaderboard row.
type Entry struct {
	Rank      int    `json:"rank"`
	SkillID   string `json:"skill_id"`
	Score     int64  `json:"score"`
	Installs  int64  `json:"installs"`
	Downloads int64  `json:"downloads"`
}

// Trending is the response of GET /leaderboard/trending.
type Trending struct {
	GeneratedAt time.Time `json:"generated_at"`
	Fallback    bool      `json:"fallback"`
	Items       []Entry   `json:"items"`
}

// SkillStats is the response of GET /skills/{id}.
type SkillStats struct {
	SkillID         string `json:"skill_id"`
	Downloads       int64  `json:"downloads"`
	Stars           int64  `json:"stars"`
	InstallsCurrent int64  `json:"installs_current"`
	InstallsAllTime int64  `json:"installs_all_time"`
}

// Stats holds test statistics.
type Stats struct {
	EventsGenerated    int
	EventsSubmitted    int
	EventsSuccessful   int
	EventsDuplicate    int
	EventsFailed       int
	SkillsVerified     int
	LeaderboardEntries int
	StartTime          time.Time
	EndTime            time.Time
	Duration           time.Duration
}
