package model

// Task names for scheduled invocations.
const (
	TaskProcessStatEvents = "process-stat-events"
	TaskRebuildTrending   = "rebuild-trending-leaderboard"
)

// Task is one invocation handed to the scheduler. Tasks are plain values so
// they can be re-enqueued any number of times.
type Task struct {
	Name      string
	BatchSize int // process-stat-events
	Limit     int // rebuild-trending-leaderboard
}
