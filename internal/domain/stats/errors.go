package stats

import "errors"

// Sentinel errors for the stats pipeline.
var (
	ErrUnknownKind  = errors.New("unknown stat event kind")
	ErrEmptySkillID = errors.New("empty skill id")
	ErrNoScheduler  = errors.New("no scheduler configured")
)
