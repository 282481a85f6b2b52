package ranking

import "errors"

// Sentinel errors for leaderboard operations.
var (
	ErrInvalidLimit = errors.New("invalid leaderboard limit")
)
