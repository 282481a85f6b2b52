package stats

import "github.com/okian/skillstats/internal/domain/model"

// Deltas are signed adjustments to a skill's counters.
type Deltas struct {
	Downloads       int64
	Stars           int64
	InstallsAllTime int64
	InstallsCurrent int64
}

// IsZero reports whether applying d would change nothing.
func (d Deltas) IsZero() bool {
	return d == Deltas{}
}

// ApplyDeltas adds d to c and clamps every counter at zero. It is the only
// place counters are computed.
func ApplyDeltas(c model.Counters, d Deltas) model.Counters {
	return model.Counters{
		Downloads:       clamp(c.Downloads + d.Downloads),
		Stars:           clamp(c.Stars + d.Stars),
		InstallsCurrent: clamp(c.InstallsCurrent + d.InstallsCurrent),
		InstallsAllTime: clamp(c.InstallsAllTime + d.InstallsAllTime),
	}
}

func clamp(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
