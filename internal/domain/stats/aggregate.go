package stats

import (
	"time"

	"github.com/okian/skillstats/internal/domain/model"
)

// Aggregated is the net effect of a group of events on one skill.
//
// DownloadTimes and InstallTimes keep the original timestamp of every download
// and install_new event so daily buckets are attributed to the day the event
// happened, not the day it was processed.
type Aggregated struct {
	Deltas
	DownloadTimes []time.Time
	InstallTimes  []time.Time
}

// Aggregate sums events into net deltas. The result does not depend on the
// order of events. Unknown kinds and install_clear events without a delta
// contribute nothing.
func Aggregate(events []model.StatEvent) Aggregated {
	var agg Aggregated
	for _, e := range events {
		switch e.Kind {
		case model.KindDownload:
			agg.Downloads++
			agg.DownloadTimes = append(agg.DownloadTimes, e.OccurredAt)
		case model.KindStar:
			agg.Stars++
		case model.KindUnstar:
			agg.Stars--
		case model.KindInstallNew:
			agg.InstallsAllTime++
			agg.InstallsCurrent++
			agg.InstallTimes = append(agg.InstallTimes, e.OccurredAt)
		case model.KindInstallReactivate:
			agg.InstallsCurrent++
		case model.KindInstallDeactivate:
			agg.InstallsCurrent--
		case model.KindInstallClear:
			if e.Delta != nil {
				agg.InstallsAllTime += e.Delta.AllTime
				agg.InstallsCurrent += e.Delta.Current
			}
		}
	}
	return agg
}
