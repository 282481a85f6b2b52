package stats

import (
	"context"
	"time"

	"github.com/okian/skillstats/pkg/metrics"
)

// BucketWriter upserts one (skill, day) bucket. The skill is implied by the
// writer, repository.GroupTx is the production implementation.
type BucketWriter interface {
	UpsertDaily(ctx context.Context, day, downloads, installs int64, at time.Time) error
}

// Bump adds downloads and installs to the bucket of the day ref falls in.
// It is a no-op when both are zero.
func Bump(ctx context.Context, w BucketWriter, ref time.Time, downloads, installs int64) error {
	if downloads == 0 && installs == 0 {
		return nil
	}
	if err := w.UpsertDaily(ctx, DayKey(ref), downloads, installs, ref); err != nil {
		return err
	}
	metrics.RecordDailyBucketUpsert()
	return nil
}
