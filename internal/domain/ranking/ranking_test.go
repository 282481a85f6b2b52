package ranking

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"testing"
	"time"

	"github.com/okian/skillstats/internal/adapters/repository"
	"github.com/okian/skillstats/internal/domain/model"
	"github.com/okian/skillstats/internal/domain/stats"
	. "github.com/smartystreets/goconvey/convey"
)

func TestBuildMatchesFullSort(t *testing.T) {
	Convey("Given random buckets for many skills", t, func() {
		ctx := context.Background()
		rng := rand.New(rand.NewPCG(7, 11))
		now := stats.DayStart(100).Add(time.Hour)

		Convey("Then Build should match a full sort of the window totals for every limit", func() {
			for round := 0; round < 20; round++ {
				store := repository.NewMemoryStore(ctx)
				totals := make(map[string]*model.LeaderboardEntry)

				n := rng.IntN(250)
				for i := 0; i < n; i++ {
					id := fmt.Sprintf("s%03d", i)
					for range 1 + rng.IntN(3) {
						day := 92 + rng.Int64N(10) // some rows fall outside [94, 100]
						downloads, installs := rng.Int64N(5), rng.Int64N(20)
						seed(ctx, store, id, day, downloads, installs)
						if day < 94 || day > 100 {
							continue
						}
						e, ok := totals[id]
						if !ok {
							e = &model.LeaderboardEntry{SkillID: id}
							totals[id] = e
						}
						e.Installs += installs
						e.Downloads += downloads
						e.Score = e.Installs
					}
				}

				brute := make([]model.LeaderboardEntry, 0, len(totals))
				for _, e := range totals {
					brute = append(brute, *e)
				}
				slices.SortFunc(brute, func(a, b model.LeaderboardEntry) int { return CompareEntries(b, a) })

				limit := 1 + rng.IntN(60)
				board, err := NewBuilder(store).Build(ctx, limit, now)
				So(err, ShouldBeNil)
				So(len(board.Items), ShouldEqual, min(limit, len(brute)))
				if len(brute) == 0 {
					So(board.Items, ShouldBeEmpty)
				} else {
					So(board.Items, ShouldResemble, brute[:min(limit, len(brute))])
				}
				_ = store.Close()
			}
		})
	})

	Convey("Given the bounded heap on plain ints", t, func() {
		cmpInt := func(a, b int) int { return a - b }

		Convey("Then a non-positive limit should return nothing", func() {
			So(topK([]int{1, 2, 3}, 0, cmpInt), ShouldBeEmpty)
		})

		Convey("Then ints should come back greatest first", func() {
			So(topK([]int{5, 1, 9, 3, 9, 7}, 3, cmpInt), ShouldResemble, []int{9, 9, 7})
		})
	})
}

func TestRange(t *testing.T) {
	Convey("Given a wall clock in day 100", t, func() {
		start, end := Range(stats.DayStart(100).Add(5 * time.Hour))

		Convey("Then the window should be the trailing 7 days inclusive", func() {
			So(end, ShouldEqual, 100)
			So(start, ShouldEqual, 94)
		})
	})

	Convey("Given requested limits", t, func() {
		So(ClampLimit(0), ShouldEqual, MaxLimit)
		So(ClampLimit(-3), ShouldEqual, MaxLimit)
		So(ClampLimit(10), ShouldEqual, 10)
		So(ClampLimit(500), ShouldEqual, MaxLimit)
	})
}

// seed registers skillID if needed and adds a daily bucket through a group
// update.
func seed(ctx context.Context, store *repository.MemoryStore, skillID string, day, downloads, installs int64) {
	if _, err := store.GetSkill(ctx, skillID); errors.Is(err, repository.ErrNotFound) {
		So(store.PutSkill(ctx, model.Skill{ID: skillID}), ShouldBeNil)
	}
	err := store.UpdateSkillGroup(ctx, skillID, func(ctx context.Context, tx repository.GroupTx) error {
		return tx.UpsertDaily(ctx, day, downloads, installs, stats.DayStart(day))
	})
	So(err, ShouldBeNil)
}

func TestBuilder(t *testing.T) {
	Convey("Given daily buckets inside and outside the window", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore(ctx)
		defer store.Close()
		now := stats.DayStart(100).Add(time.Hour)

		seed(ctx, store, "a", 100, 10, 1)
		seed(ctx, store, "a", 95, 0, 2)
		seed(ctx, store, "b", 94, 1, 3)
		seed(ctx, store, "c", 99, 50, 0)
		seed(ctx, store, "d", 93, 0, 100)  // before the window
		seed(ctx, store, "e", 101, 0, 100) // after the window
		seed(ctx, store, "f", 97, 2, 3)

		b := NewBuilder(store)

		Convey("When building the top 10", func() {
			board, err := b.Build(ctx, 10, now)
			So(err, ShouldBeNil)

			Convey("Then skills should be ranked by installs then downloads", func() {
				So(board.StartDay, ShouldEqual, 94)
				So(board.EndDay, ShouldEqual, 100)
				So(board.Items, ShouldResemble, []model.LeaderboardEntry{
					{SkillID: "a", Score: 3, Installs: 3, Downloads: 10},
					{SkillID: "f", Score: 3, Installs: 3, Downloads: 2},
					{SkillID: "b", Score: 3, Installs: 3, Downloads: 1},
					{SkillID: "c", Score: 0, Installs: 0, Downloads: 50},
				})
			})
		})

		Convey("When building the top 2", func() {
			board, err := b.Build(ctx, 2, now)
			So(err, ShouldBeNil)

			Convey("Then only the two best should be returned", func() {
				So(len(board.Items), ShouldEqual, 2)
				So(board.Items[0].SkillID, ShouldEqual, "a")
				So(board.Items[1].SkillID, ShouldEqual, "f")
			})
		})

		Convey("When the limit is out of range", func() {
			_, err := b.Build(ctx, 0, now)
			So(errors.Is(err, ErrInvalidLimit), ShouldBeTrue)
			_, err = b.Build(ctx, MaxLimit+1, now)
			So(errors.Is(err, ErrInvalidLimit), ShouldBeTrue)
		})

		Convey("When no bucket falls in the window", func() {
			board, err := b.Build(ctx, 10, stats.DayStart(500))
			So(err, ShouldBeNil)
			So(board.Items, ShouldBeEmpty)
		})
	})
}

type flakySnapshots struct {
	*repository.MemoryStore
	failDelete bool
}

func (f *flakySnapshots) DeleteSnapshot(ctx context.Context, id string) error {
	if f.failDelete {
		return errors.New("delete failed")
	}
	return f.MemoryStore.DeleteSnapshot(ctx, id)
}

func TestPublisher(t *testing.T) {
	Convey("Given a publisher with a stepping clock", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore(ctx)
		defer store.Close()
		seed(ctx, store, "a", 100, 1, 1)

		clock := stats.DayStart(100)
		tick := func() time.Time {
			clock = clock.Add(time.Minute)
			return clock
		}
		n := 0
		ids := func() string { n++; return fmt.Sprintf("snap-%d", n) }
		snaps := &flakySnapshots{MemoryStore: store}
		var hooked []string
		pub := NewPublisher(NewBuilder(store), snaps,
			WithPublisherClock(tick),
			WithSnapshotIDs(ids),
			WithPublishHook(func(s model.Snapshot) { hooked = append(hooked, s.ID) }),
		)

		Convey("When more than three cycles run", func() {
			for i := 0; i < 5; i++ {
				_, err := pub.Rebuild(ctx, 0)
				So(err, ShouldBeNil)
			}

			Convey("Then exactly the three newest snapshots should remain", func() {
				recent, err := store.RecentSnapshots(ctx, model.KindTrending, 10)
				So(err, ShouldBeNil)
				So(len(recent), ShouldEqual, 3)
				So(recent[0].ID, ShouldEqual, "snap-5")
				So(recent[1].ID, ShouldEqual, "snap-4")
				So(recent[2].ID, ShouldEqual, "snap-3")
				So(hooked, ShouldResemble, []string{"snap-1", "snap-2", "snap-3", "snap-4", "snap-5"})
			})
		})

		Convey("When a snapshot is published", func() {
			snap, err := pub.Rebuild(ctx, 1000)
			So(err, ShouldBeNil)

			Convey("Then it should carry the window and the ranked items", func() {
				So(snap.Kind, ShouldEqual, model.KindTrending)
				So(snap.RangeEndDay, ShouldEqual, 100)
				So(snap.RangeStartDay, ShouldEqual, 94)
				So(snap.Items, ShouldResemble, []model.LeaderboardEntry{
					{SkillID: "a", Score: 1, Installs: 1, Downloads: 1},
				})
			})
		})

		Convey("When pruning fails", func() {
			snaps.failDelete = true
			var last model.Snapshot
			for i := 0; i < 5; i++ {
				s, err := pub.Rebuild(ctx, 10)
				So(err, ShouldBeNil)
				last = s
			}

			Convey("Then publishes should still succeed and the newest should be readable", func() {
				recent, err := store.RecentSnapshots(ctx, model.KindTrending, 1)
				So(err, ShouldBeNil)
				So(recent[0].ID, ShouldEqual, last.ID)
			})

			Convey("And the next healthy cycle should restore retention", func() {
				snaps.failDelete = false
				_, err := pub.Rebuild(ctx, 10)
				So(err, ShouldBeNil)

				recent, err := store.RecentSnapshots(ctx, model.KindTrending, 20)
				So(err, ShouldBeNil)
				So(len(recent), ShouldEqual, 3)
			})
		})
	})
}

type countingReader struct {
	*repository.MemoryStore
	reads int
}

func (c *countingReader) RecentSnapshots(ctx context.Context, kind model.LeaderboardKind, limit int) ([]model.Snapshot, error) {
	c.reads++
	return c.MemoryStore.RecentSnapshots(ctx, kind, limit)
}

func TestConsumer(t *testing.T) {
	Convey("Given a consumer over an empty snapshot table", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore(ctx)
		defer store.Close()
		seed(ctx, store, "a", 100, 1, 2)
		seed(ctx, store, "b", 100, 1, 1)

		wall := stats.DayStart(100).Add(time.Hour)
		reader := &countingReader{MemoryStore: store}
		consumer := NewConsumer(reader, NewBuilder(store), WithConsumerClock(func() time.Time { return wall }))

		Convey("When nothing has been published", func() {
			got, err := consumer.Trending(ctx, 10)
			So(err, ShouldBeNil)

			Convey("Then the board should be computed on demand", func() {
				So(got.Fallback, ShouldBeTrue)
				So(got.GeneratedAt, ShouldEqual, wall)
				So(len(got.Items), ShouldEqual, 2)
				So(got.Items[0].SkillID, ShouldEqual, "a")
			})
		})

		Convey("When a snapshot exists", func() {
			items := make([]model.LeaderboardEntry, 0, 5)
			for i := 5; i > 0; i-- {
				items = append(items, model.LeaderboardEntry{SkillID: fmt.Sprintf("s%d", i), Score: int64(i), Installs: int64(i)})
			}
			So(store.InsertSnapshot(ctx, model.Snapshot{
				ID: "old", Kind: model.KindTrending, GeneratedAt: wall.Add(-2 * time.Hour),
			}), ShouldBeNil)
			So(store.InsertSnapshot(ctx, model.Snapshot{
				ID: "new", Kind: model.KindTrending, GeneratedAt: wall.Add(-time.Hour), RangeStartDay: 94, RangeEndDay: 100, Items: items,
			}), ShouldBeNil)

			got, err := consumer.Trending(ctx, 3)
			So(err, ShouldBeNil)

			Convey("Then the newest snapshot's first items should be served", func() {
				So(got.Fallback, ShouldBeFalse)
				So(got.GeneratedAt, ShouldEqual, wall.Add(-time.Hour))
				So(got.StartDay, ShouldEqual, 94)
				So(len(got.Items), ShouldEqual, 3)
				So(got.Items[0].SkillID, ShouldEqual, "s5")
				So(got.Items[2].SkillID, ShouldEqual, "s3")
			})
		})

		Convey("When the cache is enabled", func() {
			cached := NewConsumer(reader, NewBuilder(store), WithCacheTTL(time.Minute))
			So(store.InsertSnapshot(ctx, model.Snapshot{ID: "one", Kind: model.KindTrending, GeneratedAt: wall}), ShouldBeNil)

			_, err := cached.Trending(ctx, 10)
			So(err, ShouldBeNil)
			_, err = cached.Trending(ctx, 10)
			So(err, ShouldBeNil)

			Convey("Then the store should be read once", func() {
				So(reader.reads, ShouldEqual, 1)
			})

			Convey("And a published snapshot should replace the cached one", func() {
				cached.Observe(model.Snapshot{ID: "two", Kind: model.KindTrending, GeneratedAt: wall.Add(time.Hour)})
				got, err := cached.Trending(ctx, 10)
				So(err, ShouldBeNil)
				So(got.GeneratedAt, ShouldEqual, wall.Add(time.Hour))
				So(reader.reads, ShouldEqual, 1)
			})

			Convey("And Invalidate should force a store read", func() {
				cached.Invalidate()
				_, err := cached.Trending(ctx, 10)
				So(err, ShouldBeNil)
				So(reader.reads, ShouldEqual, 2)
			})
		})
	})
}
