package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/skillstats/internal/adapters/repository"
	service "github.com/okian/skillstats/internal/app"
	"github.com/okian/skillstats/internal/domain/model"
	"github.com/okian/skillstats/internal/domain/stats"
	. "github.com/smartystreets/goconvey/convey"
)

func TestServiceIntegration(t *testing.T) {
	Convey("Given a started service with a fixed clock", t, func() {
		now := stats.DayStart(20_000).Add(12 * time.Hour)
		svc := quietService(service.WithClock(func() time.Time { return now }))
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		_, _, err := svc.RegisterSkill(ctx, "a", "alpha")
		So(err, ShouldBeNil)
		_, _, err = svc.RegisterSkill(ctx, "b", "beta")
		So(err, ShouldBeNil)

		appendN := func(skillID string, kind model.Kind, n int) {
			for i := 0; i < n; i++ {
				_, err := svc.Append(ctx, skillID, kind, stats.WithOccurredAt(now.Add(-time.Hour)))
				So(err, ShouldBeNil)
			}
		}
		appendN("a", model.KindInstallNew, 3)
		appendN("a", model.KindDownload, 1)
		appendN("b", model.KindInstallNew, 1)
		appendN("b", model.KindDownload, 5)
		appendN("ghost", model.KindDownload, 1)

		Convey("When reading trending before anything was published", func() {
			board, err := svc.Trending(ctx, 10)

			Convey("Then the board should be computed on the fly and be empty", func() {
				So(err, ShouldBeNil)
				So(board.Fallback, ShouldBeTrue)
				So(board.Items, ShouldBeEmpty)
			})
		})

		Convey("When a batch is processed", func() {
			res, err := svc.ProcessNow(ctx)
			So(err, ShouldBeNil)

			Convey("Then every event should be consumed, including the orphan", func() {
				So(res.Processed, ShouldEqual, 11)
				So(res.Missing, ShouldEqual, 1)
				So(res.Rescheduled, ShouldBeFalse)
				So(svc.GetStats()["unprocessedEvents"], ShouldEqual, 0)
			})

			Convey("Then skill counters should reflect the events", func() {
				a, err := svc.Skill(ctx, "a")
				So(err, ShouldBeNil)
				So(a.InstallsAllTime, ShouldEqual, 3)
				So(a.InstallsCurrent, ShouldEqual, 3)
				So(a.Downloads, ShouldEqual, 1)

				b, err := svc.Skill(ctx, "b")
				So(err, ShouldBeNil)
				So(b.Downloads, ShouldEqual, 5)
			})

			Convey("And a snapshot is published", func() {
				snap, err := svc.PublishNow(ctx)
				So(err, ShouldBeNil)
				So(len(snap.Items), ShouldEqual, 2)

				board, err := svc.Trending(ctx, 10)
				So(err, ShouldBeNil)

				Convey("Then trending should rank by installs in the window", func() {
					So(board.Fallback, ShouldBeFalse)
					So(board.RangeEndDay, ShouldEqual, 20_000)
					So(board.RangeStartDay, ShouldEqual, 19_994)
					So(len(board.Items), ShouldEqual, 2)
					So(board.Items[0].SkillID, ShouldEqual, "a")
					So(board.Items[0].Rank, ShouldEqual, 1)
					So(board.Items[0].Score, ShouldEqual, 3)
					So(board.Items[1].SkillID, ShouldEqual, "b")
					So(board.Items[1].Downloads, ShouldEqual, 5)
				})

				Convey("Then a smaller limit should slice the snapshot", func() {
					top, err := svc.Trending(ctx, 1)
					So(err, ShouldBeNil)
					So(len(top.Items), ShouldEqual, 1)
				})

				Convey("When the top skill is purged", func() {
					So(svc.PurgeSkill(ctx, "a"), ShouldBeNil)

					Convey("Then it should vanish from the skill store and trending", func() {
						_, err := svc.Skill(ctx, "a")
						So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)

						board, err := svc.Trending(ctx, 10)
						So(err, ShouldBeNil)
						So(len(board.Items), ShouldEqual, 1)
						So(board.Items[0].SkillID, ShouldEqual, "b")
						So(board.Items[0].Rank, ShouldEqual, 1)
					})
				})
			})
		})
	})
}

func TestServiceIntegration_Workers(t *testing.T) {
	Convey("Given a started service driven by its task workers", t, func() {
		svc := quietService()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		_, _, err := svc.RegisterSkill(ctx, "s1", "")
		So(err, ShouldBeNil)
		for i := 0; i < 5; i++ {
			_, err := svc.Append(ctx, "s1", model.KindStar)
			So(err, ShouldBeNil)
		}

		Convey("When the process task is enqueued", func() {
			_, err := svc.EnqueueTask(ctx, model.TaskProcessStatEvents)
			So(err, ShouldBeNil)

			Convey("Then a worker should apply the events", func() {
				deadline := time.Now().Add(5 * time.Second)
				var stars int64
				for time.Now().Before(deadline) {
					sk, err := svc.Skill(ctx, "s1")
					So(err, ShouldBeNil)
					if stars = sk.Stars; stars == 5 {
						break
					}
					time.Sleep(10 * time.Millisecond)
				}
				So(stars, ShouldEqual, 5)
			})
		})
	})
}

func TestServiceIntegration_Drain(t *testing.T) {
	Convey("Given more events than one batch holds", t, func() {
		svc := quietService(service.WithBatchSize(10))
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		_, _, err := svc.RegisterSkill(ctx, "s1", "")
		So(err, ShouldBeNil)
		for i := 0; i < 35; i++ {
			_, err := svc.Append(ctx, "s1", model.KindDownload)
			So(err, ShouldBeNil)
		}

		Convey("When one process task is enqueued", func() {
			_, err := svc.EnqueueTask(ctx, model.TaskProcessStatEvents)
			So(err, ShouldBeNil)

			Convey("Then continuations should drain the whole backlog", func() {
				deadline := time.Now().Add(10 * time.Second)
				var downloads int64
				for time.Now().Before(deadline) {
					sk, _ := svc.Skill(ctx, "s1")
					if downloads = sk.Downloads; downloads == 35 {
						break
					}
					time.Sleep(10 * time.Millisecond)
				}
				So(downloads, ShouldEqual, 35)
				So(svc.GetStats()["unprocessedEvents"], ShouldEqual, 0)
			})
		})
	})
}
