package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/skillstats/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeQueue struct {
	mu    sync.Mutex
	tasks []model.Task
	added chan struct{}
}

func newFakeQueue() *fakeQueue { return &fakeQueue{added: make(chan struct{}, 100)} }

func (f *fakeQueue) Enqueue(_ context.Context, t model.Task) error {
	f.mu.Lock()
	f.tasks = append(f.tasks, t)
	f.mu.Unlock()
	f.added <- struct{}{}
	return nil
}

func (f *fakeQueue) snapshot() []model.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Task(nil), f.tasks...)
}

func waitAdded(f *fakeQueue, timeout time.Duration) bool {
	select {
	case <-f.added:
		return true
	case <-time.After(timeout):
		return false
	}
}

func TestScheduler(t *testing.T) {
	Convey("Given a scheduler feeding a queue", t, func() {
		ctx := context.Background()
		q := newFakeQueue()
		s := New(q)
		defer func() { _ = s.Stop(ctx) }()

		process := model.Task{Name: model.TaskProcessStatEvents, BatchSize: 100}

		Convey("When a task is run with no delay", func() {
			So(s.RunAfter(ctx, 0, process), ShouldBeNil)

			Convey("Then it should be enqueued synchronously", func() {
				So(q.snapshot(), ShouldResemble, []model.Task{process})
				So(s.Pending(), ShouldEqual, 0)
			})
		})

		Convey("When a task is run after a delay", func() {
			So(s.RunAfter(ctx, 20*time.Millisecond, process), ShouldBeNil)

			Convey("Then it should be pending first and enqueued later", func() {
				So(len(q.snapshot()), ShouldEqual, 0)
				So(waitAdded(q, 2*time.Second), ShouldBeTrue)
				So(q.snapshot(), ShouldResemble, []model.Task{process})
				So(s.Pending(), ShouldEqual, 0)
			})
		})

		Convey("When stopped with delayed runs pending", func() {
			So(s.RunAfter(ctx, time.Hour, process), ShouldBeNil)
			So(s.Pending(), ShouldEqual, 1)
			So(s.Stop(ctx), ShouldBeNil)

			Convey("Then the runs should be cancelled and new ones refused", func() {
				So(s.Pending(), ShouldEqual, 0)
				So(errors.Is(s.RunAfter(ctx, 0, process), ErrStopped), ShouldBeTrue)
			})
		})

		Convey("When a periodic task is registered", func() {
			So(s.Every("@every 1s", model.Task{Name: model.TaskRebuildTrending, Limit: 200}), ShouldBeNil)
			s.Start()

			Convey("Then it should be enqueued on schedule", func() {
				So(waitAdded(q, 3*time.Second), ShouldBeTrue)
				So(q.snapshot()[0].Name, ShouldEqual, model.TaskRebuildTrending)
			})
		})

		Convey("When the cron spec is invalid", func() {
			err := s.Every("every five minutes", process)

			Convey("Then registration should fail", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}
