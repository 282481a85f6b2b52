package model_test

import (
	"testing"
	"time"

	model "github.com/okian/skillstats/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestKind(t *testing.T) {
	convey.Convey("Given the stat event kinds", t, func() {
		convey.Convey("Then every declared kind should be valid", func() {
			for _, k := range model.Kinds {
				convey.So(k.Valid(), convey.ShouldBeTrue)
			}
			convey.So(len(model.Kinds), convey.ShouldEqual, 7)
		})

		convey.Convey("Then unknown kinds should be rejected", func() {
			convey.So(model.Kind("").Valid(), convey.ShouldBeFalse)
			convey.So(model.Kind("view").Valid(), convey.ShouldBeFalse)
			convey.So(model.Kind("Download").Valid(), convey.ShouldBeFalse)
		})
	})
}

func TestStatEvent(t *testing.T) {
	convey.Convey("Given a stat event", t, func() {
		event := model.StatEvent{
			ID:         "evt-1",
			SkillID:    "skill-1",
			Kind:       model.KindDownload,
			OccurredAt: time.Unix(0, 0),
		}

		convey.Convey("When it has not been processed", func() {
			convey.Convey("Then Processed should be false", func() {
				convey.So(event.Processed(), convey.ShouldBeFalse)
			})
		})

		convey.Convey("When ProcessedAt is set", func() {
			now := time.Now()
			event.ProcessedAt = &now

			convey.Convey("Then Processed should be true", func() {
				convey.So(event.Processed(), convey.ShouldBeTrue)
			})
		})
	})
}
