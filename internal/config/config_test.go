package config_test

import (
	"errors"
	"runtime"
	"testing"

	"github.com/okian/skillstats/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.Store, convey.ShouldEqual, config.StoreMemory)
			convey.So(cfg.BatchSize, convey.ShouldEqual, 100)
			convey.So(cfg.TrendingLimit, convey.ShouldEqual, 200)
			convey.So(cfg.KeepSnapshots, convey.ShouldEqual, 3)
			convey.So(cfg.PruneCushion, convey.ShouldEqual, 5)
			convey.So(cfg.ProcessSchedule, convey.ShouldEqual, "@every 5m")
			convey.So(cfg.PublishSchedule, convey.ShouldEqual, "@every 1h")
			convey.So(cfg.WorkerCount, convey.ShouldEqual, runtime.NumCPU())
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given invalid configurations", t, func() {
		cases := map[string]func(*config.Config){
			"empty addr":             func(c *config.Config) { c.Addr = "" },
			"unknown store":          func(c *config.Config) { c.Store = "sqlite" },
			"postgres without dsn":   func(c *config.Config) { c.Store = config.StorePostgres },
			"mongo without uri":      func(c *config.Config) { c.Store = config.StoreMongo },
			"zero batch size":        func(c *config.Config) { c.BatchSize = 0 },
			"trending limit too big": func(c *config.Config) { c.TrendingLimit = 201 },
			"trending limit zero":    func(c *config.Config) { c.TrendingLimit = 0 },
			"keep zero snapshots":    func(c *config.Config) { c.KeepSnapshots = 0 },
			"no workers":             func(c *config.Config) { c.WorkerCount = 0 },
			"malformed const labels": func(c *config.Config) { c.MetricsConstLabels = "env" },
			"non numeric buckets":    func(c *config.Config) { c.MetricsBucketsMS = "1,fast" },
			"unordered buckets":      func(c *config.Config) { c.MetricsBucketsMS = "10,5" },
		}

		for name, mutate := range cases {
			convey.Convey("When the config has "+name, func() {
				cfg := config.New()
				mutate(cfg)

				convey.Convey("Then Validate should return ErrInvalidConfig", func() {
					convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
				})
			})
		}

		convey.Convey("When postgres has a dsn", func() {
			cfg := config.New()
			cfg.Store = config.StorePostgres
			cfg.PostgresDSN = "postgres://localhost/skillstats?sslmode=disable"

			convey.Convey("Then it should be valid", func() {
				convey.So(cfg.Validate(), convey.ShouldBeNil)
			})
		})
	})
}

func TestConfig_Metrics(t *testing.T) {
	convey.Convey("Given metrics settings", t, func() {
		cfg := config.New()

		convey.Convey("When nothing is set", func() {
			labels, lerr := cfg.MetricsLabels()
			buckets, berr := cfg.MetricsBuckets()

			convey.Convey("Then the defaults should apply", func() {
				convey.So(cfg.MetricsNamespace, convey.ShouldEqual, "skillstats")
				convey.So(cfg.MetricsSubsystem, convey.ShouldEqual, "engine")
				convey.So(lerr, convey.ShouldBeNil)
				convey.So(berr, convey.ShouldBeNil)
				convey.So(labels, convey.ShouldBeNil)
				convey.So(buckets, convey.ShouldBeNil)
			})
		})

		convey.Convey("When labels and buckets are set", func() {
			cfg.MetricsConstLabels = "env=prod, region=eu"
			cfg.MetricsBucketsMS = "0.5, 5,50"
			labels, lerr := cfg.MetricsLabels()
			buckets, berr := cfg.MetricsBuckets()

			convey.Convey("Then they should be parsed", func() {
				convey.So(lerr, convey.ShouldBeNil)
				convey.So(berr, convey.ShouldBeNil)
				convey.So(labels, convey.ShouldResemble, map[string]string{"env": "prod", "region": "eu"})
				convey.So(buckets, convey.ShouldResemble, []float64{0.5, 5, 50})
				convey.So(cfg.Validate(), convey.ShouldBeNil)
			})
		})
	})
}
