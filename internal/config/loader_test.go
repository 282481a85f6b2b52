package config_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/okian/skillstats/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

var configEnvVars = []string{
	"SKILLSTATS_CONFIG",
	"SKILLSTATS_ADDR",
	"SKILLSTATS_STORE",
	"SKILLSTATS_POSTGRES_DSN",
	"SKILLSTATS_BATCH_SIZE",
	"SKILLSTATS_TRENDING_LIMIT",
	"SKILLSTATS_LOCK_TTL_MS",
	"SKILLSTATS_PROCESS_SCHEDULE",
	"SKILLSTATS_LOG_FORMAT",
}

func clearConfigEnvVars() {
	for _, name := range configEnvVars {
		_ = os.Unsetenv(name)
	}
}

func createTempConfigFile(content string) string {
	f, err := os.CreateTemp("", "skillstats-config-*.yaml")
	if err != nil {
		panic(err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.WriteString(content); err != nil {
		panic(err)
	}
	return f.Name()
}

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()
		defer clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.BatchSize, convey.ShouldEqual, 100)
				convey.So(cfg.LockTTL(), convey.ShouldEqual, 10*time.Minute)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("SKILLSTATS_ADDR", ":8080")
			_ = os.Setenv("SKILLSTATS_BATCH_SIZE", "250")
			_ = os.Setenv("SKILLSTATS_TRENDING_LIMIT", "50")
			_ = os.Setenv("SKILLSTATS_PROCESS_SCHEDULE", "@every 1m")
			_ = os.Setenv("SKILLSTATS_LOG_FORMAT", "json")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.BatchSize, convey.ShouldEqual, 250)
				convey.So(cfg.TrendingLimit, convey.ShouldEqual, 50)
				convey.So(cfg.ProcessSchedule, convey.ShouldEqual, "@every 1m")
				convey.So(cfg.LogFormat, convey.ShouldEqual, "json")
			})
		})

		convey.Convey("When loading config with YAML file", func() {
			tmpFile := createTempConfigFile(`
addr: ":9090"
store: postgres
postgres_dsn: "postgres://localhost/skillstats?sslmode=disable"
batch_size: 500
keep_snapshots: 5
`)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("SKILLSTATS_CONFIG", tmpFile)

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load from YAML file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.Store, convey.ShouldEqual, config.StorePostgres)
				convey.So(cfg.BatchSize, convey.ShouldEqual, 500)
				convey.So(cfg.KeepSnapshots, convey.ShouldEqual, 5)
			})

			convey.Convey("And env vars are set as well", func() {
				_ = os.Setenv("SKILLSTATS_BATCH_SIZE", "42")

				cfg, err := config.Load(ctx)

				convey.Convey("Then env vars should win over the file", func() {
					convey.So(err, convey.ShouldBeNil)
					convey.So(cfg.BatchSize, convey.ShouldEqual, 42)
					convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				})
			})
		})

		convey.Convey("When the config file does not exist", func() {
			_ = os.Setenv("SKILLSTATS_CONFIG", "/nonexistent/skillstats.yaml")

			_, err := config.Load(ctx)

			convey.Convey("Then ErrLoadConfig should be returned", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the loaded config is invalid", func() {
			_ = os.Setenv("SKILLSTATS_BATCH_SIZE", "0")

			_, err := config.Load(ctx)

			convey.Convey("Then ErrInvalidConfig should be returned", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the store is unknown", func() {
			_ = os.Setenv("SKILLSTATS_STORE", "sqlite")

			_, err := config.Load(ctx)

			convey.Convey("Then loading should fail validation", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})
}
