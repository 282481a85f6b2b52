// Package config defines service configuration and its loading.
package config

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Store drivers accepted by Config.Store.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
)

const maxTrendingLimit = 200

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// Store selects the persistence driver: memory, postgres or mongo.
	Store         string `koanf:"store"`
	PostgresDSN   string `koanf:"postgres_dsn"`
	MongoURI      string `koanf:"mongo_uri"`
	MongoDatabase string `koanf:"mongo_database"`

	// RedisURL enables the distributed task lock when set.
	RedisURL  string `koanf:"redis_url"`
	LockTTLMS int    `koanf:"lock_ttl_ms"`

	// TaskQueueSize bounds the in-memory task queue.
	TaskQueueSize int `koanf:"task_queue_size"`
	// WorkerCount sets the number of task workers.
	WorkerCount int `koanf:"worker_count"`

	// BatchSize is the number of events one process task claims.
	BatchSize int `koanf:"batch_size"`
	// GroupConcurrency bounds concurrent skill groups within a batch.
	GroupConcurrency int `koanf:"group_concurrency"`

	// ProcessSchedule and PublishSchedule are cron specs.
	ProcessSchedule string `koanf:"process_schedule"`
	PublishSchedule string `koanf:"publish_schedule"`

	// TrendingLimit is the number of entries each snapshot stores.
	TrendingLimit int `koanf:"trending_limit"`
	// KeepSnapshots is how many snapshots survive pruning.
	KeepSnapshots int `koanf:"keep_snapshots"`
	// PruneCushion is how many older snapshots each prune looks past KeepSnapshots.
	PruneCushion int `koanf:"prune_cushion"`

	// TrendingCacheTTLMS caches the latest snapshot for reads; 0 disables.
	TrendingCacheTTLMS int `koanf:"trending_cache_ttl_ms"`

	// DedupeSize sets the size of the event id deduplication cache.
	DedupeSize int `koanf:"dedupe_size"`

	// MetricsNamespace and MetricsSubsystem prefix every metric name.
	MetricsNamespace string `koanf:"metrics_namespace"`
	MetricsSubsystem string `koanf:"metrics_subsystem"`
	// MetricsConstLabels is a comma separated k=v list added to every metric.
	MetricsConstLabels string `koanf:"metrics_const_labels"`
	// MetricsBucketsMS is a comma separated, increasing list of latency
	// histogram buckets in milliseconds; empty keeps the prometheus defaults.
	MetricsBucketsMS string `koanf:"metrics_buckets_ms"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:           "info",
		LogFormat:          "text",
		Addr:               ":9080",
		Store:              StoreMemory,
		MongoDatabase:      "skillstats",
		LockTTLMS:          600_000,
		TaskQueueSize:      1024,
		WorkerCount:        runtime.NumCPU(),
		BatchSize:          100,
		GroupConcurrency:   4,
		ProcessSchedule:    "@every 5m",
		PublishSchedule:    "@every 1h",
		TrendingLimit:      maxTrendingLimit,
		KeepSnapshots:      3,
		PruneCushion:       5,
		TrendingCacheTTLMS: 30_000,
		DedupeSize:         500_000,
		MetricsNamespace:   "skillstats",
		MetricsSubsystem:   "engine",
	}
}

// Validate reports the first invalid setting, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.Store != StoreMemory && c.Store != StorePostgres && c.Store != StoreMongo:
		return fmt.Errorf("%w: unknown store %q", ErrInvalidConfig, c.Store)
	case c.Store == StorePostgres && c.PostgresDSN == "":
		return fmt.Errorf("%w: postgres_dsn is required for the postgres store", ErrInvalidConfig)
	case c.Store == StoreMongo && c.MongoURI == "":
		return fmt.Errorf("%w: mongo_uri is required for the mongo store", ErrInvalidConfig)
	case c.BatchSize < 1:
		return fmt.Errorf("%w: batch_size must be positive", ErrInvalidConfig)
	case c.TrendingLimit < 1 || c.TrendingLimit > maxTrendingLimit:
		return fmt.Errorf("%w: trending_limit must be within 1..%d", ErrInvalidConfig, maxTrendingLimit)
	case c.KeepSnapshots < 1:
		return fmt.Errorf("%w: keep_snapshots must be positive", ErrInvalidConfig)
	case c.WorkerCount < 1:
		return fmt.Errorf("%w: worker_count must be positive", ErrInvalidConfig)
	}
	if _, err := c.MetricsLabels(); err != nil {
		return err
	}
	if _, err := c.MetricsBuckets(); err != nil {
		return err
	}
	return nil
}

// MetricsLabels parses MetricsConstLabels, e.g. "env=prod,region=eu".
func (c *Config) MetricsLabels() (map[string]string, error) {
	if strings.TrimSpace(c.MetricsConstLabels) == "" {
		return nil, nil
	}
	labels := make(map[string]string)
	for _, pair := range strings.Split(c.MetricsConstLabels, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: metrics_const_labels entry %q is not k=v", ErrInvalidConfig, pair)
		}
		labels[k] = v
	}
	return labels, nil
}

// MetricsBuckets parses MetricsBucketsMS into strictly increasing bounds.
func (c *Config) MetricsBuckets() ([]float64, error) {
	if strings.TrimSpace(c.MetricsBucketsMS) == "" {
		return nil, nil
	}
	parts := strings.Split(c.MetricsBucketsMS, ",")
	buckets := make([]float64, 0, len(parts))
	for _, part := range parts {
		b, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: metrics_buckets_ms: %w", ErrInvalidConfig, err)
		}
		if len(buckets) > 0 && b <= buckets[len(buckets)-1] {
			return nil, fmt.Errorf("%w: metrics_buckets_ms must increase", ErrInvalidConfig)
		}
		buckets = append(buckets, b)
	}
	return buckets, nil
}

// LockTTL returns LockTTLMS as a duration.
func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLMS) * time.Millisecond
}

// TrendingCacheTTL returns TrendingCacheTTLMS as a duration.
func (c *Config) TrendingCacheTTL() time.Duration {
	return time.Duration(c.TrendingCacheTTLMS) * time.Millisecond
}
