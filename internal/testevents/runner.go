package testevents

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/okian/skillstats/pkg/logger"
)

const (
	directoryPermission = 0750

	taskProcess = "process-stat-events"
	taskRebuild = "rebuild-trending-leaderboard"

	percentageMultiplier = 100
)

// Run executes the complete load test: register skills, submit events,
// trigger processing and publishing, then verify counters and trending.
func Run(ctx context.Context, config *Config) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}
	log := logger.Get()

	log.Info(ctx, "starting skill stats load test",
		logger.String("baseURL", config.BaseURL),
		logger.Int("skills", config.NumSkills),
		logger.Int("events", config.NumEvents),
		logger.Int("workers", config.Workers),
		logger.Duration("timeout", config.Timeout),
		logger.Int("topN", config.TopN),
		logger.Bool("verbose", config.Verbose))

	client := newHTTPClient(config.BaseURL, config.Timeout)

	if err := checkServiceHealth(ctx, client); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	skillIDs := generateSkillIDs(config.NumSkills)
	if err := registerSkills(ctx, config, client, skillIDs); err != nil {
		return stats, err
	}

	events, expected, err := generateEvents(ctx, config, skillIDs, stats)
	if err != nil {
		return stats, fmt.Errorf("event generation failed: %w", err)
	}

	if err := submitEvents(ctx, config, client, events, stats); err != nil {
		return stats, fmt.Errorf("event submission failed: %w", err)
	}
	if stats.EventsFailed > 0 {
		return stats, fmt.Errorf("%d events were rejected", stats.EventsFailed)
	}

	if err := enqueueTask(ctx, client, taskProcess); err != nil {
		return stats, fmt.Errorf("failed to trigger processing: %w", err)
	}
	if err := waitForCounters(ctx, config, client, expected, stats); err != nil {
		return stats, err
	}

	before, err := fetchTrending(ctx, client, 1)
	if err != nil {
		return stats, fmt.Errorf("failed to read trending: %w", err)
	}
	if err := enqueueTask(ctx, client, taskRebuild); err != nil {
		return stats, fmt.Errorf("failed to trigger publishing: %w", err)
	}
	if err := waitForTrending(ctx, config, client, expected, before.GeneratedAt, stats); err != nil {
		return stats, err
	}

	if config.OutputFile != "" {
		if err := saveEventsToFile(ctx, config.OutputFile, events); err != nil {
			log.Warn(ctx, "failed to save events to file", logger.Error(err))
		}
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, stats)

	log.Info(ctx, "test completed successfully")
	return stats, nil
}

// checkServiceHealth verifies the service is running.
func checkServiceHealth(ctx context.Context, client *HTTPClient) error {
	status, err := client.do(ctx, http.MethodGet, "/healthz", nil, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", status)
	}
	logger.Get().Info(ctx, "service is healthy")
	return nil
}

// saveEventsToFile writes the generated events as a JSON array.
func saveEventsToFile(ctx context.Context, filename string, events []Event) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() { _ = file.Close() }()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(events); err != nil {
		return fmt.Errorf("failed to write events: %w", err)
	}

	logger.Get().Info(ctx, "events saved to file", logger.String("filename", filename))
	return nil
}

func displayFinalStats(ctx context.Context, stats *Stats) {
	var successRate, eventsPerSecond float64

	if stats.EventsSubmitted > 0 {
		successRate = float64(stats.EventsSuccessful) / float64(stats.EventsSubmitted) * percentageMultiplier
	}
	if stats.Duration > 0 {
		eventsPerSecond = float64(stats.EventsSubmitted) / stats.Duration.Seconds()
	}

	logger.Get().Info(ctx, "final statistics",
		logger.Int("eventsGenerated", stats.EventsGenerated),
		logger.Int("eventsSubmitted", stats.EventsSubmitted),
		logger.Int("eventsSuccessful", stats.EventsSuccessful),
		logger.Int("eventsDuplicate", stats.EventsDuplicate),
		logger.Int("eventsFailed", stats.EventsFailed),
		logger.Int("skillsVerified", stats.SkillsVerified),
		logger.Int("leaderboardEntries", stats.LeaderboardEntries),
		logger.Duration("duration", stats.Duration),
		logger.Float64("successRate", successRate),
		logger.Float64("eventsPerSecond", eventsPerSecond))
}
