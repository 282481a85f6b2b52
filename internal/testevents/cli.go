package testevents

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/okian/skillstats/pkg/logger"
)

const logFilePermission = 0600

// SetupLogging initializes the global logger writing to stdout and logFile.
// An empty logFile gets a timestamped name. The returned closer releases
// the file.
func SetupLogging(logFile string) (io.Closer, error) {
	if logFile == "" {
		logFile = "test_log_" + time.Now().Format("20060102_150405") + ".log"
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	if err := logger.Init(logger.WithWriter(io.MultiWriter(os.Stdout, file))); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return file, nil
}

// ShowHelp prints usage information for the load test tool.
func ShowHelp() {
	os.Stdout.WriteString(`Skill Stats Load Test
=====================

Registers skills, submits stat events concurrently, triggers the batch
processor and the trending publisher, then verifies every skill's counters
and the trending leaderboard against a locally computed tally.

Usage:
  go run ./cmd/test-events [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:9080")
  -skills int
        Number of skills to register (default 500)
  -events int
        Number of events to generate and submit (default 10000)
  -top int
        Number of trending entries to verify (default 50)
  -workers int
        Number of concurrent workers (default CPU cores * 2)
  -timeout duration
        HTTP request timeout (default 30s)
  -settle duration
        How long to wait for processing and publishing (default 2m)
  -output string
        Output file for generated events (disabled when empty)
  -log string
        Log file for test output (default: test_log_TIMESTAMP.log)
  -verbose
        Enable verbose logging
  -help
        Show this help message

Examples:
  go run ./cmd/test-events -events 50000 -workers 16 -url http://localhost:8080
  go run ./cmd/test-events -skills 50 -events 2000 -top 10 -verbose
`)
}
