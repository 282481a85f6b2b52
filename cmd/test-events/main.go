package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/okian/skillstats/internal/testevents"
)

// Default configuration constants.
const (
	defaultNumSkills     = 500
	defaultNumEvents     = 10000
	defaultTopN          = 50
	defaultWorkers       = 2 // multiplier for runtime.NumCPU()
	defaultTimeout       = 30 * time.Second
	defaultSettleTimeout = 2 * time.Minute
	defaultPollInterval  = time.Second
	defaultTestTimeout   = 10 * time.Minute
)

func main() {
	var (
		baseURL    = flag.String("url", "http://localhost:9080", "Base URL of the service")
		numSkills  = flag.Int("skills", defaultNumSkills, "Number of skills to register")
		numEvents  = flag.Int("events", defaultNumEvents, "Number of events to generate and submit")
		topN       = flag.Int("top", defaultTopN, "Number of trending entries to verify")
		workers    = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent workers")
		timeout    = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		settle     = flag.Duration("settle", defaultSettleTimeout, "How long to wait for processing and publishing")
		outputFile = flag.String("output", "", "Output file for generated events")
		logFile    = flag.String("log", "", "Log file for test output (default: test_log_TIMESTAMP.log)")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging")
		help       = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		testevents.ShowHelp()
		return
	}

	closer, err := testevents.SetupLogging(*logFile)
	if err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = closer.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), defaultTestTimeout)
	defer cancel()

	config := &testevents.Config{
		BaseURL:       *baseURL,
		NumSkills:     *numSkills,
		NumEvents:     *numEvents,
		TopN:          *topN,
		Workers:       *workers,
		Timeout:       *timeout,
		SettleTimeout: *settle,
		PollInterval:  defaultPollInterval,
		OutputFile:    *outputFile,
		Verbose:       *verbose,
	}

	if _, err := testevents.Run(ctx, config); err != nil {
		os.Stderr.WriteString("Test failed: " + err.Error() + "\n")
		cancel()
		os.Exit(1) //nolint:gocritic // cancel already called
	}
}
