package testevents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/skillstats/pkg/logger"
)

// HTTPClient wraps http.Client with JSON helpers.
type HTTPClient struct {
	client  *http.Client
	baseURL string
}

func newHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// do sends a request and decodes a JSON response into out when out is
// non-nil. It returns the status code.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return resp.StatusCode, fmt.Errorf("%s %s: HTTP %d: %s", method, path, resp.StatusCode, string(data))
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// registerSkills creates every skill through PUT /skills/{id}.
func registerSkills(ctx context.Context, config *Config, client *HTTPClient, skillIDs []string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(config.Workers)
	for _, id := range skillIDs {
		g.Go(func() error {
			_, err := client.do(gctx, http.MethodPut, "/skills/"+id, map[string]string{"slug": id}, nil)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to register skills: %w", err)
	}
	logger.Get().Info(ctx, "registered skills", logger.Int("count", len(skillIDs)))
	return nil
}

// submitEvents posts events concurrently. Individual failures are counted,
// not returned.
func submitEvents(ctx context.Context, config *Config, client *HTTPClient, events []Event, stats *Stats) error {
	log := logger.Get()
	log.Info(ctx, "submitting events", logger.Int("count", len(events)), logger.Int("workers", config.Workers))

	var submitted, successful, duplicate, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(config.Workers)
	for _, event := range events {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			var ack AckResponse
			status, err := client.do(gctx, http.MethodPost, "/events", event, &ack)
			n := submitted.Add(1)
			switch {
			case err != nil:
				failed.Add(1)
				if config.Verbose {
					log.Warn(gctx, "event submission failed", logger.String("eventID", event.EventID), logger.Error(err))
				}
			case status == http.StatusOK && ack.Duplicate:
				duplicate.Add(1)
			default:
				successful.Add(1)
			}
			if config.Verbose && n%1000 == 0 {
				log.Info(gctx, "progress", logger.Int64("submitted", n), logger.Int("total", len(events)))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return fmt.Errorf("event submission interrupted: %w", ctx.Err())
	}

	stats.EventsSubmitted = int(submitted.Load())
	stats.EventsSuccessful = int(successful.Load())
	stats.EventsDuplicate = int(duplicate.Load())
	stats.EventsFailed = int(failed.Load())

	log.Info(ctx, "event submission completed",
		logger.Int("successful", stats.EventsSuccessful),
		logger.Int("duplicate", stats.EventsDuplicate),
		logger.Int("failed", stats.EventsFailed))
	return nil
}

// enqueueTask triggers a scheduled task through the admin endpoint.
func enqueueTask(ctx context.Context, client *HTTPClient, name string) error {
	_, err := client.do(ctx, http.MethodPost, "/admin/tasks/"+name, nil, nil)
	return err
}

func fetchSkill(ctx context.Context, client *HTTPClient, id string) (SkillStats, error) {
	var s SkillStats
	_, err := client.do(ctx, http.MethodGet, "/skills/"+id, nil, &s)
	return s, err
}

func fetchTrending(ctx context.Context, client *HTTPClient, limit int) (Trending, error) {
	var t Trending
	_, err := client.do(ctx, http.MethodGet, fmt.Sprintf("/leaderboard/trending?limit=%d", limit), nil, &t)
	return t, err
}
