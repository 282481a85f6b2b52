package ranking

import (
	"time"

	"github.com/okian/skillstats/internal/domain/model"
	"github.com/okian/skillstats/pkg/logger"
)

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithPublisherLogger sets the publisher logger.
func WithPublisherLogger(l logger.Logger) PublisherOption {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithPublisherClock overrides the clock used for generatedAt and the window.
func WithPublisherClock(now func() time.Time) PublisherOption {
	return func(p *Publisher) {
		if now != nil {
			p.now = now
		}
	}
}

// WithSnapshotIDs overrides snapshot id generation.
func WithSnapshotIDs(gen func() string) PublisherOption {
	return func(p *Publisher) {
		if gen != nil {
			p.newID = gen
		}
	}
}

// WithRetention sets how many snapshots to keep and how many extra to look
// at when pruning.
func WithRetention(keep, cushion int) PublisherOption {
	return func(p *Publisher) {
		if keep > 0 {
			p.keep = keep
		}
		if cushion >= 0 {
			p.cushion = cushion
		}
	}
}

// WithPublishHook registers fn to run after every successful insert.
func WithPublishHook(fn func(model.Snapshot)) PublisherOption {
	return func(p *Publisher) {
		if fn != nil {
			p.hooks = append(p.hooks, fn)
		}
	}
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithConsumerLogger sets the consumer logger.
func WithConsumerLogger(l logger.Logger) ConsumerOption {
	return func(c *Consumer) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithConsumerClock overrides the wall clock used by the fallback.
func WithConsumerClock(now func() time.Time) ConsumerOption {
	return func(c *Consumer) {
		if now != nil {
			c.now = now
		}
	}
}

// WithCacheTTL caches the latest snapshot for ttl.
func WithCacheTTL(ttl time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}
