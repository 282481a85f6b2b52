package stats

import (
	"time"

	"github.com/okian/skillstats/pkg/logger"
)

// EventLogOption configures an EventLog.
type EventLogOption func(*EventLog)

// WithEventLogLogger sets the event log logger.
func WithEventLogLogger(l logger.Logger) EventLogOption {
	return func(e *EventLog) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithEventLogClock overrides the clock used for default occurrence times.
func WithEventLogClock(now func() time.Time) EventLogOption {
	return func(e *EventLog) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator overrides event id generation.
func WithIDGenerator(gen func() string) EventLogOption {
	return func(e *EventLog) {
		if gen != nil {
			e.newID = gen
		}
	}
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithLogger sets the processor logger.
func WithLogger(l logger.Logger) ProcessorOption {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithClock overrides the clock used for processed and updated timestamps.
func WithClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

// WithGroupConcurrency bounds how many skill groups are applied in parallel.
func WithGroupConcurrency(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.groupConcurrency = n
		}
	}
}

// WithDefaultBatchSize sets the batch size used when ProcessBatch gets a
// non-positive one.
func WithDefaultBatchSize(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.defaultBatchSize = n
		}
	}
}
