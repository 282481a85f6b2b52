// Package stats implements the event-sourced skill statistics pipeline: the
// append-only event log, the batch processor that drains it, the clamped
// counter applier and the daily bucket writer.
package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okian/skillstats/internal/adapters/repository"
	"github.com/okian/skillstats/internal/domain/model"
	"github.com/okian/skillstats/pkg/logger"
	"github.com/okian/skillstats/pkg/metrics"
)

// EventLog is the single write entrypoint for producers. Append never reads
// prior state and never checks that the skill exists.
type EventLog struct {
	store  repository.EventStore
	logger logger.Logger
	now    func() time.Time
	newID  func() string
}

// NewEventLog creates an event log writing to store.
func NewEventLog(store repository.EventStore, opts ...EventLogOption) *EventLog {
	l := &EventLog{
		store:  store,
		logger: logger.Nop(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// AppendOption customises a single appended event.
type AppendOption func(*model.StatEvent)

// WithOccurredAt sets when the action happened. Defaults to now.
func WithOccurredAt(t time.Time) AppendOption {
	return func(e *model.StatEvent) {
		if !t.IsZero() {
			e.OccurredAt = t
		}
	}
}

// WithDelta attaches the explicit install adjustment of an install_clear event.
// It is ignored for every other kind.
func WithDelta(allTime, current int64) AppendOption {
	return func(e *model.StatEvent) {
		e.Delta = &model.InstallDelta{AllTime: allTime, Current: current}
	}
}

// WithEventID uses a caller supplied id instead of a generated one.
func WithEventID(id string) AppendOption {
	return func(e *model.StatEvent) {
		if id != "" {
			e.ID = id
		}
	}
}

// Append records one action and returns the stored event.
func (l *EventLog) Append(ctx context.Context, skillID string, kind model.Kind, opts ...AppendOption) (model.StatEvent, error) {
	if skillID == "" {
		return model.StatEvent{}, ErrEmptySkillID
	}
	if !kind.Valid() {
		return model.StatEvent{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	e := model.StatEvent{
		ID:         l.newID(),
		SkillID:    skillID,
		Kind:       kind,
		OccurredAt: l.now(),
	}
	for _, opt := range opts {
		opt(&e)
	}
	if kind != model.KindInstallClear {
		e.Delta = nil
	}

	if err := l.store.InsertEvent(ctx, e); err != nil {
		metrics.RecordEventAppendError()
		l.logger.Error(ctx, "append stat event failed",
			logger.String("skill_id", skillID),
			logger.String("kind", string(kind)),
			logger.Error(err))
		return model.StatEvent{}, fmt.Errorf("append stat event: %w", err)
	}

	metrics.RecordEventAppended(string(kind))
	return e, nil
}
