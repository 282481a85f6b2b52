package repository

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/okian/skillstats/internal/domain/model"
	"github.com/okian/skillstats/pkg/metrics"
)

type dailyKey struct {
	skillID string
	day     int64
}

// MemoryStore is an in-process Store. Skill groups for different skills run
// concurrently; a group's writes are staged and committed under the store
// lock only when its callback succeeds.
type MemoryStore struct {
	mu        sync.RWMutex
	events    []model.StatEvent
	eventPos  map[string]int
	pending   []int // positions in events that may still be unprocessed, in append order
	skills    map[string]model.Skill
	daily     map[dailyKey]model.DailyStat
	byDay     map[int64]map[string]struct{}
	snapshots []model.Snapshot

	skillLocks sync.Map // skill id -> *sync.Mutex

	metricsUpdateInterval time.Duration
	closeOnce             sync.Once
	wg                    sync.WaitGroup
	stopChan              chan struct{}
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty store and starts its metrics updater.
func NewMemoryStore(ctx context.Context, opts ...Option) *MemoryStore {
	s := &MemoryStore{
		eventPos:              make(map[string]int),
		skills:                make(map[string]model.Skill),
		daily:                 make(map[dailyKey]model.DailyStat),
		byDay:                 make(map[int64]map[string]struct{}),
		metricsUpdateInterval: 5 * time.Second,
		stopChan:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.startMetricsUpdater(ctx)
	return s
}

// Close stops the background goroutines.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	return nil
}

func (s *MemoryStore) startMetricsUpdater(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.metricsUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				metrics.UpdateUnprocessedBacklog(s.Backlog())
			}
		}
	}()
}

// Backlog returns the number of unprocessed events.
func (s *MemoryStore) Backlog() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, pos := range s.pending {
		if s.events[pos].ProcessedAt == nil {
			n++
		}
	}
	return n
}

// InsertEvent appends e. Ids must be unique.
func (s *MemoryStore) InsertEvent(_ context.Context, e model.StatEvent) error {
	defer observe("insert_event", time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.eventPos[e.ID]; ok {
		return ErrDuplicate
	}
	if e.Delta != nil {
		d := *e.Delta
		e.Delta = &d
	}
	s.eventPos[e.ID] = len(s.events)
	if e.ProcessedAt == nil {
		s.pending = append(s.pending, len(s.events))
	}
	s.events = append(s.events, e)
	return nil
}

// UnprocessedEvents returns up to limit unprocessed events, oldest first.
func (s *MemoryStore) UnprocessedEvents(_ context.Context, limit int) ([]model.StatEvent, error) {
	defer observe("unprocessed_events", time.Now())
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.StatEvent, 0, min(limit, len(s.pending)))
	kept := s.pending[:0]
	for _, pos := range s.pending {
		if s.events[pos].ProcessedAt != nil {
			continue
		}
		kept = append(kept, pos)
		if len(out) < limit {
			out = append(out, s.events[pos])
		}
	}
	s.pending = kept
	return out, nil
}

// Event returns the stored event with id.
func (s *MemoryStore) Event(_ context.Context, id string) (model.StatEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.eventPos[id]
	if !ok {
		return model.StatEvent{}, ErrNotFound
	}
	return s.events[pos], nil
}

// GetSkill returns the skill with id.
func (s *MemoryStore) GetSkill(_ context.Context, id string) (model.Skill, error) {
	defer observe("get_skill", time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	sk, ok := s.skills[id]
	if !ok {
		return model.Skill{}, ErrNotFound
	}
	return sk, nil
}

// PutSkill creates or replaces a skill.
func (s *MemoryStore) PutSkill(_ context.Context, sk model.Skill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skills[sk.ID] = sk
	return nil
}

// DailyStatsInRange returns every bucket with startDay <= day <= endDay.
func (s *MemoryStore) DailyStatsInRange(_ context.Context, startDay, endDay int64) ([]model.DailyStat, error) {
	defer observe("daily_stats_in_range", time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.DailyStat
	collect := func(day int64) {
		for skillID := range s.byDay[day] {
			out = append(out, s.daily[dailyKey{skillID: skillID, day: day}])
		}
	}
	if endDay-startDay < int64(len(s.byDay)) {
		for day := startDay; day <= endDay; day++ {
			collect(day)
		}
		return out, nil
	}
	for day := range s.byDay {
		if day >= startDay && day <= endDay {
			collect(day)
		}
	}
	return out, nil
}

// DailyStat returns the bucket for (skillID, day).
func (s *MemoryStore) DailyStat(_ context.Context, skillID string, day int64) (model.DailyStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.daily[dailyKey{skillID: skillID, day: day}]
	if !ok {
		return model.DailyStat{}, ErrNotFound
	}
	return row, nil
}

// InsertSnapshot stores a copy of snap.
func (s *MemoryStore) InsertSnapshot(_ context.Context, snap model.Snapshot) error {
	defer observe("insert_snapshot", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.snapshots {
		if existing.ID == snap.ID {
			return ErrDuplicate
		}
	}
	snap.Items = slices.Clone(snap.Items)
	s.snapshots = append(s.snapshots, snap)
	return nil
}

// RecentSnapshots returns up to limit snapshots of kind, newest first.
func (s *MemoryStore) RecentSnapshots(_ context.Context, kind model.LeaderboardKind, limit int) ([]model.Snapshot, error) {
	defer observe("recent_snapshots", time.Now())
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Snapshot
	for _, snap := range s.snapshots {
		if snap.Kind == kind {
			snap.Items = slices.Clone(snap.Items)
			out = append(out, snap)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].GeneratedAt.After(out[j].GeneratedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteSnapshot removes the snapshot with id. Deleting a missing snapshot
// is not an error.
func (s *MemoryStore) DeleteSnapshot(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = slices.DeleteFunc(s.snapshots, func(snap model.Snapshot) bool {
		return snap.ID == id
	})
	return nil
}

// PurgeSkill deletes the skill, its events and its buckets, and strips it
// from every snapshot.
func (s *MemoryStore) PurgeSkill(_ context.Context, skillID string) error {
	defer observe("purge_skill", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.skills, skillID)

	events := s.events[:0]
	s.eventPos = make(map[string]int, len(s.events))
	s.pending = s.pending[:0]
	for _, e := range s.events {
		if e.SkillID == skillID {
			continue
		}
		s.eventPos[e.ID] = len(events)
		if e.ProcessedAt == nil {
			s.pending = append(s.pending, len(events))
		}
		events = append(events, e)
	}
	s.events = events

	for key := range s.daily {
		if key.skillID == skillID {
			delete(s.daily, key)
			delete(s.byDay[key.day], skillID)
		}
	}

	for i := range s.snapshots {
		s.snapshots[i].Items = slices.DeleteFunc(s.snapshots[i].Items, func(it model.LeaderboardEntry) bool {
			return it.SkillID == skillID
		})
	}
	return nil
}

// UpdateSkillGroup runs fn for skillID. Groups for the same skill serialize.
func (s *MemoryStore) UpdateSkillGroup(ctx context.Context, skillID string, fn func(ctx context.Context, tx GroupTx) error) error {
	defer observe("update_skill_group", time.Now())

	lock, _ := s.skillLocks.LoadOrStore(skillID, &sync.Mutex{})
	mu := lock.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	tx := &memoryTx{store: s, skillID: skillID, daily: make(map[int64]model.DailyStat)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.commit(tx)
	return nil
}

func (s *MemoryStore) commit(tx *memoryTx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A purge may land between fn and commit. Counters and buckets of a
	// skill that no longer exists are dropped; processed marks still apply.
	sk, exists := s.skills[tx.skillID]
	if exists && tx.counters != nil {
		sk.Counters = *tx.counters
		sk.UpdatedAt = tx.countersAt
		s.skills[tx.skillID] = sk
	}
	for day, row := range tx.daily {
		if !exists {
			break
		}
		s.daily[dailyKey{skillID: tx.skillID, day: day}] = row
		if s.byDay[day] == nil {
			s.byDay[day] = make(map[string]struct{})
		}
		s.byDay[day][tx.skillID] = struct{}{}
	}
	for _, id := range tx.processed {
		pos, ok := s.eventPos[id]
		if !ok || s.events[pos].ProcessedAt != nil {
			continue
		}
		at := tx.processedAt
		s.events[pos].ProcessedAt = &at
	}
}

type memoryTx struct {
	store       *MemoryStore
	skillID     string
	counters    *model.Counters
	countersAt  time.Time
	daily       map[int64]model.DailyStat
	processed   []string
	processedAt time.Time
}

func (t *memoryTx) Skill(_ context.Context) (model.Skill, bool, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	sk, ok := t.store.skills[t.skillID]
	if ok && t.counters != nil {
		sk.Counters = *t.counters
	}
	return sk, ok, nil
}

func (t *memoryTx) SetCounters(_ context.Context, c model.Counters, at time.Time) error {
	t.counters = &c
	t.countersAt = at
	return nil
}

func (t *memoryTx) UpsertDaily(_ context.Context, day, downloads, installs int64, at time.Time) error {
	row, ok := t.daily[day]
	if !ok {
		t.store.mu.RLock()
		row, ok = t.store.daily[dailyKey{skillID: t.skillID, day: day}]
		t.store.mu.RUnlock()
		if !ok {
			row = model.DailyStat{SkillID: t.skillID, Day: day}
		}
	}
	row.Downloads = max(0, row.Downloads+downloads)
	row.Installs = max(0, row.Installs+installs)
	row.UpdatedAt = at
	t.daily[day] = row
	return nil
}

func (t *memoryTx) MarkProcessed(_ context.Context, ids []string, at time.Time) error {
	t.processed = append(t.processed, ids...)
	t.processedAt = at
	return nil
}

func observe(op string, start time.Time) {
	metrics.RecordRepositoryLatency(op, float64(time.Since(start).Microseconds())/1000)
}
