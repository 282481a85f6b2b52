package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/okian/skillstats/internal/domain/model"
)

// Schema is the DDL PostgresStore expects. EnsureSchema applies it.
const Schema = `
CREATE TABLE IF NOT EXISTS skills (
	id                TEXT PRIMARY KEY,
	slug              TEXT NOT NULL DEFAULT '',
	downloads         BIGINT NOT NULL DEFAULT 0,
	stars             BIGINT NOT NULL DEFAULT 0,
	installs_current  BIGINT NOT NULL DEFAULT 0,
	installs_all_time BIGINT NOT NULL DEFAULT 0,
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS skill_stat_events (
	seq            BIGSERIAL,
	id             TEXT PRIMARY KEY,
	skill_id       TEXT NOT NULL,
	kind           TEXT NOT NULL,
	delta_all_time BIGINT,
	delta_current  BIGINT,
	occurred_at    TIMESTAMPTZ NOT NULL,
	processed_at   TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS skill_stat_events_unprocessed
	ON skill_stat_events (seq) WHERE processed_at IS NULL;
CREATE INDEX IF NOT EXISTS skill_stat_events_skill ON skill_stat_events (skill_id);

CREATE TABLE IF NOT EXISTS skill_daily_stats (
	skill_id   TEXT NOT NULL,
	day        BIGINT NOT NULL,
	downloads  BIGINT NOT NULL DEFAULT 0,
	installs   BIGINT NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (skill_id, day)
);
CREATE INDEX IF NOT EXISTS skill_daily_stats_day ON skill_daily_stats (day);

CREATE TABLE IF NOT EXISTS skill_leaderboards (
	id              TEXT PRIMARY KEY,
	kind            TEXT NOT NULL,
	generated_at    TIMESTAMPTZ NOT NULL,
	range_start_day BIGINT NOT NULL,
	range_end_day   BIGINT NOT NULL,
	items           JSONB NOT NULL DEFAULT '[]'::jsonb
);
CREATE INDEX IF NOT EXISTS skill_leaderboards_kind ON skill_leaderboards (kind, generated_at DESC);
`

const uniqueViolation = "23505"

// PostgresStore implements Store on PostgreSQL. Skill groups run in a
// transaction that locks the skill row.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// PostgresOption configures the connection pool.
type PostgresOption func(*sql.DB)

// WithMaxOpenConns bounds open connections.
func WithMaxOpenConns(n int) PostgresOption {
	return func(db *sql.DB) {
		if n > 0 {
			db.SetMaxOpenConns(n)
		}
	}
}

// WithConnMaxLifetime recycles connections older than d.
func WithConnMaxLifetime(d time.Duration) PostgresOption {
	return func(db *sql.DB) {
		if d > 0 {
			db.SetConnMaxLifetime(d)
		}
	}
}

// NewPostgresStore connects to dsn and pings it.
func NewPostgresStore(ctx context.Context, dsn string, opts ...PostgresOption) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)
	for _, opt := range opts {
		opt(db)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing handle.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the tables and indexes if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// InsertEvent appends e.
func (s *PostgresStore) InsertEvent(ctx context.Context, e model.StatEvent) error {
	defer observe("insert_event", time.Now())

	var allTime, current sql.NullInt64
	if e.Delta != nil {
		allTime = sql.NullInt64{Int64: e.Delta.AllTime, Valid: true}
		current = sql.NullInt64{Int64: e.Delta.Current, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO skill_stat_events (id, skill_id, kind, delta_all_time, delta_current, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.SkillID, string(e.Kind), allTime, current, e.OccurredAt.UTC())
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// UnprocessedEvents returns up to limit unprocessed events in insertion order.
func (s *PostgresStore) UnprocessedEvents(ctx context.Context, limit int) ([]model.StatEvent, error) {
	defer observe("unprocessed_events", time.Now())
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, skill_id, kind, delta_all_time, delta_current, occurred_at
		 FROM skill_stat_events
		 WHERE processed_at IS NULL
		 ORDER BY seq
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query unprocessed events: %w", err)
	}
	defer rows.Close()

	var out []model.StatEvent
	for rows.Next() {
		var (
			e                model.StatEvent
			kind             string
			allTime, current sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.SkillID, &kind, &allTime, &current, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Kind = model.Kind(kind)
		if allTime.Valid || current.Valid {
			e.Delta = &model.InstallDelta{AllTime: allTime.Int64, Current: current.Int64}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetSkill returns the skill with id.
func (s *PostgresStore) GetSkill(ctx context.Context, id string) (model.Skill, error) {
	defer observe("get_skill", time.Now())
	return scanSkill(s.db.QueryRowContext(ctx,
		`SELECT id, slug, downloads, stars, installs_current, installs_all_time, updated_at
		 FROM skills WHERE id = $1`, id))
}

// PutSkill creates or replaces a skill.
func (s *PostgresStore) PutSkill(ctx context.Context, sk model.Skill) error {
	updatedAt := sk.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO skills (id, slug, downloads, stars, installs_current, installs_all_time, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
			slug = EXCLUDED.slug,
			downloads = EXCLUDED.downloads,
			stars = EXCLUDED.stars,
			installs_current = EXCLUDED.installs_current,
			installs_all_time = EXCLUDED.installs_all_time,
			updated_at = EXCLUDED.updated_at`,
		sk.ID, sk.Slug, sk.Counters.Downloads, sk.Counters.Stars,
		sk.Counters.InstallsCurrent, sk.Counters.InstallsAllTime, updatedAt.UTC())
	if err != nil {
		return fmt.Errorf("put skill: %w", err)
	}
	return nil
}

// DailyStatsInRange scans the day index.
func (s *PostgresStore) DailyStatsInRange(ctx context.Context, startDay, endDay int64) ([]model.DailyStat, error) {
	defer observe("daily_stats_in_range", time.Now())
	rows, err := s.db.QueryContext(ctx,
		`SELECT skill_id, day, downloads, installs, updated_at
		 FROM skill_daily_stats
		 WHERE day BETWEEN $1 AND $2`, startDay, endDay)
	if err != nil {
		return nil, fmt.Errorf("query daily stats: %w", err)
	}
	defer rows.Close()

	var out []model.DailyStat
	for rows.Next() {
		var d model.DailyStat
		if err := rows.Scan(&d.SkillID, &d.Day, &d.Downloads, &d.Installs, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan daily stat: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DailyStat returns one bucket.
func (s *PostgresStore) DailyStat(ctx context.Context, skillID string, day int64) (model.DailyStat, error) {
	var d model.DailyStat
	err := s.db.QueryRowContext(ctx,
		`SELECT skill_id, day, downloads, installs, updated_at
		 FROM skill_daily_stats WHERE skill_id = $1 AND day = $2`, skillID, day).
		Scan(&d.SkillID, &d.Day, &d.Downloads, &d.Installs, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DailyStat{}, ErrNotFound
	}
	if err != nil {
		return model.DailyStat{}, fmt.Errorf("query daily stat: %w", err)
	}
	return d, nil
}

// InsertSnapshot stores snap with its items as JSONB.
func (s *PostgresStore) InsertSnapshot(ctx context.Context, snap model.Snapshot) error {
	defer observe("insert_snapshot", time.Now())
	items := snap.Items
	if items == nil {
		items = []model.LeaderboardEntry{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal snapshot items: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO skill_leaderboards (id, kind, generated_at, range_start_day, range_end_day, items)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		snap.ID, string(snap.Kind), snap.GeneratedAt.UTC(), snap.RangeStartDay, snap.RangeEndDay, raw)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// RecentSnapshots returns up to limit snapshots of kind, newest first.
func (s *PostgresStore) RecentSnapshots(ctx context.Context, kind model.LeaderboardKind, limit int) ([]model.Snapshot, error) {
	defer observe("recent_snapshots", time.Now())
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, generated_at, range_start_day, range_end_day, items
		 FROM skill_leaderboards
		 WHERE kind = $1
		 ORDER BY generated_at DESC
		 LIMIT $2`, string(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var out []model.Snapshot
	for rows.Next() {
		var (
			snap     model.Snapshot
			kindName string
			raw      []byte
		)
		if err := rows.Scan(&snap.ID, &kindName, &snap.GeneratedAt, &snap.RangeStartDay, &snap.RangeEndDay, &raw); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap.Kind = model.LeaderboardKind(kindName)
		if err := json.Unmarshal(raw, &snap.Items); err != nil {
			return nil, fmt.Errorf("decode snapshot %s items: %w", snap.ID, err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// DeleteSnapshot removes one snapshot.
func (s *PostgresStore) DeleteSnapshot(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM skill_leaderboards WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// PurgeSkill removes the skill, its events and buckets, and strips it from
// snapshot items, in one transaction. The skill row goes first: it waits on
// the row lock of any running group, so the bucket delete sees that group's
// committed rows, and later groups find the skill missing.
func (s *PostgresStore) PurgeSkill(ctx context.Context, skillID string) error {
	defer observe("purge_skill", time.Now())
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin purge: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	statements := []string{
		`DELETE FROM skills WHERE id = $1`,
		`DELETE FROM skill_stat_events WHERE skill_id = $1`,
		`DELETE FROM skill_daily_stats WHERE skill_id = $1`,
		`UPDATE skill_leaderboards
		 SET items = COALESCE((
			SELECT jsonb_agg(item ORDER BY ord)
			FROM jsonb_array_elements(items) WITH ORDINALITY AS t(item, ord)
			WHERE item->>'skill_id' <> $1
		 ), '[]'::jsonb)
		 WHERE items @> jsonb_build_array(jsonb_build_object('skill_id', $1::text))`,
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt, skillID); err != nil {
			return fmt.Errorf("purge skill %s: %w", skillID, err)
		}
	}
	return tx.Commit()
}

// UpdateSkillGroup runs fn in a transaction and commits only if it succeeds.
func (s *PostgresStore) UpdateSkillGroup(ctx context.Context, skillID string, fn func(ctx context.Context, tx GroupTx) error) error {
	defer observe("update_skill_group", time.Now())
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin group: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(ctx, &postgresTx{tx: tx, skillID: skillID}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit group: %w", err)
	}
	return nil
}

type postgresTx struct {
	tx      *sql.Tx
	skillID string
}

func (t *postgresTx) Skill(ctx context.Context) (model.Skill, bool, error) {
	sk, err := scanSkill(t.tx.QueryRowContext(ctx,
		`SELECT id, slug, downloads, stars, installs_current, installs_all_time, updated_at
		 FROM skills WHERE id = $1 FOR UPDATE`, t.skillID))
	if errors.Is(err, ErrNotFound) {
		return model.Skill{}, false, nil
	}
	if err != nil {
		return model.Skill{}, false, err
	}
	return sk, true, nil
}

func (t *postgresTx) SetCounters(ctx context.Context, c model.Counters, at time.Time) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE skills
		 SET downloads = $2, stars = $3, installs_current = $4, installs_all_time = $5, updated_at = $6
		 WHERE id = $1`,
		t.skillID, c.Downloads, c.Stars, c.InstallsCurrent, c.InstallsAllTime, at.UTC())
	if err != nil {
		return fmt.Errorf("set counters: %w", err)
	}
	return nil
}

func (t *postgresTx) UpsertDaily(ctx context.Context, day, downloads, installs int64, at time.Time) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO skill_daily_stats (skill_id, day, downloads, installs, updated_at)
		 VALUES ($1, $2, GREATEST(0, $3::bigint), GREATEST(0, $4::bigint), $5)
		 ON CONFLICT (skill_id, day) DO UPDATE SET
			downloads = GREATEST(0, skill_daily_stats.downloads + $3::bigint),
			installs = GREATEST(0, skill_daily_stats.installs + $4::bigint),
			updated_at = $5`,
		t.skillID, day, downloads, installs, at.UTC())
	if err != nil {
		return fmt.Errorf("upsert daily stat: %w", err)
	}
	return nil
}

func (t *postgresTx) MarkProcessed(ctx context.Context, ids []string, at time.Time) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE skill_stat_events SET processed_at = $1
		 WHERE id = ANY($2) AND processed_at IS NULL`,
		at.UTC(), pq.Array(ids))
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSkill(row rowScanner) (model.Skill, error) {
	var sk model.Skill
	err := row.Scan(&sk.ID, &sk.Slug, &sk.Counters.Downloads, &sk.Counters.Stars,
		&sk.Counters.InstallsCurrent, &sk.Counters.InstallsAllTime, &sk.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Skill{}, ErrNotFound
	}
	if err != nil {
		return model.Skill{}, fmt.Errorf("scan skill: %w", err)
	}
	return sk, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
