package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okian/skillstats/internal/domain/model"
)

func newMockPostgres(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStoreFromDB(db), mock
}

func TestPostgresStore_EnsureSchema(t *testing.T) {
	store, mock := newMockPostgres(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS skills").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertEvent(t *testing.T) {
	ctx := context.Background()
	at := time.Unix(1_700_000_000, 0).UTC()

	t.Run("plain event", func(t *testing.T) {
		store, mock := newMockPostgres(t)
		mock.ExpectExec("INSERT INTO skill_stat_events").
			WithArgs("e1", "s1", "download", nil, nil, at).
			WillReturnResult(sqlmock.NewResult(1, 1))

		err := store.InsertEvent(ctx, model.StatEvent{ID: "e1", SkillID: "s1", Kind: model.KindDownload, OccurredAt: at})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("install clear carries the delta", func(t *testing.T) {
		store, mock := newMockPostgres(t)
		mock.ExpectExec("INSERT INTO skill_stat_events").
			WithArgs("e2", "s1", "install_clear", int64(-3), int64(-2), at).
			WillReturnResult(sqlmock.NewResult(1, 1))

		err := store.InsertEvent(ctx, model.StatEvent{
			ID: "e2", SkillID: "s1", Kind: model.KindInstallClear,
			Delta: &model.InstallDelta{AllTime: -3, Current: -2}, OccurredAt: at,
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique violation maps to ErrDuplicate", func(t *testing.T) {
		store, mock := newMockPostgres(t)
		mock.ExpectExec("INSERT INTO skill_stat_events").
			WillReturnError(&pq.Error{Code: "23505"})

		err := store.InsertEvent(ctx, model.StatEvent{ID: "e1", SkillID: "s1", Kind: model.KindDownload, OccurredAt: at})
		assert.ErrorIs(t, err, ErrDuplicate)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_UnprocessedEvents(t *testing.T) {
	ctx := context.Background()
	at := time.Unix(1_700_000_000, 0).UTC()
	store, mock := newMockPostgres(t)

	rows := sqlmock.NewRows([]string{"id", "skill_id", "kind", "delta_all_time", "delta_current", "occurred_at"}).
		AddRow("e1", "s1", "download", nil, nil, at).
		AddRow("e2", "s1", "install_clear", int64(-1), int64(-1), at)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE processed_at IS NULL")).
		WithArgs(10).
		WillReturnRows(rows)

	events, err := store.UnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.KindDownload, events[0].Kind)
	assert.Nil(t, events[0].Delta)
	require.NotNil(t, events[1].Delta)
	assert.Equal(t, int64(-1), events[1].Delta.AllTime)
	assert.NoError(t, mock.ExpectationsWereMet())

	_, err = store.UnprocessedEvents(ctx, 0)
	assert.ErrorIs(t, err, ErrInvalidLimit)
}

func TestPostgresStore_GetSkill(t *testing.T) {
	ctx := context.Background()
	store, mock := newMockPostgres(t)
	at := time.Unix(1_700_000_000, 0).UTC()

	mock.ExpectQuery("SELECT id, slug, downloads").
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "slug", "downloads", "stars", "installs_current", "installs_all_time", "updated_at"}).
			AddRow("s1", "alpha", 4, 2, 1, 3, at))
	sk, err := store.GetSkill(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "alpha", sk.Slug)
	assert.Equal(t, model.Counters{Downloads: 4, Stars: 2, InstallsCurrent: 1, InstallsAllTime: 3}, sk.Counters)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetSkillNotFound(t *testing.T) {
	store, mock := newMockPostgres(t)
	mock.ExpectQuery("SELECT id, slug, downloads").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id", "slug", "downloads", "stars", "installs_current", "installs_all_time", "updated_at"}))

	_, err := store.GetSkill(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateSkillGroup(t *testing.T) {
	ctx := context.Background()
	at := time.Unix(1_700_000_000, 0).UTC()

	t.Run("commits on success", func(t *testing.T) {
		store, mock := newMockPostgres(t)
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
			WithArgs("s1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "slug", "downloads", "stars", "installs_current", "installs_all_time", "updated_at"}).
				AddRow("s1", "", 1, 0, 0, 0, at))
		mock.ExpectExec("UPDATE skills").
			WithArgs("s1", int64(2), int64(0), int64(0), int64(0), at).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO skill_daily_stats").
			WithArgs("s1", int64(19675), int64(1), int64(0), at).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE skill_stat_events SET processed_at").
			WithArgs(at, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := store.UpdateSkillGroup(ctx, "s1", func(ctx context.Context, tx GroupTx) error {
			sk, ok, err := tx.Skill(ctx)
			if err != nil || !ok {
				return errors.New("skill not loaded")
			}
			c := sk.Counters
			c.Downloads++
			if err := tx.SetCounters(ctx, c, at); err != nil {
				return err
			}
			if err := tx.UpsertDaily(ctx, 19675, 1, 0, at); err != nil {
				return err
			}
			return tx.MarkProcessed(ctx, []string{"e1"}, at)
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing skill reports not ok", func(t *testing.T) {
		store, mock := newMockPostgres(t)
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
			WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows([]string{"id", "slug", "downloads", "stars", "installs_current", "installs_all_time", "updated_at"}))
		mock.ExpectCommit()

		err := store.UpdateSkillGroup(ctx, "ghost", func(ctx context.Context, tx GroupTx) error {
			_, ok, err := tx.Skill(ctx)
			require.NoError(t, err)
			assert.False(t, ok)
			return nil
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on callback error", func(t *testing.T) {
		store, mock := newMockPostgres(t)
		boom := errors.New("boom")
		mock.ExpectBegin()
		mock.ExpectRollback()

		err := store.UpdateSkillGroup(ctx, "s1", func(context.Context, GroupTx) error { return boom })
		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_Snapshots(t *testing.T) {
	ctx := context.Background()
	at := time.Unix(1_700_000_000, 0).UTC()
	store, mock := newMockPostgres(t)

	mock.ExpectExec("INSERT INTO skill_leaderboards").
		WithArgs("snap-1", "trending", at, int64(1), int64(7), []byte(`[{"skill_id":"a","score":3,"installs":3,"downloads":1}]`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("FROM skill_leaderboards").
		WithArgs("trending", 5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "kind", "generated_at", "range_start_day", "range_end_day", "items"}).
			AddRow("snap-1", "trending", at, 1, 7, []byte(`[{"skill_id":"a","score":3,"installs":3,"downloads":1}]`)))
	mock.ExpectExec("DELETE FROM skill_leaderboards").
		WithArgs("snap-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	snap := model.Snapshot{
		ID: "snap-1", Kind: model.KindTrending, GeneratedAt: at, RangeStartDay: 1, RangeEndDay: 7,
		Items: []model.LeaderboardEntry{{SkillID: "a", Score: 3, Installs: 3, Downloads: 1}},
	}
	require.NoError(t, store.InsertSnapshot(ctx, snap))

	snaps, err := store.RecentSnapshots(ctx, model.KindTrending, 5)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, snap.Items, snaps[0].Items)
	assert.Equal(t, model.KindTrending, snaps[0].Kind)

	require.NoError(t, store.DeleteSnapshot(ctx, "snap-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PurgeSkill(t *testing.T) {
	store, mock := newMockPostgres(t)

	// The skill row is deleted before its buckets so the purge queues behind
	// a running group's FOR UPDATE lock.
	mock.MatchExpectationsInOrder(true)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM skills WHERE id").WithArgs("s1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM skill_stat_events").WithArgs("s1").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("DELETE FROM skill_daily_stats").WithArgs("s1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("UPDATE skill_leaderboards").WithArgs("s1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.PurgeSkill(context.Background(), "s1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PurgeSkillRollsBack(t *testing.T) {
	store, mock := newMockPostgres(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM skills WHERE id").WithArgs("s1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM skill_stat_events").WithArgs("s1").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	assert.Error(t, store.PurgeSkill(context.Background(), "s1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
