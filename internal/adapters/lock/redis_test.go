package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisLocker(t *testing.T, opts ...RedisOption) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := NewRedisClient(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisLocker(client, opts...), mr
}

func TestRedisLocker_TryLock(t *testing.T) {
	l, mr := setupRedisLocker(t, WithKeyPrefix("test:"), WithTTL(time.Minute))
	ctx := context.Background()

	release, err := l.TryLock(ctx, "process")
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:process"))
	assert.Equal(t, time.Minute, mr.TTL("test:process"))

	_, err = l.TryLock(ctx, "process")
	assert.ErrorIs(t, err, ErrLockHeld)

	release()
	assert.False(t, mr.Exists("test:process"))

	again, err := l.TryLock(ctx, "process")
	require.NoError(t, err)
	again()
}

func TestRedisLocker_ExpiredHolderDoesNotReleaseNewOwner(t *testing.T) {
	l, mr := setupRedisLocker(t, WithTTL(time.Second))
	ctx := context.Background()

	stale, err := l.TryLock(ctx, "publish")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	fresh, err := l.TryLock(ctx, "publish")
	require.NoError(t, err)

	stale()
	assert.True(t, mr.Exists(defaultKeyPrefix+"publish"), "stale release must not delete the new owner's key")

	fresh()
	assert.False(t, mr.Exists(defaultKeyPrefix+"publish"))
}

func TestNewRedisClient_InvalidURL(t *testing.T) {
	_, err := NewRedisClient(context.Background(), "not-a-url://")
	assert.Error(t, err)
}
