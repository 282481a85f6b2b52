package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/okian/skillstats/pkg/logger"
)

const (
	defaultTTL       = 10 * time.Minute
	defaultKeyPrefix = "skillstats:lock:"
	releaseTimeout   = 5 * time.Second
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker is a Locker shared by every replica pointing at the same redis.
// Keys expire after the TTL so a crashed holder cannot block forever.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger logger.Logger
}

// RedisOption configures a RedisLocker.
type RedisOption func(*RedisLocker)

// WithTTL sets how long a lock survives without release.
func WithTTL(ttl time.Duration) RedisOption {
	return func(l *RedisLocker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithKeyPrefix namespaces lock keys.
func WithKeyPrefix(prefix string) RedisOption {
	return func(l *RedisLocker) {
		if prefix != "" {
			l.prefix = prefix
		}
	}
}

// WithLogger sets the logger used for release failures.
func WithLogger(lg logger.Logger) RedisOption {
	return func(l *RedisLocker) {
		if lg != nil {
			l.logger = lg
		}
	}
}

// NewRedisClient parses url, connects and pings.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// NewRedisLocker creates a locker on client.
func NewRedisLocker(client *redis.Client, opts ...RedisOption) *RedisLocker {
	l := &RedisLocker{
		client: client,
		ttl:    defaultTTL,
		prefix: defaultKeyPrefix,
		logger: logger.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// TryLock sets the key with NX and a random token.
func (l *RedisLocker) TryLock(ctx context.Context, key string) (func(), error) {
	redisKey := l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis setnx %s: %w", redisKey, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			rctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			if err := releaseScript.Run(rctx, l.client, []string{redisKey}, token).Err(); err != nil {
				l.logger.Warn(rctx, "lock release failed",
					logger.String("key", redisKey),
					logger.Error(err))
			}
		})
	}, nil
}
