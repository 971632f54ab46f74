package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const (
	defaultLeaseTTL = 10 * time.Second
	retryInterval   = 25 * time.Millisecond
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker holds locks as SET NX PX keys so several server instances can
// share one lock space. Each lease carries a random token and is only deleted
// by its owner.
//
// Leases are not renewed. A holder that outlives the lease loses mutual
// exclusion; the repository's order version check still rejects the stale
// write.
type RedisLocker struct {
	client   *redis.Client
	leaseTTL time.Duration
	logger   *slog.Logger
}

func NewRedisLocker(addr string, password string, db int, logger *slog.Logger) *RedisLocker {
	if logger == nil {
		logger = slog.Default()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisLocker{client: client, leaseTTL: defaultLeaseTTL, logger: logger.With("component", "lock")}
}

func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func (l *RedisLocker) Close() error {
	return l.client.Close()
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	token := uuid.NewString()
	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.leaseTTL).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, waitErr(ctx, key)
			}
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			return once(func() { l.release(key, token) }), nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, waitErr(ctx, key)
		}
	}
}

func (l *RedisLocker) release(key string, token string) {
	// The caller's context may already be done when the lock is released.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	deleted, err := releaseScript.Run(ctx, l.client, []string{key}, token).Int()
	if err != nil {
		l.logger.Warn("lock release failed", "key", key, "error", err)
		return
	}
	if deleted == 0 {
		l.logger.Warn("lock lease expired before release", "key", key, "lease", l.leaseTTL)
	}
}
