package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/jrsteele09/go-backoffice/internal/errors"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix    = "backoffice:credentials:"
	refreshLockSuffix = ":refresh-lock"
	refreshLockPoll   = 50 * time.Millisecond
)

var (
	_ Backend       = (*RedisBackend)(nil)
	_ RefreshLocker = (*RedisBackend)(nil)
)

// releaseLock deletes the lock only if it still holds our token.
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisBackend keeps one hash per profile so several processes can share a
// session. Refreshes are serialised across those processes with a SET NX
// lock, see LockRefresh.
type RedisBackend struct {
	client *redis.Client
	key    string
}

// NewRedisBackend connects to redisURL and checks the connection.
func NewRedisBackend(ctx context.Context, redisURL, profile string) (*RedisBackend, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("[NewRedisBackend] parse url: %w", err)
	}

	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("[NewRedisBackend] ping: %w", err)
	}

	return NewRedisBackendFromClient(client, profile), nil
}

// NewRedisBackendFromClient shares an existing client.
func NewRedisBackendFromClient(client *redis.Client, profile string) *RedisBackend {
	if profile == "" {
		profile = "default"
	}
	return &RedisBackend{
		client: client,
		key:    redisKeyPrefix + profile,
	}
}

func (rb *RedisBackend) Get(ctx context.Context, slot Slot) (string, error) {
	value, err := rb.client.HGet(ctx, rb.key, string(slot)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", apperrors.ErrSlotNotFound
		}
		return "", apperrors.Wrapf(apperrors.ErrStoreOperation, "[RedisBackend.Get] %v", err)
	}
	return value, nil
}

func (rb *RedisBackend) Set(ctx context.Context, slot Slot, value string) error {
	if err := rb.client.HSet(ctx, rb.key, string(slot), value).Err(); err != nil {
		return apperrors.Wrapf(apperrors.ErrStoreOperation, "[RedisBackend.Set] %v", err)
	}
	return nil
}

func (rb *RedisBackend) Delete(ctx context.Context, slots ...Slot) error {
	if len(slots) == 0 {
		return nil
	}
	fields := make([]string, 0, len(slots))
	for _, slot := range slots {
		fields = append(fields, string(slot))
	}
	if err := rb.client.HDel(ctx, rb.key, fields...).Err(); err != nil {
		return apperrors.Wrapf(apperrors.ErrStoreOperation, "[RedisBackend.Delete] %v", err)
	}
	return nil
}

// LockRefresh waits for the profile's refresh lock. The lock is a SET NX key
// with a ttl, released by unlock only while it still holds this caller's token.
func (rb *RedisBackend) LockRefresh(ctx context.Context, ttl time.Duration) (func(), error) {
	key := rb.key + refreshLockSuffix
	owner := uuid.NewString()

	ticker := time.NewTicker(refreshLockPoll)
	defer ticker.Stop()

	for {
		acquired, err := rb.client.SetNX(ctx, key, owner, ttl).Result()
		if err != nil {
			return nil, apperrors.Wrapf(apperrors.ErrStoreOperation, "[RedisBackend.LockRefresh] %v", err)
		}
		if acquired {
			return func() {
				_ = releaseLock.Run(context.WithoutCancel(ctx), rb.client, []string{key}, owner).Err()
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("[RedisBackend.LockRefresh] %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Close closes the Redis connection.
func (rb *RedisBackend) Close() error {
	return rb.client.Close()
}
