package redisstate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/mohsinalimat/watchparty/internal/repository"
)

const (
	// ExpiringSnapshotTTL is how long an anonymous room survives without a save.
	ExpiringSnapshotTTL = 24 * time.Hour
	// SubtitleTTL is the fixed lifetime of an uploaded subtitle blob.
	SubtitleTTL = 3 * time.Hour
	// sessionHistoryLen caps the vBrowserSessionMS list.
	sessionHistoryLen = 50
)

// RedisStateRepository is the redis implementation of repository.StateRepository.
type RedisStateRepository struct {
	client redis.Cmdable
	// keyPrefix namespaces every key; empty keeps the bare key layout shared with other deployments.
	keyPrefix string
}

// NewRedisStateRepository creates a RedisStateRepository.
func NewRedisStateRepository(client redis.Cmdable, keyPrefix string) *RedisStateRepository {
	if client == nil {
		panic("redis client cannot be nil for RedisStateRepository")
	}
	return &RedisStateRepository{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// --- Key Generation Helpers ---

func (r *RedisStateRepository) snapshotKey(roomID string) string {
	return r.keyPrefix + roomID
}

func (r *RedisStateRepository) subtitleKey(hash string) string {
	return r.keyPrefix + "subtitle:" + hash
}

func (r *RedisStateRepository) key(name string) string {
	return r.keyPrefix + name
}

// --- Snapshots ---

// LoadSnapshot returns the raw snapshot blob of a room.
func (r *RedisStateRepository) LoadSnapshot(ctx context.Context, roomID string) ([]byte, error) {
	key := r.snapshotKey(roomID)
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("redis: failed to load snapshot for room %s from %s: %w", roomID, key, err)
	}
	return data, nil
}

// SaveSnapshot writes the snapshot blob honouring mode's expiry policy.
func (r *RedisStateRepository) SaveSnapshot(ctx context.Context, roomID string, data []byte, mode repository.SaveMode) error {
	key := r.snapshotKey(roomID)
	var err error
	switch mode {
	case repository.SaveRefresh:
		err = r.client.Set(ctx, key, data, redis.KeepTTL).Err()
	case repository.SaveDurable:
		pipe := r.client.TxPipeline()
		pipe.Set(ctx, key, data, 0)
		pipe.Persist(ctx, key)
		_, err = pipe.Exec(ctx)
	case repository.SaveExpiring:
		err = r.client.Set(ctx, key, data, ExpiringSnapshotTTL).Err()
	default:
		return fmt.Errorf("redis: unknown save mode %d for room %s", mode, roomID)
	}
	if err != nil {
		return fmt.Errorf("redis: failed to save snapshot (%s) for room %s on key %s: %w", mode, roomID, key, err)
	}
	return nil
}

// --- Subtitles ---

// SaveSubtitle stores blob under subtitle:<hash> for SubtitleTTL.
func (r *RedisStateRepository) SaveSubtitle(ctx context.Context, hash string, blob []byte) error {
	key := r.subtitleKey(hash)
	if err := r.client.SetEX(ctx, key, blob, SubtitleTTL).Err(); err != nil {
		return fmt.Errorf("redis: failed to save subtitle on key %s: %w", key, err)
	}
	return nil
}

// LoadSubtitle fetches the compressed subtitle blob.
func (r *RedisStateRepository) LoadSubtitle(ctx context.Context, hash string) ([]byte, error) {
	key := r.subtitleKey(hash)
	blob, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrSubtitleNotFound
		}
		return nil, fmt.Errorf("redis: failed to load subtitle from %s: %w", key, err)
	}
	return blob, nil
}

// --- Usage accounting ---

// IncrDailyUsage runs ZINCRBY and EXPIREAT in one round trip.
func (r *RedisStateRepository) IncrDailyUsage(ctx context.Context, name, member string, expireAt time.Time) (float64, error) {
	key := r.key(name)
	pipe := r.client.TxPipeline()
	incr := pipe.ZIncrBy(ctx, key, 1, member)
	pipe.ExpireAt(ctx, key, expireAt)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis: failed to increment daily usage on key %s: %w", key, err)
	}
	return incr.Val(), nil
}

// PushSessionDuration prepends the duration in ms and trims the list to the newest entries.
func (r *RedisStateRepository) PushSessionDuration(ctx context.Context, d time.Duration) error {
	key := r.key(repository.ListVBrowserSessionMS)
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, key, strconv.FormatInt(d.Milliseconds(), 10))
	pipe.LTrim(ctx, key, 0, sessionHistoryLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: failed to push session duration on key %s: %w", key, err)
	}
	return nil
}

// Count increments a plain counter.
func (r *RedisStateRepository) Count(ctx context.Context, name string) error {
	key := r.key(name)
	if err := r.client.Incr(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis: failed to increment counter %s: %w", key, err)
	}
	return nil
}

// CountDistinct adds member to a HyperLogLog.
func (r *RedisStateRepository) CountDistinct(ctx context.Context, name, member string) error {
	key := r.key(name)
	if err := r.client.PFAdd(ctx, key, member).Err(); err != nil {
		return fmt.Errorf("redis: failed to add to distinct counter %s: %w", key, err)
	}
	return nil
}

// --- Rate limiting ---

// CheckRateLimit increments key and refreshes its expiry. It returns true once the limit is exceeded.
func (r *RedisStateRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	key = r.key(key)
	pipe := r.client.Pipeline()
	incrCmd := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis: pipeline failed for rate limit check on key %s: %w", key, err)
	}
	count, err := incrCmd.Result()
	if err != nil {
		return false, fmt.Errorf("redis: failed to get incr result for rate limit on key %s: %w", key, err)
	}
	return count > int64(limit), nil
}
