package authz

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisGlobalVersionKey  = "authz:version"
	redisSubjectVersionKey = "authz:version:subject:"
)

// RedisCache memoises snapshots in Redis with version-stamped keys.
// Invalidation bumps a version counter instead of scanning for keys to
// delete: entries written under the old version become unreachable and die
// when their TTL lapses. InvalidateSubject bumps the per-subject counter,
// InvalidateAll the global one.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache instantiates the cache helper.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) buildKey(ctx context.Context, key CacheKey) (string, error) {
	pipe := c.client.Pipeline()
	globalVer := pipe.Get(ctx, redisGlobalVersionKey)
	subjectVer := pipe.Get(ctx, redisSubjectVersionKey+strconv.FormatInt(key.SubjectID, 10))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return "", err
	}
	gv, err := versionOrZero(globalVer)
	if err != nil {
		return "", err
	}
	sv, err := versionOrZero(subjectVer)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:v%d:s%d", key.String(), gv, sv), nil
}

func versionOrZero(cmd *redis.StringCmd) (int64, error) {
	ver, err := cmd.Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// Get returns the snapshot for the key, or (nil, nil) on a miss.
func (c *RedisCache) Get(ctx context.Context, key CacheKey) (*Snapshot, error) {
	if c == nil || c.client == nil {
		return nil, nil
	}
	full, err := c.buildKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("authz: cache key: %w", err)
	}
	payload, err := c.client.Get(ctx, full).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("authz: cache get: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("authz: cache decode: %w", err)
	}
	return &snap, nil
}

// Set stores the snapshot under the current versions with the cache TTL.
func (c *RedisCache) Set(ctx context.Context, key CacheKey, snap Snapshot) error {
	if c == nil || c.client == nil {
		return nil
	}
	full, err := c.buildKey(ctx, key)
	if err != nil {
		return fmt.Errorf("authz: cache key: %w", err)
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, full, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("authz: cache set: %w", err)
	}
	return nil
}

// InvalidateSubject bumps the subject's version counter.
func (c *RedisCache) InvalidateSubject(ctx context.Context, subjectID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	key := redisSubjectVersionKey + strconv.FormatInt(subjectID, 10)
	if err := c.client.Incr(ctx, key).Err(); err != nil {
		return fmt.Errorf("authz: invalidate subject %d: %w", subjectID, err)
	}
	return nil
}

// InvalidateAll bumps the global version counter.
func (c *RedisCache) InvalidateAll(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	if err := c.client.Incr(ctx, redisGlobalVersionKey).Err(); err != nil {
		return fmt.Errorf("authz: invalidate all: %w", err)
	}
	return nil
}
