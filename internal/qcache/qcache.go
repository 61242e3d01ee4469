package qcache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tradepost/tradepost-messaging/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Popularity thresholds over a rolling 24h counter per normalized query.
const (
	hotHits  = 100 // ≥100 hits/day → long TTL
	warmHits = 10  // ≥10 hits/day → medium TTL
)

// TTLTiers are the three cache lifetimes selected by query popularity.
type TTLTiers struct {
	Short  time.Duration
	Medium time.Duration
	Long   time.Duration
}

// Entry is the stored cache record.
type Entry struct {
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	TTL       time.Duration   `json:"ttl"`
}

// Result reports hit/age for observability headers.
type Result struct {
	Payload []byte
	Hit     bool
	Age     time.Duration
}

// Cache is the Redis-backed query result cache. Invalidation is deliberately
// namespace-coarse: every entry key embeds a namespace version, and a write
// bumps the version, orphaning all entries of that namespace at once. Orphans
// fall out via their TTL, so no SCAN/DEL pass is needed.
type Cache struct {
	redis *redis.Client
	tiers TTLTiers
	group singleflight.Group
	now   func() time.Time
}

func New(redisClient *redis.Client, tiers TTLTiers) *Cache {
	return &Cache{
		redis: redisClient,
		tiers: tiers,
		now:   time.Now,
	}
}

// Fetch returns the cached payload for (namespace, key), or runs fill to
// compute and store it. Concurrent fills of the same key are collapsed to a
// single execution via singleflight.
func (c *Cache) Fetch(ctx context.Context, namespace, key string, fill func() ([]byte, error)) (Result, error) {
	hits, err := c.recordHit(ctx, key)
	if err != nil {
		// Popularity tracking is advisory; degrade to short TTL
		logger.Log.Warn("qcache: popularity counter unavailable", zap.Error(err))
		hits = 0
	}

	ver, err := c.version(ctx, namespace)
	if err != nil {
		// Cache unreachable: serve directly from the source
		payload, fillErr := fill()
		return Result{Payload: payload}, fillErr
	}

	entryKey := c.entryKey(namespace, ver, key)

	if entry, ok := c.load(ctx, entryKey); ok {
		return Result{
			Payload: entry.Payload,
			Hit:     true,
			Age:     c.now().Sub(entry.Timestamp),
		}, nil
	}

	payload, err, _ := c.group.Do(entryKey, func() (any, error) {
		// Re-check: another goroutine may have filled while we waited
		if entry, ok := c.load(ctx, entryKey); ok {
			return []byte(entry.Payload), nil
		}

		data, err := fill()
		if err != nil {
			return nil, err
		}

		ttl := c.ttlFor(hits)
		entry := Entry{Payload: data, Timestamp: c.now(), TTL: ttl}
		raw, err := json.Marshal(entry)
		if err != nil {
			return data, nil
		}
		if err := c.redis.Set(ctx, entryKey, raw, ttl).Err(); err != nil {
			logger.Log.Warn("qcache: failed to store entry", zap.Error(err))
		}
		return data, nil
	})
	if err != nil {
		return Result{}, err
	}

	return Result{Payload: payload.([]byte)}, nil
}

// Invalidate bumps the namespace version, detaching every cached entry of the
// namespace in one atomic operation.
func (c *Cache) Invalidate(ctx context.Context, namespace string) error {
	return c.redis.Incr(ctx, "qcache:ver:"+namespace).Err()
}

func (c *Cache) load(ctx context.Context, entryKey string) (*Entry, bool) {
	raw, err := c.redis.Get(ctx, entryKey).Bytes()
	if err != nil {
		return nil, false
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false
	}
	return &entry, true
}

// recordHit bumps the rolling 24h popularity counter for the query.
func (c *Cache) recordHit(ctx context.Context, key string) (int64, error) {
	popKey := "qcache:pop:" + key
	hits, err := c.redis.Incr(ctx, popKey).Result()
	if err != nil {
		return 0, err
	}
	if hits == 1 {
		if err := c.redis.Expire(ctx, popKey, 24*time.Hour).Err(); err != nil {
			return hits, err
		}
	}
	return hits, nil
}

func (c *Cache) version(ctx context.Context, namespace string) (int64, error) {
	ver, err := c.redis.Get(ctx, "qcache:ver:"+namespace).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return ver, err
}

func (c *Cache) ttlFor(hits int64) time.Duration {
	switch {
	case hits >= hotHits:
		return c.tiers.Long
	case hits >= warmHits:
		return c.tiers.Medium
	default:
		return c.tiers.Short
	}
}

func (c *Cache) entryKey(namespace string, version int64, key string) string {
	return fmt.Sprintf("qcache:%s:%d:%s", namespace, version, key)
}
