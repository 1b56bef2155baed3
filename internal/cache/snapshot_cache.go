// Package cache provides the Redis-backed latest-snapshot cache that
// lets the REST surface answer "what is the book doing right now"
// without touching the session buffer.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/quantfold/lobstream/internal/models"
)

// Stats tracks cache performance counters.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Sets   int64 `json:"sets"`
}

// SnapshotCache stores the most recent enriched snapshot per session in
// Redis with a short TTL. A nil Redis client disables the cache: every
// call becomes a no-op miss.
type SnapshotCache struct {
	redis  *redis.Client
	ttl    time.Duration
	prefix string

	mu    sync.Mutex
	stats Stats
}

// NewSnapshotCache creates a cache with the given TTL. redisClient may
// be nil.
func NewSnapshotCache(redisClient *redis.Client, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{
		redis:  redisClient,
		ttl:    ttl,
		prefix: "lobstream:latest:",
	}
}

// SetLatest stores the snapshot under the session's key.
func (c *SnapshotCache) SetLatest(ctx context.Context, sessionID string, snap models.EnrichedSnapshot) error {
	if c.redis == nil {
		return nil
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to serialize snapshot: %w", err)
	}
	if err := c.redis.Set(ctx, c.prefix+sessionID, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache snapshot: %w", err)
	}

	c.mu.Lock()
	c.stats.Sets++
	c.mu.Unlock()
	return nil
}

// GetLatest fetches the cached snapshot for a session. The second
// return value is false on a miss or any Redis error.
func (c *SnapshotCache) GetLatest(ctx context.Context, sessionID string) (models.EnrichedSnapshot, bool) {
	if c.redis == nil {
		return models.EnrichedSnapshot{}, false
	}

	data, err := c.redis.Get(ctx, c.prefix+sessionID).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logrus.WithError(err).WithField("session", sessionID).Warn("Redis error fetching latest snapshot")
		}
		c.miss()
		return models.EnrichedSnapshot{}, false
	}

	var snap models.EnrichedSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		logrus.WithError(err).WithField("session", sessionID).Warn("Failed to deserialize cached snapshot")
		c.miss()
		return models.EnrichedSnapshot{}, false
	}

	c.mu.Lock()
	c.stats.Hits++
	c.mu.Unlock()
	return snap, true
}

// Delete removes a session's cached snapshot, typically on session
// close.
func (c *SnapshotCache) Delete(ctx context.Context, sessionID string) error {
	if c.redis == nil {
		return nil
	}
	if err := c.redis.Del(ctx, c.prefix+sessionID).Err(); err != nil {
		return fmt.Errorf("failed to delete cached snapshot: %w", err)
	}
	return nil
}

// GetStats returns a copy of the current counters.
func (c *SnapshotCache) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *SnapshotCache) miss() {
	c.mu.Lock()
	c.stats.Misses++
	c.mu.Unlock()
}
