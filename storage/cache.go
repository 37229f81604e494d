package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/ommvpatel/Real-Time-Taskboard/domain"
	"github.com/ommvpatel/Real-Time-Taskboard/internal/consts"
)

type cachedSnapshot struct {
	Version  int           `json:"version"`
	CachedAt time.Time     `json:"cachedAt"`
	Tasks    []domain.Task `json:"tasks"`
}

// Cache holds recent board snapshots in Redis so the HTTP snapshot endpoint
// does not hit table storage on every reconnect burst. Mutations invalidate
// the board key; cache failures only cost freshness, never correctness.
type Cache struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewCache(rc *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Cache{redis: rc, ttl: ttl}
}

// Get returns the cached snapshot for the board, or ok=false on miss or any
// Redis failure.
func (c *Cache) Get(ctx context.Context, boardID string) ([]domain.Task, bool) {
	if c == nil || c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, cacheKey(boardID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.WithError(err).WithField("board", boardID).Debug("snapshot cache read failed")
		}
		return nil, false
	}
	var payload cachedSnapshot
	if err := json.Unmarshal(data, &payload); err != nil {
		log.WithError(err).WithField("board", boardID).Warn("dropping corrupt snapshot cache entry")
		return nil, false
	}
	return payload.Tasks, true
}

// Set stores the board snapshot with the configured TTL.
func (c *Cache) Set(ctx context.Context, boardID string, tasks []domain.Task) {
	if c == nil || c.redis == nil {
		return
	}
	payload := cachedSnapshot{Version: 1, CachedAt: time.Now().UTC(), Tasks: tasks}
	data, err := json.Marshal(payload)
	if err != nil {
		log.WithError(err).WithField("board", boardID).Error("failed to marshal snapshot cache payload")
		return
	}
	if err := c.redis.Set(ctx, cacheKey(boardID), data, c.ttl).Err(); err != nil {
		log.WithError(err).WithField("board", boardID).Error("failed to store snapshot cache entry")
	}
}

// Invalidate drops the board's cached snapshot after a mutation.
func (c *Cache) Invalidate(ctx context.Context, boardID string) {
	if c == nil || c.redis == nil {
		return
	}
	if err := c.redis.Del(ctx, cacheKey(boardID)).Err(); err != nil {
		log.WithError(err).WithField("board", boardID).Error("failed to invalidate snapshot cache entry")
	}
}

func cacheKey(boardID string) string {
	return consts.TasksCachePrefix + boardID
}
