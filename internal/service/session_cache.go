package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nimbusedu/school-api/internal/models"
)

const activeSessionKey = "sessions:active"

// activeSessionCache caches the resolved active session between writes.
type activeSessionCache interface {
	GetActive(ctx context.Context) (*models.SessionDetail, bool)
	SetActive(ctx context.Context, detail *models.SessionDetail)
	Invalidate(ctx context.Context)
}

// RedisSessionCache stores the active session snapshot in Redis with a TTL.
// Cache failures degrade to a database read, never to an error.
type RedisSessionCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisSessionCache constructs the cache.
func NewRedisSessionCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisSessionCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisSessionCache{client: client, ttl: ttl, logger: logger}
}

// GetActive returns the cached active session, if present.
func (c *RedisSessionCache) GetActive(ctx context.Context) (*models.SessionDetail, bool) {
	raw, err := c.client.Get(ctx, activeSessionKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Sugar().Warnw("active session cache read failed", "error", err)
		}
		return nil, false
	}
	var detail models.SessionDetail
	if err := json.Unmarshal(raw, &detail); err != nil {
		c.logger.Sugar().Warnw("active session cache corrupt", "error", err)
		_ = c.client.Del(ctx, activeSessionKey).Err()
		return nil, false
	}
	return &detail, true
}

// SetActive stores the active session snapshot.
func (c *RedisSessionCache) SetActive(ctx context.Context, detail *models.SessionDetail) {
	raw, err := json.Marshal(detail)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, activeSessionKey, raw, c.ttl).Err(); err != nil {
		c.logger.Sugar().Warnw("active session cache write failed", "error", err)
	}
}

// Invalidate drops the cached snapshot. Called after every session write.
func (c *RedisSessionCache) Invalidate(ctx context.Context) {
	if err := c.client.Del(ctx, activeSessionKey).Err(); err != nil {
		c.logger.Sugar().Warnw("active session cache invalidate failed", "error", err)
	}
}
