package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"canvas-server/shared/interfaces"
	"canvas-server/shared/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Compile-time check to ensure redisJobCache implements JobCache
var _ interfaces.JobCache = (*redisJobCache)(nil)

type redisJobCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisJobCache creates a new Redis-backed JobCache.
// Кэш стоит перед Postgres на чтении статуса задачи и инвалидируется при
// каждом терминальном переходе; промах кэша не является ошибкой.
func NewRedisJobCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) interfaces.JobCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &redisJobCache{
		client: client,
		ttl:    ttl,
		logger: logger.Named("RedisJobCache"),
	}
}

func jobCacheKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job_status:%s", jobID.String())
}

// Get возвращает закэшированную запись задачи или models.ErrNotFound при промахе.
func (c *redisJobCache) Get(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	raw, err := c.client.Get(ctx, jobCacheKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, models.ErrNotFound
		}
		c.logger.Warn("Failed to read job from cache", zap.String("job_id", jobID.String()), zap.Error(err))
		return nil, fmt.Errorf("error reading job cache: %w", err)
	}

	var job models.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		// Битую запись просто выбрасываем.
		c.logger.Warn("Corrupt job cache entry, dropping", zap.String("job_id", jobID.String()), zap.Error(err))
		_ = c.client.Del(ctx, jobCacheKey(jobID)).Err()
		return nil, models.ErrNotFound
	}
	return &job, nil
}

// Set записывает задачу в кэш с ограниченным TTL.
func (c *redisJobCache) Set(ctx context.Context, job *models.Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("error marshaling job for cache: %w", err)
	}
	if err := c.client.Set(ctx, jobCacheKey(job.ID), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("Failed to set job cache entry", zap.String("job_id", job.ID.String()), zap.Error(err))
		return fmt.Errorf("error writing job cache: %w", err)
	}
	return nil
}

// Invalidate удаляет запись задачи из кэша.
func (c *redisJobCache) Invalidate(ctx context.Context, jobID uuid.UUID) error {
	if err := c.client.Del(ctx, jobCacheKey(jobID)).Err(); err != nil {
		c.logger.Warn("Failed to invalidate job cache entry", zap.String("job_id", jobID.String()), zap.Error(err))
		return fmt.Errorf("error invalidating job cache: %w", err)
	}
	return nil
}
