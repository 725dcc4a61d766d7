package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/therealutkarshpriyadarshi/clipexport/internal/config"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/metrics"
	"github.com/therealutkarshpriyadarshi/clipexport/pkg/models"
)

const defaultTTL = time.Hour

// Cache keeps the latest progress event and job snapshot of every export in
// Redis so status reads do not go through the queue
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache creates a new cache instance
func NewCache(cfg config.RedisConfig) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	ttl := cfg.ProgressTTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cache{client: client, ttl: ttl}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping checks the connection
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func progressKey(id models.JobID) string {
	return fmt.Sprintf("export:progress:%s", id)
}

func jobKey(id models.JobID) string {
	return fmt.Sprintf("export:job:%s", id)
}

// SetProgress stores the latest progress event of a job
func (c *Cache) SetProgress(ctx context.Context, ev models.ProgressEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}
	return c.client.Set(ctx, progressKey(ev.JobID), data, c.ttl).Err()
}

// GetProgress returns the latest progress event, or nil on a cache miss
func (c *Cache) GetProgress(ctx context.Context, id models.JobID) (*models.ProgressEvent, error) {
	var ev models.ProgressEvent
	ok, err := c.get(ctx, progressKey(id), &ev)
	metrics.RecordCacheAccess("progress", ok)
	if err != nil || !ok {
		return nil, err
	}
	return &ev, nil
}

// SetJob stores a job snapshot
func (c *Cache) SetJob(ctx context.Context, job *models.ExportJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	return c.client.Set(ctx, jobKey(job.ID), data, c.ttl).Err()
}

// GetJob returns a job snapshot, or nil on a cache miss
func (c *Cache) GetJob(ctx context.Context, id models.JobID) (*models.ExportJob, error) {
	var job models.ExportJob
	ok, err := c.get(ctx, jobKey(id), &job)
	metrics.RecordCacheAccess("job", ok)
	if err != nil || !ok {
		return nil, err
	}
	return &job, nil
}

// DeleteJob removes everything cached for a job
func (c *Cache) DeleteJob(ctx context.Context, id models.JobID) error {
	return c.client.Del(ctx, progressKey(id), jobKey(id)).Err()
}

func (c *Cache) get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get %s from cache: %w", key, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}
