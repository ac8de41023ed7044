package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/therealutkarshpriyadarshi/mediagrab/internal/config"
	"github.com/therealutkarshpriyadarshi/mediagrab/pkg/models"
)

// Cache mirrors job and progress state into Redis so read-only replicas and
// external dashboards can serve status without hitting the orchestrator.
// The in-memory registry stays the source of truth.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache connects to Redis and verifies the connection
func NewCache(cfg config.CacheConfig) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{client: client, ttl: cfg.TTL}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// MirrorJob writes the job snapshot under job:<id>
func (c *Cache) MirrorJob(ctx context.Context, job models.DownloadJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	return c.client.Set(ctx, jobKey(job.ID), data, c.ttl).Err()
}

// GetJob reads a mirrored job. A cache miss returns (nil, nil).
func (c *Cache) GetJob(ctx context.Context, jobID string) (*models.DownloadJob, error) {
	data, err := c.client.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job from cache: %w", err)
	}

	var job models.DownloadJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// DeleteJob removes a mirrored job and its progress
func (c *Cache) DeleteJob(ctx context.Context, jobID string) error {
	return c.client.Del(ctx, jobKey(jobID), progressKey(jobID)).Err()
}

// MirrorProgress writes the latest progress snapshot under job:progress:<id>
func (c *Cache) MirrorProgress(ctx context.Context, state models.ProgressState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}
	return c.client.Set(ctx, progressKey(state.JobID), data, c.ttl).Err()
}

// GetProgress reads the mirrored progress snapshot. A cache miss returns
// (nil, nil).
func (c *Cache) GetProgress(ctx context.Context, jobID string) (*models.ProgressState, error) {
	data, err := c.client.Get(ctx, progressKey(jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get progress from cache: %w", err)
	}

	var state models.ProgressState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal progress: %w", err)
	}
	return &state, nil
}

func jobKey(jobID string) string {
	return fmt.Sprintf("job:%s", jobID)
}

func progressKey(jobID string) string {
	return fmt.Sprintf("job:progress:%s", jobID)
}
