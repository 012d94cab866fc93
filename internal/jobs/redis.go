package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisStore keeps jobs in Redis with a TTL
type RedisStore struct {
	client    redis.UniversalClient
	ttl       time.Duration
	keyPrefix string
	logger    *zap.Logger
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(config *Config, logger *zap.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	store := NewRedisStoreWithClient(redis.NewClient(opts), config, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := store.client.Ping(ctx).Err(); err != nil {
		store.client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Job store initialized",
		zap.String("backend", "redis"),
		zap.String("redis_url", maskRedisURL(config.RedisURL)),
		zap.Duration("ttl", config.TTL))

	return store, nil
}

// NewRedisStoreWithClient wraps an existing client
func NewRedisStoreWithClient(client redis.UniversalClient, config *Config, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		client:    client,
		ttl:       config.TTL,
		keyPrefix: config.KeyPrefix,
		logger:    logger,
	}
}

// Save stores a job as JSON
func (r *RedisStore) Save(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if err := r.client.Set(ctx, r.key(job.ID), data, r.ttl).Err(); err != nil {
		r.logger.Error("Failed to store job", zap.String("job_id", job.ID), zap.Error(err))
		return fmt.Errorf("failed to store job: %w", err)
	}

	r.logger.Debug("Job stored", zap.String("job_id", job.ID), zap.Int("bytes", len(data)))
	return nil
}

// Get loads a job by ID
func (r *RedisStore) Get(ctx context.Context, id string) (*Job, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		// drop corrupted entries
		r.client.Del(ctx, r.key(id))
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", id, err)
	}
	return &job, nil
}

// Close closes the Redis connection
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) key(id string) string {
	return r.keyPrefix + id
}

// maskRedisURL hides the password part of a Redis URL for logging
func maskRedisURL(url string) string {
	at := strings.LastIndex(url, "@")
	scheme := strings.Index(url, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return url
	}
	return url[:scheme+3] + "***" + url[at:]
}

// Open builds the store selected by config.Backend
func Open(config *Config, logger *zap.Logger) (Store, error) {
	switch config.Backend {
	case "", "memory":
		return NewMemoryStore(config.MaxJobs, config.TTL), nil
	case "redis":
		return NewRedisStore(config, logger)
	default:
		return nil, fmt.Errorf("unknown job store backend: %s", config.Backend)
	}
}
