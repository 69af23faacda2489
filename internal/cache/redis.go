package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/securepaste/securepaste/internal/config"
	"github.com/securepaste/securepaste/internal/engine"
	"github.com/securepaste/securepaste/internal/logger"
	"go.uber.org/zap"
)

// RedisCache handles Redis-based caching for engine results
type RedisCache struct {
	client *redis.Client
	config config.CacheConfig
	logger *logger.Logger

	hits   int64
	misses int64
}

// cachedResult is the stored wire form of an engine result.
type cachedResult struct {
	AnonymizedText string         `json:"anonymized_text"`
	EntitiesFound  map[string]int `json:"entities_found"`
	TotalEntities  int            `json:"total_entities"`
	CachedAt       time.Time      `json:"cached_at"`
}

// NewRedis creates a new Redis-based result cache
func NewRedis(cfg config.CacheConfig, log *logger.Logger) (*RedisCache, error) {
	// Parse Redis URL
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Configure connection pool
	opts.PoolSize = cfg.MaxConnections
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	cache := &RedisCache{
		client: client,
		config: cfg,
		logger: log,
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info("Result cache initialized",
		zap.String("redis_url", maskRedisURL(cfg.RedisURL)),
		zap.Int("max_connections", cfg.MaxConnections),
		zap.Duration("default_ttl", cfg.DefaultTTL),
	)

	return cache, nil
}

// Get looks up a cached result. Any Redis or decode error is a miss.
func (c *RedisCache) Get(ctx context.Context, key string) (*engine.Result, bool) {
	raw, err := c.client.Get(ctx, c.config.KeyPrefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Debug("Cache lookup error", zap.Error(err))
		}
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	var cached cachedResult
	if err := json.Unmarshal(raw, &cached); err != nil {
		c.logger.Debug("Cache entry decode error", zap.Error(err))
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	atomic.AddInt64(&c.hits, 1)
	entities := cached.EntitiesFound
	if entities == nil {
		entities = map[string]int{}
	}
	return &engine.Result{
		AnonymizedText: cached.AnonymizedText,
		EntitiesFound:  entities,
		TotalEntities:  cached.TotalEntities,
	}, true
}

// Set stores a result with the configured TTL. Errors are logged and
// swallowed.
func (c *RedisCache) Set(ctx context.Context, key string, result *engine.Result) {
	raw, err := json.Marshal(cachedResult{
		AnonymizedText: result.AnonymizedText,
		EntitiesFound:  result.EntitiesFound,
		TotalEntities:  result.TotalEntities,
		CachedAt:       time.Now(),
	})
	if err != nil {
		return
	}

	if err := c.client.Set(ctx, c.config.KeyPrefix+key, raw, c.config.DefaultTTL).Err(); err != nil {
		c.logger.Debug("Cache store error", zap.Error(err))
	}
}

// Stats returns hit/miss counters for the dashboard.
func (c *RedisCache) Stats() (hits, misses int64) {
	return atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses)
}

// Close releases the Redis connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// maskRedisURL masks credentials in a Redis URL for logging.
func maskRedisURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) == 2 {
			schemeParts := strings.Split(parts[0], "://")
			if len(schemeParts) == 2 {
				return schemeParts[0] + "://***@" + parts[1]
			}
		}
	}
	return url
}
