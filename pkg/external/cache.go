package external

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/variant-curation-server/internal/domain"
)

// CacheClient wraps Redis with caching for external reference lookups
type CacheClient struct {
	redis      *redis.Client
	defaultTTL time.Duration
}

// NewCacheClient creates a new cache client
func NewCacheClient(config domain.CacheConfig) (*CacheClient, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = config.PoolSize
	opts.PoolTimeout = config.PoolTimeout
	opts.MaxRetries = config.MaxRetries

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &CacheClient{
		redis:      client,
		defaultTTL: config.DefaultTTL,
	}, nil
}

// cachedSeries is the stored envelope for a phenotypic series lookup.
// Empty series values are cached too: most OMIM entries have none.
type cachedSeries struct {
	Series    string    `json:"series"`
	CachedAt  time.Time `json:"cached_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// GetPhenotypicSeries retrieves a cached phenotypic series lookup.
func (c *CacheClient) GetPhenotypicSeries(ctx context.Context, omimNumber string) (string, bool, error) {
	key := "omim:series:" + omimNumber

	val, err := c.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil // Cache miss
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get series cache: %w", err)
	}

	var cached cachedSeries
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		// Remove corrupted cache entry
		c.redis.Del(ctx, key)
		return "", false, nil
	}

	if time.Now().After(cached.ExpiresAt) {
		c.redis.Del(ctx, key)
		return "", false, nil
	}

	return cached.Series, true, nil
}

// SetPhenotypicSeries caches a phenotypic series lookup.
func (c *CacheClient) SetPhenotypicSeries(ctx context.Context, omimNumber, series string, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.defaultTTL
	}

	key := "omim:series:" + omimNumber
	cached := cachedSeries{
		Series:    series,
		CachedAt:  time.Now(),
		ExpiresAt: time.Now().Add(ttl),
	}

	jsonData, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("failed to marshal series cache data: %w", err)
	}

	return c.redis.Set(ctx, key, jsonData, ttl).Err()
}

// Close closes the underlying Redis connection.
func (c *CacheClient) Close() error {
	return c.redis.Close()
}
