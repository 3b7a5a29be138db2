package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wuhu/studio/internal/utils/metrics"
)

const cacheName = "download"

// Blob is a downloaded body with its media type.
type Blob struct {
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

// BlobCache stores downloaded bodies by source URL. Get returns nil, nil on a miss.
type BlobCache interface {
	Get(ctx context.Context, url string) (*Blob, error)
	Set(ctx context.Context, url string, blob *Blob) error
}

// RedisCacheConfig contains cache configuration.
type RedisCacheConfig struct {
	Prefix string
	TTL    time.Duration
}

// DefaultRedisCacheConfig returns the default cache configuration.
func DefaultRedisCacheConfig() *RedisCacheConfig {
	return &RedisCacheConfig{
		Prefix: "wuhu:dl:",
		TTL:    30 * time.Minute,
	}
}

// RedisCache is a BlobCache backed by Redis.
type RedisCache struct {
	client  redis.Cmdable
	prefix  string
	ttl     time.Duration
	metrics *metrics.Metrics
}

// NewRedisCache creates a Redis-backed download cache.
func NewRedisCache(client redis.Cmdable, config *RedisCacheConfig, m *metrics.Metrics) *RedisCache {
	def := DefaultRedisCacheConfig()
	if config == nil {
		config = def
	}
	merged := *config
	config = &merged
	if config.Prefix == "" {
		config.Prefix = def.Prefix
	}
	if config.TTL <= 0 {
		config.TTL = def.TTL
	}

	return &RedisCache{
		client:  client,
		prefix:  config.Prefix,
		ttl:     config.TTL,
		metrics: m,
	}
}

// Get retrieves a cached body.
func (c *RedisCache) Get(ctx context.Context, url string) (*Blob, error) {
	data, err := c.client.Get(ctx, c.makeKey(url)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			c.metrics.RecordCacheMiss(cacheName)
			return nil, nil
		}
		return nil, fmt.Errorf("get from cache: %w", err)
	}

	var blob Blob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, fmt.Errorf("unmarshal cached blob: %w", err)
	}

	c.metrics.RecordCacheHit(cacheName)
	return &blob, nil
}

// Set stores a body for the configured TTL.
func (c *RedisCache) Set(ctx context.Context, url string, blob *Blob) error {
	data, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("marshal blob: %w", err)
	}

	if err := c.client.Set(ctx, c.makeKey(url), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set in cache: %w", err)
	}
	return nil
}

func (c *RedisCache) makeKey(url string) string {
	hash := sha256.Sum256([]byte(url))
	return c.prefix + hex.EncodeToString(hash[:])
}
