package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/shopee-scraper/internal/models"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "shopee:product:"

var ErrMiss = errors.New("cache miss")

// RedisClient interface for Redis operations (for testing)
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// ProductCache keeps recently scraped products in Redis, keyed by the
// requested URL.
type ProductCache struct {
	redis  RedisClient
	ttl    time.Duration
	logger *slog.Logger
}

func NewProductCache(client RedisClient, ttl time.Duration, logger *slog.Logger) *ProductCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProductCache{
		redis:  client,
		ttl:    ttl,
		logger: logger.With("component", "cache"),
	}
}

func Key(url string) string {
	return keyPrefix + url
}

// Get returns ErrMiss when nothing is stored for url.
func (c *ProductCache) Get(ctx context.Context, url string) (*models.Product, error) {
	raw, err := c.redis.Get(ctx, Key(url)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache: %w", err)
	}

	var product models.Product
	if err := json.Unmarshal(raw, &product); err != nil {
		return nil, fmt.Errorf("failed to decode cached product: %w", err)
	}
	if !product.Complete() {
		c.logger.Debug("ignoring incomplete cached product", "url", url)
		return nil, ErrMiss
	}
	return &product, nil
}

func (c *ProductCache) Set(ctx context.Context, url string, product *models.Product) error {
	data, err := json.Marshal(product)
	if err != nil {
		return fmt.Errorf("failed to encode product: %w", err)
	}
	if err := c.redis.Set(ctx, Key(url), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	return nil
}
