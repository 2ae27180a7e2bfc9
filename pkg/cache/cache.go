package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache holds state shared between instances: rate-limit windows, report
// de-duplication and cross-instance counters.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache connects to url (redis://[user:pass@]host:port/db). A non-empty
// password or a db >= 0 override what the URL carries.
func NewCache(url, password string, db int, ttl time.Duration) (*Cache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	if password != "" {
		opts.Password = password
	}
	if db >= 0 {
		opts.DB = db
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{
		client: client,
		ttl:    ttl,
	}, nil
}

// MarkReported returns true the first time key is seen within the cache TTL.
func (c *Cache) MarkReported(ctx context.Context, key string) (bool, error) {
	ok, err := c.client.SetNX(ctx, "reported:"+key, 1, c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("cache setnx error: %w", err)
	}
	return ok, nil
}

// CheckRateLimit counts a request for identifier in a fixed window.
func (c *Cache) CheckRateLimit(ctx context.Context, identifier string, limit int, window time.Duration) (bool, error) {
	key := fmt.Sprintf("rl:%s", identifier)

	pipe := c.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit check error: %w", err)
	}

	return incr.Val() <= int64(limit), nil
}

// IncrementMetric increments a counter shared by every instance and returns
// the new value.
func (c *Cache) IncrementMetric(ctx context.Context, metric string) (int64, error) {
	val, err := c.client.Incr(ctx, "metric:"+metric).Result()
	if err != nil {
		return 0, fmt.Errorf("cache incr error: %w", err)
	}
	return val, nil
}

func (c *Cache) GetMetric(ctx context.Context, metric string) (int64, error) {
	val, err := c.client.Get(ctx, "metric:"+metric).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("cache get error: %w", err)
	}
	return val, nil
}

// GetMetrics reads several counters in one round trip. Missing counters are 0.
func (c *Cache) GetMetrics(ctx context.Context, metrics ...string) (map[string]int64, error) {
	out := make(map[string]int64, len(metrics))
	if len(metrics) == 0 {
		return out, nil
	}

	keys := make([]string, len(metrics))
	for i, m := range metrics {
		keys[i] = "metric:" + m
	}
	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("cache mget error: %w", err)
	}

	for i, v := range vals {
		var n int64
		if s, ok := v.(string); ok {
			if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
				return nil, fmt.Errorf("metric %s is not a counter: %w", metrics[i], err)
			}
		}
		out[metrics[i]] = n
	}
	return out, nil
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}
