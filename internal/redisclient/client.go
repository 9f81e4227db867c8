package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// AcquireSyncLock takes the per-target sync lock. Concurrent syncs against
// the same target are serialized through this lock; the TTL guards against a
// crashed holder.
func (c *Client) AcquireSyncLock(ctx context.Context, targetName string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("sync:lock:%s", targetName), "1", ttl).Result()
}

// ReleaseSyncLock releases the per-target sync lock
func (c *Client) ReleaseSyncLock(ctx context.Context, targetName string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("sync:lock:%s", targetName)).Err()
}

// SetLastSync records when a source→target pair last synced successfully
func (c *Client) SetLastSync(ctx context.Context, source, target string, at time.Time) error {
	key := fmt.Sprintf("sync:last:%s:%s", source, target)
	return c.rdb.Set(ctx, key, at.UTC().Format(time.RFC3339), 0).Err()
}

// GetLastSync returns when a source→target pair last synced, or zero time if never
func (c *Client) GetLastSync(ctx context.Context, source, target string) (time.Time, error) {
	key := fmt.Sprintf("sync:last:%s:%s", source, target)
	val, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, val)
}

// SetOutpostStatus caches an outpost's last observed reachability
func (c *Client) SetOutpostStatus(ctx context.Context, name, status string, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("outpost:status:%s", name), status, ttl).Err()
}

// GetOutpostStatus returns the cached reachability for an outpost, or "" when unknown
func (c *Client) GetOutpostStatus(ctx context.Context, name string) (string, error) {
	val, err := c.rdb.Get(ctx, fmt.Sprintf("outpost:status:%s", name)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}
