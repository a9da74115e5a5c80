package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const settingsTTL = 10 * time.Minute

// Client wraps the Redis client.
type Client struct {
	rdb *redis.Client
}

// New creates a new Redis client from a URI.
func New(uri string) (*Client, error) {
	opt, err := redis.ParseURL(uri)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opt)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &Client{rdb: rdb}, nil
}

// Get retrieves a value by key.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	return c.rdb.Get(ctx, key).Result()
}

// Set stores a value with an optional TTL.
func (c *Client) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// Delete removes a key.
func (c *Client) Delete(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

func settingsKey(roomID string) string {
	return "room:settings:" + roomID
}

// GetSettings returns cached room settings, or (nil, nil) on a miss.
func (c *Client) GetSettings(ctx context.Context, roomID string) (map[string]any, error) {
	raw, err := c.Get(ctx, settingsKey(roomID))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	settings := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		return nil, fmt.Errorf("unmarshal cached settings: %w", err)
	}
	return settings, nil
}

// SetSettings caches room settings.
func (c *Client) SetSettings(ctx context.Context, roomID string, settings map[string]any) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	return c.Set(ctx, settingsKey(roomID), string(raw), settingsTTL)
}

// InvalidateSettings drops the cached settings for a room.
func (c *Client) InvalidateSettings(ctx context.Context, roomID string) error {
	return c.Delete(ctx, settingsKey(roomID))
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}
