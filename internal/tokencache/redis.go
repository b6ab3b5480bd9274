// Package tokencache provides a Redis fast path for public token resolution.
//
// The cache maps token hash -> document id with the same TTL as the link
// itself. It is only a lookup hint: callers always reload the document from
// Postgres and re-check the stored hash and expiry, so a stale entry can
// never extend a token's life or resurrect a superseded one.
package tokencache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Cache struct {
	client *redis.Client
	prefix string
}

func New(redisURL string) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Cache{client: client, prefix: "pubtoken:"}, nil
}

// NewWithClient creates a cache from an existing Redis client.
func NewWithClient(client *redis.Client) *Cache {
	return &Cache{client: client, prefix: "pubtoken:"}
}

func (c *Cache) key(tokenHash string) string {
	return c.prefix + tokenHash
}

// Save records the mapping for a freshly issued token.
func (c *Cache) Save(ctx context.Context, tokenHash, documentID string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := c.client.Set(ctx, c.key(tokenHash), documentID, ttl).Err(); err != nil {
		return fmt.Errorf("save token mapping: %w", err)
	}
	return nil
}

// Lookup returns the cached document id for a token hash, or "" on miss.
func (c *Cache) Lookup(ctx context.Context, tokenHash string) (string, error) {
	documentID, err := c.client.Get(ctx, c.key(tokenHash)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup token mapping: %w", err)
	}
	return documentID, nil
}

// Invalidate drops the entry for a superseded token hash. Called before the
// replacement is saved so there is no window where both resolve.
func (c *Cache) Invalidate(ctx context.Context, tokenHash string) error {
	if tokenHash == "" {
		return nil
	}
	if err := c.client.Del(ctx, c.key(tokenHash)).Err(); err != nil {
		return fmt.Errorf("invalidate token mapping: %w", err)
	}
	return nil
}

func (c *Cache) Close() error {
	return c.client.Close()
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
