// Package cache implements the catalog read cache on Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"bookshop/internal/book"
	"bookshop/internal/logger"

	"github.com/redis/go-redis/v9"
)

// Redis is a read-through cache for single books and the tag list. Redis
// failures are logged and treated as misses.
type Redis struct {
	client redis.Cmdable
	ttl    time.Duration
	log    logger.Logger
}

func NewRedis(client redis.Cmdable, ttl time.Duration, log logger.Logger) *Redis {
	if log == nil {
		log = logger.NewNop()
	}
	return &Redis{client: client, ttl: ttl, log: log}
}

func (c *Redis) GetBook(ctx context.Context, id string) (book.Book, bool) {
	var b book.Book
	if !c.get(ctx, BookKey(id), &b) {
		return book.Book{}, false
	}
	return b, true
}

func (c *Redis) SetBook(ctx context.Context, b book.Book) {
	c.set(ctx, BookKey(b.ID), b)
}

func (c *Redis) GetTags(ctx context.Context) ([]string, bool) {
	var tags []string
	if !c.get(ctx, TagsKey(), &tags) {
		return nil, false
	}
	if tags == nil {
		tags = []string{}
	}
	return tags, true
}

func (c *Redis) SetTags(ctx context.Context, tags []string) {
	c.set(ctx, TagsKey(), tags)
}

// Invalidate drops the tag list and the given books.
func (c *Redis) Invalidate(ctx context.Context, ids ...string) {
	keys := []string{TagsKey()}
	for _, id := range ids {
		keys = append(keys, BookKey(id))
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.log.Warn("cache invalidate failed", logger.Any("keys", keys), logger.Error(err))
	}
}

func (c *Redis) get(ctx context.Context, key string, v any) bool {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("cache read failed", logger.String("key", key), logger.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		c.log.Warn("cache entry corrupt", logger.String("key", key), logger.Error(err))
		return false
	}
	return true
}

func (c *Redis) set(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.log.Warn("cache encode failed", logger.String("key", key), logger.Error(err))
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.log.Warn("cache write failed", logger.String("key", key), logger.Error(err))
	}
}
