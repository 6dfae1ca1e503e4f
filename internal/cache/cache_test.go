package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"bookshop/internal/book"
	"bookshop/internal/logger"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "bookshop:book:abc", BookKey("abc"))
	assert.Equal(t, "bookshop:tags", TagsKey())
}

func TestValidateOptions(t *testing.T) {
	assert.NoError(t, validateOptions(DefaultConnectOptions("localhost:6379", "", "", 0)))

	tests := []struct {
		name   string
		mutate func(o *ConnectOptions)
	}{
		{"no addr", func(o *ConnectOptions) { o.Addr = "" }},
		{"connect timeout", func(o *ConnectOptions) { o.ConnectTimeout = 0 }},
		{"retry interval", func(o *ConnectOptions) { o.RetryInterval = -1 }},
		{"max wait", func(o *ConnectOptions) { o.MaxWait = 0 }},
		{"ping timeout", func(o *ConnectOptions) { o.PingTimeout = 0 }},
		{"warn threshold", func(o *ConnectOptions) { o.WarnThreshold = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultConnectOptions("localhost:6379", "", "", 0)
			tt.mutate(&opts)
			assert.Error(t, validateOptions(opts))
		})
	}
}

func unreachableOptions() ConnectOptions {
	opts := DefaultConnectOptions("127.0.0.1:1", "", "", 0)
	opts.DialTimeout = 50 * time.Millisecond
	opts.ConnectTimeout = 300 * time.Millisecond
	opts.RetryInterval = 50 * time.Millisecond
	opts.MaxWait = 100 * time.Millisecond
	opts.PingTimeout = 100 * time.Millisecond
	return opts
}

func TestConnect_GivesUp(t *testing.T) {
	start := time.Now()
	client, err := Connect(context.Background(), unreachableOptions(), logger.NewNop())

	assert.Nil(t, client)
	assert.ErrorContains(t, err, "redis unavailable at 127.0.0.1:1")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRedis_FailuresAreMisses(t *testing.T) {
	opts := unreachableOptions()
	client := redis.NewClient(&redis.Options{Addr: opts.Addr, DialTimeout: opts.DialTimeout, MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	c := NewRedis(client, time.Minute, nil)
	ctx := context.Background()

	c.SetBook(ctx, book.Book{ID: "x"})
	_, ok := c.GetBook(ctx, "x")
	assert.False(t, ok)

	c.SetTags(ctx, []string{"a"})
	_, ok = c.GetTags(ctx)
	assert.False(t, ok)

	c.Invalidate(ctx, "x")
}

func TestRedis_RoundTrip(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("Skipping test: TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client, err := Connect(ctx, DefaultConnectOptions(addr, "", "", 0), logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	c := NewRedis(client, time.Minute, nil)
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := book.Book{ID: "cache-test", Title: "T", Author: "A", Tags: []string{"x"}, CreatedAt: created, UpdatedAt: created}

	c.SetBook(ctx, b)
	got, ok := c.GetBook(ctx, b.ID)
	require.True(t, ok)
	assert.Equal(t, b, got)

	c.SetTags(ctx, []string{})
	tags, ok := c.GetTags(ctx)
	require.True(t, ok)
	assert.Equal(t, []string{}, tags)

	c.Invalidate(ctx, b.ID)
	_, ok = c.GetBook(ctx, b.ID)
	assert.False(t, ok)
	_, ok = c.GetTags(ctx)
	assert.False(t, ok)
}
