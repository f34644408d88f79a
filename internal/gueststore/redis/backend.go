package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/semilia/storefront/pkg/database"
	apperrors "github.com/semilia/storefront/pkg/errors"
)

// Backend stores guest carts in Redis. Every write refreshes the TTL, so a
// cart expires only after the guest has been idle for ttl.
type Backend struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
}

// NewBackend creates a Redis backend. Keys are stored as "<prefix><key>";
// a zero ttl keeps carts forever.
func NewBackend(client *goredis.Client, prefix string, ttl time.Duration) *Backend {
	return &Backend{client: client, prefix: prefix, ttl: ttl}
}

func (b *Backend) Get(ctx context.Context, key string) (data []byte, err error) {
	ctx, end := database.TraceQuery(ctx, "redis", "GuestCartGet", "GET")
	defer func() { end(ignoreMissing(err)) }()

	data, err = b.client.Get(ctx, b.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, apperrors.NotFound("guest cart", key)
		}
		return nil, fmt.Errorf("redis get guest cart: %w", err)
	}
	return data, nil
}

func (b *Backend) Set(ctx context.Context, key string, value []byte) (err error) {
	ctx, end := database.TraceQuery(ctx, "redis", "GuestCartSet", "SET")
	defer func() { end(err) }()

	if err = b.client.Set(ctx, b.prefix+key, value, b.ttl).Err(); err != nil {
		return fmt.Errorf("redis set guest cart: %w", err)
	}
	return nil
}

func (b *Backend) Delete(ctx context.Context, key string) (err error) {
	ctx, end := database.TraceQuery(ctx, "redis", "GuestCartDelete", "DEL")
	defer func() { end(err) }()

	if err = b.client.Del(ctx, b.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del guest cart: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (b *Backend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func ignoreMissing(err error) error {
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil
	}
	return err
}
