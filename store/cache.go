package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrNotFound     = errors.New("key not found")
	ErrEncodeFailed = errors.New("failed to encode value")
	ErrDecodeFailed = errors.New("failed to decode value")
)

type Encoder[T any] func(value T) ([]byte, error)

type Decoder[T any] func(data []byte) (T, error)

// Cache is a typed key space in Redis.
type Cache[T any] struct {
	client  redis.UniversalClient
	encoder Encoder[T]
	decoder Decoder[T]
	prefix  string
}

type Options[T any] struct {
	Client  redis.UniversalClient
	Encoder Encoder[T]
	Decoder Decoder[T]
	Prefix  string
}

func New[T any](opts Options[T]) *Cache[T] {
	return &Cache[T]{
		client:  opts.Client,
		encoder: opts.Encoder,
		decoder: opts.Decoder,
		prefix:  opts.Prefix,
	}
}

func (c *Cache[T]) key(k string) string {
	if c.prefix == "" {
		return k
	}
	return c.prefix + ":" + k
}

// Get returns ErrNotFound for a missing key.
func (c *Cache[T]) Get(ctx context.Context, key string) (T, error) {
	var zero T

	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return zero, ErrNotFound
		}
		return zero, err
	}

	value, err := c.decoder(data)
	if err != nil {
		return zero, errors.Join(ErrDecodeFailed, err)
	}
	return value, nil
}

// MGet returns the values of the keys that exist and decode.
func (c *Cache[T]) MGet(ctx context.Context, keys ...string) (map[string]T, error) {
	values := make(map[string]T, len(keys))
	if len(keys) == 0 {
		return values, nil
	}

	fullKeys := make([]string, len(keys))
	for i, k := range keys {
		fullKeys[i] = c.key(k)
	}
	results, err := c.client.MGet(ctx, fullKeys...).Result()
	if err != nil {
		return nil, err
	}

	for i, result := range results {
		var data []byte
		switch v := result.(type) {
		case string:
			data = []byte(v)
		case []byte:
			data = v
		default:
			continue
		}
		value, err := c.decoder(data)
		if err != nil {
			continue
		}
		values[keys[i]] = value
	}
	return values, nil
}

// MSet queues every item on pipe. Use ttl=0 for no expiration.
func (c *Cache[T]) MSet(ctx context.Context, pipe redis.Pipeliner, items map[string]T, ttl time.Duration) error {
	for k, v := range items {
		data, err := c.encoder(v)
		if err != nil {
			return errors.Join(ErrEncodeFailed, err)
		}
		pipe.Set(ctx, c.key(k), data, ttl)
	}
	return nil
}

func (c *Cache[T]) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	fullKeys := make([]string, len(keys))
	for i, k := range keys {
		fullKeys[i] = c.key(k)
	}
	return c.client.Del(ctx, fullKeys...).Err()
}
