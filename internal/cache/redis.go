package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keeps preferences and snapshot blobs under a common key prefix.
type Redis struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

func NewRedis(addr, password string, db int, prefix string, logger *slog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	logger.Info("Connected to Redis", "addr", addr)

	return NewRedisWithClient(client, prefix, logger), nil
}

func NewRedisWithClient(client *redis.Client, prefix string, logger *slog.Logger) *Redis {
	return &Redis{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

func (c *Redis) Close() error {
	return c.client.Close()
}

func (c *Redis) key(k string) string {
	return c.prefix + k
}

func (c *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, c.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, true, nil
}

func (c *Redis) Set(ctx context.Context, key, value string) error {
	if err := c.client.Set(ctx, c.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	c.logger.Debug("Value stored", "key", key)
	return nil
}

// SetMany writes all pairs inside one MULTI/EXEC block.
func (c *Redis) SetMany(ctx context.Context, values map[string]string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for k, v := range values {
			pipe.Set(ctx, c.key(k), v, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis transaction: %w", err)
	}
	c.logger.Debug("Values stored", "count", len(values))
	return nil
}

func (c *Redis) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("redis delete %s: %w", key, err)
	}
	return nil
}

func (c *Redis) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
