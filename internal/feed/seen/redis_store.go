// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package seen

import (
	"context"
	"fmt"
	"time"

	"github.com/ManuGH/clipfeed/internal/log"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey holds the seen set when RedisConfig.Key is empty.
const DefaultRedisKey = "clipfeed:seen"

// RedisStore keeps history in a redis set so several processes share it.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     4,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	key := cfg.Key
	if key == "" {
		key = DefaultRedisKey
	}
	logger := log.WithComponent("seen")
	logger.Info().
		Str("addr", cfg.Addr).
		Int("db", cfg.DB).
		Str("key", key).
		Msg("connected to redis seen store")

	return &RedisStore{client: client, key: key}, nil
}

func (s *RedisStore) Load(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers %s: %w", s.key, err)
	}
	return ids, nil
}

func (s *RedisStore) Add(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	if err := s.client.SAdd(ctx, s.key, members...).Err(); err != nil {
		return fmt.Errorf("redis sadd %s: %w", s.key, err)
	}
	return nil
}

// Ping checks the redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
