// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stacklok/umakit/pkg/config"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// RedisStateStore keeps pending logins in Redis so that the callback may reach any
// replica. Entries expire with the key TTL and are consumed with GETDEL.
type RedisStateStore struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

// NewRedisStateStore connects to the server described by cfg.
func NewRedisStateStore(ctx context.Context, cfg config.RedisConfig, ttl time.Duration) (*RedisStateStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = config.DefaultRedisKeyPrefix
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  DefaultDialTimeout,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStateStoreWithClient(client, prefix, ttl), nil
}

// NewRedisStateStoreWithClient creates a store on top of an existing client.
func NewRedisStateStoreWithClient(client redis.UniversalClient, keyPrefix string, ttl time.Duration) *RedisStateStore {
	if ttl <= 0 {
		ttl = config.DefaultStateTTL
	}
	return &RedisStateStore{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
	}
}

func (s *RedisStateStore) key(k string) string {
	return s.keyPrefix + k
}

// Put implements StateStore.
func (s *RedisStateStore) Put(ctx context.Context, key string, login *PendingLogin) error {
	if err := validatePut(key, login); err != nil {
		return err
	}

	data, err := json.Marshal(login)
	if err != nil {
		return fmt.Errorf("failed to marshal pending login: %w", err)
	}
	if err := s.client.Set(ctx, s.key(key), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store pending login: %w", err)
	}
	return nil
}

// Take implements StateStore.
func (s *RedisStateStore) Take(ctx context.Context, key string) (*PendingLogin, error) {
	data, err := s.client.GetDel(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrStateNotFound
		}
		return nil, fmt.Errorf("failed to take pending login: %w", err)
	}

	var login PendingLogin
	if err := json.Unmarshal(data, &login); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pending login: %w", err)
	}
	return &login, nil
}

// Close closes the Redis client connection.
func (s *RedisStateStore) Close() error {
	return s.client.Close()
}
