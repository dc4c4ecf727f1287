// Copyright 2024 Shop Assistant Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStorage provides Redis-based transcript storage for deployments that
// run more than one process
type RedisStorage struct {
	client RedisClient
	logger *zap.Logger
	prefix string
}

// RedisClient defines the subset of Redis operations the storage needs.
// Get returns an empty string and no error for a missing key.
type RedisClient interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Del(ctx context.Context, keys ...string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// goRedisClient adapts *redis.Client to RedisClient
type goRedisClient struct {
	rdb *redis.Client
}

func (c *goRedisClient) Get(ctx context.Context, key string) (string, error) {
	value, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return value, err
}

func (c *goRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.rdb.Set(ctx, key, value, expiration).Err()
}

func (c *goRedisClient) Del(ctx context.Context, keys ...string) (int64, error) {
	return c.rdb.Del(ctx, keys...).Result()
}

func (c *goRedisClient) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *goRedisClient) Close() error {
	return c.rdb.Close()
}

// NewRedisStorage connects to Redis at redisURL and verifies the connection
func NewRedisStorage(ctx context.Context, redisURL, prefix string, logger *zap.Logger) (*RedisStorage, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := &goRedisClient{rdb: redis.NewClient(opts)}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	storage := NewRedisStorageWithClient(client, prefix, logger)
	storage.logger.Info("Redis session storage initialized",
		zap.String("addr", opts.Addr),
		zap.Int("db", opts.DB),
		zap.String("key_prefix", storage.prefix))

	return storage, nil
}

// NewRedisStorageWithClient wraps an existing client
func NewRedisStorageWithClient(client RedisClient, prefix string, logger *zap.Logger) *RedisStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = DefaultConfig().KeyPrefix
	}
	return &RedisStorage{client: client, logger: logger, prefix: prefix}
}

// Get retrieves a transcript by session ID
func (r *RedisStorage) Get(ctx context.Context, sessionID string) (Transcript, error) {
	data, err := r.client.Get(ctx, r.sessionKey(sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to get session from Redis: %w", err)
	}

	if data == "" {
		return nil, ErrSessionNotFound
	}

	var transcript Transcript
	if err := json.Unmarshal([]byte(data), &transcript); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	return transcript, nil
}

// Put stores a transcript without expiry; sessions live until cleared
func (r *RedisStorage) Put(ctx context.Context, sessionID string, transcript Transcript) error {
	data, err := json.Marshal(transcript)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := r.client.Set(ctx, r.sessionKey(sessionID), data, 0); err != nil {
		return fmt.Errorf("failed to set session in Redis: %w", err)
	}

	return nil
}

// Delete removes a session
func (r *RedisStorage) Delete(ctx context.Context, sessionID string) error {
	removed, err := r.client.Del(ctx, r.sessionKey(sessionID))
	if err != nil {
		return fmt.Errorf("failed to delete session from Redis: %w", err)
	}
	if removed == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Ping checks the Redis connection
func (r *RedisStorage) Ping(ctx context.Context) error {
	return r.client.Ping(ctx)
}

// Close closes the Redis connection
func (r *RedisStorage) Close() error {
	return r.client.Close()
}

func (r *RedisStorage) sessionKey(sessionID string) string {
	return r.prefix + sessionID
}
