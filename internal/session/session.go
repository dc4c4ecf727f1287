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

// Package session keeps the per-session conversation transcript. Storage is
// pluggable (in-process memory or Redis); the Store serializes turns for the
// same session id so a read-modify-write of one transcript never interleaves
// with another.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrSessionNotFound is returned by storage backends for unknown session ids
var ErrSessionNotFound = errors.New("session not found")

// StorageType represents the type of storage backend for sessions
type StorageType string

const (
	// MemoryStorageType uses in-memory storage for sessions
	MemoryStorageType StorageType = "memory"
	// RedisStorageType uses Redis for session storage
	RedisStorageType StorageType = "redis"
)

// Config holds configuration for session management
type Config struct {
	StorageType StorageType `json:"storage_type"`
	RedisURL    string      `json:"redis_url,omitempty"`
	KeyPrefix   string      `json:"key_prefix,omitempty"`
	MaxSessions int         `json:"max_sessions"`
}

// DefaultConfig returns default session configuration
func DefaultConfig() Config {
	return Config{
		StorageType: MemoryStorageType,
		KeyPrefix:   "shop:session:",
	}
}

// MessageRole represents the role of a message sender
type MessageRole string

const (
	// UserRole indicates a message from the user
	UserRole MessageRole = "user"
	// AssistantRole indicates a message from the assistant
	AssistantRole MessageRole = "assistant"
)

// Message represents a single message in a conversation
type Message struct {
	ID        string      `json:"id"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}

// Transcript is the ordered message history of one session
type Transcript []Message

// Clone returns a copy that shares no backing array with t
func (t Transcript) Clone() Transcript {
	if t == nil {
		return nil
	}
	out := make(Transcript, len(t))
	copy(out, t)
	return out
}

// Storage defines the interface for transcript storage backends
type Storage interface {
	// Get returns the transcript for a session or ErrSessionNotFound
	Get(ctx context.Context, sessionID string) (Transcript, error)
	// Put replaces the transcript for a session
	Put(ctx context.Context, sessionID string, transcript Transcript) error
	// Delete removes a session, returning ErrSessionNotFound if it was absent
	Delete(ctx context.Context, sessionID string) error
	// Ping checks that the backend is reachable
	Ping(ctx context.Context) error
	// Close closes the storage backend
	Close() error
}

// Store owns session transcripts and the per-session turn locks
type Store struct {
	storage Storage
	locks   *keyedLocks
	logger  *zap.Logger
}

// NewStore wraps a storage backend
func NewStore(storage Storage, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		storage: storage,
		locks:   newKeyedLocks(),
		logger:  logger,
	}
}

// NewStoreFromConfig builds the configured storage backend and wraps it
func NewStoreFromConfig(ctx context.Context, config Config, logger *zap.Logger) (*Store, error) {
	var storage Storage

	switch config.StorageType {
	case MemoryStorageType, "":
		storage = NewMemoryStorage(config.MaxSessions)
	case RedisStorageType:
		redisStorage, err := NewRedisStorage(ctx, config.RedisURL, config.KeyPrefix, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Redis storage: %w", err)
		}
		storage = redisStorage
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", config.StorageType)
	}

	return NewStore(storage, logger), nil
}

// Lock acquires the turn lock for a session. The returned function releases
// it and must be called exactly once.
func (s *Store) Lock(ctx context.Context, sessionID string) (func(), error) {
	release, err := s.locks.acquire(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock session %s: %w", sessionID, err)
	}
	return release, nil
}

// History returns a copy of the session transcript. Unknown sessions have an
// empty history.
func (s *Store) History(ctx context.Context, sessionID string) (Transcript, error) {
	transcript, err := s.storage.Get(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return Transcript{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return transcript.Clone(), nil
}

// Commit appends one completed turn to history and writes the result back.
// Callers hold the session lock and pass the history they read under it.
func (s *Store) Commit(ctx context.Context, sessionID string, history Transcript, question, answer string) (Transcript, error) {
	now := time.Now()
	updated := append(history.Clone(),
		Message{ID: newMessageID(), Role: UserRole, Content: question, Timestamp: now},
		Message{ID: newMessageID(), Role: AssistantRole, Content: answer, Timestamp: now},
	)

	if err := s.storage.Put(ctx, sessionID, updated); err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}

	s.logger.Debug("Committed turn to session",
		zap.String("session_id", sessionID),
		zap.Int("message_count", len(updated)))

	return updated, nil
}

// Clear deletes a session's transcript. It reports false when the session
// had no history.
func (s *Store) Clear(ctx context.Context, sessionID string) (bool, error) {
	release, err := s.Lock(ctx, sessionID)
	if err != nil {
		return false, err
	}
	defer release()

	err = s.storage.Delete(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}

	s.logger.Info("Cleared session history", zap.String("session_id", sessionID))
	return true, nil
}

// Ping checks the storage backend
func (s *Store) Ping(ctx context.Context) error {
	return s.storage.Ping(ctx)
}

// Close closes the storage backend
func (s *Store) Close() error {
	if err := s.storage.Close(); err != nil {
		return fmt.Errorf("failed to close storage: %w", err)
	}
	return nil
}
