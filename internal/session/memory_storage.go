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
	"math"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MemoryStorage keeps transcripts in process. When full, storing a new
// session evicts the one used least recently.
type MemoryStorage struct {
	cache *lru.Cache[string, Transcript]
}

// NewMemoryStorage creates a storage holding at most capacity sessions;
// capacity <= 0 means no limit
func NewMemoryStorage(capacity int) *MemoryStorage {
	if capacity <= 0 {
		capacity = math.MaxInt
	}
	// New only fails for a non-positive size
	cache, _ := lru.New[string, Transcript](capacity)
	return &MemoryStorage{cache: cache}
}

// Get returns a copy of the session's transcript
func (m *MemoryStorage) Get(_ context.Context, sessionID string) (Transcript, error) {
	transcript, ok := m.cache.Get(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return transcript.Clone(), nil
}

// Put stores a copy of transcript
func (m *MemoryStorage) Put(_ context.Context, sessionID string, transcript Transcript) error {
	m.cache.Add(sessionID, transcript.Clone())
	return nil
}

// Delete forgets a session
func (m *MemoryStorage) Delete(_ context.Context, sessionID string) error {
	if !m.cache.Remove(sessionID) {
		return ErrSessionNotFound
	}
	return nil
}

// Ping never fails
func (m *MemoryStorage) Ping(context.Context) error { return nil }

// Close drops every session
func (m *MemoryStorage) Close() error {
	m.cache.Purge()
	return nil
}

// Len is the number of stored sessions
func (m *MemoryStorage) Len() int {
	return m.cache.Len()
}
