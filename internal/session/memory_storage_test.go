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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorage(t *testing.T) {
	storage := NewMemoryStorage(10)
	defer func() { _ = storage.Close() }()

	ctx := context.Background()

	_, err := storage.Get(ctx, "test_session_123")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	transcript := Transcript{
		{ID: "m1", Role: UserRole, Content: "hello", Timestamp: time.Now()},
		{ID: "m2", Role: AssistantRole, Content: "hi there", Timestamp: time.Now()},
	}
	require.NoError(t, storage.Put(ctx, "test_session_123", transcript))

	// Stored copy is independent of the caller's slice
	transcript[0].Content = "mutated"

	retrieved, err := storage.Get(ctx, "test_session_123")
	require.NoError(t, err)
	require.Len(t, retrieved, 2)
	assert.Equal(t, "hello", retrieved[0].Content)

	// So is the copy handed out by Get
	retrieved[0].Content = "changed by caller"
	again, err := storage.Get(ctx, "test_session_123")
	require.NoError(t, err)
	assert.Equal(t, "hello", again[0].Content)

	require.NoError(t, storage.Delete(ctx, "test_session_123"))
	assert.ErrorIs(t, storage.Delete(ctx, "test_session_123"), ErrSessionNotFound)

	_, err = storage.Get(ctx, "test_session_123")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.NoError(t, storage.Ping(ctx))
}

func TestMemoryStorageLRU(t *testing.T) {
	storage := NewMemoryStorage(2)
	ctx := context.Background()

	require.NoError(t, storage.Put(ctx, "a", Transcript{{Content: "a"}}))
	require.NoError(t, storage.Put(ctx, "b", Transcript{{Content: "b"}}))

	// Touch "a" so "b" becomes least recently used
	_, err := storage.Get(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, storage.Put(ctx, "c", Transcript{{Content: "c"}}))
	assert.Equal(t, 2, storage.Len())

	_, err = storage.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = storage.Get(ctx, "a")
	assert.NoError(t, err)

	// Updating an existing session never evicts
	require.NoError(t, storage.Put(ctx, "c", Transcript{{Content: "c2"}}))
	assert.Equal(t, 2, storage.Len())
	got, err := storage.Get(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, "c2", got[0].Content)
}

func TestMemoryStorageUnbounded(t *testing.T) {
	storage := NewMemoryStorage(0)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, storage.Put(ctx, id, Transcript{}))
	}
	assert.Equal(t, 4, storage.Len())

	require.NoError(t, storage.Close())
	assert.Equal(t, 0, storage.Len())
}
