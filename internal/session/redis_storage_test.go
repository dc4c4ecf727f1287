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
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeRedisClient is an in-memory RedisClient
type fakeRedisClient struct {
	mu      sync.Mutex
	data    map[string]string
	failGet bool
	closed  bool
}

func newFakeRedisClient() *fakeRedisClient {
	return &fakeRedisClient{data: make(map[string]string)}
}

func (f *fakeRedisClient) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet {
		return "", errors.New("connection refused")
	}
	return f.data[key], nil
}

func (f *fakeRedisClient) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	default:
		f.data[key] = fmt.Sprint(v)
	}
	return nil
}

func (f *fakeRedisClient) Del(_ context.Context, keys ...string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int64
	for _, key := range keys {
		if _, ok := f.data[key]; ok {
			delete(f.data, key)
			removed++
		}
	}
	return removed, nil
}

func (f *fakeRedisClient) Ping(_ context.Context) error { return nil }

func (f *fakeRedisClient) Close() error {
	f.closed = true
	return nil
}

func TestRedisStorageRoundTrip(t *testing.T) {
	client := newFakeRedisClient()
	storage := NewRedisStorageWithClient(client, "test:", zaptest.NewLogger(t))
	ctx := context.Background()

	_, err := storage.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	transcript := Transcript{
		{ID: "m1", Role: UserRole, Content: "What is the price of the Tenda F3?"},
		{ID: "m2", Role: AssistantRole, Content: "Rs. 12,000"},
	}
	require.NoError(t, storage.Put(ctx, "s1", transcript))
	assert.Contains(t, client.data, "test:s1")

	got, err := storage.Get(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, AssistantRole, got[1].Role)
	assert.Equal(t, "Rs. 12,000", got[1].Content)

	require.NoError(t, storage.Delete(ctx, "s1"))
	assert.ErrorIs(t, storage.Delete(ctx, "s1"), ErrSessionNotFound)

	require.NoError(t, storage.Close())
	assert.True(t, client.closed)
}

func TestRedisStorageErrors(t *testing.T) {
	client := newFakeRedisClient()
	storage := NewRedisStorageWithClient(client, "", nil)
	ctx := context.Background()

	assert.Equal(t, DefaultConfig().KeyPrefix+"x", storage.sessionKey("x"))

	client.data[storage.sessionKey("bad")] = "{not json"
	_, err := storage.Get(ctx, "bad")
	assert.Error(t, err)

	client.failGet = true
	_, err = storage.Get(ctx, "s1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSessionNotFound)
}

func TestRedisBackedStore(t *testing.T) {
	store := NewStore(NewRedisStorageWithClient(newFakeRedisClient(), "t:", nil), zaptest.NewLogger(t))
	ctx := context.Background()

	_, err := store.Commit(ctx, "s1", nil, "hello", "hi")
	require.NoError(t, err)

	history, err := store.History(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, history, 2)

	cleared, err := store.Clear(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, cleared)
}

func TestNewRedisStorageRejectsBadURL(t *testing.T) {
	_, err := NewRedisStorage(context.Background(), "http://nope", "", nil)
	assert.Error(t, err)
}
