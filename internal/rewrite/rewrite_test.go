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

package rewrite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/your-org/shop-assistant/internal/llm"
	"github.com/your-org/shop-assistant/internal/session"
)

func history(pairs ...string) session.Transcript {
	var t session.Transcript
	for i, content := range pairs {
		role := session.UserRole
		if i%2 == 1 {
			role = session.AssistantRole
		}
		t = append(t, session.Message{Role: role, Content: content})
	}
	return t
}

func TestRewriteEmptyHistoryIsIdentity(t *testing.T) {
	calls := 0
	model := llm.ModelFunc(func(_ context.Context, _ llm.Request) (string, error) {
		calls++
		return "should not be used", nil
	})
	r := New(model, zaptest.NewLogger(t))

	for _, q := range []string{"", "Hello", "I'll take it", "What is the price of the Tenda F3?", "  spaced  "} {
		got := r.Rewrite(context.Background(), q, nil)
		assert.Equal(t, q, got.Standalone)
		assert.Equal(t, q, got.Original)
		assert.False(t, got.Rewritten)
	}
	assert.Equal(t, 0, calls)
}

func TestRewriteResolvesReference(t *testing.T) {
	var captured llm.Request
	model := llm.ModelFunc(func(_ context.Context, req llm.Request) (string, error) {
		captured = req
		return "\"I want to order the Tenda F3.\"", nil
	})
	r := New(model, zaptest.NewLogger(t))

	got := r.Rewrite(context.Background(), "I'll take it", history("Do you have the Tenda F3?", "Yes, Rs. 12,000"))
	assert.Equal(t, "I want to order the Tenda F3.", got.Standalone)
	assert.Equal(t, "I'll take it", got.Original)
	assert.True(t, got.Rewritten)

	assert.Contains(t, captured.Prompt, "user: Do you have the Tenda F3?")
	assert.Contains(t, captured.Prompt, "assistant: Yes, Rs. 12,000")
	assert.Contains(t, captured.Prompt, "User Input: I'll take it")
	assert.Contains(t, captured.System, "Never turn an order request into a how-to question")
}

func TestRewriteUsesHistoryWindow(t *testing.T) {
	var captured llm.Request
	model := llm.ModelFunc(func(_ context.Context, req llm.Request) (string, error) {
		captured = req
		return "standalone", nil
	})

	var msgs []string
	for i := 0; i < 10; i++ {
		msgs = append(msgs, fmt.Sprintf("message-%02d", i))
	}

	r := New(model, nil, WithHistoryWindow(6))
	r.Rewrite(context.Background(), "q", history(msgs...))

	assert.NotContains(t, captured.Prompt, "message-03")
	for i := 4; i < 10; i++ {
		assert.Contains(t, captured.Prompt, fmt.Sprintf("message-%02d", i))
	}
}

func TestRewriteFailureFallsBack(t *testing.T) {
	tests := []struct {
		name  string
		model llm.ModelFunc
	}{
		{
			name: "model error",
			model: func(_ context.Context, _ llm.Request) (string, error) {
				return "", errors.New("rate limited")
			},
		},
		{
			name: "blank answer",
			model: func(_ context.Context, _ llm.Request) (string, error) {
				return "   \n", nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(tt.model, zaptest.NewLogger(t))
			got := r.Rewrite(context.Background(), "How much is it?", history("Tell me about the Tenda F3", "It is a router."))
			assert.Equal(t, "How much is it?", got.Standalone)
			assert.False(t, got.Rewritten)
		})
	}
}

func TestRewriteKeepsFirstLine(t *testing.T) {
	model := llm.ModelFunc(func(_ context.Context, _ llm.Request) (string, error) {
		return "What is the price of the Tenda F3?\nI replaced 'it' with the product name.", nil
	})
	r := New(model, nil, WithSampling(100, 0))

	got := r.Rewrite(context.Background(), "How much is it?", history("Tell me about the Tenda F3", "It is a router."))
	require.False(t, strings.Contains(got.Standalone, "\n"))
	assert.Equal(t, "What is the price of the Tenda F3?", got.Standalone)
}
