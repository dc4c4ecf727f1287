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

package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/your-org/shop-assistant/internal/auth"
	"github.com/your-org/shop-assistant/internal/classifier"
	"github.com/your-org/shop-assistant/internal/dispatch"
	"github.com/your-org/shop-assistant/internal/inventory"
	"github.com/your-org/shop-assistant/internal/llm"
	"github.com/your-org/shop-assistant/internal/order"
	"github.com/your-org/shop-assistant/internal/pipeline"
	"github.com/your-org/shop-assistant/internal/rewrite"
	"github.com/your-org/shop-assistant/internal/session"
	"github.com/your-org/shop-assistant/internal/step"
	"github.com/your-org/shop-assistant/internal/synth"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-secret")

	out, err := execute(t, "token", "--user", "7", "--ttl", "1h")
	require.NoError(t, err)

	verifier, err := auth.NewVerifier("cli-secret", nil)
	require.NoError(t, err)
	userID, err := verifier.Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, int64(7), userID)
}

func TestTokenCommandRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("SHOP_ASSISTANT_AUTH_JWT_SECRET", "")

	_, err := execute(t, "token", "--user", "7")
	assert.Error(t, err)
}

func TestSeedCommand(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "inventory.db")
	t.Setenv("INVENTORY_DB_PATH", dbPath)

	seedPath := filepath.Join(dir, "seed.json")
	require.NoError(t, os.WriteFile(seedPath, []byte(`{
		"products": [
			{"id": 1, "sku": "TND-F3", "name": "Tenda F3 Router", "price": 12000, "stock_quantity": 5},
			{"id": 2, "sku": "TPL-C6", "name": "TP-Link Archer C6", "price": 24000, "stock_quantity": 0}
		],
		"customers": [
			{"id": 7, "email": "nimal@example.com", "full_name": "Nimal Perera"}
		]
	}`), 0o600))

	out, err := execute(t, "seed", "--file", seedPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Seeded 2 products and 1 customers")

	store, err := inventory.NewStore(dbPath, nil)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	status, err := store.Check(context.Background(), "tenda f3")
	require.NoError(t, err)
	assert.Equal(t, "Tenda F3 Router", status.CanonicalName)
	assert.True(t, status.Available)
}

func TestSeedCommandRequiresFile(t *testing.T) {
	_, err := execute(t, "seed")
	assert.Error(t, err)
}

func newChatPipeline(t *testing.T) (*pipeline.Pipeline, *session.Store) {
	t.Helper()
	logger := zaptest.NewLogger(t)

	model := llm.ModelFunc(func(context.Context, llm.Request) (string, error) {
		return "", errors.New("model offline")
	})
	unreachable := dispatch.AskerFunc(func(context.Context, string) (string, error) {
		return "", errors.New("unreachable")
	})
	stock := order.StockCheckerFunc(func(context.Context, string) (inventory.StockStatus, error) {
		return inventory.StockStatus{}, inventory.ErrProductNotFound
	})

	sessions := session.NewStore(session.NewMemoryStorage(0), logger)
	p, err := pipeline.New(pipeline.Components{
		Sessions:    sessions,
		Rewriter:    rewrite.New(model, logger),
		Router:      classifier.NewKeywordClassifier(),
		Dispatcher:  dispatch.New(unreachable, unreachable, nil, logger),
		Orders:      order.NewPreparer(model, stock, logger),
		Synthesizer: synth.NewSynthesizer(model, synth.DefaultPromptConfig(), 800, 0, logger),
		SmallTalk:   synth.NewSmallTalkResponder(model, "SLT Lifestore", logger),
	}, logger)
	require.NoError(t, err)
	return p, sessions
}

func TestRunChat(t *testing.T) {
	p, sessions := newChatPipeline(t)

	in := strings.NewReader("hello\n\n/history\n/clear\n/history\n/quit\nnever read\n")
	var out bytes.Buffer

	err := runChat(context.Background(), p, sessions, &chatOptions{sessionID: "cli"}, in, &out, zaptest.NewLogger(t))
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "Session cli.")
	assert.Contains(t, text, "bot> Hello! Welcome to SLT Lifestore.")
	assert.Contains(t, text, "user: hello")
	assert.Contains(t, text, "History for session cli cleared.")
	assert.Contains(t, text, "(empty)")
}

func TestRunChatEndsOnEOF(t *testing.T) {
	p, sessions := newChatPipeline(t)
	var out bytes.Buffer

	err := runChat(context.Background(), p, sessions, &chatOptions{}, strings.NewReader("hi"), &out, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Session session_")
	assert.Contains(t, out.String(), "Welcome")
}

func TestPrintAnswer(t *testing.T) {
	var out bytes.Buffer
	printAnswer(&out, "Just text")
	assert.Equal(t, "bot> Just text\n", out.String())

	out.Reset()
	record := step.OrderForm(inventory.OrderFormMessage, "req_1", "Tenda F3")
	printAnswer(&out, synth.AppendMarker("Please fill out the form.", record))
	assert.Contains(t, out.String(), "bot> Please fill out the form.\n")
	assert.Contains(t, out.String(), `request req_1, product "Tenda F3"`)
}
