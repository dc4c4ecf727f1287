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

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/your-org/shop-assistant/internal/classifier"
	"github.com/your-org/shop-assistant/internal/dispatch"
	"github.com/your-org/shop-assistant/internal/inventory"
	"github.com/your-org/shop-assistant/internal/llm"
	"github.com/your-org/shop-assistant/internal/metrics"
	"github.com/your-org/shop-assistant/internal/order"
	"github.com/your-org/shop-assistant/internal/rewrite"
	"github.com/your-org/shop-assistant/internal/session"
	"github.com/your-org/shop-assistant/internal/step"
	"github.com/your-org/shop-assistant/internal/streaming"
	"github.com/your-org/shop-assistant/internal/synth"
)

// fakeModel answers each pipeline stage from a script, telling the stages
// apart by their instructions
type fakeModel struct {
	mu sync.Mutex

	rewrite   string
	route     string
	routeErr  error
	extract   string
	smallTalk string
	synth     string
	synthErr  error

	calls        map[string]int
	synthPrompts []string
}

func newFakeModel() *fakeModel {
	return &fakeModel{calls: make(map[string]int)}
}

func (f *fakeModel) Complete(_ context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case req.JSON:
		f.calls["route"]++
		return f.route, f.routeErr
	case strings.Contains(req.System, "standalone question"):
		f.calls["rewrite"]++
		return f.rewrite, nil
	case strings.Contains(req.System, "identify the specific product"):
		f.calls["extract"]++
		return f.extract, nil
	case strings.Contains(req.System, "general conversational question"):
		f.calls["small_talk"]++
		return f.smallTalk, nil
	default:
		f.calls["synth"]++
		f.synthPrompts = append(f.synthPrompts, req.Prompt)
		return f.synth, f.synthErr
	}
}

func (f *fakeModel) count(stage string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[stage]
}

type fakeBackend struct {
	mu     sync.Mutex
	answer string
	err    error
	calls  int
	onAsk  func()
}

func (b *fakeBackend) Ask(_ context.Context, _ string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.onAsk != nil {
		b.onAsk()
	}
	return b.answer, b.err
}

func (b *fakeBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

type fakeStock struct {
	status inventory.StockStatus
	err    error
	calls  int
}

func (s *fakeStock) Check(_ context.Context, _ string) (inventory.StockStatus, error) {
	s.calls++
	return s.status, s.err
}

type harness struct {
	pipeline   *Pipeline
	model      *fakeModel
	structured *fakeBackend
	semantic   *fakeBackend
	stock      *fakeStock
	sessions   *session.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)

	h := &harness{
		model:      newFakeModel(),
		structured: &fakeBackend{},
		semantic:   &fakeBackend{},
		stock:      &fakeStock{},
		sessions:   session.NewStore(session.NewMemoryStorage(0), logger),
	}

	p, err := New(Components{
		Sessions:    h.sessions,
		Rewriter:    rewrite.New(h.model, logger),
		Router:      classifier.NewLLMClassifier(h.model, 0, 0, logger),
		Dispatcher:  dispatch.New(h.structured, h.semantic, nil, logger),
		Orders:      order.NewPreparer(h.model, h.stock, logger),
		Synthesizer: synth.NewSynthesizer(h.model, synth.DefaultPromptConfig(), 800, 0, logger),
		SmallTalk:   synth.NewSmallTalkResponder(h.model, "SLT Lifestore", logger),
	}, logger, WithMetrics(metrics.New(prometheus.NewRegistry())), WithTurnTimeout(5*time.Second))
	require.NoError(t, err)

	h.pipeline = p
	return h
}

func (h *harness) seed(t *testing.T, sessionID string, pairs ...string) {
	t.Helper()
	require.Equal(t, 0, len(pairs)%2)
	history := session.Transcript{}
	for i := 0; i < len(pairs); i += 2 {
		var err error
		history, err = h.sessions.Commit(context.Background(), sessionID, history, pairs[i], pairs[i+1])
		require.NoError(t, err)
	}
}

func (h *harness) history(t *testing.T, sessionID string) session.Transcript {
	t.Helper()
	history, err := h.sessions.History(context.Background(), sessionID)
	require.NoError(t, err)
	return history
}

func TestScenarioStructuredPrice(t *testing.T) {
	h := newHarness(t)
	h.model.route = `{"reasoning": "price question", "route": "structured"}`
	h.model.synth = "The Tenda F3 is priced at Rs. 12,000."
	h.structured.answer = "Tenda F3 - Rs. 12,000"

	turn, err := h.pipeline.Run(context.Background(), Request{SessionID: "a", Question: "What is the price of the Tenda F3?"}, nil)
	require.NoError(t, err)

	assert.Equal(t, classifier.RouteStructured, turn.Route)
	assert.Equal(t, "What is the price of the Tenda F3?", turn.RewrittenQuestion)
	assert.Contains(t, turn.FinalAnswer, "12,000")
	assert.Equal(t, 1, h.structured.count())
	assert.Equal(t, 0, h.semantic.count())
	assert.Equal(t, 0, h.model.count("rewrite"))
	assert.True(t, turn.Committed)
}

func TestScenarioFallbackToNotFound(t *testing.T) {
	h := newHarness(t)
	h.model.route = `{"route": "graph_db"}`
	h.model.synth = "should not be used"
	h.structured.answer = "No result found"
	h.semantic.answer = "No relevant information found"

	answer, err := h.pipeline.Send(context.Background(), Request{SessionID: "b", Question: "Do you have flying cars?"})
	require.NoError(t, err)

	assert.Equal(t, synth.NotFoundMessage, answer)
	assert.Equal(t, 1, h.structured.count())
	assert.Equal(t, 1, h.semantic.count())
	assert.Equal(t, 0, h.model.count("synth"))
}

func TestFallbackRunsExactlyOnceOnNotFound(t *testing.T) {
	h := newHarness(t)
	h.model.route = `{"route": "structured"}`
	h.model.synth = "We offer home fiber packages."
	h.structured.answer = "Product not found in graph"
	h.semantic.answer = "Fiber packages start at Rs. 2,000"

	turn, err := h.pipeline.Run(context.Background(), Request{SessionID: "f", Question: "Do you sell fiber?"}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, h.semantic.count())
	require.Len(t, turn.Records, 2)
	assert.True(t, turn.Records[0].Empty)
	assert.True(t, turn.Records[1].Fallback)
	assert.Equal(t, "We offer home fiber packages.", turn.FinalAnswer)
}

func TestScenarioOrderFollowUp(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "c", "Do you have the Tenda F3?", "Yes, Rs. 12,000")
	h.model.rewrite = "I want to order the Tenda F3."
	h.model.route = `{"reasoning": "explicit purchase of a named item", "route": "order_intent"}`
	h.model.extract = "Tenda F3"
	h.model.synth = "Great choice! Please fill out the order form below."
	h.stock.status = inventory.StockStatus{ProductID: 1, CanonicalName: "Tenda F3", Quantity: 5, Available: true}

	turn, err := h.pipeline.Run(context.Background(), Request{SessionID: "c", Question: "I'll take it", UserID: 7}, nil)
	require.NoError(t, err)

	assert.Equal(t, "I want to order the Tenda F3.", turn.RewrittenQuestion)
	assert.Equal(t, classifier.RouteOrderIntent, turn.Route)
	assert.True(t, strings.HasPrefix(turn.FinalAnswer, "Great choice!"))
	assert.True(t, strings.HasSuffix(turn.FinalAnswer, "|Tenda F3]"), turn.FinalAnswer)

	id, product, ok := synth.ParseMarker(turn.FinalAnswer)
	require.True(t, ok)
	assert.Equal(t, "Tenda F3", product)
	assert.True(t, strings.HasPrefix(id, "req_"))
	assert.Equal(t, 1, h.stock.calls)

	history := h.history(t, "c")
	require.Len(t, history, 4)
	assert.Equal(t, "I'll take it", history[2].Content)
}

func TestScenarioGreeting(t *testing.T) {
	h := newHarness(t)
	h.model.route = `{"route": "small_talk"}`

	answer, err := h.pipeline.Send(context.Background(), Request{SessionID: "d", Question: "Hello"})
	require.NoError(t, err)

	assert.Contains(t, answer, "Welcome to SLT Lifestore")
	assert.Equal(t, 0, h.structured.count())
	assert.Equal(t, 0, h.semantic.count())
	assert.Equal(t, 0, h.model.count("small_talk"))
	assert.Equal(t, 0, h.model.count("synth"))
	assert.Len(t, h.history(t, "d"), 2)
}

func TestSmallTalkFromHistory(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "st", "My name is Nimal", "Nice to meet you, Nimal!")
	h.model.rewrite = "Do you remember my name?"
	h.model.route = `{"route": "general"}`
	h.model.smallTalk = "Yes, your name is Nimal."

	answer, err := h.pipeline.Send(context.Background(), Request{SessionID: "st", Question: "Do you remember my name?"})
	require.NoError(t, err)

	assert.Equal(t, "Yes, your name is Nimal.", answer)
	assert.Equal(t, 0, h.semantic.count())
}

func TestSmallTalkSearchRequired(t *testing.T) {
	h := newHarness(t)
	h.model.route = `{"route": "small_talk"}`
	h.model.smallTalk = "SEARCH_REQUIRED"
	h.model.synth = "Our hotline is 1212."
	h.semantic.answer = "Customer hotline: 1212"

	turn, err := h.pipeline.Run(context.Background(), Request{SessionID: "s", Question: "how can I reach you?"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "Our hotline is 1212.", turn.FinalAnswer)
	assert.Equal(t, 1, h.semantic.count())
	require.Len(t, turn.Records, 1)
	assert.True(t, turn.Records[0].Fallback)
}

func TestRouteAlwaysResolves(t *testing.T) {
	outputs := []struct {
		raw string
		err error
	}{
		{raw: "I think this is about routers"},
		{raw: `{"route": "teleport"}`},
		{raw: ""},
		{err: errors.New("model unavailable")},
	}

	for i, out := range outputs {
		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			h := newHarness(t)
			h.model.route = out.raw
			h.model.routeErr = out.err
			h.model.synth = "We provide fiber and mobile services."
			h.semantic.answer = "Fiber, mobile and PEO TV services"

			turn, err := h.pipeline.Run(context.Background(), Request{SessionID: "r", Question: "what do you offer?"}, nil)
			require.NoError(t, err)

			assert.True(t, turn.Route.Valid())
			assert.Equal(t, classifier.RouteSemantic, turn.Route)
			assert.Equal(t, 1, h.semantic.count())
			assert.Equal(t, 0, h.structured.count())
		})
	}
}

func TestStepRecordsDoNotLeakAcrossTurns(t *testing.T) {
	h := newHarness(t)
	h.model.route = `{"route": "structured"}`
	h.model.synth = "It costs Rs. 12,000."
	h.structured.answer = "STRUCTURED-ONLY-RESULT Rs. 12,000"

	first, err := h.pipeline.Run(context.Background(), Request{SessionID: "iso", Question: "Price of Tenda F3?"}, nil)
	require.NoError(t, err)
	require.Len(t, first.Records, 1)

	h.model.rewrite = "How do I contact support?"
	h.model.route = `{"route": "semantic"}`
	h.model.synth = "Call 1212."
	h.semantic.answer = "Support hotline 1212"

	second, err := h.pipeline.Run(context.Background(), Request{SessionID: "iso", Question: "how do I contact support?"}, nil)
	require.NoError(t, err)

	require.Len(t, second.Records, 1)
	assert.Equal(t, step.KindSemanticQA, second.Records[0].Kind)

	require.Len(t, h.model.synthPrompts, 2)
	lastPrompt := h.model.synthPrompts[1]
	section := lastPrompt[strings.Index(lastPrompt, "Intermediate Steps Context:"):]
	assert.NotContains(t, section, "STRUCTURED-ONLY-RESULT")
	assert.Contains(t, section, "Support hotline 1212")
}

func TestOrderIntentRequiresLogin(t *testing.T) {
	h := newHarness(t)
	h.model.route = `{"route": "order_intent"}`
	h.model.extract = "Tenda F3"
	h.model.synth = "should not be used"

	turn, err := h.pipeline.Run(context.Background(), Request{SessionID: "auth", Question: "I want to buy the Tenda F3"}, nil)
	require.NoError(t, err)

	require.Len(t, turn.Records, 1)
	assert.Equal(t, step.KindAuthError, turn.Records[0].Kind)
	assert.Equal(t, inventory.LoginRequiredMessage, turn.FinalAnswer)
	assert.Equal(t, 0, h.stock.calls)
	assert.Equal(t, 0, h.model.count("extract"))
	assert.Equal(t, 0, h.model.count("synth"))
}

func TestOutOfStockIsVerbatim(t *testing.T) {
	h := newHarness(t)
	h.model.route = `{"route": "order_intent"}`
	h.model.extract = "TP-Link Archer C6"
	h.stock.status = inventory.StockStatus{CanonicalName: "TP-Link Archer C6"}

	answer, err := h.pipeline.Send(context.Background(), Request{SessionID: "oos", Question: "order the archer c6", UserID: 2})
	require.NoError(t, err)
	assert.Equal(t, inventory.OutOfStockMessage("TP-Link Archer C6"), answer)
}

func TestSynthesisFailureDoesNotCommit(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "atomic", "Hi", "Hello!")
	h.model.rewrite = "What is the price of the Tenda F3?"
	h.model.route = `{"route": "structured"}`
	h.model.synthErr = errors.New("context length exceeded")
	h.structured.answer = "Tenda F3 - Rs. 12,000"

	turn, err := h.pipeline.Run(context.Background(), Request{SessionID: "atomic", Question: "price of the tenda?"}, nil)
	require.NoError(t, err)

	assert.False(t, turn.Committed)
	assert.Equal(t, synth.NotFoundMessage, turn.FinalAnswer)
	assert.Len(t, h.history(t, "atomic"), 2)
}

func TestCancelledTurnIsNotCommitted(t *testing.T) {
	h := newHarness(t)
	h.model.route = `{"route": "structured"}`

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.structured.onAsk = cancel
	h.structured.err = context.Canceled

	turn, err := h.pipeline.Run(ctx, Request{SessionID: "gone", Question: "What is the price of the Tenda F3?"}, nil)
	require.NoError(t, err)
	assert.False(t, turn.Committed)
	assert.Equal(t, synth.NotFoundMessage, turn.FinalAnswer)
	assert.Empty(t, h.history(t, "gone"))

	// the same question on a live context is committed
	h.structured.onAsk = nil
	h.structured.err = nil
	h.structured.answer = "Tenda F3 Router - Rs. 12,000"
	h.model.synth = "The Tenda F3 costs Rs. 12,000."
	turn, err = h.pipeline.Run(context.Background(), Request{SessionID: "gone", Question: "What is the price of the Tenda F3?"}, nil)
	require.NoError(t, err)
	assert.True(t, turn.Committed)
	assert.Len(t, h.history(t, "gone"), 2)
}

func TestTranscriptKeepsOriginalQuestion(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "orig", "Do you have the Tenda F3?", "Yes")
	h.model.rewrite = "What is the price of the Tenda F3?"
	h.model.route = `{"route": "structured"}`
	h.model.synth = "Rs. 12,000"
	h.structured.answer = "Tenda F3 - Rs. 12,000"

	_, err := h.pipeline.Send(context.Background(), Request{SessionID: "orig", Question: "how much is it?"})
	require.NoError(t, err)

	history := h.history(t, "orig")
	require.Len(t, history, 4)
	assert.Equal(t, session.UserRole, history[2].Role)
	assert.Equal(t, "how much is it?", history[2].Content)
	assert.Equal(t, "Rs. 12,000", history[3].Content)
}

func TestStream(t *testing.T) {
	h := newHarness(t)
	h.model.route = `{"route": "small_talk"}`

	ch, err := h.pipeline.Stream(context.Background(), Request{SessionID: "stream", Question: "hi"})
	require.NoError(t, err)

	var fragments []string
	for f := range ch {
		fragments = append(fragments, f)
	}
	require.Len(t, fragments, 2)
	assert.Contains(t, fragments[0], "Welcome")
	assert.Equal(t, streaming.DoneSentinel, fragments[1])

	_, err = h.pipeline.Stream(context.Background(), Request{SessionID: "stream"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestClear(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "clr", "Hi", "Hello!")

	msg, err := h.pipeline.Clear(context.Background(), "clr")
	require.NoError(t, err)
	assert.Equal(t, "History for session clr cleared.", msg)
	assert.Empty(t, h.history(t, "clr"))

	msg, err = h.pipeline.Clear(context.Background(), "clr")
	require.NoError(t, err)
	assert.Equal(t, "No history found for session clr.", msg)

	_, err = h.pipeline.Clear(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestInvalidRequests(t *testing.T) {
	h := newHarness(t)

	_, err := h.pipeline.Send(context.Background(), Request{Question: "hi"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = h.pipeline.Send(context.Background(), Request{SessionID: "x", Question: "   "})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestConcurrentTurnsOnOneSession(t *testing.T) {
	h := newHarness(t)
	h.model.route = `{"route": "small_talk"}`

	const turns = 10
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.pipeline.Send(context.Background(), Request{SessionID: "busy", Question: "hello"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	history := h.history(t, "busy")
	require.Len(t, history, 2*turns)
	for i := 0; i < len(history); i += 2 {
		assert.Equal(t, session.UserRole, history[i].Role)
		assert.Equal(t, session.AssistantRole, history[i+1].Role)
	}
}

func TestProgressEvents(t *testing.T) {
	h := newHarness(t)
	h.model.route = `{"route": "semantic"}`
	h.model.synth = "We are open 9 to 5."
	h.semantic.answer = "Opening hours 9-5"

	events := streaming.NewEventStream("turn")
	var stages []streaming.StageType
	events.Subscribe(func(e streaming.Event) {
		stages = append(stages, e.Stage)
	})

	_, err := h.pipeline.Run(context.Background(), Request{SessionID: "ev", Question: "when are you open?"}, events)
	require.NoError(t, err)

	assert.Equal(t, []streaming.StageType{
		streaming.StageRewrite,
		streaming.StageRoute,
		streaming.StageDispatch,
		streaming.StageSynthesis,
		streaming.StageComplete,
	}, stages)
}

func TestNewRequiresComponents(t *testing.T) {
	_, err := New(Components{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sessions")
	assert.Contains(t, err.Error(), "synthesizer")
}
