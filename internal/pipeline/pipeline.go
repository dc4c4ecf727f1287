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

// Package pipeline runs one conversational turn: rewrite, route, dispatch or
// prepare an order, synthesize, then commit the exchange to the session.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/shop-assistant/internal/classifier"
	"github.com/your-org/shop-assistant/internal/dispatch"
	"github.com/your-org/shop-assistant/internal/metrics"
	"github.com/your-org/shop-assistant/internal/order"
	"github.com/your-org/shop-assistant/internal/rewrite"
	"github.com/your-org/shop-assistant/internal/session"
	"github.com/your-org/shop-assistant/internal/step"
	"github.com/your-org/shop-assistant/internal/streaming"
	"github.com/your-org/shop-assistant/internal/synth"
)

// ErrInvalidRequest is returned for requests without a session id or question
var ErrInvalidRequest = errors.New("invalid request")

// Request is one user utterance
type Request struct {
	SessionID string
	Question  string
	// UserID is the authenticated customer, 0 when anonymous
	UserID int64
}

// Turn is the full record of one processed utterance
type Turn struct {
	SessionID         string             `json:"session_id"`
	OriginalQuestion  string             `json:"original_question"`
	RewrittenQuestion string             `json:"rewritten_question"`
	Route             classifier.Route   `json:"route"`
	Reasoning         string             `json:"reasoning"`
	Records           []step.Record      `json:"step_records"`
	FinalAnswer       string             `json:"final_answer"`
	Committed         bool               `json:"committed"`
	Duration          time.Duration      `json:"duration"`
	History           session.Transcript `json:"-"`
}

// Components are the stages the pipeline is assembled from
type Components struct {
	Sessions    *session.Store
	Rewriter    *rewrite.Rewriter
	Router      classifier.Classifier
	Dispatcher  *dispatch.Dispatcher
	Orders      *order.Preparer
	Synthesizer *synth.Synthesizer
	SmallTalk   *synth.SmallTalkResponder
}

// Pipeline is the turn orchestrator
type Pipeline struct {
	Components
	metrics     *metrics.Collector
	turnTimeout time.Duration
	logger      *zap.Logger
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithMetrics records turn metrics on m
func WithMetrics(m *metrics.Collector) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithTurnTimeout bounds each turn, lock wait included
func WithTurnTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		p.turnTimeout = d
	}
}

// New assembles a pipeline. Every component is required.
func New(c Components, logger *zap.Logger, opts ...Option) (*Pipeline, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	missing := []string{}
	if c.Sessions == nil {
		missing = append(missing, "sessions")
	}
	if c.Rewriter == nil {
		missing = append(missing, "rewriter")
	}
	if c.Router == nil {
		missing = append(missing, "router")
	}
	if c.Dispatcher == nil {
		missing = append(missing, "dispatcher")
	}
	if c.Orders == nil {
		missing = append(missing, "orders")
	}
	if c.Synthesizer == nil {
		missing = append(missing, "synthesizer")
	}
	if c.SmallTalk == nil {
		missing = append(missing, "small talk responder")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("pipeline components missing: %s", strings.Join(missing, ", "))
	}

	p := &Pipeline{Components: c, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Send processes one utterance and returns the final answer
func (p *Pipeline) Send(ctx context.Context, req Request) (string, error) {
	turn, err := p.Run(ctx, req, nil)
	if err != nil {
		return "", err
	}
	return turn.FinalAnswer, nil
}

// Stream processes one utterance and delivers the answer as a single
// fragment followed by the done sentinel. The channel is closed afterwards.
func (p *Pipeline) Stream(ctx context.Context, req Request) (<-chan string, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	out := make(chan string, 2)
	go func() {
		defer close(out)

		answer, err := p.Send(ctx, req)
		if err != nil {
			p.logger.Warn("Streamed turn failed",
				zap.String("session_id", req.SessionID),
				zap.Error(err))
			answer = synth.NotFoundMessage
		}
		out <- answer
		out <- streaming.DoneSentinel
	}()
	return out, nil
}

// Clear drops a session's history and returns a confirmation message
func (p *Pipeline) Clear(ctx context.Context, sessionID string) (string, error) {
	if !session.ValidID(sessionID) {
		return "", fmt.Errorf("%w: session id is required", ErrInvalidRequest)
	}

	cleared, err := p.Sessions.Clear(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if !cleared {
		return fmt.Sprintf("No history found for session %s.", sessionID), nil
	}
	return fmt.Sprintf("History for session %s cleared.", sessionID), nil
}

// Run processes one utterance and returns the whole turn. Only invalid
// requests and lock waits that outlive ctx are errors; every other failure
// degrades to some answer. events may be nil.
func (p *Pipeline) Run(ctx context.Context, req Request, events *streaming.EventStream) (*Turn, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	if p.turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.turnTimeout)
		defer cancel()
	}

	release, err := p.Sessions.Lock(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	logger := p.logger.With(zap.String("session_id", req.SessionID))

	history, err := p.Sessions.History(ctx, req.SessionID)
	if err != nil {
		logger.Warn("Failed to load session history, continuing without it", zap.Error(err))
		history = session.Transcript{}
	}

	turn := &Turn{
		SessionID:        req.SessionID,
		OriginalQuestion: req.Question,
		History:          history,
	}

	answer, synthErr := p.answer(ctx, turn, req, events, logger)
	turn.Duration = time.Since(start)
	p.metrics.ObserveStage("turn", turn.Duration)

	if synthErr != nil {
		logger.Error("Synthesis failed, turn not committed",
			zap.String("route", string(turn.Route)),
			zap.Error(synthErr))
		p.metrics.TurnCompleted(metrics.OutcomeFailed)
		turn.FinalAnswer = synth.NotFoundMessage
		return turn, nil
	}
	turn.FinalAnswer = answer

	// stages that ran against a dead context answered from degraded
	// results, so the exchange stays out of history
	if err := ctx.Err(); err != nil {
		logger.Warn("Turn abandoned before completion, not committed",
			zap.String("route", string(turn.Route)),
			zap.Error(err))
		p.metrics.TurnCompleted(metrics.OutcomeAbandoned)
		return turn, nil
	}

	// synthesis finished while the caller was still there; a disconnect
	// during the write must not lose the turn
	if _, err := p.Sessions.Commit(context.WithoutCancel(ctx), req.SessionID, history, req.Question, answer); err != nil {
		logger.Error("Failed to commit turn", zap.Error(err))
	} else {
		turn.Committed = true
	}

	p.metrics.TurnCompleted(outcome(turn))
	events.Emit(streaming.StageComplete, "Turn complete", map[string]any{
		"route":     string(turn.Route),
		"committed": turn.Committed,
	})

	logger.Info("Turn processed",
		zap.String("route", string(turn.Route)),
		zap.Int("step_records", len(turn.Records)),
		zap.Bool("rewritten", turn.RewrittenQuestion != turn.OriginalQuestion),
		zap.Duration("processing_time", turn.Duration))

	return turn, nil
}

// answer runs every stage after history is loaded. The error is non-nil
// only when synthesis failed.
func (p *Pipeline) answer(ctx context.Context, turn *Turn, req Request, events *streaming.EventStream, logger *zap.Logger) (string, error) {
	stageStart := time.Now()
	rewritten := p.Rewriter.Rewrite(ctx, req.Question, turn.History)
	p.metrics.ObserveStage("rewrite", time.Since(stageStart))
	turn.RewrittenQuestion = rewritten.Standalone
	events.Emit(streaming.StageRewrite, "Rewrote question", map[string]any{
		"standalone": rewritten.Standalone,
		"rewritten":  rewritten.Rewritten,
	})

	stageStart = time.Now()
	decision, err := p.Router.Classify(ctx, rewritten.Standalone)
	p.metrics.ObserveStage("route", time.Since(stageStart))
	if err != nil {
		logger.Warn("Routing failed, using default route", zap.Error(err))
	}
	if !decision.Route.Valid() {
		decision = classifier.Decision{Route: classifier.DefaultRoute, Reasoning: "invalid route " + string(decision.Route)}
	}
	turn.Route = decision.Route
	turn.Reasoning = decision.Reasoning
	p.metrics.TurnRouted(string(decision.Route))
	events.Emit(streaming.StageRoute, "Routed question", map[string]any{
		"route":     string(decision.Route),
		"reasoning": decision.Reasoning,
	})

	logger.Info("Routed question",
		zap.String("route", string(decision.Route)),
		zap.String("reasoning", decision.Reasoning))

	// records start empty on every turn
	var records []step.Record

	switch decision.Route {
	case classifier.RouteStructured:
		records = p.Dispatcher.StructuredWithFallback(ctx, rewritten.Standalone)
		events.Emit(streaming.StageDispatch, "Structured lookup finished", map[string]any{"records": len(records)})

	case classifier.RouteSemantic:
		records = []step.Record{p.Dispatcher.Semantic(ctx, rewritten.Standalone)}
		events.Emit(streaming.StageDispatch, "Semantic lookup finished", nil)

	case classifier.RouteOrderIntent:
		stageStart = time.Now()
		records = []step.Record{p.Orders.Prepare(ctx, order.Input{
			SessionID: req.SessionID,
			UserID:    req.UserID,
			Question:  rewritten.Standalone,
			History:   turn.History,
		})}
		p.metrics.ObserveStage("order", time.Since(stageStart))
		events.Emit(streaming.StageOrder, "Order intent prepared", map[string]any{"kind": string(records[0].Kind)})

	case classifier.RouteSmallTalk:
		if classifier.IsGreeting(req.Question) {
			return p.SmallTalk.Greeting(), nil
		}
		reply, needsSearch := p.SmallTalk.Respond(ctx, req.Question, turn.History)
		if !needsSearch {
			return reply, nil
		}
		logger.Info("Small talk needs external facts, searching")
		records = []step.Record{p.Dispatcher.Supplement(ctx, rewritten.Standalone, dispatch.TriggerSmallTalk)}
		events.Emit(streaming.StageDispatch, "Semantic lookup finished", nil)
	}
	turn.Records = records

	stageStart = time.Now()
	answer, err := p.Synthesizer.Synthesize(ctx, synth.PromptInput{
		Question:   req.Question,
		Standalone: rewritten.Standalone,
		History:    turn.History,
		Records:    records,
	})
	p.metrics.ObserveStage("synthesize", time.Since(stageStart))
	if err != nil {
		return "", err
	}
	events.Emit(streaming.StageSynthesis, "Synthesized answer", nil)
	return answer, nil
}

func outcome(turn *Turn) string {
	if _, ok := step.TerminalError(turn.Records); ok {
		return metrics.OutcomeTerminal
	}
	if turn.FinalAnswer == synth.NotFoundMessage {
		return metrics.OutcomeNotFound
	}
	return metrics.OutcomeAnswered
}

func validate(req Request) error {
	if !session.ValidID(req.SessionID) {
		return fmt.Errorf("%w: session id is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.Question) == "" {
		return fmt.Errorf("%w: question is required", ErrInvalidRequest)
	}
	return nil
}
