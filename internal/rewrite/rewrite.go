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

// Package rewrite turns follow-up utterances into standalone questions.
package rewrite

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/your-org/shop-assistant/internal/llm"
	"github.com/your-org/shop-assistant/internal/session"
)

// DefaultHistoryWindow is the number of transcript messages given to the model
const DefaultHistoryWindow = 6

const rewriteSystemPrompt = `Given a chat history and the latest user input which might reference context in the chat history, formulate a standalone question or statement which can be understood without the chat history.

CRITICAL RULES:
1. Resolve pronouns: replace "it", "that", "the router", "the product" with the specific product name from the history.
2. Preserve intent:
   - If the user asks a question ("What is the price?"), keep it a question ("What is the price of X?").
   - If the user states an action ("I want to buy it", "Order this"), keep it an action ("I want to order X").
   - Never turn an order request into a how-to question.
     BAD: "What is the process to buy X?"
     GOOD: "I want to purchase X."
3. Return only the rewritten text.`

// Result carries both forms of the utterance
type Result struct {
	Standalone string
	Original   string
	Rewritten  bool
}

// Rewriter resolves references in follow-up questions
type Rewriter struct {
	model       llm.Model
	window      int
	maxTokens   int
	temperature float32
	logger      *zap.Logger
}

// Option configures a Rewriter
type Option func(*Rewriter)

// WithHistoryWindow sets how many trailing messages are sent as context
func WithHistoryWindow(n int) Option {
	return func(r *Rewriter) {
		if n > 0 {
			r.window = n
		}
	}
}

// WithSampling sets the completion limits
func WithSampling(maxTokens int, temperature float32) Option {
	return func(r *Rewriter) {
		r.maxTokens = maxTokens
		r.temperature = temperature
	}
}

// New creates a Rewriter
func New(model llm.Model, logger *zap.Logger, opts ...Option) *Rewriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Rewriter{
		model:     model,
		window:    DefaultHistoryWindow,
		maxTokens: 200,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rewrite returns a standalone form of question. With no history the
// question is returned unchanged without a model call. A failed or blank
// model answer also leaves the question unchanged.
func (r *Rewriter) Rewrite(ctx context.Context, question string, history session.Transcript) Result {
	result := Result{Standalone: question, Original: question}
	if len(history) == 0 {
		return result
	}

	prompt := fmt.Sprintf("Chat History:\n%s\n\nUser Input: %s",
		session.FormatTranscript(history.Last(r.window)), question)

	out, err := r.model.Complete(ctx, llm.Request{
		System:      rewriteSystemPrompt,
		Prompt:      prompt,
		MaxTokens:   r.maxTokens,
		Temperature: r.temperature,
	})
	if err != nil {
		r.logger.Warn("Query rewrite failed, using original question",
			zap.String("question", question),
			zap.Error(err))
		return result
	}

	standalone := llm.CleanLine(firstLine(out))
	if standalone == "" {
		return result
	}

	r.logger.Info("Rewrote query",
		zap.String("original", question),
		zap.String("standalone", standalone))

	result.Standalone = standalone
	result.Rewritten = standalone != question
	return result
}

// firstLine drops any explanation the model appends after the rewrite
func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
