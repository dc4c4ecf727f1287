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

package classifier

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/your-org/shop-assistant/internal/llm"
)

// routerSystemPrompt holds the label set and the worked examples per label
const routerSystemPrompt = `You are an expert router agent for an online electronics store. Analyze the customer's message and choose exactly one route.
Output JSON with keys "reasoning" and "route".

Routes:

1. "structured": specific product details, prices, availability, listings, or general shopping requests where no specific item is chosen yet.
   - "What routers do you sell?"
   - "How much is the Tenda F3?"
   - "I want to buy a router." (no specific model yet, show options)
   - "I'm looking for a security camera."
   - "Show me available options."

2. "semantic": company services, procedures, contact information, policies or social media content.
   - "What services do you provide?"
   - "How do I contact support?"
   - "What is the process to apply?"

3. "order_intent": ONLY when the customer explicitly wants to BUY or PLACE AN ORDER for a SPECIFIC item that is named or already in context.
   - "I want to buy the Tenda F3."
   - "Place an order for it."
   - "Add the Prolink router to my cart."
   - "I'll take the first one."
   If the customer names only a category ("I want to buy a router"), use "structured".

4. "small_talk": greetings, thanks, identity questions or questions about the customer's own name.
   - "Hello"
   - "Who am I?"
   - "Thanks!"`

// LLMClassifier routes questions with a single prompted model call
type LLMClassifier struct {
	model       llm.Model
	maxTokens   int
	temperature float32
	logger      *zap.Logger
}

// NewLLMClassifier creates a model-backed classifier
func NewLLMClassifier(model llm.Model, maxTokens int, temperature float32, logger *zap.Logger) *LLMClassifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxTokens <= 0 {
		maxTokens = 200
	}
	return &LLMClassifier{
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		logger:      logger,
	}
}

// Classify implements Classifier. A model error is returned together with a
// DefaultRoute decision so callers can proceed either way.
func (c *LLMClassifier) Classify(ctx context.Context, question string) (Decision, error) {
	raw, err := c.model.Complete(ctx, llm.Request{
		System:      routerSystemPrompt,
		Prompt:      "Customer message:\n" + strings.TrimSpace(question),
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		JSON:        true,
	})
	if err != nil {
		return Decision{Route: DefaultRoute, Reasoning: "classifier unavailable"}, fmt.Errorf("route classification failed: %w", err)
	}

	decision := ParseDecision(raw)
	c.logger.Debug("Classified question",
		zap.String("route", string(decision.Route)),
		zap.String("reasoning", decision.Reasoning))

	return decision, nil
}
