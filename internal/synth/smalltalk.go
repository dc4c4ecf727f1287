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

package synth

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/your-org/shop-assistant/internal/llm"
	"github.com/your-org/shop-assistant/internal/session"
)

// SearchRequired is the sentinel the small-talk model returns when it needs
// catalog or company facts
const SearchRequired = "SEARCH_REQUIRED"

// GreetingMessage answers a bare greeting
const GreetingMessage = "Hello! Welcome to %s. How can I help you today? You can ask me about products, prices, availability or our services."

const smallTalkSystemPrompt = `You are a helpful assistant for %s.
The user has asked a general conversational question.

Instructions:
1. Check the chat history.
2. If the user asks a personal question ("Do you remember my name?", "Who am I?"), answer it from the history.
3. If the user greets you or thanks you, reply politely in one or two sentences.
4. If the user asks about products, services, prices, routers, internet or fiber connections, or company details, output only: ` + SearchRequired + `
5. Never invent product information or answer product questions from general knowledge.`

// SmallTalkResponder answers conversational turns from history alone
type SmallTalkResponder struct {
	model     llm.Model
	storeName string
	logger    *zap.Logger
}

// NewSmallTalkResponder creates a SmallTalkResponder
func NewSmallTalkResponder(model llm.Model, storeName string, logger *zap.Logger) *SmallTalkResponder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if storeName == "" {
		storeName = DefaultPromptConfig().StoreName
	}
	return &SmallTalkResponder{model: model, storeName: storeName, logger: logger}
}

// Greeting returns the static greeting
func (r *SmallTalkResponder) Greeting() string {
	return fmt.Sprintf(GreetingMessage, r.storeName)
}

// Respond answers from history. needsSearch is true when the model asked for
// external facts or could not be reached.
func (r *SmallTalkResponder) Respond(ctx context.Context, question string, history session.Transcript) (answer string, needsSearch bool) {
	prompt := fmt.Sprintf("Chat History:\n%s\n\nUser Question: %s", session.FormatTranscript(history), question)

	out, err := r.model.Complete(ctx, llm.Request{
		System:    fmt.Sprintf(smallTalkSystemPrompt, r.storeName),
		Prompt:    prompt,
		MaxTokens: 200,
	})
	if err != nil {
		r.logger.Warn("Small talk response failed, searching instead", zap.Error(err))
		return "", true
	}

	out = strings.TrimSpace(out)
	if out == "" || strings.Contains(out, SearchRequired) {
		return "", true
	}
	return out, false
}
