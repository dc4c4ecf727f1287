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

// Package synth builds the final answer of a turn from its step records.
package synth

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/your-org/shop-assistant/internal/session"
	"github.com/your-org/shop-assistant/internal/step"
)

// NotFoundMessage is the answer when no record carries usable information
const NotFoundMessage = "I'm sorry, I could not find any specific information about that."

// PromptConfig holds configuration for prompt generation
type PromptConfig struct {
	// StoreName is the shop the assistant speaks for
	StoreName string
	// MaxTokens is the budget for the whole prompt
	MaxTokens int
}

// DefaultPromptConfig returns default configuration
func DefaultPromptConfig() PromptConfig {
	return PromptConfig{
		StoreName: "SLT Lifestore",
		MaxTokens: 6000,
	}
}

// PromptInput is everything the synthesis prompt is built from
type PromptInput struct {
	// Question is what the user actually typed
	Question string
	// Standalone is the rewritten question, if it differs
	Standalone string
	History    session.Transcript
	Records    []step.Record
}

// BuildPrompt renders the synthesis instructions and the user prompt
func BuildPrompt(in PromptInput, config PromptConfig) (system, prompt string) {
	_, hasForm := step.Find(in.Records, step.KindOrderForm)
	system = buildSystemPrompt(config.StoreName, hasForm)

	var b strings.Builder
	b.WriteString("Chat History:\n")
	if history := session.FormatTranscript(in.History); history != "" {
		b.WriteString(history)
	} else {
		b.WriteString("(none)")
	}
	b.WriteString("\n\nIntermediate Steps Context:\n")
	b.WriteString(step.Render(in.Records))
	b.WriteString(fmt.Sprintf("\n\nUser's Latest Question: %s\n", in.Question))
	if in.Standalone != "" && in.Standalone != in.Question {
		b.WriteString(fmt.Sprintf("Interpreted As: %s\n", in.Standalone))
	}
	b.WriteString("\nFinal Answer:")

	prompt = b.String()
	if budget := config.MaxTokens - EstimateTokens(system); budget > 0 && EstimateTokens(prompt) > budget {
		prompt = TruncateToTokenLimit(prompt, budget)
	}
	return system, prompt
}

func buildSystemPrompt(storeName string, orderForm bool) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("You are a helpful shopping assistant for %s. Answer based ONLY on the context provided.\n\n", storeName))
	b.WriteString(`Rules:
1. Use only facts found in the Intermediate Steps Context. Never add product, price or company details from general knowledge.
2. Never invent or guess a URL. Only repeat links that appear in the context.
3. When the context lists a product with a link, format it as [Product Name](URL) - Rs. Price.
4. Use the chat history only to understand what the user is referring to.
5. If the context is empty or only says nothing was found, reply exactly: "` + NotFoundMessage + `"
6. Be concise and friendly.
`)
	if orderForm {
		b.WriteString(`7. The context contains an order_form step. Reply with one short sentence confirming that the order form is being shown. Do NOT write any [SHOW_ORDER_FORM] tag or form markup yourself.
`)
	}
	return b.String()
}

// EstimateTokens provides a rough estimate of token count (4 characters per token)
func EstimateTokens(text string) int {
	return utf8.RuneCountInString(text) / 4
}

// TruncateToTokenLimit keeps the tail of text, where the question sits,
// when the prompt exceeds the token limit
func TruncateToTokenLimit(text string, maxTokens int) string {
	if EstimateTokens(text) <= maxTokens {
		return text
	}

	targetChars := int(float64(maxTokens) * 4 * 0.9)
	runes := []rune(text)
	if len(runes) <= targetChars {
		return text
	}
	return "[Earlier context truncated due to length limits]\n..." + string(runes[len(runes)-targetChars:])
}
