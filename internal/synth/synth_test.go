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
	"errors"
	"strings"
	"testing"

	"github.com/your-org/shop-assistant/internal/llm"
	"github.com/your-org/shop-assistant/internal/session"
	"github.com/your-org/shop-assistant/internal/step"
	"go.uber.org/zap"
)

type scriptedModel struct {
	answer   string
	err      error
	requests []llm.Request
}

func (m *scriptedModel) Complete(_ context.Context, req llm.Request) (string, error) {
	m.requests = append(m.requests, req)
	return m.answer, m.err
}

func newTestSynthesizer(model llm.Model) *Synthesizer {
	return NewSynthesizer(model, DefaultPromptConfig(), 800, 0, zap.NewNop())
}

func TestBuildPrompt(t *testing.T) {
	tests := []struct {
		name             string
		input            PromptInput
		expectedContains []string
		notContains      []string
	}{
		{
			name: "structured answer",
			input: PromptInput{
				Question: "What is the price of the Tenda F3?",
				Records:  []step.Record{step.Structured("Tenda F3 - Rs. 12,000", false)},
			},
			expectedContains: []string{
				"User's Latest Question: What is the price of the Tenda F3?",
				"[structured_qa] Tenda F3 - Rs. 12,000",
				"Chat History:\n(none)",
				"Never invent or guess a URL",
			},
			notContains: []string{"Interpreted As", "order_form step"},
		},
		{
			name: "rewritten follow-up with history",
			input: PromptInput{
				Question:   "how much is it?",
				Standalone: "How much is the Tenda F3?",
				History: session.Transcript{
					{Role: session.UserRole, Content: "Do you have the Tenda F3?"},
					{Role: session.AssistantRole, Content: "Yes we do."},
				},
				Records: []step.Record{step.Structured("Rs. 12,000", false)},
			},
			expectedContains: []string{
				"user: Do you have the Tenda F3?",
				"assistant: Yes we do.",
				"Interpreted As: How much is the Tenda F3?",
			},
		},
		{
			name: "order form instructions",
			input: PromptInput{
				Question: "I'll take it",
				Records:  []step.Record{step.OrderForm("Please fill out the form below.", "req_1", "Tenda F3")},
			},
			expectedContains: []string{
				"[order_form] Please fill out the form below. (product: Tenda F3)",
				"Do NOT write any [SHOW_ORDER_FORM] tag",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			system, prompt := BuildPrompt(tt.input, DefaultPromptConfig())
			full := system + "\n" + prompt
			for _, expected := range tt.expectedContains {
				if !strings.Contains(full, expected) {
					t.Errorf("Expected prompt to contain %q", expected)
				}
			}
			for _, unexpected := range tt.notContains {
				if strings.Contains(full, unexpected) {
					t.Errorf("Expected prompt not to contain %q", unexpected)
				}
			}
		})
	}
}

func TestBuildPromptTruncatesLongHistory(t *testing.T) {
	var history session.Transcript
	for i := 0; i < 200; i++ {
		history = append(history, session.Message{Role: session.UserRole, Content: strings.Repeat("long message ", 20)})
	}

	config := PromptConfig{StoreName: "Shop", MaxTokens: 1000}
	system, prompt := BuildPrompt(PromptInput{
		Question: "What is the price of the Tenda F3?",
		History:  history,
		Records:  []step.Record{step.Structured("Rs. 12,000", false)},
	}, config)

	if EstimateTokens(system)+EstimateTokens(prompt) > config.MaxTokens+50 {
		t.Errorf("Prompt not truncated: %d tokens", EstimateTokens(system)+EstimateTokens(prompt))
	}
	if !strings.Contains(prompt, "User's Latest Question: What is the price of the Tenda F3?") {
		t.Error("Truncation must keep the question")
	}
	if !strings.Contains(prompt, "truncated") {
		t.Error("Expected truncation notice")
	}
}

func TestSynthesizeTerminalErrorVerbatim(t *testing.T) {
	model := &scriptedModel{answer: "paraphrase"}
	s := newTestSynthesizer(model)

	for _, record := range []step.Record{step.AuthError("Please log in to place an order."), step.StockError("Sorry, it is out of stock.")} {
		answer, err := s.Synthesize(context.Background(), PromptInput{Question: "buy it", Records: []step.Record{record}})
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if answer != record.Message {
			t.Errorf("Expected %q, got %q", record.Message, answer)
		}
	}
	if len(model.requests) != 0 {
		t.Errorf("Terminal errors must not reach the model, got %d calls", len(model.requests))
	}
}

func TestSynthesizeNotFound(t *testing.T) {
	model := &scriptedModel{answer: "invented"}
	s := newTestSynthesizer(model)

	records := []step.Record{
		step.Structured("No result found", true),
		step.Semantic("No relevant information found in the vector database.", true).AsFallback(),
	}
	answer, err := s.Synthesize(context.Background(), PromptInput{Question: "Do you have flying cars?", Records: records})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if answer != NotFoundMessage {
		t.Errorf("Expected not-found message, got %q", answer)
	}
	if len(model.requests) != 0 {
		t.Error("Empty context must not reach the model")
	}

	answer, _ = s.Synthesize(context.Background(), PromptInput{Question: "q", Records: []step.Record{step.StructuredFailure(errors.New("refused"))}})
	if answer != NotFoundMessage {
		t.Errorf("Expected not-found message for failed lookup, got %q", answer)
	}
}

func TestSynthesizeAnswer(t *testing.T) {
	model := &scriptedModel{answer: "  The Tenda F3 costs Rs. 12,000.  "}
	s := newTestSynthesizer(model)

	answer, err := s.Synthesize(context.Background(), PromptInput{
		Question: "What is the price of the Tenda F3?",
		Records:  []step.Record{step.Structured("Tenda F3 - Rs. 12,000", false)},
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if answer != "The Tenda F3 costs Rs. 12,000." {
		t.Errorf("Unexpected answer %q", answer)
	}
	if len(model.requests) != 1 || model.requests[0].MaxTokens != 800 {
		t.Errorf("Expected one model call with max tokens 800, got %+v", model.requests)
	}
}

func TestSynthesizeOrderFormMarker(t *testing.T) {
	tests := []struct {
		name       string
		modelOut   string
		prefill    string
		wantSuffix string
	}{
		{name: "with product", modelOut: "Great choice! Please fill out the form below.", prefill: "Tenda F3", wantSuffix: "[SHOW_ORDER_FORM:req_1|Tenda F3]"},
		{name: "without product", modelOut: "Please fill out the form below.", wantSuffix: "[SHOW_ORDER_FORM:req_1]"},
		{name: "model marker removed", modelOut: "Sure! [SHOW_ORDER_FORM:made_up|X]", prefill: "Tenda F3", wantSuffix: "Sure!\n\n[SHOW_ORDER_FORM:req_1|Tenda F3]"},
		{name: "blank model answer", modelOut: "   ", wantSuffix: "Fill the form.\n\n[SHOW_ORDER_FORM:req_1]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSynthesizer(&scriptedModel{answer: tt.modelOut})
			answer, err := s.Synthesize(context.Background(), PromptInput{
				Question: "I'll take it",
				Records:  []step.Record{step.OrderForm("Fill the form.", "req_1", tt.prefill)},
			})
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if !strings.HasSuffix(answer, tt.wantSuffix) {
				t.Errorf("Expected suffix %q, got %q", tt.wantSuffix, answer)
			}
			if strings.Count(answer, MarkerPrefix) != 1 {
				t.Errorf("Expected exactly one marker, got %q", answer)
			}
		})
	}
}

func TestSynthesizeModelError(t *testing.T) {
	s := newTestSynthesizer(&scriptedModel{err: errors.New("rate limited")})
	_, err := s.Synthesize(context.Background(), PromptInput{
		Question: "q",
		Records:  []step.Record{step.Semantic("We are open 9-5", false)},
	})
	if err == nil {
		t.Fatal("Expected error")
	}
}

func TestMarkerKeepsDelimitersOutOfProductName(t *testing.T) {
	form := step.OrderForm("m", "req_1", "Cable [2m] | black")
	marker := Marker(form)
	if marker != "[SHOW_ORDER_FORM:req_1|Cable (2m) / black]" {
		t.Errorf("Unexpected marker %q", marker)
	}

	id, product, ok := ParseMarker("Done.\n\n" + marker)
	if !ok || id != "req_1" || product != "Cable (2m) / black" {
		t.Errorf("ParseMarker = %q %q %v", id, product, ok)
	}

	if got := Marker(step.OrderForm("m", "req_2", " | ")); got != "[SHOW_ORDER_FORM:req_2|/]" {
		t.Errorf("Unexpected marker %q", got)
	}
}

func TestMarkerHelpers(t *testing.T) {
	form := step.OrderForm("m", "req_abc", "TP-Link Deco M4")
	if got := Marker(form); got != "[SHOW_ORDER_FORM:req_abc|TP-Link Deco M4]" {
		t.Errorf("Unexpected marker %q", got)
	}

	id, product, ok := ParseMarker("Sure.\n\n" + Marker(form))
	if !ok || id != "req_abc" || product != "TP-Link Deco M4" {
		t.Errorf("ParseMarker = %q %q %v", id, product, ok)
	}

	id, product, ok = ParseMarker("Sure. [SHOW_ORDER_FORM:req_x]")
	if !ok || id != "req_x" || product != "" {
		t.Errorf("ParseMarker without product = %q %q %v", id, product, ok)
	}

	if _, _, ok := ParseMarker("no marker here"); ok {
		t.Error("Expected no marker")
	}
	if got := StripMarkers("A [SHOW_ORDER_FORM:1|x] B"); got != "A  B" {
		t.Errorf("StripMarkers = %q", got)
	}
}

func TestSmallTalkResponder(t *testing.T) {
	history := session.Transcript{{Role: session.UserRole, Content: "My name is Nimal"}}

	model := &scriptedModel{answer: "Of course, your name is Nimal."}
	r := NewSmallTalkResponder(model, "SLT Lifestore", zap.NewNop())

	answer, needsSearch := r.Respond(context.Background(), "Do you remember my name?", history)
	if needsSearch || answer != "Of course, your name is Nimal." {
		t.Errorf("Unexpected response %q %v", answer, needsSearch)
	}
	if !strings.Contains(model.requests[0].Prompt, "user: My name is Nimal") {
		t.Error("Expected history in prompt")
	}
	if !strings.Contains(model.requests[0].System, "SLT Lifestore") {
		t.Error("Expected store name in system prompt")
	}

	for _, m := range []*scriptedModel{{answer: "SEARCH_REQUIRED"}, {answer: ""}, {err: errors.New("down")}} {
		_, needsSearch := NewSmallTalkResponder(m, "", nil).Respond(context.Background(), "what routers do you sell?", nil)
		if !needsSearch {
			t.Errorf("Expected search for %+v", m)
		}
	}

	if !strings.Contains(r.Greeting(), "Welcome to SLT Lifestore") {
		t.Errorf("Unexpected greeting %q", r.Greeting())
	}
}
