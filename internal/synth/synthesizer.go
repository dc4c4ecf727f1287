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
	"time"

	"go.uber.org/zap"

	"github.com/your-org/shop-assistant/internal/llm"
	"github.com/your-org/shop-assistant/internal/step"
)

// Synthesizer produces the final answer of a turn. It is the only component
// that asks the model for open-ended text.
type Synthesizer struct {
	model       llm.Model
	config      PromptConfig
	maxTokens   int
	temperature float32
	logger      *zap.Logger
}

// NewSynthesizer creates a Synthesizer
func NewSynthesizer(model llm.Model, config PromptConfig, maxTokens int, temperature float32, logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.StoreName == "" {
		config.StoreName = DefaultPromptConfig().StoreName
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = DefaultPromptConfig().MaxTokens
	}
	return &Synthesizer{
		model:       model,
		config:      config,
		maxTokens:   maxTokens,
		temperature: temperature,
		logger:      logger,
	}
}

// Synthesize answers from the turn's records. Auth and stock errors are
// returned verbatim; a turn without usable content gets NotFoundMessage
// without a model call. An order form always ends the answer with its marker.
func (s *Synthesizer) Synthesize(ctx context.Context, in PromptInput) (string, error) {
	if terminal, ok := step.TerminalError(in.Records); ok {
		return terminal.Message, nil
	}

	form, hasForm := step.Find(in.Records, step.KindOrderForm)
	if !hasForm && !step.AnyContent(in.Records) {
		s.logger.Info("No usable context, returning not-found answer",
			zap.Int("records", len(in.Records)))
		return NotFoundMessage, nil
	}

	system, prompt := BuildPrompt(in, s.config)
	start := time.Now()
	out, err := s.model.Complete(ctx, llm.Request{
		System:      system,
		Prompt:      prompt,
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("synthesis failed: %w", err)
	}

	answer := StripMarkers(out)
	if answer == "" {
		if hasForm {
			answer = form.Message
		} else {
			answer = NotFoundMessage
		}
	}

	s.logger.Debug("Synthesized answer",
		zap.Duration("processing_time", time.Since(start)),
		zap.Int("answer_length", len(answer)),
		zap.Bool("order_form", hasForm))

	if hasForm {
		return AppendMarker(answer, form), nil
	}
	return answer, nil
}
