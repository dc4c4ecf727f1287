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

// Package llm defines the language-model capability the conversational
// pipeline depends on. Providers (see internal/openai) implement Model; the
// pipeline never talks to a provider SDK directly.
package llm

import (
	"context"
	"strings"
	"time"
)

// Request is a single completion request
type Request struct {
	// System is the optional system instruction
	System string
	// Prompt is the user-turn content
	Prompt string
	// MaxTokens caps the completion length (0 uses the provider default)
	MaxTokens int
	// Temperature controls sampling
	Temperature float32
	// JSON asks the provider to return a JSON object
	JSON bool
}

// Model produces a completion for a request
type Model interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// ModelFunc adapts a function to the Model interface
type ModelFunc func(ctx context.Context, req Request) (string, error)

// Complete implements Model
func (f ModelFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// CleanLine trims whitespace and wrapping quotes from a short model answer
func CleanLine(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"'`")
	return strings.TrimSpace(s)
}

// WithTimeout bounds every call to m by d. A non-positive d returns m.
func WithTimeout(m Model, d time.Duration) Model {
	if d <= 0 {
		return m
	}
	return ModelFunc(func(ctx context.Context, req Request) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return m.Complete(ctx, req)
	})
}
