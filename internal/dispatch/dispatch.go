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

// Package dispatch calls the backend collaborators for a turn, turns their
// text answers into step records and runs the structured-miss fallback.
package dispatch

import (
	"context"
	"strings"
	"time"

	"github.com/your-org/shop-assistant/internal/metrics"
	"github.com/your-org/shop-assistant/internal/step"
	"go.uber.org/zap"
)

// NoSemanticResult is the canonical text stored for an empty semantic lookup
const NoSemanticResult = "No relevant information found in the vector database."

// Fallback triggers reported to metrics
const (
	TriggerStructuredEmpty = "structured_empty"
	TriggerSmallTalk       = "small_talk"
)

// structuredEmptyMarkers are matched case-insensitively anywhere in a
// structured answer. Prose is the only signal the service gives, so a valid
// answer that happens to contain one of these is treated as a miss.
var structuredEmptyMarkers = []string{
	"no result found",
	"error",
	"no data",
	"not found",
	"no information",
	"[]",
}

const semanticEmptyMarker = "no relevant information found"

// IsStructuredEmpty reports whether a Structured Query Service answer is a miss
func IsStructuredEmpty(result string) bool {
	text := strings.ToLower(strings.TrimSpace(result))
	if text == "" {
		return true
	}
	for _, marker := range structuredEmptyMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// IsSemanticEmpty reports whether a Semantic Search Service answer is a miss
func IsSemanticEmpty(result string) bool {
	text := strings.ToLower(strings.TrimSpace(result))
	return text == "" || strings.Contains(text, semanticEmptyMarker)
}

// Asker answers a natural-language question with text
type Asker interface {
	Ask(ctx context.Context, question string) (string, error)
}

// AskerFunc adapts a function to Asker
type AskerFunc func(ctx context.Context, question string) (string, error)

// Ask implements Asker
func (f AskerFunc) Ask(ctx context.Context, question string) (string, error) {
	return f(ctx, question)
}

// Dispatcher owns the two collaborator clients
type Dispatcher struct {
	structured Asker
	semantic   Asker
	metrics    *metrics.Collector
	logger     *zap.Logger
}

// New creates a dispatcher. m may be nil.
func New(structured, semantic Asker, m *metrics.Collector, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		structured: structured,
		semantic:   semantic,
		metrics:    m,
		logger:     logger,
	}
}

// Structured asks the Structured Query Service. A transport failure yields a
// failure record, which is not a miss.
func (d *Dispatcher) Structured(ctx context.Context, question string) step.Record {
	start := time.Now()
	result, err := d.structured.Ask(ctx, question)
	d.metrics.ObserveStage("structured_lookup", time.Since(start))

	if err != nil {
		d.logger.Warn("Structured lookup failed", zap.Error(err))
		d.metrics.BackendCall("structured", metrics.CallError)
		return step.StructuredFailure(err)
	}

	empty := IsStructuredEmpty(result)
	d.logger.Debug("Structured lookup finished",
		zap.Bool("empty", empty),
		zap.Duration("processing_time", time.Since(start)))
	if empty {
		d.metrics.BackendCall("structured", metrics.CallEmpty)
	} else {
		d.metrics.BackendCall("structured", metrics.CallOK)
	}
	return step.Structured(result, empty)
}

// Semantic asks the Semantic Search Service. An empty answer is stored as
// NoSemanticResult.
func (d *Dispatcher) Semantic(ctx context.Context, question string) step.Record {
	start := time.Now()
	result, err := d.semantic.Ask(ctx, question)
	d.metrics.ObserveStage("semantic_lookup", time.Since(start))

	if err != nil {
		d.logger.Warn("Semantic lookup failed", zap.Error(err))
		d.metrics.BackendCall("semantic", metrics.CallError)
		return step.SemanticFailure(err)
	}

	if IsSemanticEmpty(result) {
		d.metrics.BackendCall("semantic", metrics.CallEmpty)
		return step.Semantic(NoSemanticResult, true)
	}

	d.metrics.BackendCall("semantic", metrics.CallOK)
	return step.Semantic(result, false)
}

// StructuredWithFallback runs the structured lookup and, when it misses,
// exactly one supplementary semantic lookup
func (d *Dispatcher) StructuredWithFallback(ctx context.Context, question string) []step.Record {
	primary := d.Structured(ctx, question)
	records := []step.Record{primary}

	if primary.Empty {
		d.logger.Info("Structured lookup empty, falling back to semantic search")
		records = append(records, d.Supplement(ctx, question, TriggerStructuredEmpty))
	}
	return records
}

// Supplement runs a semantic lookup on behalf of another route
func (d *Dispatcher) Supplement(ctx context.Context, question, trigger string) step.Record {
	d.metrics.Fallback(trigger)
	return d.Semantic(ctx, question).AsFallback()
}
