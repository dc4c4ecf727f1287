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

// Package metrics exposes Prometheus instruments for the conversation
// pipeline. A nil *Collector is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "shop_assistant"

// Turn outcomes
const (
	OutcomeAnswered  = "answered"
	OutcomeTerminal  = "terminal"
	OutcomeNotFound  = "not_found"
	OutcomeFailed    = "failed"
	OutcomeAbandoned = "abandoned"
)

// Backend call outcomes
const (
	CallOK    = "ok"
	CallEmpty = "empty"
	CallError = "error"
)

// Collector holds the pipeline instruments
type Collector struct {
	turns         *prometheus.CounterVec
	outcomes      *prometheus.CounterVec
	fallbacks     *prometheus.CounterVec
	backendCalls  *prometheus.CounterVec
	orders        *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	breakerState  *prometheus.GaugeVec
}

// New registers the instruments on reg. Pass prometheus.NewRegistry() in
// tests to avoid clashing with the default registry.
func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		turns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "turns_total",
			Help:      "Turns processed by resolved route",
		}, []string{"route"}),
		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "turn_outcomes_total",
			Help:      "Turns by final outcome",
		}, []string{"outcome"}),
		fallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "fallbacks_total",
			Help:      "Supplementary semantic lookups by trigger",
		}, []string{"trigger"}),
		backendCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "calls_total",
			Help:      "Collaborator calls by service and outcome",
		}, []string{"service", "outcome"}),
		orders: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "placed_total",
			Help:      "Order submissions by outcome",
		}, []string{"outcome"}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"stage"}),
		breakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "circuit_state",
			Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		}, []string{"service"}),
	}
}

// TurnRouted counts a turn under its resolved route
func (c *Collector) TurnRouted(route string) {
	if c == nil {
		return
	}
	c.turns.WithLabelValues(route).Inc()
}

// TurnCompleted counts a turn outcome
func (c *Collector) TurnCompleted(outcome string) {
	if c == nil {
		return
	}
	c.outcomes.WithLabelValues(outcome).Inc()
}

// Fallback counts a supplementary semantic lookup
func (c *Collector) Fallback(trigger string) {
	if c == nil {
		return
	}
	c.fallbacks.WithLabelValues(trigger).Inc()
}

// BackendCall counts a collaborator call
func (c *Collector) BackendCall(service, outcome string) {
	if c == nil {
		return
	}
	c.backendCalls.WithLabelValues(service, outcome).Inc()
}

// OrderPlaced counts an order submission
func (c *Collector) OrderPlaced(outcome string) {
	if c == nil {
		return
	}
	c.orders.WithLabelValues(outcome).Inc()
}

// ObserveStage records how long a stage took
func (c *Collector) ObserveStage(stage string, d time.Duration) {
	if c == nil {
		return
	}
	c.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// SetBreakerState records a breaker's state as its numeric value
func (c *Collector) SetBreakerState(service string, state int) {
	if c == nil {
		return
	}
	c.breakerState.WithLabelValues(service).Set(float64(state))
}
