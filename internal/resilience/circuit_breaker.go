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

package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CircuitState is the position of a breaker
type CircuitState int

// Breaker positions. Closed passes calls, open rejects them until the
// cool-down ends, half-open admits a single probe.
const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

var circuitStateNames = [...]string{"closed", "open", "half-open"}

func (s CircuitState) String() string {
	if int(s) < 0 || int(s) >= len(circuitStateNames) {
		return "unknown"
	}
	return circuitStateNames[s]
}

// ErrCircuitBreakerOpen is returned without calling the backend while the
// breaker is open
var ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig configures one backend's breaker
type CircuitBreakerConfig struct {
	Name string
	// MaxFailures consecutive failures open the breaker
	MaxFailures int
	// ResetTimeout is how long an open breaker rejects calls before probing
	ResetTimeout time.Duration
	// OnStateChange is called with the breaker lock held; keep it short
	OnStateChange func(name string, from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns the breaker settings used for the
// retrieval backends
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{Name: name, MaxFailures: 5, ResetTimeout: 30 * time.Second}
}

// CircuitBreakerStats is a point-in-time view of a breaker
type CircuitBreakerStats struct {
	Name                string    `json:"name"`
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Calls               int       `json:"calls"`
	TotalFailures       int       `json:"total_failures"`
	Since               time.Time `json:"since"`
}

// CircuitBreaker stops calling a backend that keeps failing
type CircuitBreaker struct {
	cfg    CircuitBreakerConfig
	logger *zap.Logger
	now    func() time.Time

	mu          sync.Mutex
	state       CircuitState
	since       time.Time
	probing     bool
	consecutive int
	calls       int
	failures    int
}

// NewCircuitBreaker creates a closed breaker
func NewCircuitBreaker(cfg CircuitBreakerConfig, logger *zap.Logger) *CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxFailures < 1 {
		cfg.MaxFailures = 1
	}
	return &CircuitBreaker{cfg: cfg, logger: logger, now: time.Now, since: time.Now()}
}

// Execute calls fn unless the breaker is open. Cancellation by the caller
// is not held against the backend.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.settle(err != nil && !errors.Is(err, context.Canceled), err)
	return err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && cb.now().Sub(cb.since) >= cb.cfg.ResetTimeout {
		cb.moveTo(CircuitHalfOpen)
	}

	switch {
	case cb.state == CircuitOpen:
		return ErrCircuitBreakerOpen
	case cb.state == CircuitHalfOpen && cb.probing:
		return ErrCircuitBreakerOpen
	case cb.state == CircuitHalfOpen:
		cb.probing = true
	}
	return nil
}

func (cb *CircuitBreaker) settle(failed bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.calls++
	cb.probing = false

	if !failed {
		cb.consecutive = 0
		if cb.state == CircuitHalfOpen {
			cb.moveTo(CircuitClosed)
		}
		return
	}

	cb.consecutive++
	cb.failures++
	cb.logger.Debug("Backend call failed",
		zap.String("breaker", cb.cfg.Name),
		zap.Int("consecutive", cb.consecutive),
		zap.Error(err))

	if cb.state == CircuitHalfOpen || cb.consecutive >= cb.cfg.MaxFailures {
		cb.moveTo(CircuitOpen)
	}
}

// moveTo requires cb.mu
func (cb *CircuitBreaker) moveTo(to CircuitState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state, cb.since, cb.probing = to, cb.now(), false
	if to == CircuitClosed {
		cb.consecutive = 0
	}

	cb.logger.Info("Circuit breaker state changed",
		zap.String("breaker", cb.cfg.Name),
		zap.Stringer("from", from),
		zap.Stringer("to", to))
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}

// State reports the breaker position
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats reports the breaker counters
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return CircuitBreakerStats{
		Name:                cb.cfg.Name,
		State:               cb.state.String(),
		ConsecutiveFailures: cb.consecutive,
		Calls:               cb.calls,
		TotalFailures:       cb.failures,
		Since:               cb.since,
	}
}

// Reset closes the breaker
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.moveTo(CircuitClosed)
	cb.consecutive = 0
}
