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

// Package resilience wraps calls to collaborator services with retries,
// deadlines and circuit breakers, and defines the error body returned by
// the HTTP API.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// BackoffConfig is a retry policy. Attempt n (from zero) waits
// BaseDelay*Multiplier^n before the next try, capped at MaxDelay.
type BackoffConfig struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	MaxRetries int
	// Retryable overrides IsRetryable
	Retryable func(error) bool
}

// DefaultBackoffConfig retries a backend call once after half a second
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2,
		MaxRetries: 1,
	}
}

func (c BackoffConfig) delay(attempt int) time.Duration {
	mult := c.Multiplier
	if mult <= 0 {
		mult = 2
	}
	d := float64(c.BaseDelay)
	for i := 0; i < attempt; i++ {
		d *= mult
	}
	if c.MaxDelay > 0 && d > float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(d)
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsRetryable reports whether another attempt could succeed. Permanent
// errors, context errors and an open breaker are final.
func IsRetryable(err error) bool {
	var p permanentError
	switch {
	case err == nil, errors.As(err, &p):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, ErrCircuitBreakerOpen):
		return false
	}
	return true
}

// WithExponentialBackoff runs fn until it succeeds, fails with a final
// error, or runs out of retries
func WithExponentialBackoff(ctx context.Context, logger *zap.Logger, cfg BackoffConfig, fn func(context.Context) error) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	retryable := cfg.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}

	attempts := cfg.MaxRetries + 1
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			wait := cfg.delay(attempt - 1)
			logger.Debug("Retrying backend call",
				zap.Int("attempt", attempt+1),
				zap.Duration("wait", wait),
				zap.Error(err))

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		if err = fn(ctx); err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", attempts, err)
}
