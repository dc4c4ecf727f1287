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
	"time"

	"go.uber.org/zap"
)

// WithTimeout gives fn at most timeout to finish. It returns when the
// deadline passes even if fn has not; fn then runs on in the background
// until it notices its context. A timeout <= 0 runs fn directly.
func WithTimeout(ctx context.Context, timeout time.Duration, logger *zap.Logger, fn func(context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}

	deadlineCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := make(chan error, 1)
	go func() { result <- fn(deadlineCtx) }()

	select {
	case err := <-result:
		return err
	case <-deadlineCtx.Done():
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if logger != nil {
		logger.Warn("Call exceeded its deadline", zap.Duration("timeout", timeout))
	}
	return NewError(ErrorCodeTimeout, "operation timed out", deadlineCtx.Err())
}
