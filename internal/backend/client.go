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

// Package backend calls the Structured Query and Semantic Search services.
// Both speak the same contract: POST {"question": q} and receive
// {"result": text}.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/your-org/shop-assistant/internal/resilience"
	"go.uber.org/zap"
)

const (
	// StructuredQueryPath is the default structured query endpoint
	StructuredQueryPath = "/db/graph/query"
	// SemanticSearchPath is the default semantic search endpoint
	SemanticSearchPath = "/db/vector/search"
	// HealthPath is probed by HealthCheck
	HealthPath = "/health"

	maxErrorBody = 512
)

// ErrEmptyQuestion is returned when Ask is called with a blank question
var ErrEmptyQuestion = errors.New("question is empty")

// Config configures one collaborator client
type Config struct {
	// Name identifies the service in logs, metrics and breaker state
	Name string
	// BaseURL is the service root, e.g. http://localhost:8000
	BaseURL string
	// Path is the question endpoint below BaseURL
	Path string
	// Timeout bounds each attempt
	Timeout time.Duration
	// MaxRetries is the number of retries after the first attempt
	MaxRetries int
	// RetryDelay is the base backoff delay
	RetryDelay time.Duration
}

// Client talks to one question-answering collaborator
type Client struct {
	config     Config
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	logger     *zap.Logger
}

// Option customises a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithCircuitBreaker replaces the default breaker
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *Client) {
		c.breaker = cb
	}
}

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	Result string `json:"result"`
}

// NewClient creates a collaborator client
func NewClient(cfg Config, logger *zap.Logger, opts ...Option) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("%s: base URL is required", cfg.Name)
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("%s: path is required", cfg.Name)
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = resilience.DefaultBackoffConfig().BaseDelay
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := &Client{
		config:     cfg,
		httpClient: &http.Client{},
		logger:     logger.With(zap.String("backend", cfg.Name)),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig(cfg.Name), logger)
	}

	return c, nil
}

// Name returns the configured service name
func (c *Client) Name() string {
	return c.config.Name
}

// Ask sends a question and returns the service's result text
func (c *Client) Ask(ctx context.Context, question string) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", ErrEmptyQuestion
	}

	backoff := resilience.DefaultBackoffConfig()
	backoff.MaxRetries = c.config.MaxRetries
	backoff.BaseDelay = c.config.RetryDelay

	var result string
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.WithExponentialBackoff(ctx, c.logger, backoff, func(ctx context.Context) error {
			return resilience.WithTimeout(ctx, c.config.Timeout, c.logger, func(ctx context.Context) error {
				r, err := c.post(ctx, question)
				if err != nil {
					return err
				}
				result = r
				return nil
			})
		})
	})
	if err != nil {
		return "", fmt.Errorf("%s request failed: %w", c.config.Name, err)
	}
	return result, nil
}

func (c *Client) post(ctx context.Context, question string) (string, error) {
	body, err := json.Marshal(askRequest{Question: question})
	if err != nil {
		return "", resilience.Permanent(fmt.Errorf("failed to encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+c.config.Path, bytes.NewReader(body))
	if err != nil {
		return "", resilience.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request error: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Failed to close response body", zap.Error(closeErr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		statusErr := fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return "", resilience.Permanent(statusErr)
		}
		return "", statusErr
	}

	var decoded askResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", resilience.Permanent(fmt.Errorf("failed to decode response: %w", err))
	}

	c.logger.Debug("Backend answered",
		zap.Duration("processing_time", time.Since(start)),
		zap.Int("result_length", len(decoded.Result)))

	return decoded.Result, nil
}

// HealthCheck probes the service health endpoint
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+HealthPath, nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s health check returned status %d", c.config.Name, resp.StatusCode)
	}
	return nil
}
