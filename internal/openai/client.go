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

// Package openai adapts the go-openai chat completion API to llm.Model.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/your-org/shop-assistant/internal/llm"
	"github.com/your-org/shop-assistant/internal/resilience"
)

// Defaults applied by New
const (
	DefaultModel       = "gpt-4o-mini"
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = time.Second
)

// Config selects the endpoint and model of a Client
type Config struct {
	APIKey string
	// Endpoint overrides the public API base URL, e.g. for a proxy
	Endpoint    string
	Model       string
	MaxAttempts int
	RetryDelay  time.Duration
}

// Client is an llm.Model backed by one chat model
type Client struct {
	api     *openai.Client
	model   string
	backoff resilience.BackoffConfig
	logger  *zap.Logger
}

var _ llm.Model = (*Client)(nil)

// New creates a Client. Only the API key is required.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai: API key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		apiCfg.BaseURL = strings.TrimRight(cfg.Endpoint, "/")
	}

	backoff := resilience.DefaultBackoffConfig()
	backoff.BaseDelay = cfg.RetryDelay
	backoff.MaxDelay = 8 * cfg.RetryDelay
	backoff.MaxRetries = cfg.MaxAttempts - 1

	logger = logger.With(zap.String("model", cfg.Model))
	logger.Info("Chat model client ready", zap.String("endpoint", apiCfg.BaseURL))

	return &Client{
		api:     openai.NewClientWithConfig(apiCfg),
		model:   cfg.Model,
		backoff: backoff,
		logger:  logger,
	}, nil
}

// Model returns the chat model name
func (c *Client) Model() string {
	return c.model
}

// Complete sends the system and user prompt as a two-message chat and
// returns the first choice. Rate limits and 5xx answers are retried.
func (c *Client) Complete(ctx context.Context, req llm.Request) (string, error) {
	chat := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messagesFor(req),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.JSON {
		chat.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	var content string
	err := resilience.WithExponentialBackoff(ctx, c.logger, c.backoff, func(ctx context.Context) error {
		resp, err := c.api.CreateChatCompletion(ctx, chat)
		if err != nil {
			return classify(err)
		}
		if len(resp.Choices) == 0 {
			return resilience.Permanent(errors.New("openai: response has no choices"))
		}

		c.logger.Debug("Chat completion finished",
			zap.String("finish_reason", string(resp.Choices[0].FinishReason)),
			zap.Int("prompt_tokens", resp.Usage.PromptTokens),
			zap.Int("completion_tokens", resp.Usage.CompletionTokens))
		content = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		c.logger.Warn("Chat completion failed", zap.Bool("json", req.JSON), zap.Error(err))
		return "", err
	}
	return content, nil
}

func messagesFor(req llm.Request) []openai.ChatCompletionMessage {
	var messages []openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	return append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})
}

// classify marks API errors that another attempt cannot fix as permanent
func classify(err error) error {
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("openai: %w", err)
	}

	wrapped := fmt.Errorf("openai: status %d: %s: %w", apiErr.HTTPStatusCode, apiErr.Message, err)
	switch code := apiErr.HTTPStatusCode; {
	case code == http.StatusTooManyRequests, code >= http.StatusInternalServerError:
		return wrapped
	default:
		return resilience.Permanent(wrapped)
	}
}
