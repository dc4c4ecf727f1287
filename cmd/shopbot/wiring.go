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

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/your-org/shop-assistant/internal/backend"
	"github.com/your-org/shop-assistant/internal/classifier"
	"github.com/your-org/shop-assistant/internal/config"
	"github.com/your-org/shop-assistant/internal/dispatch"
	"github.com/your-org/shop-assistant/internal/health"
	"github.com/your-org/shop-assistant/internal/inventory"
	"github.com/your-org/shop-assistant/internal/llm"
	"github.com/your-org/shop-assistant/internal/metrics"
	"github.com/your-org/shop-assistant/internal/openai"
	"github.com/your-org/shop-assistant/internal/order"
	"github.com/your-org/shop-assistant/internal/pipeline"
	"github.com/your-org/shop-assistant/internal/resilience"
	"github.com/your-org/shop-assistant/internal/rewrite"
	"github.com/your-org/shop-assistant/internal/session"
	"github.com/your-org/shop-assistant/internal/synth"
)

// routerMaxTokens caps the routing completion, which is a short JSON object
const routerMaxTokens = 200

// app holds everything a chat turn needs
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	registry   *prometheus.Registry
	metrics    *metrics.Collector
	inventory  *inventory.Store
	sessions   *session.Store
	structured *backend.Client
	semantic   *backend.Client
	pipeline   *pipeline.Pipeline
}

// newApp opens the stores and assembles the turn pipeline
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	var err error
	a.inventory, err = inventory.NewStore(cfg.Inventory.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open inventory: %w", err)
	}

	a.sessions, err = session.NewStoreFromConfig(ctx, session.Config{
		StorageType: session.StorageType(cfg.Session.StorageType),
		RedisURL:    cfg.Session.RedisURL,
		KeyPrefix:   cfg.Session.KeyPrefix,
		MaxSessions: cfg.Session.MaxSessions,
	}, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open session storage: %w", err)
	}

	a.structured, err = a.newBackend("structured", cfg.Services.StructuredQueryURL, cfg.Services.StructuredQueryPath, cfg.Services.StructuredTimeout)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.semantic, err = a.newBackend("semantic", cfg.Services.SemanticSearchURL, cfg.Services.SemanticSearchPath, cfg.Services.SemanticTimeout)
	if err != nil {
		a.Close()
		return nil, err
	}

	model, err := a.newModel(cfg.Pipeline.Model)
	if err != nil {
		a.Close()
		return nil, err
	}
	synthModel := model
	if cfg.Pipeline.SynthesisModel != "" && cfg.Pipeline.SynthesisModel != cfg.Pipeline.Model {
		if synthModel, err = a.newModel(cfg.Pipeline.SynthesisModel); err != nil {
			a.Close()
			return nil, err
		}
	}

	temperature := float32(cfg.Pipeline.Temperature)

	var router classifier.Classifier
	if cfg.Router.Mode == "rules" {
		router = classifier.NewKeywordClassifier()
	} else {
		router = classifier.NewLLMClassifier(model, routerMaxTokens, temperature, logger)
	}

	promptConfig := synth.DefaultPromptConfig()
	promptConfig.StoreName = cfg.Pipeline.StoreName

	a.pipeline, err = pipeline.New(pipeline.Components{
		Sessions:    a.sessions,
		Rewriter:    rewrite.New(model, logger, rewrite.WithHistoryWindow(cfg.Pipeline.HistoryWindow)),
		Router:      router,
		Dispatcher:  dispatch.New(a.structured, a.semantic, a.metrics, logger),
		Orders:      order.NewPreparer(model, a.inventory, logger, order.WithHistoryWindow(cfg.Pipeline.HistoryWindow)),
		Synthesizer: synth.NewSynthesizer(synthModel, promptConfig, cfg.Pipeline.MaxTokens, temperature, logger),
		SmallTalk:   synth.NewSmallTalkResponder(model, cfg.Pipeline.StoreName, logger),
	}, logger,
		pipeline.WithMetrics(a.metrics),
		pipeline.WithTurnTimeout(cfg.Pipeline.TurnTimeout),
	)
	if err != nil {
		a.Close()
		return nil, err
	}

	logger.Info("Assistant initialized",
		zap.String("model", cfg.Pipeline.Model),
		zap.String("router_mode", cfg.Router.Mode),
		zap.String("session_storage", cfg.Session.StorageType),
		zap.String("inventory_db", cfg.Inventory.DBPath))

	return a, nil
}

func (a *app) newModel(name string) (llm.Model, error) {
	client, err := openai.New(openai.Config{
		APIKey:   a.cfg.OpenAI.APIKey,
		Endpoint: a.cfg.OpenAI.Endpoint,
		Model:    name,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create model client: %w", err)
	}
	return llm.WithTimeout(client, a.cfg.Pipeline.StageTimeout), nil
}

func (a *app) newBackend(name, baseURL, path string, timeout time.Duration) (*backend.Client, error) {
	breakerConfig := resilience.DefaultCircuitBreakerConfig(name)
	breakerConfig.OnStateChange = func(service string, _, to resilience.CircuitState) {
		a.metrics.SetBreakerState(service, int(to))
	}

	client, err := backend.NewClient(backend.Config{
		Name:       name,
		BaseURL:    baseURL,
		Path:       path,
		Timeout:    timeout,
		MaxRetries: a.cfg.Services.MaxRetries,
	}, a.logger, backend.WithCircuitBreaker(resilience.NewCircuitBreaker(breakerConfig, a.logger)))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", name, err)
	}
	return client, nil
}

// healthManager probes the stores and both collaborators. The collaborators
// are optional because a turn degrades without them.
func (a *app) healthManager() *health.Manager {
	m := health.NewManager("shop-assistant", version, a.logger)
	m.Register(health.Dependency{Name: "inventory", Critical: true, Ping: a.inventory.Ping})
	m.Register(health.Dependency{Name: "sessions", Critical: true, Ping: a.sessions.Ping})
	m.Register(health.Dependency{Name: a.structured.Name(), Ping: a.structured.HealthCheck})
	m.Register(health.Dependency{Name: a.semantic.Name(), Ping: a.semantic.HealthCheck})
	return m
}

// Close releases the stores
func (a *app) Close() {
	if a.sessions != nil {
		if err := a.sessions.Close(); err != nil {
			a.logger.Warn("Failed to close session storage", zap.Error(err))
		}
	}
	if a.inventory != nil {
		if err := a.inventory.Close(); err != nil {
			a.logger.Warn("Failed to close inventory", zap.Error(err))
		}
	}
}
