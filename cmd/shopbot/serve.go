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
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/your-org/shop-assistant/internal/auth"
	"github.com/your-org/shop-assistant/internal/config"
	"github.com/your-org/shop-assistant/internal/conversation"
	"github.com/your-org/shop-assistant/internal/logging"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the chat HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), flags)
		},
	}
}

func runServe(parent context.Context, flags *globalFlags) error {
	cfg, err := flags.loadConfig(true)
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required to serve. Set via config file or JWT_SECRET environment variable")
	}

	logger, level, err := logging.NewWithLevel(cfg.Logging, "shopbot")
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	masked := cfg.MaskSensitiveValues()
	logger.Info("Configuration loaded successfully",
		zap.String("environment", os.Getenv("ENVIRONMENT")),
		zap.String("structured_query_url", masked.Services.StructuredQueryURL),
		zap.String("semantic_search_url", masked.Services.SemanticSearchURL),
		zap.String("openai_endpoint", masked.OpenAI.Endpoint),
		zap.String("openai_api_key", masked.OpenAI.APIKey),
		zap.String("redis_url", masked.Session.RedisURL))

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret, logger)
	if err != nil {
		return err
	}

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))
	conversation.NewAPIHandler(conversation.Deps{
		Assistant: a.pipeline,
		Inventory: a.inventory,
		Verifier:  verifier,
		Health:    a.healthManager(),
		Metrics:   a.metrics,
		Gatherer:  a.registry,
	}, logger).RegisterRoutes(router)

	if err := config.WatchConfig(flags.configPath, func(updated *config.Config) {
		level.SetLevel(logging.ParseLevel(updated.Logging.Level))
		logger.Info("Configuration reloaded, log level applied; other changes take effect on restart",
			zap.String("log_level", updated.Logging.Level))
	}, func(err error) {
		logger.Warn("Configuration reload failed", zap.Error(err))
	}); err != nil {
		logger.Debug("Configuration hot reload disabled", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting shop assistant", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// requestLogger logs one line per request
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("Request handled",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.String("request_id", c.GetHeader(conversation.RequestIDHeader)),
			zap.Duration("latency", time.Since(start)))
	}
}
