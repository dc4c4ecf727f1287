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

// Package health reports the state of the assistant's dependencies
package health

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// StatusHealthy means every dependency answered
	StatusHealthy = "healthy"
	// StatusDegraded means an optional dependency is down
	StatusDegraded = "degraded"
	// StatusUnhealthy means a critical dependency is down
	StatusUnhealthy = "unhealthy"
	// DefaultTimeout bounds one full round of checks
	DefaultTimeout = 5 * time.Second
)

// PingFunc probes one dependency
type PingFunc func(ctx context.Context) error

// Dependency is a named probe. A failing critical dependency makes the
// service unhealthy; any other failure only degrades it.
type Dependency struct {
	Name     string
	Critical bool
	Ping     PingFunc
}

// CheckResult is the outcome of probing one dependency
type CheckResult struct {
	Status   string        `json:"status"`
	Critical bool          `json:"critical"`
	Latency  time.Duration `json:"latency"`
	Error    string        `json:"error,omitempty"`
}

// Report is the full health response
type Report struct {
	Status       string                 `json:"status"`
	Service      string                 `json:"service"`
	Version      string                 `json:"version"`
	Uptime       string                 `json:"uptime"`
	Dependencies map[string]CheckResult `json:"dependencies"`
	Timestamp    time.Time              `json:"timestamp"`
}

// Manager runs dependency probes
type Manager struct {
	service string
	version string
	started time.Time
	timeout time.Duration
	mu      sync.RWMutex
	deps    map[string]Dependency
	logger  *zap.Logger
}

// NewManager creates a manager for service
func NewManager(service, version string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		service: service,
		version: version,
		started: time.Now(),
		timeout: DefaultTimeout,
		deps:    make(map[string]Dependency),
		logger:  logger,
	}
}

// SetTimeout changes the per-round timeout
func (m *Manager) SetTimeout(timeout time.Duration) {
	m.timeout = timeout
}

// Register adds or replaces a dependency
func (m *Manager) Register(dep Dependency) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deps[dep.Name] = dep
}

// Names lists registered dependencies in sorted order
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.deps))
	for name := range m.deps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check probes every dependency concurrently
func (m *Manager) Check(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	m.mu.RLock()
	deps := make([]Dependency, 0, len(m.deps))
	for _, dep := range m.deps {
		deps = append(deps, dep)
	}
	m.mu.RUnlock()

	var mu sync.Mutex
	results := make(map[string]CheckResult, len(deps))

	g, gctx := errgroup.WithContext(ctx)
	for _, dep := range deps {
		dep := dep
		g.Go(func() error {
			result := probe(gctx, dep)
			mu.Lock()
			results[dep.Name] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	status := StatusHealthy
	for name, result := range results {
		if result.Status == StatusHealthy {
			continue
		}
		m.logger.Warn("Dependency check failed",
			zap.String("dependency", name),
			zap.Bool("critical", result.Critical),
			zap.String("error", result.Error))
		if result.Critical {
			status = StatusUnhealthy
		} else if status == StatusHealthy {
			status = StatusDegraded
		}
	}

	return Report{
		Status:       status,
		Service:      m.service,
		Version:      m.version,
		Uptime:       time.Since(m.started).Round(time.Second).String(),
		Dependencies: results,
		Timestamp:    time.Now(),
	}
}

// Handler serves the report. Unhealthy reports answer 503, degraded ones 200.
func (m *Manager) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		report := m.Check(c.Request.Context())
		code := http.StatusOK
		if report.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, report)
	}
}

func probe(ctx context.Context, dep Dependency) CheckResult {
	start := time.Now()
	result := CheckResult{Status: StatusHealthy, Critical: dep.Critical}

	var err error
	if dep.Ping == nil {
		err = errors.New("no probe configured")
	} else {
		err = dep.Ping(ctx)
	}
	result.Latency = time.Since(start)

	if err != nil {
		result.Status = StatusUnhealthy
		if !dep.Critical {
			result.Status = StatusDegraded
		}
		result.Error = err.Error()
	}
	return result
}
