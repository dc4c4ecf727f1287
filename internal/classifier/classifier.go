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

// Package classifier decides which backend a standalone question is routed
// to. Any implementation returning one of the four routes plus a rationale
// satisfies Classifier.
package classifier

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
)

// Route is the closed set of destinations for a turn
type Route string

const (
	// RouteStructured sends the question to the Structured Query Service
	RouteStructured Route = "structured"
	// RouteSemantic sends the question to the Semantic Search Service
	RouteSemantic Route = "semantic"
	// RouteOrderIntent starts the order-intent preparation flow
	RouteOrderIntent Route = "order_intent"
	// RouteSmallTalk answers conversationally from history
	RouteSmallTalk Route = "small_talk"
)

// DefaultRoute is used whenever a classification cannot be resolved
const DefaultRoute = RouteSemantic

// Routes lists every valid route
var Routes = []Route{RouteStructured, RouteSemantic, RouteOrderIntent, RouteSmallTalk}

// routeAliases maps accepted labels, including the legacy backend names,
// onto routes
var routeAliases = map[string]Route{
	"structured":   RouteStructured,
	"graph_db":     RouteStructured,
	"neo4j":        RouteStructured,
	"semantic":     RouteSemantic,
	"vector_db":    RouteSemantic,
	"vector":       RouteSemantic,
	"order_intent": RouteOrderIntent,
	"order_form":   RouteOrderIntent,
	"order":        RouteOrderIntent,
	"small_talk":   RouteSmallTalk,
	"smalltalk":    RouteSmallTalk,
	"general":      RouteSmallTalk,
}

// Valid reports whether r is one of the four routes
func (r Route) Valid() bool {
	switch r {
	case RouteStructured, RouteSemantic, RouteOrderIntent, RouteSmallTalk:
		return true
	}
	return false
}

// ParseRoute resolves a label to a route
func ParseRoute(label string) (Route, bool) {
	key := strings.ToLower(strings.TrimSpace(label))
	key = strings.Trim(key, "\"'`.")
	key = strings.ReplaceAll(key, "-", "_")
	key = strings.ReplaceAll(key, " ", "_")
	route, ok := routeAliases[key]
	return route, ok
}

// Decision is the outcome of classifying one question
type Decision struct {
	Route     Route  `json:"route"`
	Reasoning string `json:"reasoning"`
}

// Classifier maps a standalone question to a route
type Classifier interface {
	Classify(ctx context.Context, question string) (Decision, error)
}

// ParseDecision turns raw classifier output into a Decision. Output that
// cannot be resolved to a route yields DefaultRoute.
func ParseDecision(raw string) Decision {
	raw = strings.TrimSpace(raw)

	var payload struct {
		Route     string `json:"route"`
		Reasoning string `json:"reasoning"`
	}
	if body := extractJSONObject(raw); body != "" {
		if err := json.Unmarshal([]byte(body), &payload); err == nil {
			if route, ok := ParseRoute(payload.Route); ok {
				return Decision{Route: route, Reasoning: payload.Reasoning}
			}
			return Decision{
				Route:     DefaultRoute,
				Reasoning: "unrecognised route label " + strconv.Quote(payload.Route),
			}
		}
	}

	if route, ok := ParseRoute(raw); ok {
		return Decision{Route: route, Reasoning: "bare label"}
	}

	return Decision{Route: DefaultRoute, Reasoning: "unparseable classifier output"}
}

// extractJSONObject returns the outermost {...} span of s, tolerating code
// fences and surrounding prose
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
