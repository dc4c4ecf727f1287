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

// Package streaming carries answer fragments and pipeline progress events
// to streaming clients.
package streaming

import (
	"slices"
	"strconv"
	"sync"
	"time"
)

// StageType names the pipeline step an event reports on
type StageType string

// Pipeline steps. Dispatch covers the fallback lookup too.
const (
	StageRewrite   StageType = "rewrite"
	StageRoute     StageType = "route"
	StageDispatch  StageType = "dispatch"
	StageOrder     StageType = "order"
	StageSynthesis StageType = "synthesis"
	StageComplete  StageType = "complete"
)

// Event reports that a step of one turn finished
type Event struct {
	ID        string         `json:"id"`
	Seq       int            `json:"seq"`
	Stage     StageType      `json:"stage"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// ToSSEMessage renders the event as an SSE data frame
func (e Event) ToSSEMessage() string {
	return dataFrame(e)
}

// EventStream collects the progress events of one turn and hands each to
// its subscribers, in order, on the emitting goroutine. A nil stream
// discards everything.
type EventStream struct {
	id string

	mu          sync.Mutex
	subscribers []func(Event)
	log         []Event
	closed      bool
}

// NewEventStream creates a stream whose event ids start with id
func NewEventStream(id string) *EventStream {
	return &EventStream{id: id}
}

// Subscribe registers fn for every later event. Ignored once closed.
func (s *EventStream) Subscribe(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.subscribers = append(s.subscribers, fn)
	}
}

// Emit records an event and delivers it
func (s *EventStream) Emit(stage StageType, message string, data map[string]any) {
	if s == nil {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	seq := len(s.log) + 1
	e := Event{
		ID:        s.id + "-" + strconv.Itoa(seq),
		Seq:       seq,
		Stage:     stage,
		Message:   message,
		Timestamp: time.Now(),
		Data:      data,
	}
	s.log = append(s.log, e)
	subscribers := slices.Clone(s.subscribers)
	s.mu.Unlock()

	for _, fn := range subscribers {
		fn(e)
	}
}

// Close drops the subscribers; later events are discarded
func (s *EventStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.subscribers = nil
}

// Events returns the events emitted so far
func (s *EventStream) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.log)
}
