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

package streaming

import (
	"encoding/json"
	"fmt"
	"io"
)

// DoneSentinel terminates a fragment stream
const DoneSentinel = "[DONE]"

// Fragment is one piece of a streamed answer
type Fragment struct {
	Content string `json:"content"`
}

// ToSSEMessage renders the fragment as an SSE data frame
func (f Fragment) ToSSEMessage() string {
	return dataFrame(f)
}

func dataFrame(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "data: {}\n\n"
	}
	return "data: " + string(data) + "\n\n"
}

// IsDone reports whether the fragment is the done sentinel
func (f Fragment) IsDone() bool {
	return f.Content == DoneSentinel
}

// WriteFragments writes fragments from ch as SSE frames, flushing after each
// one. Nothing is written after the done sentinel; the rest of ch is drained
// so the producer never blocks.
func WriteFragments(w io.Writer, flush func(), ch <-chan string) error {
	done := false
	for content := range ch {
		if done {
			continue
		}
		frag := Fragment{Content: content}
		if _, err := io.WriteString(w, frag.ToSSEMessage()); err != nil {
			return fmt.Errorf("failed to write fragment: %w", err)
		}
		if flush != nil {
			flush()
		}
		done = frag.IsDone()
	}
	return nil
}
