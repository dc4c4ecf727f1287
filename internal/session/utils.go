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

package session

import (
	"strings"

	"github.com/google/uuid"
)

// NewSessionID returns a random id for a conversation the client did not name
func NewSessionID() string {
	return "session_" + uuid.NewString()
}

func newMessageID() string {
	id := uuid.New()
	return "msg_" + strings.ReplaceAll(id.String(), "-", "")
}

// ValidID reports whether a client-supplied session id is usable. Ids are
// opaque; only blank ones are rejected.
func ValidID(sessionID string) bool {
	return strings.TrimSpace(sessionID) != ""
}

// Last returns the final n messages, or all of them when there are fewer
func (t Transcript) Last(n int) Transcript {
	switch {
	case n <= 0:
		return Transcript{}
	case len(t) > n:
		return t[len(t)-n:]
	default:
		return t
	}
}

// FormatTranscript renders one "role: content" line per message, the form
// the model prompts expect
func FormatTranscript(messages Transcript) string {
	lines := make([]string, len(messages))
	for i, m := range messages {
		lines[i] = string(m.Role) + ": " + m.Content
	}
	return strings.Join(lines, "\n")
}
