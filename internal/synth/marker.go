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

package synth

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/your-org/shop-assistant/internal/step"
)

// MarkerPrefix opens an order-form marker
const MarkerPrefix = "[SHOW_ORDER_FORM:"

var markerPattern = regexp.MustCompile(`\[SHOW_ORDER_FORM:([^\]|]*)(?:\|([^\]]*))?\]`)

// markerField keeps the marker delimiters out of a field; brackets become
// parentheses and the pipe a slash
var markerField = strings.NewReplacer("[", "(", "]", ")", "|", "/", "\n", " ", "\r", " ")

// Marker renders the order-form marker for a record:
// [SHOW_ORDER_FORM:<id>] or [SHOW_ORDER_FORM:<id>|<product>]
func Marker(r step.Record) string {
	id := markerField.Replace(r.RequestID)
	if product := strings.TrimSpace(markerField.Replace(r.PrefillProduct)); product != "" {
		return fmt.Sprintf("%s%s|%s]", MarkerPrefix, id, product)
	}
	return fmt.Sprintf("%s%s]", MarkerPrefix, id)
}

// AppendMarker puts the marker after answer, separated by a blank line
func AppendMarker(answer string, r step.Record) string {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return Marker(r)
	}
	return answer + "\n\n" + Marker(r)
}

// StripMarkers removes any order-form markers from text
func StripMarkers(text string) string {
	return strings.TrimSpace(markerPattern.ReplaceAllString(text, ""))
}

// ParseMarker finds the last order-form marker in an answer
func ParseMarker(answer string) (requestID, product string, ok bool) {
	matches := markerPattern.FindAllStringSubmatch(answer, -1)
	if len(matches) == 0 {
		return "", "", false
	}
	last := matches[len(matches)-1]
	return last[1], last[2], true
}
