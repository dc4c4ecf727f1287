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

package step

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordPredicates(t *testing.T) {
	tests := []struct {
		name       string
		record     Record
		tool       bool
		terminal   bool
		hasContent bool
	}{
		{name: "structured hit", record: Structured("Tenda F3 - Rs. 12,000", false), tool: true, hasContent: true},
		{name: "structured miss", record: Structured("No result found", true), tool: true},
		{name: "structured failure", record: StructuredFailure(errors.New("dial tcp: refused")), tool: true},
		{name: "semantic hit", record: Semantic("Call 1212 for support", false), tool: true, hasContent: true},
		{name: "order form", record: OrderForm("Please fill the form", "req_1", "Tenda F3")},
		{name: "auth error", record: AuthError("Please log in"), terminal: true},
		{name: "stock error", record: StockError("Out of stock"), terminal: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.tool, tt.record.IsTool())
			assert.Equal(t, tt.terminal, tt.record.IsTerminalError())
			assert.Equal(t, tt.hasContent, tt.record.HasContent())
		})
	}
}

func TestStringHidesTransportDetail(t *testing.T) {
	r := StructuredFailure(errors.New("dial tcp 10.0.0.5:8000: connection refused"))
	assert.True(t, r.Failed())
	assert.NotContains(t, r.String(), "10.0.0.5")
	assert.Contains(t, r.String(), "structured_qa")
}

func TestRenderAndFind(t *testing.T) {
	records := []Record{
		Structured("No result found", true),
		Semantic("We sell routers", false).AsFallback(),
		OrderForm("Fill the form", "req_9", ""),
	}

	rendered := Render(records)
	assert.Contains(t, rendered, "[structured_qa] no results: No result found")
	assert.Contains(t, rendered, "[semantic_qa (fallback)] We sell routers")
	assert.Contains(t, rendered, "[order_form] Fill the form")

	form, ok := Find(records, KindOrderForm)
	assert.True(t, ok)
	assert.Equal(t, "req_9", form.RequestID)

	_, ok = TerminalError(records)
	assert.False(t, ok)
	assert.True(t, AnyContent(records))
	assert.False(t, AnyContent(records[:1]))
}
