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

// Package step defines the typed records produced by the backend dispatchers
// and the order-intent preparer during a single turn. Records are values: once
// created they are never mutated, and a turn's record list is discarded when
// the turn ends.
package step

import (
	"fmt"
	"strings"
)

// Kind tags the variant a Record holds
type Kind string

const (
	// KindStructuredQA is a Structured Query Service answer
	KindStructuredQA Kind = "structured_qa"
	// KindSemanticQA is a Semantic Search Service answer
	KindSemanticQA Kind = "semantic_qa"
	// KindOrderForm asks the client to show the order form
	KindOrderForm Kind = "order_form"
	// KindAuthError means an order was requested without a logged-in user
	KindAuthError Kind = "auth_error"
	// KindStockError means the requested product cannot be ordered
	KindStockError Kind = "stock_error"
)

// Record is one step of a turn. Which fields are meaningful depends on Kind:
// tool records use Result, Empty and Err; control records use Message and,
// for order forms, RequestID and PrefillProduct.
type Record struct {
	Kind           Kind   `json:"kind"`
	Result         string `json:"result,omitempty"`
	Empty          bool   `json:"empty,omitempty"`
	Err            string `json:"error,omitempty"`
	Fallback       bool   `json:"fallback,omitempty"`
	Message        string `json:"message,omitempty"`
	RequestID      string `json:"request_id,omitempty"`
	PrefillProduct string `json:"prefill_product,omitempty"`
}

// Structured creates a structured lookup record
func Structured(result string, empty bool) Record {
	return Record{Kind: KindStructuredQA, Result: result, Empty: empty}
}

// StructuredFailure creates a structured lookup record for a failed call
func StructuredFailure(err error) Record {
	return Record{Kind: KindStructuredQA, Err: errText(err)}
}

// Semantic creates a semantic lookup record
func Semantic(result string, empty bool) Record {
	return Record{Kind: KindSemanticQA, Result: result, Empty: empty}
}

// SemanticFailure creates a semantic lookup record for a failed call
func SemanticFailure(err error) Record {
	return Record{Kind: KindSemanticQA, Err: errText(err)}
}

// OrderForm creates the show-order-form control record
func OrderForm(message, requestID, prefillProduct string) Record {
	return Record{
		Kind:           KindOrderForm,
		Message:        message,
		RequestID:      requestID,
		PrefillProduct: prefillProduct,
	}
}

// AuthError creates an authentication control record
func AuthError(message string) Record {
	return Record{Kind: KindAuthError, Message: message}
}

// StockError creates a stock/product control record
func StockError(message string) Record {
	return Record{Kind: KindStockError, Message: message}
}

// AsFallback marks a record as produced by the fallback controller
func (r Record) AsFallback() Record {
	r.Fallback = true
	return r
}

// IsTool reports whether the record came from a backend dispatcher
func (r Record) IsTool() bool {
	return r.Kind == KindStructuredQA || r.Kind == KindSemanticQA
}

// IsTerminalError reports whether the record ends the turn with its own message
func (r Record) IsTerminalError() bool {
	return r.Kind == KindAuthError || r.Kind == KindStockError
}

// Failed reports whether a tool call errored
func (r Record) Failed() bool {
	return r.Err != ""
}

// HasContent reports whether a tool record carries a usable answer
func (r Record) HasContent() bool {
	return r.IsTool() && !r.Failed() && !r.Empty && strings.TrimSpace(r.Result) != ""
}

// String renders the record for the synthesis context. Failures are rendered
// without transport detail.
func (r Record) String() string {
	tag := string(r.Kind)
	if r.Fallback {
		tag += " (fallback)"
	}

	switch {
	case r.IsTool() && r.Failed():
		return fmt.Sprintf("[%s] error: the service could not be reached", tag)
	case r.IsTool() && r.Empty:
		return fmt.Sprintf("[%s] no results: %s", tag, r.Result)
	case r.IsTool():
		return fmt.Sprintf("[%s] %s", tag, r.Result)
	case r.Kind == KindOrderForm:
		if r.PrefillProduct != "" {
			return fmt.Sprintf("[%s] %s (product: %s)", tag, r.Message, r.PrefillProduct)
		}
		return fmt.Sprintf("[%s] %s", tag, r.Message)
	default:
		return fmt.Sprintf("[%s] %s", tag, r.Message)
	}
}

// Find returns the first record of the given kind
func Find(records []Record, kind Kind) (Record, bool) {
	for _, r := range records {
		if r.Kind == kind {
			return r, true
		}
	}
	return Record{}, false
}

// TerminalError returns the first auth or stock error record
func TerminalError(records []Record) (Record, bool) {
	for _, r := range records {
		if r.IsTerminalError() {
			return r, true
		}
	}
	return Record{}, false
}

// AnyContent reports whether at least one tool record carries an answer
func AnyContent(records []Record) bool {
	for _, r := range records {
		if r.HasContent() {
			return true
		}
	}
	return false
}

// Render joins the string form of all records, one per line
func Render(records []Record) string {
	lines := make([]string, 0, len(records))
	for _, r := range records {
		lines = append(lines, r.String())
	}
	return strings.Join(lines, "\n")
}

func errText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
