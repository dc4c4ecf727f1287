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

// Package order prepares the order-form hand-off for order-intent turns.
// It never places orders itself; it checks the caller, works out which
// product is meant and whether it can be bought, then emits exactly one
// control record.
package order

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/your-org/shop-assistant/internal/inventory"
	"github.com/your-org/shop-assistant/internal/llm"
	"github.com/your-org/shop-assistant/internal/session"
	"github.com/your-org/shop-assistant/internal/step"
)

// DefaultHistoryWindow is the number of transcript messages used for extraction
const DefaultHistoryWindow = 6

// StockCheckFailedMessage is shown when the inventory cannot be queried
const StockCheckFailedMessage = "Sorry, I couldn't check availability right now. Please try again in a moment."

const extractionSystemPrompt = `You are an expert at understanding conversation context.
Based on the chat history and the latest user input, identify the specific product the user wants to buy.

Rules:
1. Look at the user's input first. If the full product name is there, use it.
2. If the input uses "it", "that" or "this one", look at the chat history (assistant messages) to find the last mentioned product.
3. Return ONLY the product name. No extra text.
4. If no product is found, return "None".`

// requestNamespace scopes request ids generated by this package
var requestNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("shop-assistant/order-form"))

// StockChecker looks a product up by name or id
type StockChecker interface {
	Check(ctx context.Context, nameOrID string) (inventory.StockStatus, error)
}

// StockCheckerFunc adapts a function to StockChecker
type StockCheckerFunc func(ctx context.Context, nameOrID string) (inventory.StockStatus, error)

// Check implements StockChecker
func (f StockCheckerFunc) Check(ctx context.Context, nameOrID string) (inventory.StockStatus, error) {
	return f(ctx, nameOrID)
}

// Input is what the preparer needs from the turn
type Input struct {
	SessionID string
	UserID    int64
	// Question is the utterance to extract the product from
	Question string
	History  session.Transcript
}

// Preparer runs the order-intent stage
type Preparer struct {
	model       llm.Model
	stock       StockChecker
	window      int
	maxTokens   int
	temperature float32
	logger      *zap.Logger
}

// Option configures a Preparer
type Option func(*Preparer)

// WithHistoryWindow sets how many trailing messages the extractor sees
func WithHistoryWindow(n int) Option {
	return func(p *Preparer) {
		if n > 0 {
			p.window = n
		}
	}
}

// NewPreparer creates a Preparer
func NewPreparer(model llm.Model, stock StockChecker, logger *zap.Logger, opts ...Option) *Preparer {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Preparer{
		model:     model,
		stock:     stock,
		window:    DefaultHistoryWindow,
		maxTokens: 50,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Prepare returns an auth_error, stock_error or order_form record
func (p *Preparer) Prepare(ctx context.Context, in Input) step.Record {
	if in.UserID <= 0 {
		p.logger.Info("Order intent from anonymous caller", zap.String("session_id", in.SessionID))
		return step.AuthError(inventory.LoginRequiredMessage)
	}

	product := p.extractProduct(ctx, in)
	if product == "" {
		return step.StockError(inventory.ClarifyProductMessage)
	}

	status, err := p.stock.Check(ctx, product)
	switch {
	case errors.Is(err, inventory.ErrProductNotFound):
		p.logger.Info("Ordered product not in catalog", zap.String("product", product))
		return step.StockError(inventory.NotInCatalogMessage(product))
	case err != nil:
		p.logger.Error("Stock check failed", zap.String("product", product), zap.Error(err))
		return step.StockError(StockCheckFailedMessage)
	case !status.Available:
		return step.StockError(inventory.OutOfStockMessage(status.CanonicalName))
	}

	prefill := status.CanonicalName
	if prefill == "" {
		prefill = product
	}

	requestID := RequestID(in.SessionID, len(in.History), in.Question)
	p.logger.Info("Prepared order form",
		zap.String("session_id", in.SessionID),
		zap.String("request_id", requestID),
		zap.String("product", prefill),
		zap.Int("stock_quantity", status.Quantity))

	return step.OrderForm(inventory.OrderFormMessage, requestID, prefill)
}

// extractProduct asks the model which product is meant. An error, a blank
// answer or the "none" sentinel all mean no product.
func (p *Preparer) extractProduct(ctx context.Context, in Input) string {
	prompt := fmt.Sprintf("Chat History:\n%s\n\nUser's input: %s",
		session.FormatTranscript(in.History.Last(p.window)), in.Question)

	out, err := p.model.Complete(ctx, llm.Request{
		System:      extractionSystemPrompt,
		Prompt:      prompt,
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
	})
	if err != nil {
		p.logger.Warn("Product extraction failed", zap.Error(err))
		return ""
	}

	product := llm.CleanLine(strings.SplitN(strings.TrimSpace(out), "\n", 2)[0])
	product = strings.TrimSuffix(product, ".")
	if isNoProduct(product) {
		return ""
	}
	return product
}

func isNoProduct(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "n/a", "null", "unknown":
		return true
	}
	return false
}

// RequestID derives the order-form correlation id for one turn. The same
// session, turn position and utterance always give the same id.
func RequestID(sessionID string, turn int, utterance string) string {
	name := sessionID + "\x00" + strconv.Itoa(turn) + "\x00" + utterance
	return "req_" + uuid.NewSHA1(requestNamespace, []byte(name)).String()
}
