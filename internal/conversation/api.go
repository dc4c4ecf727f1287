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

// Package conversation is the HTTP surface of the assistant: chat turns,
// streamed turns, history clearing and order submission.
package conversation

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/your-org/shop-assistant/internal/auth"
	"github.com/your-org/shop-assistant/internal/health"
	"github.com/your-org/shop-assistant/internal/inventory"
	"github.com/your-org/shop-assistant/internal/metrics"
	"github.com/your-org/shop-assistant/internal/pipeline"
	"github.com/your-org/shop-assistant/internal/resilience"
	"github.com/your-org/shop-assistant/internal/streaming"
)

// RequestIDHeader carries the caller's correlation id
const RequestIDHeader = "X-Request-ID"

// Assistant runs chat turns
type Assistant interface {
	Send(ctx context.Context, req pipeline.Request) (string, error)
	Stream(ctx context.Context, req pipeline.Request) (<-chan string, error)
	Clear(ctx context.Context, sessionID string) (string, error)
}

// Inventory serves the catalog and the caller's orders
type Inventory interface {
	ListProducts(ctx context.Context) ([]inventory.Product, error)
	Search(ctx context.Context, query string) (*inventory.Product, error)
	Place(ctx context.Context, userID, productID int64, quantity int) (*inventory.OrderReceipt, error)
	ListOrders(ctx context.Context, customerID int64) ([]inventory.Order, error)
}

// Deps are the collaborators behind the API. Health and Gatherer are
// optional; their routes are only registered when set.
type Deps struct {
	Assistant Assistant
	Inventory Inventory
	Verifier  *auth.Verifier
	Health    *health.Manager
	Metrics   *metrics.Collector
	Gatherer  prometheus.Gatherer
}

// APIHandler handles HTTP requests for the assistant
type APIHandler struct {
	deps   Deps
	errors *resilience.ErrorMapper
	logger *zap.Logger
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(deps Deps, logger *zap.Logger) *APIHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIHandler{
		deps:   deps,
		errors: resilience.NewErrorMapper(logger),
		logger: logger,
	}
}

// RegisterRoutes registers the API routes with the gin router
func (h *APIHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/v1")
	{
		chat := api.Group("/chat", h.deps.Verifier.OptionalUser())
		chat.POST("", h.chat)
		chat.POST("/stream", h.stream)
		chat.POST("/clear", h.clear)

		api.GET("/products", h.listProducts)
		api.GET("/products/search", h.searchProduct)

		orders := api.Group("/orders", h.deps.Verifier.RequireUser())
		orders.POST("", h.placeOrder)
		orders.GET("", h.listOrders)
	}

	if h.deps.Health != nil {
		router.GET("/health", h.deps.Health.Handler())
	}
	if h.deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.deps.Gatherer, promhttp.HandlerOpts{})))
	}
}

// ChatRequest is one user utterance
type ChatRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	Question  string `json:"question" binding:"required"`
}

// ChatResponse carries the final answer
type ChatResponse struct {
	Answer string `json:"answer"`
}

// ClearRequest names the session to clear
type ClearRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

// OrderRequest is an order form submission
type OrderRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  int   `json:"quantity"`
}

// OrderResponse confirms a placed order
type OrderResponse struct {
	Message string                  `json:"message"`
	Order   *inventory.OrderReceipt `json:"order"`
}

// chat handles POST /v1/chat
func (h *APIHandler) chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, resilience.NewError(resilience.ErrorCodeBadRequest, "session_id and question are required", err))
		return
	}

	answer, err := h.deps.Assistant.Send(c.Request.Context(), pipeline.Request{
		SessionID: req.SessionID,
		Question:  req.Question,
		UserID:    auth.UserID(c),
	})
	if err != nil {
		h.fail(c, h.chatError(err))
		return
	}

	c.JSON(http.StatusOK, ChatResponse{Answer: answer})
}

// stream handles POST /v1/chat/stream
func (h *APIHandler) stream(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, resilience.NewError(resilience.ErrorCodeBadRequest, "session_id and question are required", err))
		return
	}

	fragments, err := h.deps.Assistant.Stream(c.Request.Context(), pipeline.Request{
		SessionID: req.SessionID,
		Question:  req.Question,
		UserID:    auth.UserID(c),
	})
	if err != nil {
		h.fail(c, h.chatError(err))
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	if err := streaming.WriteFragments(c.Writer, c.Writer.Flush, fragments); err != nil {
		h.logger.Warn("Client went away during stream",
			zap.String("session_id", req.SessionID),
			zap.Error(err))
		// drain so the producer can finish and commit the turn
		for range fragments {
		}
	}
}

// clear handles POST /v1/chat/clear
func (h *APIHandler) clear(c *gin.Context) {
	var req ClearRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, resilience.NewError(resilience.ErrorCodeBadRequest, "session_id is required", err))
		return
	}

	message, err := h.deps.Assistant.Clear(c.Request.Context(), req.SessionID)
	if err != nil {
		h.fail(c, h.chatError(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": message})
}

// placeOrder handles POST /v1/orders
func (h *APIHandler) placeOrder(c *gin.Context) {
	var req OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, resilience.NewError(resilience.ErrorCodeBadRequest, "product_id is required", err))
		return
	}

	userID := auth.UserID(c)
	receipt, err := h.deps.Inventory.Place(c.Request.Context(), userID, req.ProductID, req.Quantity)
	if err != nil {
		svcErr := h.orderError(err)
		h.deps.Metrics.OrderPlaced(strings.ToLower(string(svcErr.Code)))
		h.logger.Info("Order rejected",
			zap.Int64("user_id", userID),
			zap.Int64("product_id", req.ProductID),
			zap.Int("quantity", req.Quantity),
			zap.String("reason", svcErr.Message))
		h.fail(c, svcErr)
		return
	}

	h.deps.Metrics.OrderPlaced("placed")
	h.logger.Info("Order placed",
		zap.Int64("order_id", receipt.OrderID),
		zap.Int64("user_id", userID),
		zap.Int64("product_id", receipt.ProductID),
		zap.Int("quantity", receipt.Quantity))

	c.JSON(http.StatusCreated, OrderResponse{
		Message: inventory.OrderPlacedMessage(receipt),
		Order:   receipt,
	})
}

// listOrders handles GET /v1/orders
func (h *APIHandler) listOrders(c *gin.Context) {
	orders, err := h.deps.Inventory.ListOrders(c.Request.Context(), auth.UserID(c))
	if err != nil {
		h.fail(c, h.errors.Map(err, "loading your orders"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// listProducts handles GET /v1/products
func (h *APIHandler) listProducts(c *gin.Context) {
	products, err := h.deps.Inventory.ListProducts(c.Request.Context())
	if err != nil {
		h.fail(c, h.errors.Map(err, "loading the catalog"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

// searchProduct handles GET /v1/products/search?query=
func (h *APIHandler) searchProduct(c *gin.Context) {
	query := strings.TrimSpace(c.Query("query"))
	if query == "" {
		h.fail(c, resilience.NewError(resilience.ErrorCodeBadRequest, "query parameter is required", nil))
		return
	}

	product, err := h.deps.Inventory.Search(c.Request.Context(), query)
	if errors.Is(err, inventory.ErrProductNotFound) {
		h.fail(c, resilience.NewError(resilience.ErrorCodeNotFound, inventory.NotInCatalogMessage(query), err))
		return
	}
	if err != nil {
		h.fail(c, h.errors.Map(err, "searching the catalog"))
		return
	}
	c.JSON(http.StatusOK, product)
}

// orderError maps inventory failures onto the vocabulary the chat flow uses
func (h *APIHandler) orderError(err error) *resilience.ServiceError {
	var stockErr *inventory.InsufficientStockError
	var idErr *inventory.ProductIDError

	switch {
	case errors.Is(err, inventory.ErrInvalidQuantity):
		return resilience.NewError(resilience.ErrorCodeBadRequest, inventory.InvalidQuantityMessage, err)
	case errors.Is(err, inventory.ErrCustomerNotFound):
		return resilience.NewError(resilience.ErrorCodeUnauthorized, inventory.CustomerNotFoundMessage, err)
	case errors.As(err, &idErr):
		return resilience.NewError(resilience.ErrorCodeNotFound, idErr.Error(), err)
	case errors.As(err, &stockErr):
		return resilience.NewError(resilience.ErrorCodeConflict, stockErr.Error(), err)
	default:
		return h.errors.Map(err, "placing your order")
	}
}

func (h *APIHandler) chatError(err error) *resilience.ServiceError {
	if errors.Is(err, pipeline.ErrInvalidRequest) {
		return resilience.NewError(resilience.ErrorCodeBadRequest, err.Error(), err)
	}
	return h.errors.Map(err, "processing your message")
}

func (h *APIHandler) fail(c *gin.Context, err *resilience.ServiceError) {
	requestID := c.GetHeader(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.AbortWithStatusJSON(err.StatusCode, err.Response(requestID))
}
