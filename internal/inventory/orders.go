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

package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// OrderReceipt describes a placed order
type OrderReceipt struct {
	OrderID     int64       `json:"order_id"`
	CustomerID  int64       `json:"customer_id"`
	ProductID   int64       `json:"product_id"`
	ProductName string      `json:"product_name"`
	Quantity    int         `json:"quantity"`
	UnitPrice   float64     `json:"unit_price"`
	Total       float64     `json:"total"`
	Status      OrderStatus `json:"status"`
}

// Place validates the customer, product and stock, then records the order
// and decrements stock in one transaction
func (s *Store) Place(ctx context.Context, userID, productID int64, quantity int) (*OrderReceipt, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var customerID int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM customers WHERE id = ?`, userID).Scan(&customerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up customer: %w", err)
	}

	row := tx.QueryRowContext(ctx, productSelectSQL+` WHERE id = ?`, productID)
	product, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ProductIDError{ProductID: productID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up product: %w", err)
	}

	if product.StockQuantity < quantity {
		return nil, &InsufficientStockError{ProductName: product.Name, Available: product.StockQuantity}
	}

	total := product.Price * float64(quantity)

	res, err := tx.ExecContext(ctx,
		`INSERT INTO orders (customer_id, status, total_amount, created_at) VALUES (?, ?, ?, ?)`,
		customerID, string(OrderProcessing), total, now())
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	orderID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read order id: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO order_items (order_id, product_id, sku, quantity, unit_price) VALUES (?, ?, ?, ?, ?)`,
		orderID, product.ID, product.SKU, quantity, product.Price); err != nil {
		return nil, fmt.Errorf("failed to create order item: %w", err)
	}

	res, err = tx.ExecContext(ctx,
		`UPDATE products SET stock_quantity = stock_quantity - ? WHERE id = ? AND stock_quantity >= ?`,
		quantity, product.ID, quantity)
	if err != nil {
		return nil, fmt.Errorf("failed to decrement stock: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n != 1 {
		return nil, &InsufficientStockError{ProductName: product.Name, Available: product.StockQuantity}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit order: %w", err)
	}

	s.logger.Info("Order placed",
		zap.Int64("order_id", orderID),
		zap.Int64("customer_id", customerID),
		zap.Int64("product_id", product.ID),
		zap.Int("quantity", quantity),
		zap.Float64("total", total))

	return &OrderReceipt{
		OrderID:     orderID,
		CustomerID:  customerID,
		ProductID:   product.ID,
		ProductName: product.Name,
		Quantity:    quantity,
		UnitPrice:   product.Price,
		Total:       total,
		Status:      OrderProcessing,
	}, nil
}
