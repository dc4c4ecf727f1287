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
	"fmt"
	"time"
)

// OrderItem is one line of a past order
type OrderItem struct {
	ProductID   int64   `json:"product_id"`
	ProductName string  `json:"product_name"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
}

// Order is a past order with its lines
type Order struct {
	ID          int64       `json:"id"`
	CustomerID  int64       `json:"customer_id"`
	Status      OrderStatus `json:"status"`
	TotalAmount float64     `json:"total_amount"`
	CreatedAt   time.Time   `json:"created_at"`
	Items       []OrderItem `json:"items"`
}

// ListProducts returns the catalog ordered by category then name, as shown
// in the order form
func (s *Store) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := s.db.QueryContext(ctx, productSelectSQL+` ORDER BY COALESCE(category, ''), name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer func() { _ = rows.Close() }()

	products := []Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

// Search returns the full record of the product a name resolves to, using
// the same matching as Check
func (s *Store) Search(ctx context.Context, query string) (*Product, error) {
	st, err := s.Check(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.GetProduct(ctx, st.ProductID)
}

// ListOrders returns a customer's orders, newest first
func (s *Store) ListOrders(ctx context.Context, customerID int64) ([]Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.id, o.customer_id, o.status, o.total_amount, o.created_at,
			i.product_id, COALESCE(p.name, ''), i.quantity, i.unit_price
		FROM orders o
		JOIN order_items i ON i.order_id = o.id
		LEFT JOIN products p ON p.id = i.product_id
		WHERE o.customer_id = ?
		ORDER BY o.created_at DESC, o.id DESC, i.id ASC
	`, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	orders := []Order{}
	index := make(map[int64]int)
	for rows.Next() {
		var (
			o       Order
			status  string
			created string
			item    OrderItem
		)
		if err := rows.Scan(&o.ID, &o.CustomerID, &status, &o.TotalAmount, &created,
			&item.ProductID, &item.ProductName, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}

		i, ok := index[o.ID]
		if !ok {
			o.Status = OrderStatus(status)
			o.CreatedAt, _ = time.Parse(time.RFC3339, created)
			orders = append(orders, o)
			i = len(orders) - 1
			index[o.ID] = i
		}
		orders[i].Items = append(orders[i].Items, item)
	}
	return orders, rows.Err()
}
