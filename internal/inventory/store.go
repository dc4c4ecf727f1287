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

// Package inventory is the product catalog, stock lookup and order placement
// store backed by SQLite.
package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"go.uber.org/zap"
)

// Store is the inventory database
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Product is one catalog entry
type Product struct {
	ID            int64   `json:"id"`
	SKU           string  `json:"sku"`
	Name          string  `json:"name"`
	Category      string  `json:"category"`
	Description   string  `json:"description"`
	Price         float64 `json:"price"`
	StockQuantity int     `json:"stock_quantity"`
	ProductURL    string  `json:"product_url"`
}

// Customer is a registered shopper
type Customer struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
}

// OrderStatus is the lifecycle state of an order
type OrderStatus string

// Order states
const (
	OrderPending    OrderStatus = "PENDING"
	OrderProcessing OrderStatus = "PROCESSING"
	OrderShipped    OrderStatus = "SHIPPED"
	OrderDelivered  OrderStatus = "DELIVERED"
	OrderCancelled  OrderStatus = "CANCELLED"
)

// NewStore opens (creating if needed) the inventory database
func NewStore(dbPath string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps :memory:
	// databases shared across calls.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, logger: logger}

	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// initSchema creates the catalog and order tables if they don't exist
func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sku TEXT UNIQUE,
			name TEXT NOT NULL,
			category TEXT,
			description TEXT,
			price REAL NOT NULL DEFAULT 0,
			stock_quantity INTEGER NOT NULL DEFAULT 0,
			product_url TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_products_name ON products(name)`,
		`CREATE TABLE IF NOT EXISTS customers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT UNIQUE NOT NULL,
			full_name TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			customer_id INTEGER NOT NULL REFERENCES customers(id),
			status TEXT NOT NULL,
			total_amount REAL NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS order_items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			order_id INTEGER NOT NULL REFERENCES orders(id),
			product_id INTEGER NOT NULL REFERENCES products(id),
			sku TEXT,
			quantity INTEGER NOT NULL,
			unit_price REAL NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Seed inserts or replaces catalog products. Products without an ID get
// one assigned; products sharing a SKU are updated in place.
func (s *Store) Seed(ctx context.Context, products []Product) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range products {
		if strings.TrimSpace(p.Name) == "" {
			return 0, fmt.Errorf("product %q has no name", p.SKU)
		}

		var id interface{}
		if p.ID > 0 {
			id = p.ID
		}
		var sku interface{}
		if p.SKU != "" {
			sku = p.SKU
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO products (id, sku, name, category, description, price, stock_quantity, product_url)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT DO UPDATE SET
				name = excluded.name,
				category = excluded.category,
				description = excluded.description,
				price = excluded.price,
				stock_quantity = excluded.stock_quantity,
				product_url = excluded.product_url
		`, id, sku, p.Name, p.Category, p.Description, p.Price, p.StockQuantity, p.ProductURL)
		if err != nil {
			return 0, fmt.Errorf("failed to upsert product %q: %w", p.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit products: %w", err)
	}

	s.logger.Info("Seeded products", zap.Int("count", len(products)))
	return len(products), nil
}

// UpsertCustomer inserts a customer or updates the name of an existing
// email, returning the customer id
func (s *Store) UpsertCustomer(ctx context.Context, c Customer) (int64, error) {
	if strings.TrimSpace(c.Email) == "" {
		return 0, fmt.Errorf("customer email is required")
	}

	var id interface{}
	if c.ID > 0 {
		id = c.ID
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, email, full_name) VALUES (?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET full_name = excluded.full_name
	`, id, c.Email, c.FullName)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert customer: %w", err)
	}

	var customerID int64
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM customers WHERE email = ?`, c.Email).Scan(&customerID); err != nil {
		return 0, fmt.Errorf("failed to read customer id: %w", err)
	}
	return customerID, nil
}

// GetProduct returns a product by id
func (s *Store) GetProduct(ctx context.Context, id int64) (*Product, error) {
	row := s.db.QueryRowContext(ctx, productSelectSQL+` WHERE id = ?`, id)

	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return p, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProduct(row rowScanner) (*Product, error) {
	var p Product
	if err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Category, &p.Description, &p.Price, &p.StockQuantity, &p.ProductURL); err != nil {
		return nil, err
	}
	return &p, nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
