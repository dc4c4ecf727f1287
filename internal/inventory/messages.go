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
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
)

var (
	// ErrProductNotFound is returned when no catalog product matches
	ErrProductNotFound = errors.New("product not found")
	// ErrCustomerNotFound is returned when an order names an unknown customer
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrInsufficientStock is returned when stock cannot cover an order
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidQuantity is returned for non-positive order quantities
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
)

// InsufficientStockError carries the stock left for the requested product
type InsufficientStockError struct {
	ProductName string
	Available   int
}

func (e *InsufficientStockError) Error() string {
	return InsufficientStockMessage(e.ProductName, e.Available)
}

// Is matches ErrInsufficientStock
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// ProductIDError reports an unknown product id
type ProductIDError struct {
	ProductID int64
}

func (e *ProductIDError) Error() string {
	return ProductIDNotFoundMessage(e.ProductID)
}

// Is matches ErrProductNotFound
func (e *ProductIDError) Is(target error) bool {
	return target == ErrProductNotFound
}

// User-facing wording shared by the chat flow and order submission.
const (
	// LoginRequiredMessage asks an anonymous caller to sign in
	LoginRequiredMessage = "Please log in to place an order. Once you're signed in I can check availability and open the order form for you."
	// CustomerNotFoundMessage is the order-submission auth failure
	CustomerNotFoundMessage = "User Authentication Failed. Cannot find user record."
	// ClarifyProductMessage asks which product the caller means
	ClarifyProductMessage = "Which product would you like to order? Please tell me the product name so I can check availability."
	// InvalidQuantityMessage rejects a non-positive quantity
	InvalidQuantityMessage = "Please choose a quantity of at least 1."
	// OrderFormMessage confirms that the order form will be shown
	OrderFormMessage = "It sounds like you'd like to place an order. I can help you with that. Please fill out the form below."
)

// OutOfStockMessage reports a catalog product with no stock
func OutOfStockMessage(name string) string {
	return fmt.Sprintf("Sorry, '%s' is currently out of stock.", name)
}

// NotInCatalogMessage reports a name that matched no product
func NotInCatalogMessage(name string) string {
	return fmt.Sprintf("Sorry, I couldn't find a product called '%s' in our catalog.", name)
}

// InsufficientStockMessage reports that fewer units remain than requested
func InsufficientStockMessage(name string, available int) string {
	return fmt.Sprintf("Insufficient stock. Only %d units available for '%s'.", available, name)
}

// ProductIDNotFoundMessage reports an unknown product id
func ProductIDNotFoundMessage(id int64) string {
	return fmt.Sprintf("Product ID %d not found.", id)
}

// OrderPlacedMessage confirms a placed order
func OrderPlacedMessage(r *OrderReceipt) string {
	return fmt.Sprintf("Order #%d placed for '%s' (Qty: %d). Total: Rs. %s.",
		r.OrderID, r.ProductName, r.Quantity, FormatRupees(r.Total))
}

// FormatRupees renders an amount with thousands separators and two
// decimals, e.g. 12,000.00
func FormatRupees(amount float64) string {
	return humanize.FormatFloat("#,###.##", amount)
}
