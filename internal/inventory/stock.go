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
	"strconv"
	"strings"
	"unicode"

	"go.uber.org/zap"
)

// MatchRung names the step of the lookup ladder that found a product
type MatchRung string

// Lookup ladder rungs, tried in order
const (
	MatchByID        MatchRung = "id"
	MatchFullName    MatchRung = "full_name"
	MatchTwoWords    MatchRung = "two_words"
	MatchFirstWord   MatchRung = "first_word"
	productSelectSQL           = `SELECT id, COALESCE(sku, ''), name, COALESCE(category, ''), COALESCE(description, ''),
		price, stock_quantity, COALESCE(product_url, '') FROM products`
	// in-stock first, then the shortest (closest) name, then the oldest row
	tieBreakSQL = ` ORDER BY (stock_quantity > 0) DESC, LENGTH(name) ASC, id ASC LIMIT 1`
)

// StockStatus is the outcome of a stock check
type StockStatus struct {
	ProductID     int64     `json:"product_id"`
	CanonicalName string    `json:"canonical_name"`
	Quantity      int       `json:"quantity"`
	Available     bool      `json:"available"`
	Price         float64   `json:"price"`
	MatchedBy     MatchRung `json:"matched_by"`
}

// stopwords are skipped when picking the significant words of a name
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "i": true, "want": true, "to": true, "buy": true,
	"order": true, "purchase": true, "please": true, "one": true, "of": true, "for": true,
	"me": true, "my": true, "some": true, "this": true, "that": true, "it": true,
}

// Check looks a product up by id or fuzzy name. The ladder is: exact id,
// substring of the full input, both of the first two significant words,
// then the first significant word. Returns ErrProductNotFound when every
// rung misses.
func (s *Store) Check(ctx context.Context, nameOrID string) (StockStatus, error) {
	query := strings.TrimSpace(nameOrID)
	if query == "" {
		return StockStatus{}, ErrProductNotFound
	}

	if id, err := strconv.ParseInt(query, 10, 64); err == nil {
		p, err := s.GetProduct(ctx, id)
		if err == nil {
			return s.status(p, MatchByID), nil
		}
		if !errors.Is(err, ErrProductNotFound) {
			return StockStatus{}, err
		}
	}

	p, err := s.findOne(ctx, []string{query})
	if err != nil {
		return StockStatus{}, err
	}
	if p != nil {
		return s.status(p, MatchFullName), nil
	}

	words := SignificantWords(query)
	if len(words) > 1 {
		p, err := s.findOne(ctx, words[:2])
		if err != nil {
			return StockStatus{}, err
		}
		if p != nil {
			return s.status(p, MatchTwoWords), nil
		}
	}

	if len(words) > 0 {
		p, err := s.findOne(ctx, words[:1])
		if err != nil {
			return StockStatus{}, err
		}
		if p != nil {
			return s.status(p, MatchFirstWord), nil
		}
	}

	s.logger.Info("Stock check found no product", zap.String("query", query))
	return StockStatus{}, ErrProductNotFound
}

// findOne returns the best product whose name contains every term, or nil
func (s *Store) findOne(ctx context.Context, terms []string) (*Product, error) {
	conditions := make([]string, len(terms))
	args := make([]interface{}, len(terms))
	for i, term := range terms {
		conditions[i] = `name LIKE ? ESCAPE '\'`
		args[i] = "%" + escapeLike(term) + "%"
	}

	row := s.db.QueryRowContext(ctx, productSelectSQL+" WHERE "+strings.Join(conditions, " AND ")+tieBreakSQL, args...)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to search products: %w", err)
	}
	return p, nil
}

func (s *Store) status(p *Product, rung MatchRung) StockStatus {
	s.logger.Debug("Stock check matched product",
		zap.Int64("product_id", p.ID),
		zap.String("name", p.Name),
		zap.String("matched_by", string(rung)),
		zap.Int("stock_quantity", p.StockQuantity))

	return StockStatus{
		ProductID:     p.ID,
		CanonicalName: p.Name,
		Quantity:      p.StockQuantity,
		Available:     p.StockQuantity > 0,
		Price:         p.Price,
		MatchedBy:     rung,
	}
}

// SignificantWords splits a product phrase into words, dropping stopwords
// and surrounding punctuation
func SignificantWords(phrase string) []string {
	var words []string
	for _, field := range strings.Fields(phrase) {
		word := strings.TrimFunc(field, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if word == "" || stopwords[strings.ToLower(word)] {
			continue
		}
		words = append(words, word)
	}
	return words
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
