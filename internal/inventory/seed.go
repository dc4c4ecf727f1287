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
	"encoding/json"
	"fmt"
	"os"
)

// SeedFile is the JSON document accepted by LoadSeedFile
type SeedFile struct {
	Products  []Product  `json:"products"`
	Customers []Customer `json:"customers"`
}

// LoadSeedFile reads a seed document from disk
func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed SeedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	return &seed, nil
}

// Apply writes the seed document's products and customers to the store
func (s *Store) Apply(ctx context.Context, seed *SeedFile) (products int, customers int, err error) {
	if len(seed.Products) > 0 {
		if products, err = s.Seed(ctx, seed.Products); err != nil {
			return 0, 0, err
		}
	}
	for _, c := range seed.Customers {
		if _, err := s.UpsertCustomer(ctx, c); err != nil {
			return products, customers, err
		}
		customers++
	}
	return products, customers, nil
}
