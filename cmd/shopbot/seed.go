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

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/your-org/shop-assistant/internal/inventory"
	"github.com/your-org/shop-assistant/internal/logging"
)

func newSeedCmd(flags *globalFlags) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load products and customers into the inventory database",
		Long: `Load products and customers into the inventory database.

Products are matched on id or SKU and updated in place; customers on email.

Examples:
  shopbot seed --file configs/products.sample.json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}

			cfg, err := flags.loadConfig(false)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging, "shopbot")
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			seed, err := inventory.LoadSeedFile(file)
			if err != nil {
				return err
			}

			store, err := inventory.NewStore(cfg.Inventory.DBPath, logger)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			products, customers, err := store.Apply(cmd.Context(), seed)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d products and %d customers into %s\n", products, customers, cfg.Inventory.DBPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "JSON file with products and customers")
	return cmd
}
