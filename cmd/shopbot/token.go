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
	"time"

	"github.com/spf13/cobra"

	"github.com/your-org/shop-assistant/internal/auth"
)

func newTokenCmd(flags *globalFlags) *cobra.Command {
	var (
		userID int64
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for a customer",
		Long: `Mint a bearer token for a customer, signed with auth.jwt_secret.

Examples:
  shopbot token --user 7
  shopbot token --user 7 --ttl 1h`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.loadConfig(false)
			if err != nil {
				return err
			}

			verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret, nil)
			if err != nil {
				return fmt.Errorf("%w. Set auth.jwt_secret or JWT_SECRET", err)
			}

			if !cmd.Flags().Changed("ttl") {
				ttl = cfg.Auth.TokenTTL
			}
			token, err := verifier.Issue(userID, ttl)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().Int64Var(&userID, "user", 0, "customer id")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default auth.token_ttl)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
