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

// Package main is the shopbot command: the chat HTTP server, an interactive
// chat console and inventory maintenance tools.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/your-org/shop-assistant/internal/config"
)

var version = "dev"

// globalFlags are shared by every subcommand
type globalFlags struct {
	configPath string
	envFile    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "shopbot",
		Short:         "E-commerce support assistant",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to config.yaml (default ./configs/config.yaml)")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", "", "dotenv file to load before reading configuration")

	root.AddCommand(
		newServeCmd(flags),
		newChatCmd(flags),
		newSeedCmd(flags),
		newTokenCmd(flags),
	)
	return root
}

// loadConfig reads configuration. Maintenance commands skip validation so
// they work without model or collaborator settings.
func (f *globalFlags) loadConfig(validate bool) (*config.Config, error) {
	cfg, err := config.LoadWithOptions(config.LoadOptions{
		ConfigPath:       f.configPath,
		EnvFile:          f.envFile,
		ValidateRequired: validate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}
