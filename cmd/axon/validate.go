// Copyright 2026 Kadir Pekel
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
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/axon/pkg/config"
)

// ValidateCmd validates a configuration file.
type ValidateCmd struct {
	Config      string `arg:"" name:"config" help:"Configuration file path." placeholder:"PATH"`
	PrintConfig bool   `short:"p" name:"print-config" help:"Print the expanded configuration (defaults applied, env vars resolved)."`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	ctx := context.Background()

	// LoadConfigFile applies defaults and validates; an error here is
	// the validation result.
	cfg, loader, err := config.LoadConfigFile(ctx, c.Config)
	if err != nil {
		return err
	}
	defer loader.Close()

	if c.PrintConfig {
		fmt.Printf("# Expanded configuration from: %s\n\n", c.Config)
		encoder := yaml.NewEncoder(os.Stdout)
		encoder.SetIndent(2)
		if err := encoder.Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode config as YAML: %w", err)
		}
		return encoder.Close()
	}

	fmt.Printf("%s: valid\n", c.Config)
	fmt.Printf("  server:       %s\n", cfg.Server.Address())
	fmt.Printf("  database:     %s\n", cfg.Database.Driver)
	fmt.Printf("  vector store: %s\n", cfg.VectorStore.Provider)
	fmt.Printf("  chat model:   %s/%s\n", cfg.LLM.Provider, cfg.LLM.Model)
	fmt.Printf("  router model: %s/%s\n", cfg.RouterLLM.Provider, cfg.RouterLLM.Model)
	if n := len(cfg.Tools.MCPServers); n > 0 {
		fmt.Printf("  mcp servers:  %d\n", n)
	}
	return nil
}
