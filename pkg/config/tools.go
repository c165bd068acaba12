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

package config

import "fmt"

// MCPServerConfig configures one external MCP tool server, reached over
// streamable HTTP.
type MCPServerConfig struct {
	// URL of the MCP server.
	URL string `yaml:"url,omitempty"`

	// Filter limits which of the server's tools are exposed to agents.
	// Empty exposes all of them.
	Filter []string `yaml:"filter,omitempty"`
}

// ToolsConfig configures tool sources available to agents. Built-in tools
// (memory upsert, weather) are always registered; MCP servers are additive.
type ToolsConfig struct {
	// MCPServers maps source names to MCP server configurations.
	MCPServers map[string]*MCPServerConfig `yaml:"mcp_servers,omitempty"`
}

// SetDefaults applies default values.
func (c *ToolsConfig) SetDefaults() {}

// Validate checks the tools configuration.
func (c *ToolsConfig) Validate() error {
	for name, server := range c.MCPServers {
		if server.URL == "" {
			return fmt.Errorf("mcp_servers.%s: url is required", name)
		}
	}
	return nil
}
