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

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// MCPSource exposes the tools of an MCP server over streamable HTTP.
// The connection is established lazily on the first Tools call.
type MCPSource struct {
	url    string
	filter []string

	mu        sync.Mutex
	client    *client.Client
	tools     []Tool
	connected bool
}

// NewMCPSource creates a source for the MCP server at url. A non-empty
// filter limits which tool names the source exposes.
func NewMCPSource(url string, filter ...string) (*MCPSource, error) {
	if url == "" {
		return nil, fmt.Errorf("mcp server url is required")
	}
	return &MCPSource{url: url, filter: filter}, nil
}

// Tools lists the server's tools, connecting on first use.
func (s *MCPSource) Tools(ctx context.Context) ([]Tool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		if err := s.connect(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to MCP server: %w", err)
		}
	}
	return s.tools, nil
}

func (s *MCPSource) connect(ctx context.Context) error {
	mcpClient, err := client.NewStreamableHttpClient(s.url)
	if err != nil {
		return fmt.Errorf("failed to create MCP client: %w", err)
	}
	if err := mcpClient.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MCP client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "axon", Version: "1.0.0"}
	initReq.Params.ProtocolVersion = "2024-11-05"
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		_ = mcpClient.Close()
		return fmt.Errorf("failed to initialize MCP session: %w", err)
	}

	listResp, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		_ = mcpClient.Close()
		return fmt.Errorf("failed to list MCP tools: %w", err)
	}

	allowed := make(map[string]bool, len(s.filter))
	for _, name := range s.filter {
		allowed[name] = true
	}

	tools := make([]Tool, 0, len(listResp.Tools))
	for _, t := range listResp.Tools {
		if len(allowed) > 0 && !allowed[t.Name] {
			continue
		}
		tools = append(tools, &mcpTool{
			source:      s,
			name:        t.Name,
			description: t.Description,
			schema:      schemaToMap(t.InputSchema),
		})
	}

	s.client = mcpClient
	s.tools = tools
	s.connected = true

	slog.Info("Connected to MCP server", "url", s.url, "tools", len(tools))
	return nil
}

// Close shuts the MCP connection down.
func (s *MCPSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	s.tools = nil
	s.connected = false
	return err
}

// mcpTool adapts one server-side tool to the Tool interface.
type mcpTool struct {
	source      *MCPSource
	name        string
	description string
	schema      map[string]any
}

func (t *mcpTool) Name() string           { return t.name }
func (t *mcpTool) Description() string    { return t.description }
func (t *mcpTool) Schema() map[string]any { return t.schema }

func (t *mcpTool) Call(ctx context.Context, inv Invocation) (string, error) {
	t.source.mu.Lock()
	mcpClient := t.source.client
	t.source.mu.Unlock()
	if mcpClient == nil {
		return "", fmt.Errorf("MCP client is not connected")
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = t.name
	req.Params.Arguments = inv.Args

	resp, err := mcpClient.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("MCP call failed: %w", err)
	}

	text := collectText(resp.Content)
	if resp.IsError {
		if text == "" {
			text = "tool call failed"
		}
		return "", fmt.Errorf("%s", text)
	}
	return text, nil
}

func collectText(contents []mcp.Content) string {
	var texts []string
	for _, c := range contents {
		if tc, ok := c.(mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	return strings.Join(texts, "\n")
}

func schemaToMap(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}
