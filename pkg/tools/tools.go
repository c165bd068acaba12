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

// Package tools defines the callable capabilities agents expose to the
// model: a registry keyed by tool name, typed argument decoding, and
// JSON schema generation from Go structs.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"

	"github.com/kadirpekel/axon/pkg/llms"
)

// Invocation carries the per-call runtime context into a tool.
type Invocation struct {
	// Args are the decoded call arguments.
	Args map[string]any

	// UserID scopes user-bound tools like memory. May be empty.
	UserID string
}

// Tool is one callable capability.
type Tool interface {
	// Name returns the unique tool name the model calls it by.
	Name() string

	// Description tells the model what the tool does.
	Description() string

	// Schema returns the JSON schema of the tool's arguments.
	Schema() map[string]any

	// Call executes the tool and returns its textual result.
	Call(ctx context.Context, inv Invocation) (string, error)
}

// funcTool adapts a typed Go function into a Tool. Args is a struct
// whose json and jsonschema tags define the parameter schema.
type funcTool[Args any] struct {
	name        string
	description string
	schema      map[string]any
	fn          func(ctx context.Context, inv Invocation, args Args) (string, error)
}

// New builds a Tool from a typed function, reflecting the argument
// schema from the Args struct tags.
func New[Args any](name, description string, fn func(ctx context.Context, inv Invocation, args Args) (string, error)) (Tool, error) {
	if name == "" {
		return nil, fmt.Errorf("tool name is required")
	}
	if fn == nil {
		return nil, fmt.Errorf("tool %s has no function", name)
	}
	schema, err := reflectSchema[Args]()
	if err != nil {
		return nil, fmt.Errorf("failed to generate schema for %s: %w", name, err)
	}
	return &funcTool[Args]{
		name:        name,
		description: description,
		schema:      schema,
		fn:          fn,
	}, nil
}

func (t *funcTool[Args]) Name() string           { return t.name }
func (t *funcTool[Args]) Description() string    { return t.description }
func (t *funcTool[Args]) Schema() map[string]any { return t.schema }

func (t *funcTool[Args]) Call(ctx context.Context, inv Invocation) (string, error) {
	var args Args
	if err := decodeArgs(inv.Args, &args); err != nil {
		return "", fmt.Errorf("invalid arguments for %s: %w", t.name, err)
	}
	return t.fn(ctx, inv, args)
}

// decodeArgs converts loosely typed call arguments into the tool's
// argument struct. Weak typing tolerates models sending numbers as
// strings and vice versa.
func decodeArgs(input map[string]any, output any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           output,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	return decoder.Decode(input)
}

// reflectSchema generates a JSON schema map from the Args struct tags.
func reflectSchema[T any]() (map[string]any, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(new(T))

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	delete(result, "$schema")
	delete(result, "$id")
	return result, nil
}

// Registry resolves tools by name and renders their model-facing
// definitions in registration order.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return fmt.Errorf("tool is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("tool %s is already registered", t.Name())
	}
	r.tools[t.Name()] = t
	r.order = append(r.order, t.Name())
	return nil
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Defs returns the model-facing tool definitions in registration order.
func (r *Registry) Defs() []llms.ToolDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]llms.ToolDef, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, llms.ToolDef{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}
	return defs
}

// Call parses a model tool call's raw JSON arguments and executes the
// named tool.
func (r *Registry) Call(ctx context.Context, call llms.ToolCall, userID string) (string, error) {
	t, ok := r.Get(call.Name)
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", call.Name)
	}

	args := make(map[string]any)
	if raw := strings.TrimSpace(call.Arguments); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return "", fmt.Errorf("invalid arguments for %s: %w", call.Name, err)
		}
	}
	return t.Call(ctx, Invocation{Args: args, UserID: userID})
}
