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

// Package llms provides a chat completion client for OpenAI-compatible
// providers, including the DeepSeek reasoning extensions.
package llms

import (
	"context"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry in a conversation history.
type Message struct {
	// ID identifies the message for de-duplication when histories merge.
	ID string `json:"id,omitempty"`

	// Role is one of system, user, assistant, tool.
	Role string `json:"role"`

	// Content is the message text.
	Content string `json:"content"`

	// Reasoning carries the model's reasoning trace (DeepSeek extension).
	// Only meaningful on assistant messages.
	Reasoning string `json:"reasoning_content,omitempty"`

	// ToolCalls requested by an assistant message.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID pairs a tool message with the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// Name of the tool for tool messages.
	Name string `json:"name,omitempty"`
}

// ToolCall is a model request to invoke a tool.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // raw JSON
}

// ToolDef describes a tool the model may call.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Options are per-call generation parameters. Zero values defer to the
// client configuration.
type Options struct {
	Temperature *float64
	MaxTokens   int
	Tools       []ToolDef
	ToolChoice  string
}

// Usage reports token consumption for one request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the complete result of one chat completion.
type Response struct {
	Content      string
	Reasoning    string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        *Usage
	Model        string
	RequestID    string
}

// ToolCallDelta is one streamed fragment of a tool call. Fragments for the
// same Index concatenate into one complete call.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// Delta is one streamed chunk. The final Delta of a stream carries
// FinishReason (and Usage when the server reports it); Err is set instead
// when the stream failed mid-flight.
type Delta struct {
	ContentDelta   string
	ReasoningDelta string
	ToolCallDeltas []ToolCallDelta
	FinishReason   string
	Usage          *Usage
	Err            error
}

// Client is a chat completion provider.
type Client interface {
	// Invoke performs a non-streaming completion.
	Invoke(ctx context.Context, messages []Message, opts Options) (*Response, error)

	// Stream performs a streaming completion. The channel closes when the
	// stream ends; a mid-stream failure is delivered as a Delta with Err set.
	Stream(ctx context.Context, messages []Message, opts Options) (<-chan Delta, error)

	// Model returns the configured model name.
	Model() string
}

// SystemMessage builds a system message with a fresh ID.
func SystemMessage(content string) Message {
	return Message{ID: uuid.NewString(), Role: RoleSystem, Content: content}
}

// UserMessage builds a user message with a fresh ID.
func UserMessage(content string) Message {
	return Message{ID: uuid.NewString(), Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant message with a fresh ID.
func AssistantMessage(content string) Message {
	return Message{ID: uuid.NewString(), Role: RoleAssistant, Content: content}
}

// ToolMessage builds a tool result message with a fresh ID.
func ToolMessage(toolCallID, name, content string) Message {
	return Message{
		ID:         uuid.NewString(),
		Role:       RoleTool,
		Content:    content,
		ToolCallID: toolCallID,
		Name:       name,
	}
}
