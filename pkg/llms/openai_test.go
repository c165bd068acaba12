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

package llms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kadirpekel/axon/pkg/config"
)

func newTestClient(baseURL string) *OpenAI {
	cfg := config.LLMConfig{
		Provider: config.LLMProviderOpenAI,
		Model:    "gpt-4o",
		APIKey:   "sk-test-key",
		BaseURL:  baseURL,
	}
	cfg.SetDefaults()
	cfg.BaseURL = baseURL
	return NewOpenAI(cfg)
}

func TestOpenAIInvoke(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("Expected POST request, got %s", r.Method)
		}
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Expected /chat/completions, got %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test-key" {
			t.Errorf("Expected Bearer token, got %s", auth)
		}

		var req openaiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		if req.Model != "gpt-4o" {
			t.Errorf("Expected model gpt-4o, got %s", req.Model)
		}
		if req.Stream {
			t.Error("Expected non-streaming request")
		}

		response := openaiResponse{
			ID:    "chatcmpl-42",
			Model: "gpt-4o",
			Choices: []openaiChoice{
				{
					Message: openaiChoiceMessage{
						Role:             "assistant",
						Content:          "Hello there",
						ReasoningContent: "thinking...",
					},
					FinishReason: "stop",
				},
			},
			Usage: &Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	resp, err := client.Invoke(context.Background(), []Message{UserMessage("hi")}, Options{})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}

	if resp.Content != "Hello there" {
		t.Errorf("Content = %q, want %q", resp.Content, "Hello there")
	}
	if resp.Reasoning != "thinking..." {
		t.Errorf("Reasoning = %q, want %q", resp.Reasoning, "thinking...")
	}
	if resp.FinishReason != "stop" {
		t.Errorf("FinishReason = %q, want stop", resp.FinishReason)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 15 {
		t.Errorf("Usage = %+v, want total 15", resp.Usage)
	}
	if resp.RequestID != "chatcmpl-42" {
		t.Errorf("RequestID = %q, want chatcmpl-42", resp.RequestID)
	}
}

func TestOpenAIInvokeToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openaiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		if len(req.Tools) != 1 {
			t.Errorf("Expected 1 tool, got %d", len(req.Tools))
		}
		if req.Tools[0].Type != "function" || req.Tools[0].Function.Name != "get_current_weather" {
			t.Errorf("Unexpected tool definition: %+v", req.Tools[0])
		}

		response := openaiResponse{
			Choices: []openaiChoice{
				{
					Message: openaiChoiceMessage{
						Role: "assistant",
						ToolCalls: []openaiToolCall{
							{
								ID:   "call_123",
								Type: "function",
								Function: openaiToolCallFunc{
									Name:      "get_current_weather",
									Arguments: `{"city":"beijing"}`,
								},
							},
						},
					},
					FinishReason: "tool_calls",
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	resp, err := client.Invoke(context.Background(), []Message{UserMessage("weather in beijing?")}, Options{
		Tools: []ToolDef{{Name: "get_current_weather", Description: "Get weather"}},
	})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}

	if len(resp.ToolCalls) != 1 {
		t.Fatalf("Expected 1 tool call, got %d", len(resp.ToolCalls))
	}
	if resp.ToolCalls[0].ID != "call_123" {
		t.Errorf("ToolCall ID = %q, want call_123", resp.ToolCalls[0].ID)
	}
	if resp.ToolCalls[0].Arguments != `{"city":"beijing"}` {
		t.Errorf("ToolCall Arguments = %q", resp.ToolCalls[0].Arguments)
	}
	if resp.FinishReason != "tool_calls" {
		t.Errorf("FinishReason = %q, want tool_calls", resp.FinishReason)
	}
}

func TestAssistantHistoryCarriesReasoningContent(t *testing.T) {
	var captured []map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]any
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}
		for _, m := range raw["messages"].([]any) {
			captured = append(captured, m.(map[string]any))
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openaiResponse{
			Choices: []openaiChoice{{Message: openaiChoiceMessage{Role: "assistant", Content: "ok"}, FinishReason: "stop"}},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	history := []Message{
		UserMessage("question"),
		AssistantMessage("answer without reasoning"),
		UserMessage("followup"),
	}
	if _, err := client.Invoke(context.Background(), history, Options{}); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}

	if len(captured) != 3 {
		t.Fatalf("Expected 3 wire messages, got %d", len(captured))
	}
	for _, m := range captured {
		role := m["role"].(string)
		_, hasReasoning := m["reasoning_content"]
		if role == "assistant" && !hasReasoning {
			t.Error("assistant message missing reasoning_content field")
		}
		if role != "assistant" && hasReasoning {
			t.Errorf("%s message unexpectedly carries reasoning_content", role)
		}
	}
}

func TestOpenAIStream(t *testing.T) {
	chunks := []string{
		`{"choices":[{"delta":{"reasoning_content":"让我想想"}}]}`,
		`{"choices":[{"delta":{"content":"你好"}}]}`,
		`{"choices":[{"delta":{"content":"！"}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		`{"choices":[],"usage":{"prompt_tokens":7,"completion_tokens":3,"total_tokens":10}}`,
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openaiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		if !req.Stream {
			t.Error("Expected streaming request")
		}
		if req.StreamOptions == nil || !req.StreamOptions.IncludeUsage {
			t.Error("Expected stream_options.include_usage")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		for _, chunk := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", chunk)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	deltas, err := client.Stream(context.Background(), []Message{UserMessage("hi")}, Options{})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	resp, err := Accumulate(deltas)
	if err != nil {
		t.Fatalf("Accumulate() error = %v", err)
	}

	if resp.Content != "你好！" {
		t.Errorf("Content = %q, want 你好！", resp.Content)
	}
	if resp.Reasoning != "让我想想" {
		t.Errorf("Reasoning = %q, want 让我想想", resp.Reasoning)
	}
	if resp.FinishReason != "stop" {
		t.Errorf("FinishReason = %q, want stop", resp.FinishReason)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 10 {
		t.Errorf("Usage = %+v, want total 10", resp.Usage)
	}
}

func TestOpenAIStreamToolCallAccumulation(t *testing.T) {
	chunks := []string{
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"upsert_memory","arguments":""}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"content\":"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"likes go\"}"}}]}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, chunk := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", chunk)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	deltas, err := client.Stream(context.Background(), []Message{UserMessage("remember this")}, Options{})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	resp, err := Accumulate(deltas)
	if err != nil {
		t.Fatalf("Accumulate() error = %v", err)
	}

	if len(resp.ToolCalls) != 1 {
		t.Fatalf("Expected 1 tool call, got %d", len(resp.ToolCalls))
	}
	tc := resp.ToolCalls[0]
	if tc.ID != "call_1" || tc.Name != "upsert_memory" {
		t.Errorf("ToolCall = %+v", tc)
	}
	if tc.Arguments != `{"content":"likes go"}` {
		t.Errorf("Arguments = %q", tc.Arguments)
	}
	if resp.FinishReason != "tool_calls" {
		t.Errorf("FinishReason = %q, want tool_calls", resp.FinishReason)
	}
}

func TestOpenAIUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"invalid model","type":"invalid_request_error"}}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Invoke(context.Background(), []Message{UserMessage("hi")}, Options{})
	if err == nil {
		t.Fatal("Expected error for 400 response")
	}

	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("Expected *UpstreamError, got %T: %v", err, err)
	}
	if upstream.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d, want 400", upstream.StatusCode)
	}
	if upstream.Retryable {
		t.Error("400 must not be retryable")
	}
	if !strings.Contains(upstream.Message, "invalid model") {
		t.Errorf("Message = %q, want to contain 'invalid model'", upstream.Message)
	}
}

func TestAccumulateMultipleToolCallsOrdered(t *testing.T) {
	deltas := make(chan Delta, 4)
	deltas <- Delta{ToolCallDeltas: []ToolCallDelta{{Index: 1, ID: "call_b", Name: "second", Arguments: "{}"}}}
	deltas <- Delta{ToolCallDeltas: []ToolCallDelta{{Index: 0, ID: "call_a", Name: "first", Arguments: "{}"}}}
	deltas <- Delta{FinishReason: "tool_calls"}
	close(deltas)

	resp, err := Accumulate(deltas)
	if err != nil {
		t.Fatalf("Accumulate() error = %v", err)
	}
	if len(resp.ToolCalls) != 2 {
		t.Fatalf("Expected 2 tool calls, got %d", len(resp.ToolCalls))
	}
	if resp.ToolCalls[0].Name != "first" || resp.ToolCalls[1].Name != "second" {
		t.Errorf("Tool calls out of order: %+v", resp.ToolCalls)
	}
}
