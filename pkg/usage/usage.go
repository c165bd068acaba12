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

// Package usage accounts LLM token consumption. The orchestrator extracts
// counts from model-end events and persists one row per LLM call.
package usage

import (
	"encoding/json"
	"time"
)

// Record is one LLM call's accounted usage. Token counts are pointers
// because upstreams may omit any of them.
type Record struct {
	ID               string         `json:"id"`
	UserID           string         `json:"user_id"`
	ModelName        string         `json:"model_name"`
	PromptTokens     *int           `json:"prompt_tokens,omitempty"`
	CompletionTokens *int           `json:"completion_tokens,omitempty"`
	TotalTokens      *int           `json:"total_tokens,omitempty"`
	RequestID        string         `json:"request_id,omitempty"`
	TraceID          string         `json:"trace_id,omitempty"`
	Meta             map[string]any `json:"meta,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// TokenUsage is a normalized token count triple.
type TokenUsage struct {
	Prompt     *int
	Completion *int
	Total      *int
}

// ExtractUsage pulls token usage out of an on_chat_model_end event payload.
// Providers disagree on where counts live, so candidates are checked in
// order: response.usage_metadata, response.response_metadata.usage, then
// token_usage / usage_metadata nested under response_metadata.
func ExtractUsage(data map[string]any) (TokenUsage, bool) {
	response, ok := data["response"].(map[string]any)
	if !ok {
		response = data
	}

	candidates := []map[string]any{
		asMap(response["usage_metadata"]),
	}
	if respMeta := asMap(response["response_metadata"]); respMeta != nil {
		candidates = append(candidates,
			asMap(respMeta["usage"]),
			asMap(respMeta["token_usage"]),
			asMap(respMeta["usage_metadata"]),
		)
	}

	for _, candidate := range candidates {
		if candidate == nil {
			continue
		}
		if usage, ok := normalizeUsage(candidate); ok {
			return usage, true
		}
	}
	return TokenUsage{}, false
}

// normalizeUsage maps provider-specific key spellings onto one triple.
func normalizeUsage(raw map[string]any) (TokenUsage, bool) {
	usage := TokenUsage{
		Prompt:     intFrom(raw, "prompt_tokens", "input_tokens"),
		Completion: intFrom(raw, "completion_tokens", "output_tokens"),
		Total:      intFrom(raw, "total_tokens", "total"),
	}
	if usage.Prompt == nil && usage.Completion == nil && usage.Total == nil {
		return TokenUsage{}, false
	}
	return usage, true
}

func intFrom(raw map[string]any, keys ...string) *int {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case int:
			return &n
		case int64:
			i := int(n)
			return &i
		case float64:
			i := int(n)
			return &i
		case json.Number:
			if parsed, err := n.Int64(); err == nil {
				i := int(parsed)
				return &i
			}
		}
	}
	return nil
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}
