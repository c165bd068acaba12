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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/axon/pkg/config"
	"github.com/kadirpekel/axon/pkg/httpclient"
	"github.com/kadirpekel/axon/pkg/observability"
)

// OpenAI is a chat completion client for OpenAI-compatible providers.
// DeepSeek's reasoning_content extension is handled transparently: inbound
// reasoning is surfaced on deltas and responses, and outbound assistant
// messages always carry the field because reasoner backends reject its
// omission.
type OpenAI struct {
	model       string
	apiKey      string
	baseURL     string
	temperature *float64
	maxTokens   int
	http        *httpclient.Client
}

// New creates a chat client for the configured provider. DeepSeek speaks
// the OpenAI wire protocol (plus reasoning_content), so both providers
// share one implementation.
func New(cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case config.LLMProviderOpenAI, config.LLMProviderDeepSeek:
		return NewOpenAI(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}

// NewOpenAI creates a client from configuration.
func NewOpenAI(cfg config.LLMConfig) *OpenAI {
	timeout := cfg.Timeout.Duration()
	if timeout == 0 {
		timeout = 120 * time.Second
	}

	return &OpenAI{
		model:       cfg.Model,
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		http: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
			httpclient.WithMaxRetries(3),
			httpclient.WithBaseDelay(2*time.Second),
			httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
		),
	}
}

// Model returns the configured model name.
func (c *OpenAI) Model() string {
	return c.model
}

// ------------------------------------------------------------------
// Wire types
// ------------------------------------------------------------------

type openaiRequest struct {
	Model         string               `json:"model"`
	Messages      []openaiMessage      `json:"messages"`
	Temperature   *float64             `json:"temperature,omitempty"`
	MaxTokens     int                  `json:"max_tokens,omitempty"`
	Stream        bool                 `json:"stream,omitempty"`
	StreamOptions *openaiStreamOptions `json:"stream_options,omitempty"`
	Tools         []openaiTool         `json:"tools,omitempty"`
	ToolChoice    string               `json:"tool_choice,omitempty"`
}

type openaiStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`

	// ReasoningContent is always present on assistant messages, empty
	// string when the turn had no reasoning.
	ReasoningContent *string `json:"reasoning_content,omitempty"`

	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
}

type openaiTool struct {
	Type     string            `json:"type"`
	Function openaiToolFuncDef `json:"function"`
}

type openaiToolFuncDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type openaiToolCall struct {
	Index    int                `json:"index,omitempty"`
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function openaiToolCallFunc `json:"function"`
}

type openaiToolCallFunc struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type openaiResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openaiChoice `json:"choices"`
	Usage   *Usage         `json:"usage"`
}

type openaiChoice struct {
	Message      openaiChoiceMessage `json:"message"`
	FinishReason string              `json:"finish_reason"`
}

type openaiChoiceMessage struct {
	Role             string           `json:"role"`
	Content          string           `json:"content"`
	ReasoningContent string           `json:"reasoning_content"`
	ToolCalls        []openaiToolCall `json:"tool_calls"`
}

type openaiStreamChunk struct {
	ID      string               `json:"id"`
	Model   string               `json:"model"`
	Choices []openaiStreamChoice `json:"choices"`
	Usage   *Usage               `json:"usage"`
}

type openaiStreamChoice struct {
	Delta        openaiStreamDelta `json:"delta"`
	FinishReason string            `json:"finish_reason"`
}

type openaiStreamDelta struct {
	Content          string           `json:"content"`
	ReasoningContent string           `json:"reasoning_content"`
	ToolCalls        []openaiToolCall `json:"tool_calls"`
}

type openaiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// ------------------------------------------------------------------
// Requests
// ------------------------------------------------------------------

// Invoke performs a non-streaming completion.
func (c *OpenAI) Invoke(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	ctx, span := c.startSpan(ctx, false)
	defer span.End()

	start := time.Now()
	body := c.buildRequest(messages, opts, false)

	resp, err := c.post(ctx, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	var parsed openaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		err = fmt.Errorf("failed to decode completion response: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if len(parsed.Choices) == 0 {
		err := fmt.Errorf("completion response contained no choices")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	metrics := observability.GetGlobalMetrics()
	metrics.RecordLLMRequest(c.model, time.Since(start).Seconds())
	if parsed.Usage != nil {
		metrics.RecordLLMTokens(c.model, parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens)
		span.SetAttributes(
			attribute.Int("llm.tokens_input", parsed.Usage.PromptTokens),
			attribute.Int("llm.tokens_output", parsed.Usage.CompletionTokens),
		)
	}

	choice := parsed.Choices[0]
	result := &Response{
		Content:      choice.Message.Content,
		Reasoning:    choice.Message.ReasoningContent,
		FinishReason: choice.FinishReason,
		Usage:        parsed.Usage,
		Model:        parsed.Model,
		RequestID:    parsed.ID,
	}
	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	return result, nil
}

// Stream performs a streaming completion. The span covers the whole
// stream, ending when the last delta is delivered.
func (c *OpenAI) Stream(ctx context.Context, messages []Message, opts Options) (<-chan Delta, error) {
	ctx, span := c.startSpan(ctx, true)

	start := time.Now()
	body := c.buildRequest(messages, opts, true)

	resp, err := c.post(ctx, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return nil, err
	}

	deltas := make(chan Delta)
	go func() {
		defer span.End()
		c.readStream(ctx, resp, deltas)
		observability.GetGlobalMetrics().RecordLLMRequest(c.model, time.Since(start).Seconds())
	}()
	return deltas, nil
}

func (c *OpenAI) startSpan(ctx context.Context, streaming bool) (context.Context, trace.Span) {
	return observability.GetTracer("axon.llm").Start(ctx, "llm.request",
		trace.WithAttributes(
			attribute.String("llm.model", c.model),
			attribute.Bool("llm.streaming", streaming),
		),
	)
}

func (c *OpenAI) buildRequest(messages []Message, opts Options, stream bool) openaiRequest {
	req := openaiRequest{
		Model:       c.model,
		Messages:    toWireMessages(messages),
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}

	if opts.Temperature != nil {
		req.Temperature = opts.Temperature
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if opts.ToolChoice != "" {
		req.ToolChoice = opts.ToolChoice
	}
	for _, tool := range opts.Tools {
		req.Tools = append(req.Tools, openaiTool{
			Type: "function",
			Function: openaiToolFuncDef{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}

	if stream {
		req.Stream = true
		req.StreamOptions = &openaiStreamOptions{IncludeUsage: true}
	}

	return req
}

// toWireMessages converts the history to the wire format. Assistant
// messages get reasoning_content stamped in even when empty.
func toWireMessages(messages []Message) []openaiMessage {
	wire := make([]openaiMessage, 0, len(messages))
	for _, m := range messages {
		wm := openaiMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}

		if m.Role == RoleAssistant {
			reasoning := m.Reasoning
			wm.ReasoningContent = &reasoning
		}

		for _, tc := range m.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, openaiToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: openaiToolCallFunc{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}

		wire = append(wire, wm)
	}
	return wire
}

func (c *OpenAI) post(ctx context.Context, body openaiRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, c.upstreamError(resp)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if re, ok := httpclient.IsRetryableError(err); ok {
			return nil, &UpstreamError{
				StatusCode: re.StatusCode,
				Message:    re.Message,
				Retryable:  true,
			}
		}
		return nil, fmt.Errorf("completion request failed: %w", err)
	}

	return resp, nil
}

// upstreamError reads the error body of a failed response.
func (c *OpenAI) upstreamError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	message := strings.TrimSpace(string(raw))
	var parsed openaiErrorResponse
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error.Message != "" {
		message = parsed.Error.Message
	}

	return &UpstreamError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Retryable:  retryableStatus(resp.StatusCode),
	}
}

// readStream parses SSE chunks into Deltas until [DONE] or failure.
func (c *OpenAI) readStream(ctx context.Context, resp *http.Response, deltas chan<- Delta) {
	defer close(deltas)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return
			}
			if ctx.Err() != nil {
				deltas <- Delta{Err: ctx.Err()}
				return
			}
			deltas <- Delta{Err: fmt.Errorf("stream read failed: %w", err)}
			return
		}

		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return
		}

		var chunk openaiStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			slog.Debug("Skipping malformed stream chunk", "error", err)
			continue
		}

		// With include_usage set, exactly one trailing chunk carries usage.
		if chunk.Usage != nil {
			observability.GetGlobalMetrics().RecordLLMTokens(c.model, chunk.Usage.PromptTokens, chunk.Usage.CompletionTokens)
			trace.SpanFromContext(ctx).SetAttributes(
				attribute.Int("llm.tokens_input", chunk.Usage.PromptTokens),
				attribute.Int("llm.tokens_output", chunk.Usage.CompletionTokens),
			)
		}

		delta := Delta{Usage: chunk.Usage}
		if len(chunk.Choices) > 0 {
			choice := chunk.Choices[0]
			delta.ContentDelta = choice.Delta.Content
			delta.ReasoningDelta = choice.Delta.ReasoningContent
			delta.FinishReason = choice.FinishReason
			for _, tc := range choice.Delta.ToolCalls {
				delta.ToolCallDeltas = append(delta.ToolCallDeltas, ToolCallDelta{
					Index:     tc.Index,
					ID:        tc.ID,
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				})
			}
		}

		select {
		case deltas <- delta:
		case <-ctx.Done():
			return
		}
	}
}

var _ Client = (*OpenAI)(nil)
