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

package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/kadirpekel/axon/pkg/graph"
	"github.com/kadirpekel/axon/pkg/llms"
	"github.com/kadirpekel/axon/pkg/memory"
)

func newQAApp(t *testing.T, llm llms.Client, store memory.Store) *graph.Runnable {
	t.Helper()

	qa, err := newQA(llm, store, nil)
	if err != nil {
		t.Fatalf("newQA() error = %v", err)
	}
	app, err := qa.compile(graph.CompileOptions{})
	if err != nil {
		t.Fatalf("compile() error = %v", err)
	}
	return app
}

func userMeta(userID string) graph.Config {
	return graph.Config{Metadata: map[string]any{"user_id": userID}}
}

func TestQARespondsAndStreams(t *testing.T) {
	llm := respond(&llms.Response{
		Content:   "Hello there",
		Reasoning: "user greeted me",
		Usage:     &llms.Usage{PromptTokens: 12, CompletionTokens: 5, TotalTokens: 17},
	})
	app := newQAApp(t, llm, newTestMemoryStore(t))

	events := collectEvents(t, app, userInput("hi"), userMeta("user-1"))

	content, reasoning := streamedText(events)
	if content != "Hello there" {
		t.Errorf("streamed content = %q, want %q", content, "Hello there")
	}
	if reasoning != "user greeted me" {
		t.Errorf("streamed reasoning = %q, want %q", reasoning, "user greeted me")
	}
	for _, e := range eventsOfKind(events, graph.EventChatModelStream) {
		chunk, _ := e.Data["chunk"].(map[string]any)
		c, _ := chunk["content"].(string)
		r, _ := chunk["reasoning_content"].(string)
		if c == "" && r == "" {
			t.Error("stream event carries no visible delta")
		}
	}

	ends := eventsOfKind(events, graph.EventChatModelEnd)
	if len(ends) != 1 {
		t.Fatalf("got %d model end events, want 1", len(ends))
	}
	resp, _ := ends[0].Data["response"].(map[string]any)
	if resp["content"] != "Hello there" {
		t.Errorf("end event content = %v, want %q", resp["content"], "Hello there")
	}
	meta, _ := resp["response_metadata"].(map[string]any)
	if meta["model_name"] != "fake-model" {
		t.Errorf("model_name = %v, want fake-model", meta["model_name"])
	}
	usage, _ := meta["usage"].(map[string]any)
	if usage["total_tokens"] != 17 {
		t.Errorf("total_tokens = %v, want 17", usage["total_tokens"])
	}

	if errs := eventsOfKind(events, graph.EventError); len(errs) != 0 {
		t.Fatalf("unexpected error events: %v", errs)
	}
}

func TestQAMemoryInPrompt(t *testing.T) {
	ctx := context.Background()
	store := newTestMemoryStore(t)
	ns := memory.Namespace("user-1")
	if err := store.Put(ctx, ns, "lang", map[string]any{"content": "prefers Go"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := store.Put(ctx, ns, "city", map[string]any{"content": "lives in Beijing"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	llm := respond(&llms.Response{Content: "ok"}, &llms.Response{Content: "ok"})
	app := newQAApp(t, llm, store)

	cfg := userMeta("user-1")
	cfg.ThreadID = "thread-1"
	if _, err := app.Invoke(ctx, userInput("hello"), cfg); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}

	system := llm.call(0).messages[0]
	if system.Role != llms.RoleSystem {
		t.Fatalf("first message role = %q, want system", system.Role)
	}
	for _, want := range []string{"Current User ID: user-1", "- prefers Go", "- lives in Beijing", "upsert_memory"} {
		if !strings.Contains(system.Content, want) {
			t.Errorf("system prompt missing %q:\n%s", want, system.Content)
		}
	}
	if got := len(llm.call(0).opts.Tools); got != 2 {
		t.Errorf("offered %d tools, want 2", got)
	}

	// Memories are keyed by user, not thread.
	cfg.ThreadID = "thread-2"
	if _, err := app.Invoke(ctx, userInput("hello again"), cfg); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if !strings.Contains(llm.call(1).messages[0].Content, "- prefers Go") {
		t.Error("second thread lost the user's memories")
	}
}

func TestQANoMemories(t *testing.T) {
	llm := respond(&llms.Response{Content: "ok"})
	app := newQAApp(t, llm, newTestMemoryStore(t))

	if _, err := app.Invoke(context.Background(), userInput("hello"), userMeta("user-2")); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if !strings.Contains(llm.call(0).messages[0].Content, "No memories yet.") {
		t.Errorf("system prompt missing empty-memory marker:\n%s", llm.call(0).messages[0].Content)
	}
}

func TestQAUserIDFallback(t *testing.T) {
	llm := respond(&llms.Response{Content: "ok"}, &llms.Response{Content: "ok"})
	app := newQAApp(t, llm, newTestMemoryStore(t))
	ctx := context.Background()

	if _, err := app.Invoke(ctx, userInput("hi"), graph.Config{ThreadID: "thread-7"}); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if !strings.Contains(llm.call(0).messages[0].Content, "Current User ID: thread-7") {
		t.Error("user id did not fall back to thread id")
	}

	if _, err := app.Invoke(ctx, userInput("hi"), graph.Config{}); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if !strings.Contains(llm.call(1).messages[0].Content, "Current User ID: default_user") {
		t.Error("user id did not fall back to default_user")
	}
}

func TestQAToolLoop(t *testing.T) {
	llm := respond(
		&llms.Response{ToolCalls: []llms.ToolCall{{
			ID:        "call-1",
			Name:      "get_current_weather",
			Arguments: `{"city": "Beijing"}`,
		}}},
		&llms.Response{Content: "It is sunny in Beijing."},
	)
	app := newQAApp(t, llm, newTestMemoryStore(t))

	state, err := app.Invoke(context.Background(), userInput("weather in Beijing?"), userMeta("user-1"))
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}

	if got := lastMessage(t, state).Content; got != "It is sunny in Beijing." {
		t.Errorf("final answer = %q", got)
	}

	var toolMsg *llms.Message
	for i := range state.Messages {
		if state.Messages[i].Role == llms.RoleTool {
			toolMsg = &state.Messages[i]
		}
	}
	if toolMsg == nil {
		t.Fatal("no tool message in state")
	}
	if toolMsg.ToolCallID != "call-1" {
		t.Errorf("tool message call id = %q, want call-1", toolMsg.ToolCallID)
	}
	if toolMsg.Content != "Sunny, 25°C" {
		t.Errorf("tool message content = %q", toolMsg.Content)
	}

	if llm.callCount() != 2 {
		t.Fatalf("model called %d times, want 2", llm.callCount())
	}
	second := llm.call(1)
	lastInput := second.messages[len(second.messages)-1]
	if lastInput.Role != llms.RoleTool || lastInput.ToolCallID != "call-1" {
		t.Errorf("second call did not end with the tool result, got role %q", lastInput.Role)
	}
}

func TestQAToolEvents(t *testing.T) {
	llm := respond(
		&llms.Response{ToolCalls: []llms.ToolCall{{
			ID:        "call-1",
			Name:      "get_current_weather",
			Arguments: `{"city": "Beijing"}`,
		}}},
		&llms.Response{Content: "Sunny."},
	)
	app := newQAApp(t, llm, newTestMemoryStore(t))

	events := collectEvents(t, app, userInput("weather?"), userMeta("user-1"))

	starts := eventsOfKind(events, graph.EventToolStart)
	if len(starts) != 1 {
		t.Fatalf("got %d tool start events, want 1", len(starts))
	}
	if starts[0].Name != "get_current_weather" {
		t.Errorf("tool start name = %q", starts[0].Name)
	}
	if starts[0].Data["tool_call_id"] != "call-1" {
		t.Errorf("tool start call id = %v", starts[0].Data["tool_call_id"])
	}
	input, _ := starts[0].Data["input"].(map[string]any)
	if input["city"] != "Beijing" {
		t.Errorf("tool start input = %v", starts[0].Data["input"])
	}

	ends := eventsOfKind(events, graph.EventToolEnd)
	if len(ends) != 1 {
		t.Fatalf("got %d tool end events, want 1", len(ends))
	}
	if ends[0].Data["output"] != "Sunny, 25°C" {
		t.Errorf("tool end output = %v", ends[0].Data["output"])
	}
	if ends[0].Data["tool_call_id"] != "call-1" {
		t.Errorf("tool end call id = %v", ends[0].Data["tool_call_id"])
	}

	if n := len(eventsOfKind(events, graph.EventChatModelEnd)); n != 2 {
		t.Errorf("got %d model end events, want 2 (one per model call)", n)
	}
}

func TestQAToolFailureBecomesMessage(t *testing.T) {
	llm := respond(
		&llms.Response{ToolCalls: []llms.ToolCall{{
			ID:        "call-9",
			Name:      "no_such_tool",
			Arguments: `{}`,
		}}},
		&llms.Response{Content: "Sorry about that."},
	)
	app := newQAApp(t, llm, newTestMemoryStore(t))

	state, err := app.Invoke(context.Background(), userInput("do the thing"), userMeta("user-1"))
	if err != nil {
		t.Fatalf("Invoke() error = %v, tool failure must not end the walk", err)
	}

	var toolMsg *llms.Message
	for i := range state.Messages {
		if state.Messages[i].Role == llms.RoleTool {
			toolMsg = &state.Messages[i]
		}
	}
	if toolMsg == nil {
		t.Fatal("no tool message in state")
	}
	if !strings.HasPrefix(toolMsg.Content, "Error: ") {
		t.Errorf("tool message = %q, want Error: prefix", toolMsg.Content)
	}
	if got := lastMessage(t, state).Content; got != "Sorry about that." {
		t.Errorf("final answer = %q", got)
	}
}

func TestQAUpsertMemoryToolPersists(t *testing.T) {
	store := newTestMemoryStore(t)
	llm := respond(
		&llms.Response{ToolCalls: []llms.ToolCall{{
			ID:        "call-2",
			Name:      "upsert_memory",
			Arguments: `{"content": "likes spicy food", "key": "food_preference"}`,
		}}},
		&llms.Response{Content: "Noted!"},
	)
	app := newQAApp(t, llm, store)

	if _, err := app.Invoke(context.Background(), userInput("remember I like spicy food"), userMeta("user-1")); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}

	mem, err := store.Get(context.Background(), memory.Namespace("user-1"), "food_preference")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if mem == nil || mem.Content() != "likes spicy food" {
		t.Fatalf("memory not persisted, got %+v", mem)
	}
}
