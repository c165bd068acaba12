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
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kadirpekel/axon/pkg/graph"
	"github.com/kadirpekel/axon/pkg/llms"
	"github.com/kadirpekel/axon/pkg/memory"
	"github.com/kadirpekel/axon/pkg/tools"
)

// qaMemoryLimit caps how many memories the system prompt lists.
const qaMemoryLimit = 10

const qaSystemPrompt = "You are a helpful assistant with long-term memory.\n\n" +
	"Current User ID: %s\n\n" +
	"Here are some things you remember about this user:\n%s\n\n" +
	"You can use the `upsert_memory` tool to save new important information about the user."

// qaAgent is the general-purpose assistant. It injects the user's
// long-term memories into the system prompt and loops between the model
// and its tools until the model stops requesting calls.
type qaAgent struct {
	llm   llms.Client
	store memory.Store
	tools *tools.Registry
}

func newQA(llm llms.Client, store memory.Store, extra []tools.Tool) (*qaAgent, error) {
	registry := tools.NewRegistry()

	weather, err := tools.NewGetCurrentWeather()
	if err != nil {
		return nil, err
	}
	upsert, err := tools.NewUpsertMemory(store)
	if err != nil {
		return nil, err
	}
	builtins := []tools.Tool{weather, upsert}
	for _, t := range append(builtins, extra...) {
		if err := registry.Register(t); err != nil {
			return nil, err
		}
	}

	return &qaAgent{llm: llm, store: store, tools: registry}, nil
}

func (a *qaAgent) compile(opts graph.CompileOptions) (*graph.Runnable, error) {
	return graph.New().
		AddNode("agent", a.callModel).
		AddNode("tools", a.callTools).
		SetEntry("agent").
		AddConditionalEdge("agent", branchOnToolCalls).
		AddEdge("tools", "agent").
		Compile(opts)
}

// branchOnToolCalls keeps the model-tools loop going while the newest
// assistant turn requests calls.
func branchOnToolCalls(ctx context.Context, s graph.State) string {
	if len(s.Messages) == 0 {
		return graph.End
	}
	last := s.Messages[len(s.Messages)-1]
	if last.Role == llms.RoleAssistant && len(last.ToolCalls) > 0 {
		return "tools"
	}
	return graph.End
}

func (a *qaAgent) callModel(ctx context.Context, s graph.State, run *graph.Run) (graph.Update, error) {
	userID := userIDFrom(run)

	memories, err := a.store.Search(ctx, memory.Namespace(userID), qaMemoryLimit)
	if err != nil {
		// A broken memory store degrades the prompt, not the chat.
		slog.Warn("Failed to load memories", "user_id", userID, "error", err)
	}
	lines := make([]string, 0, len(memories))
	for _, m := range memories {
		if content := m.Content(); content != "" {
			lines = append(lines, "- "+content)
		}
	}
	block := "No memories yet."
	if len(lines) > 0 {
		block = strings.Join(lines, "\n")
	}

	system := llms.SystemMessage(fmt.Sprintf(qaSystemPrompt, userID, block))
	input := append([]llms.Message{system}, s.Messages...)

	resp, err := streamModel(ctx, run, a.llm, "agent", input, llms.Options{Tools: a.tools.Defs()})
	if err != nil {
		return graph.Update{}, err
	}
	return graph.Update{Messages: []llms.Message{assistantMessage(resp)}}, nil
}

func (a *qaAgent) callTools(ctx context.Context, s graph.State, run *graph.Run) (graph.Update, error) {
	last := s.LastMessage(llms.RoleAssistant)
	if last == nil || len(last.ToolCalls) == 0 {
		return graph.Update{}, nil
	}
	userID := userIDFrom(run)

	results := make([]llms.Message, 0, len(last.ToolCalls))
	for _, call := range last.ToolCalls {
		run.Emit(graph.Event{
			Kind: graph.EventToolStart,
			Name: call.Name,
			Data: map[string]any{
				"tool_call_id": call.ID,
				"input":        decodeCallArgs(call.Arguments),
			},
		})

		output, err := a.tools.Call(ctx, call, userID)
		if err != nil {
			// The model sees the failure and can retry or apologize;
			// a bad tool call must not kill the conversation.
			slog.Warn("Tool call failed", "tool", call.Name, "error", err)
			output = "Error: " + err.Error()
		}

		run.Emit(graph.Event{
			Kind: graph.EventToolEnd,
			Name: call.Name,
			Data: map[string]any{
				"tool_call_id": call.ID,
				"output":       output,
			},
		})
		results = append(results, llms.ToolMessage(call.ID, call.Name, output))
	}
	return graph.Update{Messages: results}, nil
}

// decodeCallArgs parses raw call arguments for event payloads. Execution
// parses strictly on its own; here a bad payload just becomes nil.
func decodeCallArgs(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil
	}
	return args
}
