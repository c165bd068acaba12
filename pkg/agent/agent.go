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

// Package agent implements the conversational agents behind the chat
// API: a router that classifies each turn and the QA, RAG and SQL
// specialists it dispatches to as nested subgraphs. Sub-agents are
// compiled once with the checkpoint and memory stores bound and share
// the caller's thread, so whichever specialist handles a turn extends
// the same conversation.
package agent

import (
	"context"
	"fmt"

	"github.com/kadirpekel/axon/pkg/graph"
	"github.com/kadirpekel/axon/pkg/llms"
	"github.com/kadirpekel/axon/pkg/memory"
	"github.com/kadirpekel/axon/pkg/tools"
)

// Options wires the services the agents share.
type Options struct {
	// LLM generates sub-agent responses.
	LLM llms.Client

	// RouterLLM classifies turns. Nil reuses LLM; either way routing
	// calls run at temperature zero.
	RouterLLM llms.Client

	// Memory is the long-term user memory store.
	Memory memory.Store

	// Retriever resolves knowledge base scope and fetches chunks for
	// the RAG agent.
	Retriever Retriever

	// Checkpointer persists sub-agent conversation state per thread.
	// The router graph itself is stateless.
	Checkpointer graph.Checkpointer

	// ExtraTools join the QA agent's built-ins (weather, memory upsert).
	ExtraTools []tools.Tool

	// StepLimit caps graph walks. Zero uses the engine default.
	StepLimit int
}

// Agents is the compiled router graph with its sub-agents wired in.
type Agents struct {
	// Router dispatches each turn to one sub-agent and streams the
	// combined event flow.
	Router *graph.Runnable
}

// New compiles the three sub-agents and the router graph that
// dispatches to them.
func New(opts Options) (*Agents, error) {
	if opts.LLM == nil {
		return nil, fmt.Errorf("llm client is required")
	}
	if opts.Memory == nil {
		return nil, fmt.Errorf("memory store is required")
	}
	if opts.Retriever == nil {
		return nil, fmt.Errorf("retriever is required")
	}
	routerLLM := opts.RouterLLM
	if routerLLM == nil {
		routerLLM = opts.LLM
	}

	subOpts := graph.CompileOptions{
		Checkpointer: opts.Checkpointer,
		StepLimit:    opts.StepLimit,
	}

	qa, err := newQA(opts.LLM, opts.Memory, opts.ExtraTools)
	if err != nil {
		return nil, fmt.Errorf("qa agent: %w", err)
	}
	qaApp, err := qa.compile(subOpts)
	if err != nil {
		return nil, fmt.Errorf("qa agent: %w", err)
	}

	ragApp, err := newRAG(opts.LLM, opts.Retriever).compile(subOpts)
	if err != nil {
		return nil, fmt.Errorf("rag agent: %w", err)
	}

	sqlApp, err := newSQL().compile(subOpts)
	if err != nil {
		return nil, fmt.Errorf("sql agent: %w", err)
	}

	router, err := compileRouter(routerLLM, opts.Memory, map[string]*graph.Runnable{
		RouteQA:  qaApp,
		RouteRAG: ragApp,
		RouteSQL: sqlApp,
	}, opts.StepLimit)
	if err != nil {
		return nil, fmt.Errorf("router: %w", err)
	}

	return &Agents{Router: router}, nil
}

// metadataString reads a string from the walk's request metadata.
func metadataString(run *graph.Run, key string) string {
	v, _ := run.Config.Metadata[key].(string)
	return v
}

// userIDFrom resolves the acting user: request metadata first, then the
// thread, then the shared default.
func userIDFrom(run *graph.Run) string {
	if id := metadataString(run, "user_id"); id != "" {
		return id
	}
	if run.Config.ThreadID != "" {
		return run.Config.ThreadID
	}
	return "default_user"
}

// streamModel streams one completion, emitting on_chat_model_stream per
// visible delta and on_chat_model_end with the final response, then
// returns the accumulated response. name tags the emitting node.
func streamModel(ctx context.Context, run *graph.Run, llm llms.Client, name string, messages []llms.Message, opts llms.Options) (*llms.Response, error) {
	deltas, err := llm.Stream(ctx, messages, opts)
	if err != nil {
		return nil, err
	}

	buffered := make([]llms.Delta, 0, 64)
	for delta := range deltas {
		if delta.ContentDelta != "" || delta.ReasoningDelta != "" {
			run.Emit(graph.Event{
				Kind: graph.EventChatModelStream,
				Name: name,
				Data: map[string]any{"chunk": map[string]any{
					"content":           delta.ContentDelta,
					"reasoning_content": delta.ReasoningDelta,
				}},
			})
		}
		buffered = append(buffered, delta)
	}

	replay := make(chan llms.Delta, len(buffered))
	for _, d := range buffered {
		replay <- d
	}
	close(replay)

	resp, err := llms.Accumulate(replay)
	if err != nil {
		return nil, err
	}

	run.Emit(graph.Event{
		Kind: graph.EventChatModelEnd,
		Name: name,
		Data: modelEndData(llm.Model(), resp),
	})
	return resp, nil
}

// emitModelEnd publishes an on_chat_model_end for a non-streamed call,
// so usage accounting sees every completion.
func emitModelEnd(run *graph.Run, name, model string, resp *llms.Response) {
	run.Emit(graph.Event{
		Kind: graph.EventChatModelEnd,
		Name: name,
		Data: modelEndData(model, resp),
	})
}

// modelEndData shapes a response the way usage extraction reads it:
// token counts under response.response_metadata.usage.
func modelEndData(model string, resp *llms.Response) map[string]any {
	if resp.Model != "" {
		model = resp.Model
	}
	meta := map[string]any{"model_name": model}
	if resp.Usage != nil {
		meta["usage"] = map[string]any{
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
			"total_tokens":      resp.Usage.TotalTokens,
		}
	}
	if resp.RequestID != "" {
		meta["id"] = resp.RequestID
	}
	return map[string]any{
		"response": map[string]any{
			"content":           resp.Content,
			"reasoning_content": resp.Reasoning,
			"response_metadata": meta,
		},
	}
}

// assistantMessage converts a completed response into a history entry.
func assistantMessage(resp *llms.Response) llms.Message {
	msg := llms.AssistantMessage(resp.Content)
	msg.Reasoning = resp.Reasoning
	msg.ToolCalls = resp.ToolCalls
	return msg
}
