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

// Package chat orchestrates conversational turns: it normalizes client
// history, runs the router graph for the thread, converts the event
// flow into framed records, and accounts LLM usage from model-end
// events on the streaming path.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kadirpekel/axon/pkg/graph"
	"github.com/kadirpekel/axon/pkg/llms"
	"github.com/kadirpekel/axon/pkg/stream"
	"github.com/kadirpekel/axon/pkg/usage"
)

const (
	defaultSessionID = "default"
	defaultUserID    = "default_user"

	recordBuffer      = 64
	usageFlushTimeout = 10 * time.Second
)

// Message is one client-supplied history entry.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is one chat turn.
type Request struct {
	// Query is the new user message.
	Query string

	// History is the client's view of the conversation so far.
	History []Message

	// SessionID selects the checkpoint thread.
	SessionID string

	// UserID scopes memories, knowledge bases and usage accounting.
	UserID string

	// KBID optionally narrows retrieval to one knowledge base.
	KBID string
}

// Service runs chat turns against the compiled router graph.
type Service struct {
	router   *graph.Runnable
	recorder *usage.Recorder
}

// NewService wires the orchestrator. recorder may be nil; usage
// accounting is then disabled.
func NewService(router *graph.Runnable, recorder *usage.Recorder) (*Service, error) {
	if router == nil {
		return nil, fmt.Errorf("router graph is required")
	}
	return &Service{router: router, recorder: recorder}, nil
}

// ChatStream runs one turn and returns its framed records. The channel
// closes when the turn completes, fails, or the context is canceled;
// usage collected during the stream is flushed either way.
func (s *Service) ChatStream(ctx context.Context, req Request) (<-chan string, error) {
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = defaultSessionID
	}
	userID := req.UserID
	if userID == "" {
		userID = defaultUserID
	}

	events, err := s.router.Stream(ctx, s.input(req), s.config(sessionID, userID, req.KBID))
	if err != nil {
		return nil, err
	}

	out := make(chan string, recordBuffer)
	go func() {
		defer close(out)

		var pending []usage.Record
		for e := range events {
			if e.Kind == graph.EventChatModelEnd {
				if rec, ok := usageFromEvent(e, userID); ok {
					pending = append(pending, rec)
				}
			}
			for _, record := range stream.Convert(e) {
				select {
				case out <- record:
				case <-ctx.Done():
					// Client is gone. Keep draining so the walk can
					// finish and usage still flushes.
				}
			}
		}
		s.flushUsage(ctx, pending)
	}()
	return out, nil
}

// Chat is the non-streaming variant: same routing and graph walk,
// returning only the final assistant text.
func (s *Service) Chat(ctx context.Context, req Request) (string, error) {
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = defaultSessionID
	}
	userID := req.UserID
	if userID == "" {
		userID = sessionID
	}

	state, err := s.router.Invoke(ctx, s.input(req), s.config(sessionID, userID, req.KBID))
	if err != nil {
		return "", err
	}
	if len(state.Messages) == 0 {
		return "", fmt.Errorf("no response generated")
	}
	return state.Messages[len(state.Messages)-1].Content, nil
}

func (s *Service) input(req Request) graph.Update {
	return graph.Update{Messages: buildMessages(req.Query, req.History)}
}

func (s *Service) config(sessionID, userID, kbID string) graph.Config {
	return graph.Config{
		ThreadID: sessionID,
		Metadata: map[string]any{"user_id": userID, "kb_id": kbID},
	}
}

// buildMessages normalizes client history into graph messages. Roles
// accept the user/human and assistant/ai spellings; anything else is
// dropped.
func buildMessages(query string, history []Message) []llms.Message {
	messages := make([]llms.Message, 0, len(history)+1)
	for _, m := range history {
		switch strings.ToLower(m.Role) {
		case "user", "human":
			messages = append(messages, llms.UserMessage(m.Content))
		case "assistant", "ai":
			messages = append(messages, llms.AssistantMessage(m.Content))
		}
	}
	return append(messages, llms.UserMessage(query))
}

// usageFromEvent builds a usage row from an on_chat_model_end payload.
// The response_metadata map rides along whole, so request ids and any
// provider extras survive in the meta blob.
func usageFromEvent(e graph.Event, userID string) (usage.Record, bool) {
	tokens, ok := usage.ExtractUsage(e.Data)
	if !ok {
		return usage.Record{}, false
	}

	var meta map[string]any
	var model string
	if response, ok := e.Data["response"].(map[string]any); ok {
		if respMeta, ok := response["response_metadata"].(map[string]any); ok {
			meta = respMeta
			model, _ = respMeta["model_name"].(string)
		}
	}

	return usage.Record{
		UserID:           userID,
		ModelName:        model,
		PromptTokens:     tokens.Prompt,
		CompletionTokens: tokens.Completion,
		TotalTokens:      tokens.Total,
		Meta:             meta,
	}, true
}

// flushUsage persists the turn's usage rows. It runs detached from the
// request context so a mid-stream disconnect still accounts the tokens
// already consumed.
func (s *Service) flushUsage(ctx context.Context, pending []usage.Record) {
	if s.recorder == nil || len(pending) == 0 {
		return
	}
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), usageFlushTimeout)
	defer cancel()

	for _, rec := range pending {
		if err := s.recorder.Record(flushCtx, rec); err != nil {
			slog.Warn("Failed to record llm usage",
				"user_id", rec.UserID, "model", rec.ModelName, "error", err)
		}
	}
}
