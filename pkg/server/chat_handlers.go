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

package server

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kadirpekel/axon/pkg/chat"
)

// chatRequest is the body of both chat endpoints.
type chatRequest struct {
	Query       string         `json:"query"`
	SessionID   string         `json:"session_id"`
	ChatHistory []chat.Message `json:"chat_history"`
	KBID        string         `json:"kb_id"`
}

func (cr chatRequest) toRequest(userID string) chat.Request {
	return chat.Request{
		Query:     cr.Query,
		History:   cr.ChatHistory,
		SessionID: cr.SessionID,
		UserID:    userID,
		KBID:      cr.KBID,
	}
}

// handleChat runs one blocking turn and returns the final answer.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		badRequest(w, "query is required")
		return
	}

	answer, err := s.chat.Chat(r.Context(), req.toRequest(userFrom(r.Context())))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"answer": answer})
}

// handleChatStream streams one turn as framed records, one flushed
// line per record, so clients render tokens as they are produced. A
// dropped client cancels the request context; the orchestrator keeps
// draining so usage still flushes.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		badRequest(w, "query is required")
		return
	}

	records, err := s.chat.ChatStream(r.Context(), req.toRequest(userFrom(r.Context())))
	if err != nil {
		writeError(w, r, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Vercel-AI-Data-Stream", "v1")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	var writeErr error
	for record := range records {
		if writeErr != nil {
			continue
		}
		if _, writeErr = io.WriteString(w, record); writeErr != nil {
			slog.Debug("client dropped during stream", "error", writeErr)
			continue
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}
