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

// Package stream renders graph events as the framed line protocol the
// chat client consumes (Vercel AI SDK data stream). Each record is one
// line, "<tag>:<json>\n"; conversion is pure so the orchestrator can
// interleave it with stream reads without extra buffering.
package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/kadirpekel/axon/pkg/graph"
)

// Record tags.
const (
	TagText       = "0" // assistant content delta
	TagReasoning  = "2" // reasoning content delta
	TagToolCall   = "9" // tool call start
	TagToolResult = "a" // tool call result
	TagDebug      = "e" // raw event passthrough
)

// Convert renders one event as framed records. Model stream events
// yield reasoning before content; every event, handled or not, closes
// with its debug record.
func Convert(e graph.Event) []string {
	var records []string

	switch e.Kind {
	case graph.EventChatModelStream:
		chunk, _ := e.Data["chunk"].(map[string]any)
		if reasoning, _ := chunk["reasoning_content"].(string); reasoning != "" {
			records = appendRecord(records, TagReasoning, reasoning)
		}
		if content, _ := chunk["content"].(string); content != "" {
			records = appendRecord(records, TagText, content)
		}

	case graph.EventToolStart:
		records = appendRecord(records, TagToolCall, map[string]any{
			"toolCallId": toolCallID(e),
			"toolName":   e.Name,
			"args":       e.Data["input"],
		})

	case graph.EventToolEnd:
		records = appendRecord(records, TagToolResult, map[string]any{
			"toolCallId": toolCallID(e),
			"result":     stringify(e.Data["output"]),
		})
	}

	return append(records, debugRecord(e))
}

// debugRecord renders the raw event envelope. Error events reshape
// their data to {error_kind, message} so the client sees a stable
// terminal form.
func debugRecord(e graph.Event) string {
	payload := map[string]any{
		"event":    e.Kind,
		"name":     e.Name,
		"run_id":   e.RunID,
		"tags":     e.Tags,
		"metadata": e.Metadata,
		"data":     debugData(e),
	}
	b, err := marshal(payload)
	if err != nil {
		// Unserializable node data must not break the stream.
		payload["data"] = fmt.Sprint(e.Data)
		b, err = marshal(payload)
		if err != nil {
			slog.Error("Failed to encode debug record", "event", e.Kind, "error", err)
			return TagDebug + `:{"event":` + string(mustMarshal(e.Kind)) + "}\n"
		}
	}
	return TagDebug + ":" + string(b) + "\n"
}

func debugData(e graph.Event) any {
	if e.Kind != graph.EventError {
		return e.Data
	}
	kind, _ := e.Data["error_kind"].(string)
	if kind == "" {
		kind = "internal"
	}
	msg, _ := e.Data["error"].(string)
	return map[string]any{"error_kind": kind, "message": msg}
}

func appendRecord(records []string, tag string, payload any) []string {
	b, err := marshal(payload)
	if err != nil {
		slog.Error("Failed to encode stream record", "tag", tag, "error", err)
		return records
	}
	return append(records, tag+":"+string(b)+"\n")
}

// marshal serializes without HTML escaping: CJK text and markup stream
// through verbatim.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func mustMarshal(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

func toolCallID(e graph.Event) string {
	if id, _ := e.Data["tool_call_id"].(string); id != "" {
		return id
	}
	return e.RunID
}

func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(v)
	}
}
