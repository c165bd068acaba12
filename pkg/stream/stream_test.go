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

package stream

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/kadirpekel/axon/pkg/graph"
)

func parseRecord(t *testing.T, record string) (string, any) {
	t.Helper()

	if !strings.HasSuffix(record, "\n") {
		t.Fatalf("record %q does not end with newline", record)
	}
	tag, rest, ok := strings.Cut(strings.TrimSuffix(record, "\n"), ":")
	if !ok {
		t.Fatalf("record %q has no tag separator", record)
	}
	var v any
	if err := json.Unmarshal([]byte(rest), &v); err != nil {
		t.Fatalf("record %q payload is not JSON: %v", record, err)
	}
	return tag, v
}

func TestConvertModelStream(t *testing.T) {
	records := Convert(graph.Event{
		Kind:  graph.EventChatModelStream,
		Name:  "agent",
		RunID: "run-1",
		Data: map[string]any{"chunk": map[string]any{
			"content":           "Hello",
			"reasoning_content": "thinking",
		}},
	})

	if len(records) != 3 {
		t.Fatalf("got %d records, want 3 (reasoning, content, debug)", len(records))
	}
	if tag, payload := parseRecord(t, records[0]); tag != TagReasoning || payload != "thinking" {
		t.Errorf("first record = %q, want reasoning delta", records[0])
	}
	if tag, payload := parseRecord(t, records[1]); tag != TagText || payload != "Hello" {
		t.Errorf("second record = %q, want content delta", records[1])
	}
	if tag, _ := parseRecord(t, records[2]); tag != TagDebug {
		t.Errorf("last record = %q, want debug", records[2])
	}
}

func TestConvertContentOnly(t *testing.T) {
	records := Convert(graph.Event{
		Kind: graph.EventChatModelStream,
		Data: map[string]any{"chunk": map[string]any{
			"content":           "hi",
			"reasoning_content": "",
		}},
	})

	if len(records) != 2 {
		t.Fatalf("got %d records, want 2 (content, debug)", len(records))
	}
	if tag, _ := parseRecord(t, records[0]); tag != TagText {
		t.Errorf("first record tag = %q, want %q", tag, TagText)
	}
}

func TestConvertPreservesCJKAndMarkup(t *testing.T) {
	records := Convert(graph.Event{
		Kind: graph.EventChatModelStream,
		Data: map[string]any{"chunk": map[string]any{
			"content": "你好 <b>世界</b> & more",
		}},
	})

	if !strings.Contains(records[0], "你好 <b>世界</b> & more") {
		t.Errorf("content was escaped: %q", records[0])
	}
	if strings.Contains(records[0], `\u`) {
		t.Errorf("content contains escape sequences: %q", records[0])
	}
}

func TestConvertToolStart(t *testing.T) {
	records := Convert(graph.Event{
		Kind:  graph.EventToolStart,
		Name:  "get_current_weather",
		RunID: "run-1",
		Data: map[string]any{
			"tool_call_id": "call-1",
			"input":        map[string]any{"city": "Beijing"},
		},
	})

	if len(records) != 2 {
		t.Fatalf("got %d records, want 2 (tool call, debug)", len(records))
	}
	tag, payload := parseRecord(t, records[0])
	if tag != TagToolCall {
		t.Fatalf("tag = %q, want %q", tag, TagToolCall)
	}
	call := payload.(map[string]any)
	if call["toolCallId"] != "call-1" {
		t.Errorf("toolCallId = %v, want call-1", call["toolCallId"])
	}
	if call["toolName"] != "get_current_weather" {
		t.Errorf("toolName = %v", call["toolName"])
	}
	args, _ := call["args"].(map[string]any)
	if args["city"] != "Beijing" {
		t.Errorf("args = %v", call["args"])
	}
}

func TestConvertToolStartFallsBackToRunID(t *testing.T) {
	records := Convert(graph.Event{
		Kind:  graph.EventToolStart,
		Name:  "get_current_weather",
		RunID: "run-7",
		Data:  map[string]any{"input": nil},
	})

	_, payload := parseRecord(t, records[0])
	if call := payload.(map[string]any); call["toolCallId"] != "run-7" {
		t.Errorf("toolCallId = %v, want the run id", call["toolCallId"])
	}
}

func TestConvertToolEnd(t *testing.T) {
	records := Convert(graph.Event{
		Kind:  graph.EventToolEnd,
		Name:  "get_current_weather",
		RunID: "run-1",
		Data: map[string]any{
			"tool_call_id": "call-1",
			"output":       "Sunny, 25°C",
		},
	})

	tag, payload := parseRecord(t, records[0])
	if tag != TagToolResult {
		t.Fatalf("tag = %q, want %q", tag, TagToolResult)
	}
	result := payload.(map[string]any)
	if result["toolCallId"] != "call-1" || result["result"] != "Sunny, 25°C" {
		t.Errorf("tool result = %v", result)
	}
}

func TestConvertToolEndStringifiesOutput(t *testing.T) {
	records := Convert(graph.Event{
		Kind: graph.EventToolEnd,
		Data: map[string]any{"output": 42},
	})

	_, payload := parseRecord(t, records[0])
	if result := payload.(map[string]any); result["result"] != "42" {
		t.Errorf("result = %v, want the stringified output", result["result"])
	}
}

func TestConvertErrorEvent(t *testing.T) {
	records := Convert(graph.Event{
		Kind: graph.EventError,
		Name: "agent",
		Data: map[string]any{"error": "rate limited", "error_kind": "upstream"},
	})

	if len(records) != 1 {
		t.Fatalf("got %d records, want only the terminal debug record", len(records))
	}
	_, payload := parseRecord(t, records[0])
	event := payload.(map[string]any)
	data := event["data"].(map[string]any)
	if data["error_kind"] != "upstream" || data["message"] != "rate limited" {
		t.Errorf("error data = %v", data)
	}
}

func TestConvertErrorDefaultsToInternal(t *testing.T) {
	records := Convert(graph.Event{
		Kind: graph.EventError,
		Data: map[string]any{"error": "boom"},
	})

	_, payload := parseRecord(t, records[0])
	data := payload.(map[string]any)["data"].(map[string]any)
	if data["error_kind"] != "internal" {
		t.Errorf("error_kind = %v, want internal", data["error_kind"])
	}
}

func TestConvertPassesUnknownKindsThrough(t *testing.T) {
	records := Convert(graph.Event{
		Kind:     "on_route_end",
		Name:     "route",
		RunID:    "run-9",
		Metadata: map[string]any{"user_id": "user-1"},
		Data:     map[string]any{"route": "sql"},
	})

	if len(records) != 1 {
		t.Fatalf("got %d records, want 1 debug record", len(records))
	}
	tag, payload := parseRecord(t, records[0])
	if tag != TagDebug {
		t.Fatalf("tag = %q, want %q", tag, TagDebug)
	}
	event := payload.(map[string]any)
	if event["event"] != "on_route_end" || event["name"] != "route" || event["run_id"] != "run-9" {
		t.Errorf("debug envelope = %v", event)
	}
	meta, _ := event["metadata"].(map[string]any)
	if meta["user_id"] != "user-1" {
		t.Errorf("metadata = %v", event["metadata"])
	}
	data, _ := event["data"].(map[string]any)
	if data["route"] != "sql" {
		t.Errorf("data = %v", event["data"])
	}
}

func TestConvertNodeEventsAreDebugOnly(t *testing.T) {
	for _, kind := range []string{graph.EventNodeStart, graph.EventNodeEnd} {
		records := Convert(graph.Event{Kind: kind, Name: "agent"})
		if len(records) != 1 {
			t.Errorf("%s produced %d records, want 1", kind, len(records))
		}
		if tag, _ := parseRecord(t, records[0]); tag != TagDebug {
			t.Errorf("%s record tag = %q, want %q", kind, tag, TagDebug)
		}
	}
}

func TestConvertEmptyChunkIsDebugOnly(t *testing.T) {
	records := Convert(graph.Event{
		Kind: graph.EventChatModelStream,
		Data: map[string]any{"chunk": map[string]any{"content": "", "reasoning_content": ""}},
	})
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1 (no visible delta)", len(records))
	}
}

func TestConvertUnserializableDataDegrades(t *testing.T) {
	records := Convert(graph.Event{
		Kind: graph.EventNodeEnd,
		Name: "agent",
		Data: map[string]any{"ch": make(chan int)},
	})

	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	tag, payload := parseRecord(t, records[0])
	if tag != TagDebug {
		t.Fatalf("tag = %q, want %q", tag, TagDebug)
	}
	if _, ok := payload.(map[string]any)["data"].(string); !ok {
		t.Errorf("unserializable data should degrade to a string, got %T",
			payload.(map[string]any)["data"])
	}
}
