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

package usage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func TestExtractUsage(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
		want TokenUsage
		ok   bool
	}{
		{
			name: "usage_metadata with input/output spelling",
			data: map[string]any{
				"response": map[string]any{
					"usage_metadata": map[string]any{
						"input_tokens":  float64(12),
						"output_tokens": float64(34),
						"total_tokens":  float64(46),
					},
				},
			},
			want: TokenUsage{Prompt: intPtr(12), Completion: intPtr(34), Total: intPtr(46)},
			ok:   true,
		},
		{
			name: "response_metadata.usage with prompt/completion spelling",
			data: map[string]any{
				"response": map[string]any{
					"response_metadata": map[string]any{
						"usage": map[string]any{
							"prompt_tokens":     17,
							"completion_tokens": 5,
							"total_tokens":      22,
						},
					},
				},
			},
			want: TokenUsage{Prompt: intPtr(17), Completion: intPtr(5), Total: intPtr(22)},
			ok:   true,
		},
		{
			name: "token_usage nested under response_metadata",
			data: map[string]any{
				"response": map[string]any{
					"response_metadata": map[string]any{
						"token_usage": map[string]any{
							"prompt_tokens": 9,
							"total":         9,
						},
					},
				},
			},
			want: TokenUsage{Prompt: intPtr(9), Total: intPtr(9)},
			ok:   true,
		},
		{
			name: "usage_metadata wins over response_metadata",
			data: map[string]any{
				"response": map[string]any{
					"usage_metadata": map[string]any{
						"input_tokens": 1,
					},
					"response_metadata": map[string]any{
						"usage": map[string]any{"prompt_tokens": 999},
					},
				},
			},
			want: TokenUsage{Prompt: intPtr(1)},
			ok:   true,
		},
		{
			name: "no usage anywhere",
			data: map[string]any{
				"response": map[string]any{
					"response_metadata": map[string]any{"model_name": "gpt-4o"},
				},
			},
			ok: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractUsage(tt.data)
			if ok != tt.ok {
				t.Fatalf("ExtractUsage() ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			assertIntPtr(t, "Prompt", got.Prompt, tt.want.Prompt)
			assertIntPtr(t, "Completion", got.Completion, tt.want.Completion)
			assertIntPtr(t, "Total", got.Total, tt.want.Total)
		})
	}
}

func TestExtractUsageIdempotent(t *testing.T) {
	data := map[string]any{
		"response": map[string]any{
			"usage_metadata": map[string]any{"input_tokens": 3, "output_tokens": 4},
		},
	}
	first, _ := ExtractUsage(data)
	second, _ := ExtractUsage(data)
	if *first.Prompt != *second.Prompt || *first.Completion != *second.Completion {
		t.Errorf("repeated extraction differs: %+v then %+v", first, second)
	}
}

func newTestRecorder(t *testing.T) *Recorder {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	rec, err := NewRecorder(db, "sqlite")
	if err != nil {
		t.Fatalf("NewRecorder() error = %v", err)
	}
	return rec
}

const (
	testUserA = "c56a4180-65aa-42ec-a945-5fd21dec0538"
	testUserB = "b2f7aa82-4f1d-4e65-9c2e-8a1f0a4c2d11"
)

func seedUsage(t *testing.T, rec *Recorder) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	rows := []Record{
		{UserID: testUserA, ModelName: "deepseek-chat", PromptTokens: intPtr(10), CompletionTokens: intPtr(5), TotalTokens: intPtr(15), CreatedAt: base},
		{UserID: testUserA, ModelName: "deepseek-chat", PromptTokens: intPtr(20), CompletionTokens: intPtr(10), TotalTokens: intPtr(30), CreatedAt: base.Add(24 * time.Hour)},
		{UserID: testUserA, ModelName: "gpt-4o", PromptTokens: intPtr(7), TotalTokens: intPtr(7), CreatedAt: base.Add(48 * time.Hour)},
		{UserID: testUserB, ModelName: "deepseek-chat", PromptTokens: intPtr(100), CompletionTokens: intPtr(50), TotalTokens: intPtr(150), CreatedAt: base.Add(time.Hour)},
	}
	for i, row := range rows {
		if err := rec.Record(ctx, row); err != nil {
			t.Fatalf("Record(%d) error = %v", i, err)
		}
	}
}

func TestRecordAndList(t *testing.T) {
	rec := newTestRecorder(t)
	seedUsage(t, rec)
	ctx := context.Background()

	records, total, err := rec.List(ctx, Query{UserID: testUserA})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 3 {
		t.Errorf("List() total = %d, want 3", total)
	}
	if len(records) != 3 {
		t.Fatalf("List() returned %d records, want 3", len(records))
	}
	// Newest first.
	if records[0].ModelName != "gpt-4o" {
		t.Errorf("List()[0] model = %q, want gpt-4o", records[0].ModelName)
	}
	if records[0].CompletionTokens != nil {
		t.Errorf("List()[0] completion tokens = %v, want nil", *records[0].CompletionTokens)
	}
	for _, r := range records {
		if r.UserID != testUserA {
			t.Errorf("List() leaked record for user %q", r.UserID)
		}
		if r.ID == "" {
			t.Error("List() record has empty id")
		}
	}
}

func TestListFiltersAndPagination(t *testing.T) {
	rec := newTestRecorder(t)
	seedUsage(t, rec)
	ctx := context.Background()

	byModel, total, err := rec.List(ctx, Query{UserID: testUserA, Model: "deepseek-chat"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 2 || len(byModel) != 2 {
		t.Errorf("List(model) = %d rows, total %d, want 2/2", len(byModel), total)
	}

	start := time.Date(2026, 8, 21, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 8, 21, 23, 0, 0, 0, time.UTC)
	byRange, _, err := rec.List(ctx, Query{UserID: testUserA, Start: start, End: end})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(byRange) != 1 {
		t.Fatalf("List(range) returned %d rows, want 1", len(byRange))
	}
	if got := *byRange[0].PromptTokens; got != 20 {
		t.Errorf("List(range) prompt tokens = %d, want 20", got)
	}

	page, total, err := rec.List(ctx, Query{UserID: testUserA, Skip: 1, Limit: 1})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 3 {
		t.Errorf("List(paged) total = %d, want 3", total)
	}
	if len(page) != 1 || page[0].ModelName != "deepseek-chat" {
		t.Errorf("List(paged) = %+v, want the second-newest row", page)
	}
}

func TestRecordSkipsInvalidUserID(t *testing.T) {
	rec := newTestRecorder(t)
	ctx := context.Background()

	if err := rec.Record(ctx, Record{UserID: "anonymous", ModelName: "gpt-4o"}); err != nil {
		t.Fatalf("Record() with invalid user id error = %v, want nil", err)
	}

	_, total, err := rec.List(ctx, Query{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 0 {
		t.Errorf("List() total = %d, want 0 after skipped record", total)
	}
}

func TestRecordRequestIDFromMeta(t *testing.T) {
	rec := newTestRecorder(t)
	ctx := context.Background()

	err := rec.Record(ctx, Record{
		UserID:    testUserA,
		ModelName: "deepseek-chat",
		Meta:      map[string]any{"request_id": "req-123", "finish_reason": "stop"},
	})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	records, _, err := rec.List(ctx, Query{UserID: testUserA})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("List() returned %d records, want 1", len(records))
	}
	if records[0].RequestID != "req-123" {
		t.Errorf("RequestID = %q, want req-123", records[0].RequestID)
	}
	if got := records[0].Meta["finish_reason"]; got != "stop" {
		t.Errorf("Meta[finish_reason] = %v, want stop", got)
	}
}

func TestSummary(t *testing.T) {
	rec := newTestRecorder(t)
	seedUsage(t, rec)
	ctx := context.Background()

	byModel, err := rec.Summary(ctx, Query{UserID: testUserA}, "model")
	if err != nil {
		t.Fatalf("Summary(model) error = %v", err)
	}
	if len(byModel) != 2 {
		t.Fatalf("Summary(model) returned %d groups, want 2", len(byModel))
	}
	if byModel[0].Group != "deepseek-chat" || byModel[0].PromptTokens != 30 || byModel[0].Requests != 2 {
		t.Errorf("Summary(model)[0] = %+v, want deepseek-chat with 30 prompt tokens over 2 requests", byModel[0])
	}
	if byModel[1].Group != "gpt-4o" || byModel[1].TotalTokens != 7 {
		t.Errorf("Summary(model)[1] = %+v, want gpt-4o with 7 total tokens", byModel[1])
	}

	byDay, err := rec.Summary(ctx, Query{UserID: testUserA}, "day")
	if err != nil {
		t.Fatalf("Summary(day) error = %v", err)
	}
	if len(byDay) != 3 {
		t.Fatalf("Summary(day) returned %d groups, want 3", len(byDay))
	}
	if byDay[0].Group != "2026-08-20" || byDay[0].TotalTokens != 15 {
		t.Errorf("Summary(day)[0] = %+v, want 2026-08-20 with 15 total tokens", byDay[0])
	}

	if _, err := rec.Summary(ctx, Query{}, "hour"); err == nil {
		t.Error("Summary(hour) succeeded, want error")
	}
}

func intPtr(v int) *int { return &v }

func assertIntPtr(t *testing.T, field string, got, want *int) {
	t.Helper()
	switch {
	case got == nil && want == nil:
	case got == nil || want == nil:
		t.Errorf("%s = %v, want %v", field, fmtPtr(got), fmtPtr(want))
	case *got != *want:
		t.Errorf("%s = %d, want %d", field, *got, *want)
	}
}

func fmtPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
