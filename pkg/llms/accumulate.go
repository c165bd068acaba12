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
	"sort"
	"strings"
)

type toolCallDraft struct {
	id   string
	name string
	args strings.Builder
}

// Accumulate folds a Delta stream into a complete Response. Tool call
// fragments are grouped by index; argument fragments concatenate in
// arrival order. Returns the first stream error encountered.
func Accumulate(deltas <-chan Delta) (*Response, error) {
	var (
		content   strings.Builder
		reasoning strings.Builder
		resp      Response
		drafts    = make(map[int]*toolCallDraft)
	)

	for delta := range deltas {
		if delta.Err != nil {
			return nil, delta.Err
		}

		content.WriteString(delta.ContentDelta)
		reasoning.WriteString(delta.ReasoningDelta)

		for _, tc := range delta.ToolCallDeltas {
			draft, ok := drafts[tc.Index]
			if !ok {
				draft = &toolCallDraft{}
				drafts[tc.Index] = draft
			}
			if tc.ID != "" {
				draft.id = tc.ID
			}
			if tc.Name != "" {
				draft.name = tc.Name
			}
			draft.args.WriteString(tc.Arguments)
		}

		if delta.FinishReason != "" {
			resp.FinishReason = delta.FinishReason
		}
		if delta.Usage != nil {
			resp.Usage = delta.Usage
		}
	}

	resp.Content = content.String()
	resp.Reasoning = reasoning.String()

	indexes := make([]int, 0, len(drafts))
	for idx := range drafts {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	for _, idx := range indexes {
		draft := drafts[idx]
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:        draft.id,
			Name:      draft.name,
			Arguments: draft.args.String(),
		})
	}

	return &resp, nil
}
