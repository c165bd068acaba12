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

package graph

import (
	"github.com/kadirpekel/axon/pkg/llms"
)

// State is the data a walk threads through its nodes: the conversation
// so far plus free-form values nodes use to hand work to each other.
type State struct {
	Messages []llms.Message `json:"messages"`
	Values   map[string]any `json:"values,omitempty"`
}

// Update is one node's contribution to the state.
type Update struct {
	Messages []llms.Message
	Values   map[string]any
}

// Reduce merges an update into a state and returns the result, leaving
// both inputs untouched. Messages merge by ID: an update message whose
// ID is already present replaces the original in place, everything else
// appends. Values merge per key, updates winning.
func Reduce(s State, u Update) State {
	out := State{
		Messages: make([]llms.Message, len(s.Messages), len(s.Messages)+len(u.Messages)),
	}
	copy(out.Messages, s.Messages)
	if len(s.Values) > 0 || len(u.Values) > 0 {
		out.Values = make(map[string]any, len(s.Values)+len(u.Values))
		for k, v := range s.Values {
			out.Values[k] = v
		}
	}

	index := make(map[string]int, len(out.Messages))
	for i, m := range out.Messages {
		if m.ID != "" {
			index[m.ID] = i
		}
	}
	for _, m := range u.Messages {
		if m.ID != "" {
			if i, ok := index[m.ID]; ok {
				out.Messages[i] = m
				continue
			}
			index[m.ID] = len(out.Messages)
		}
		out.Messages = append(out.Messages, m)
	}

	for k, v := range u.Values {
		out.Values[k] = v
	}
	return out
}

// LastMessage returns the newest message with the role, or nil.
func (s State) LastMessage(role string) *llms.Message {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == role {
			return &s.Messages[i]
		}
	}
	return nil
}

// StringValue reads a string from the state values, or "" when the key
// is absent or holds something else.
func (s State) StringValue(key string) string {
	v, _ := s.Values[key].(string)
	return v
}
