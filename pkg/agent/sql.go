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

	"github.com/kadirpekel/axon/pkg/graph"
	"github.com/kadirpekel/axon/pkg/llms"
)

const sqlStubReply = "(SQLAgent stub) 后续接 SQL Agent。当前 SQL 查询功能尚未实现，请稍后重试。"

// sqlAgent is a placeholder until text-to-SQL lands. It answers every
// query with a fixed notice so the router can already target it.
type sqlAgent struct{}

func newSQL() *sqlAgent {
	return &sqlAgent{}
}

func (a *sqlAgent) compile(opts graph.CompileOptions) (*graph.Runnable, error) {
	return graph.New().
		AddNode("answer", a.answer).
		SetEntry("answer").
		AddEdge("answer", graph.End).
		Compile(opts)
}

func (a *sqlAgent) answer(ctx context.Context, s graph.State, run *graph.Run) (graph.Update, error) {
	return graph.Update{Messages: []llms.Message{llms.AssistantMessage(sqlStubReply)}}, nil
}
