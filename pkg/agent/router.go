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
	"log/slog"
	"strings"

	"github.com/kadirpekel/axon/pkg/graph"
	"github.com/kadirpekel/axon/pkg/llms"
	"github.com/kadirpekel/axon/pkg/memory"
)

// Route targets. The router always lands on exactly one of these.
const (
	RouteQA  = "qa"
	RouteRAG = "rag"
	RouteSQL = "sql"
)

const (
	routerMemoryLimit  = 8
	routerHistoryLimit = 6
)

var sqlKeywords = []string{
	"sql", "数据库", "查询", "统计", "表", "字段",
	"database", "query", "table", "column", "record",
	"多少条", "有几条", "条数", "记录数",
}

var ragKeywords = []string{
	"文档", "知识库", "rag", "检索", "根据资料",
	"document", "knowledge", "retrieve", "search",
	"参考", "资料", "文件",
}

const routerPrompt = `You dispatch user queries to one of three agents:
- qa: general conversation, personal memory, weather
- rag: questions answered from knowledge-base documents
- sql: database statistics, tables, record counts

Output exactly one token: qa | rag | sql`

// RouteByLLM picks the sub-agent for query. It asks the routing model
// for a one-token decision and falls back to keyword rules when the
// model errors or answers off-protocol. An empty query skips the model
// entirely and lands on qa.
func RouteByLLM(ctx context.Context, llm llms.Client, query string, recent []llms.Message, userID string, store memory.Store) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return RouteQA
	}

	var memoryLines []string
	if userID != "" && store != nil {
		memories, err := store.Search(ctx, memory.Namespace(userID), routerMemoryLimit)
		if err != nil {
			slog.Warn("Router memory lookup failed", "user_id", userID, "error", err)
		}
		for _, m := range memories {
			if content := m.Content(); content != "" {
				memoryLines = append(memoryLines, "- "+content)
			}
		}
	}

	if len(recent) > routerHistoryLimit {
		recent = recent[len(recent)-routerHistoryLimit:]
	}
	var historyLines []string
	for _, m := range recent {
		if m.Content != "" {
			historyLines = append(historyLines, m.Role+": "+m.Content)
		}
	}

	var b strings.Builder
	if len(memoryLines) > 0 {
		b.WriteString("Known about this user:\n")
		b.WriteString(strings.Join(memoryLines, "\n"))
		b.WriteString("\n\n")
	}
	if len(historyLines) > 0 {
		b.WriteString("Recent conversation:\n")
		b.WriteString(strings.Join(historyLines, "\n"))
		b.WriteString("\n\n")
	}
	b.WriteString("Query: ")
	b.WriteString(query)

	temp := 0.0
	resp, err := llm.Invoke(ctx, []llms.Message{
		llms.SystemMessage(routerPrompt),
		llms.UserMessage(b.String()),
	}, llms.Options{Temperature: &temp, MaxTokens: 8})
	if err != nil {
		slog.Warn("Router model call failed, falling back to keywords", "error", err)
		return routeByKeywords(query)
	}

	switch route := strings.ToLower(strings.TrimSpace(resp.Content)); route {
	case RouteQA, RouteRAG, RouteSQL:
		return route
	}
	return routeByKeywords(query)
}

// routeByKeywords applies the fixed keyword rules. SQL terms win over
// RAG terms; anything else is general QA.
func routeByKeywords(text string) string {
	lower := strings.ToLower(text)
	for _, kw := range sqlKeywords {
		if strings.Contains(lower, kw) {
			return RouteSQL
		}
	}
	for _, kw := range ragKeywords {
		if strings.Contains(lower, kw) {
			return RouteRAG
		}
	}
	return RouteQA
}

// compileRouter wires the route decision to the compiled sub-agents.
// The router itself never persists state; each sub-agent owns its own
// checkpoint lineage.
func compileRouter(llm llms.Client, store memory.Store, subs map[string]*graph.Runnable, stepLimit int) (*graph.Runnable, error) {
	route := func(ctx context.Context, s graph.State, run *graph.Run) (graph.Update, error) {
		query := ""
		if last := s.LastMessage(llms.RoleUser); last != nil {
			query = last.Content
		}
		target := RouteByLLM(ctx, llm, query, s.Messages, userIDFrom(run), store)
		slog.Info("Route decided", "route", target, "run_id", run.ID())
		run.Emit(graph.Event{
			Kind: "on_route_end",
			Name: "route",
			Data: map[string]any{"route": target},
		})
		return graph.Update{Values: map[string]any{"route": target}}, nil
	}

	g := graph.New().
		AddNode("route", route).
		SetEntry("route").
		AddConditionalEdge("route", func(ctx context.Context, s graph.State) string {
			if target := s.StringValue("route"); target != "" {
				return target
			}
			return RouteQA
		})
	for name, sub := range subs {
		g.AddSubgraph(name, sub)
		g.AddEdge(name, graph.End)
	}
	return g.Compile(graph.CompileOptions{StepLimit: stepLimit})
}
