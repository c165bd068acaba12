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
	"fmt"
	"log/slog"
	"strings"

	"github.com/kadirpekel/axon/pkg/databases"
	"github.com/kadirpekel/axon/pkg/graph"
	"github.com/kadirpekel/axon/pkg/llms"
)

// Retriever scopes a similarity search to the knowledge bases a user may
// read. kbID narrows the scope to one KB when set; otherwise the search
// spans every KB accessible to userID.
type Retriever interface {
	Retrieve(ctx context.Context, query, userID, kbID string, k int) ([]databases.ScoredChunk, error)
}

const (
	ragTopK           = 5
	ragSnippetLimit   = 1200
	ragRewriteHistory = 6
)

const (
	ragEmptyQueryReply = "请先输入要检索的问题。"
	ragNoUserReply     = "RAG 检索缺少 user_id，无法确定可访问知识库范围。"
	ragNoEvidenceReply = "未检索到相关知识库内容，请尝试换个问法。"
)

const ragRewritePrompt = "你是查询改写助手。请结合对话历史，将用户的最新问题改写为一个独立、完整、适合知识库检索的查询。" +
	"只输出改写后的查询本身，不要任何解释。"

const ragAnswerPrompt = "你是一个基于知识库回答问题的助手。请严格依据提供的检索片段作答；若证据不足，请明确说明。"

// ragAgent answers from knowledge-base evidence in three steps: rewrite
// the question into a standalone retrieval query, search the accessible
// scope, then answer strictly from the retrieved snippets.
type ragAgent struct {
	llm       llms.Client
	retriever Retriever
}

func newRAG(llm llms.Client, retriever Retriever) *ragAgent {
	return &ragAgent{llm: llm, retriever: retriever}
}

func (a *ragAgent) compile(opts graph.CompileOptions) (*graph.Runnable, error) {
	return graph.New().
		AddNode("rewrite", a.rewrite).
		AddNode("search", a.search).
		AddNode("answer", a.answer).
		SetEntry("rewrite").
		AddEdge("rewrite", "search").
		AddConditionalEdge("search", afterSearch).
		AddEdge("answer", graph.End).
		Compile(opts)
}

// afterSearch ends the walk when search already produced a reply (missing
// query, missing user, retrieval failure).
func afterSearch(ctx context.Context, s graph.State) string {
	if len(s.Messages) > 0 && s.Messages[len(s.Messages)-1].Role == llms.RoleAssistant {
		return graph.End
	}
	return "answer"
}

func (a *ragAgent) rewrite(ctx context.Context, s graph.State, run *graph.Run) (graph.Update, error) {
	query := ""
	if last := s.LastMessage(llms.RoleUser); last != nil {
		query = strings.TrimSpace(last.Content)
	}
	if query == "" {
		return graph.Update{Values: map[string]any{"query": ""}}, nil
	}

	var history []string
	msgs := s.Messages
	if len(msgs) > ragRewriteHistory {
		msgs = msgs[len(msgs)-ragRewriteHistory:]
	}
	for _, m := range msgs {
		if m.Content != "" {
			history = append(history, m.Role+": "+m.Content)
		}
	}

	prompt := fmt.Sprintf("对话历史：\n%s\n\n最新问题：%s", strings.Join(history, "\n"), query)
	temp := 0.0
	resp, err := a.llm.Invoke(ctx, []llms.Message{
		llms.SystemMessage(ragRewritePrompt),
		llms.UserMessage(prompt),
	}, llms.Options{Temperature: &temp})
	if err != nil {
		// Retrieval still works with the raw question.
		slog.Warn("Query rewrite failed, using original query", "error", err)
		return graph.Update{Values: map[string]any{"query": query}}, nil
	}
	emitModelEnd(run, "rewrite", a.llm.Model(), resp)

	rewritten := strings.TrimSpace(resp.Content)
	if rewritten == "" {
		rewritten = query
	}
	return graph.Update{Values: map[string]any{"query": rewritten}}, nil
}

func (a *ragAgent) search(ctx context.Context, s graph.State, run *graph.Run) (graph.Update, error) {
	query := s.StringValue("query")
	if query == "" {
		return fixedReply(ragEmptyQueryReply), nil
	}
	userID := metadataString(run, "user_id")
	if userID == "" {
		return fixedReply(ragNoUserReply), nil
	}

	chunks, err := a.retriever.Retrieve(ctx, query, userID, metadataString(run, "kb_id"), ragTopK)
	if err != nil {
		slog.Error("Knowledge base retrieval failed", "user_id", userID, "error", err)
		return fixedReply("知识库检索失败：" + err.Error()), nil
	}
	return graph.Update{Values: map[string]any{"chunks": chunks}}, nil
}

func (a *ragAgent) answer(ctx context.Context, s graph.State, run *graph.Run) (graph.Update, error) {
	chunks, _ := s.Values["chunks"].([]databases.ScoredChunk)

	blocks := make([]string, 0, len(chunks))
	for i, c := range chunks {
		text := strings.TrimSpace(c.Content)
		if text == "" {
			continue
		}
		blocks = append(blocks, fmt.Sprintf("[%d] %s", i+1, headRunes(text, ragSnippetLimit)))
	}
	if len(blocks) == 0 {
		return fixedReply(ragNoEvidenceReply), nil
	}

	query := s.StringValue("query")
	user := fmt.Sprintf("用户问题：%s\n\n检索到的知识片段：\n%s\n\n请基于上述片段给出简洁、准确的中文回答。",
		query, strings.Join(blocks, "\n"))

	resp, err := streamModel(ctx, run, a.llm, "answer", []llms.Message{
		llms.SystemMessage(ragAnswerPrompt),
		llms.UserMessage(user),
	}, llms.Options{})
	if err != nil {
		return graph.Update{}, err
	}
	return graph.Update{Messages: []llms.Message{assistantMessage(resp)}}, nil
}

func fixedReply(content string) graph.Update {
	return graph.Update{Messages: []llms.Message{llms.AssistantMessage(content)}}
}

// headRunes truncates s to at most n runes.
func headRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
