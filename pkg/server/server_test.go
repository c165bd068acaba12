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
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kadirpekel/axon/pkg/blob"
	"github.com/kadirpekel/axon/pkg/chat"
	"github.com/kadirpekel/axon/pkg/config"
	"github.com/kadirpekel/axon/pkg/databases"
	"github.com/kadirpekel/axon/pkg/embedders"
	"github.com/kadirpekel/axon/pkg/graph"
	"github.com/kadirpekel/axon/pkg/kb"
	"github.com/kadirpekel/axon/pkg/llms"
	"github.com/kadirpekel/axon/pkg/usage"
)

const (
	ownerID = "c56a4180-65aa-42ec-a945-5fd21dec0538"
	otherID = "b2f7aa82-4f1d-4e65-9c2e-8a1f0a4c2d11"
)

type stubEmbedder struct{}

func (stubEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (stubEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (stubEmbedder) Model() string  { return "fake-model" }
func (stubEmbedder) Dimension() int { return 3 }

type fakeQueue struct {
	mu   sync.Mutex
	jobs []string
}

func (q *fakeQueue) Enqueue(ctx context.Context, docID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, docID)
	return nil
}

func (q *fakeQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

type fakeBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeBlob() *fakeBlob {
	return &fakeBlob{objects: make(map[string][]byte)}
}

func (b *fakeBlob) Put(ctx context.Context, key string, body []byte, contentType string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = append([]byte(nil), body...)
	return nil
}

func (b *fakeBlob) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	body, ok := b.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", blob.ErrNotFound, key)
	}
	return body, nil
}

func (b *fakeBlob) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

func (b *fakeBlob) Exists(ctx context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[key]
	return ok, nil
}

func (b *fakeBlob) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}

var _ blob.Store = (*fakeBlob)(nil)

type testEnv struct {
	srv      *Server
	chatSvc  *chat.Service
	kbSvc    *kb.Service
	recorder *usage.Recorder
	queue    *fakeQueue
	blobs    *fakeBlob
}

// newTestEnv wires a server over in-memory stores. The chat router is
// a single node; nil means a canned one-line answer.
func newTestEnv(t *testing.T, node graph.NodeFunc) *testEnv {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	// One connection keeps every statement on the same in-memory database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store, err := kb.NewStore(db, "sqlite")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	backend, err := databases.NewChromemBackend("")
	if err != nil {
		t.Fatalf("NewChromemBackend() error = %v", err)
	}
	registry := embedders.NewRegistry(&config.Config{})
	registry.Register("fake-model", stubEmbedder{})

	queue := &fakeQueue{}
	blobs := newFakeBlob()
	kbSvc := kb.NewService(store, blobs, databases.NewStoreCache(backend, registry), queue,
		config.KnowledgeBaseConfig{EmbeddingModel: "fake-model"})

	recorder, err := usage.NewRecorder(db, "sqlite")
	if err != nil {
		t.Fatalf("NewRecorder() error = %v", err)
	}

	if node == nil {
		node = func(ctx context.Context, s graph.State, run *graph.Run) (graph.Update, error) {
			return graph.Update{Messages: []llms.Message{llms.AssistantMessage("ok")}}, nil
		}
	}
	app, err := graph.New().
		AddNode("node", node).
		SetEntry("node").
		AddEdge("node", graph.End).
		Compile(graph.CompileOptions{})
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	chatSvc, err := chat.NewService(app, recorder)
	if err != nil {
		t.Fatalf("chat.NewService() error = %v", err)
	}

	env := &testEnv{chatSvc: chatSvc, kbSvc: kbSvc, recorder: recorder, queue: queue, blobs: blobs}
	env.rebuild(t, &config.ServerConfig{}, false)
	return env
}

func (e *testEnv) rebuild(t *testing.T, cfg *config.ServerConfig, metrics bool) {
	t.Helper()

	srv, err := New(cfg, Options{Chat: e.chatSvc, KB: e.kbSvc, Usage: e.recorder, Metrics: metrics})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	e.srv = srv
}

func (e *testEnv) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var m map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("failed to unmarshal response %q: %v", rec.Body.String(), err)
	}
	return m
}

func createKB(t *testing.T, env *testEnv, userID, name string) string {
	t.Helper()

	rec := env.do(t, http.MethodPost, "/api/v1/kb", userID, map[string]any{"name": name, "visibility": "private"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /api/v1/kb status = %d, body %s", rec.Code, rec.Body.String())
	}
	id, _ := decodeMap(t, rec)["id"].(string)
	if id == "" {
		t.Fatal("created KB has no id")
	}
	return id
}

func uploadDoc(t *testing.T, env *testEnv, userID, kbID, filename, title, content string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile() error = %v", err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatalf("failed to write file part: %v", err)
	}
	if title != "" {
		if err := mw.WriteField("title", title); err != nil {
			t.Fatalf("WriteField() error = %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/kb/"+kbID+"/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-User-ID", userID)
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func intPtr(n int) *int { return &n }

func TestNewRequiresServices(t *testing.T) {
	if _, err := New(&config.ServerConfig{}, Options{}); err == nil {
		t.Fatal("New() with no services succeeded, want error")
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /healthz status = %d, want 200", rec.Code)
	}
	if got := decodeMap(t, rec)["status"]; got != "ok" {
		t.Errorf("status = %v, want ok", got)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("response missing X-Request-ID header")
	}
}

func TestRequestIDEchoed(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "req-42" {
		t.Errorf("X-Request-ID = %q, want req-42", got)
	}
}

func TestChatEndpoint(t *testing.T) {
	node := func(ctx context.Context, s graph.State, run *graph.Run) (graph.Update, error) {
		return graph.Update{Messages: []llms.Message{llms.AssistantMessage("你好，我是回答。")}}, nil
	}
	env := newTestEnv(t, node)

	rec := env.do(t, http.MethodPost, "/api/v1/agent/chat", "", map[string]any{
		"query":      "hi",
		"session_id": "s1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /api/v1/agent/chat status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := decodeMap(t, rec)["answer"]; got != "你好，我是回答。" {
		t.Errorf("answer = %v, want 你好，我是回答。", got)
	}
}

func TestChatValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/v1/agent/chat", "", map[string]any{"query": "   "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("blank query status = %d, want 400", rec.Code)
	}
	if got := decodeMap(t, rec)["code"]; got != "validation" {
		t.Errorf("code = %v, want validation", got)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/agent/chat", strings.NewReader("{not json"))
	raw := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(raw, req)
	if raw.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", raw.Code)
	}
}

// flushRecorder counts flushes so per-record flushing is observable.
type flushRecorder struct {
	*httptest.ResponseRecorder
	flushes int
}

func (f *flushRecorder) Flush() { f.flushes++ }

func TestChatStreamEndpoint(t *testing.T) {
	node := func(ctx context.Context, s graph.State, run *graph.Run) (graph.Update, error) {
		run.Emit(graph.Event{
			Kind: graph.EventChatModelStream,
			Name: "node",
			Data: map[string]any{"chunk": map[string]any{"content": "流式回答", "reasoning_content": ""}},
		})
		run.Emit(graph.Event{
			Kind: graph.EventChatModelEnd,
			Name: "node",
			Data: map[string]any{"response": map[string]any{
				"content":           "流式回答",
				"reasoning_content": "",
				"response_metadata": map[string]any{
					"model_name": "deepseek-chat",
					"usage": map[string]any{
						"prompt_tokens":     10,
						"completion_tokens": 4,
						"total_tokens":      14,
					},
				},
			}},
		})
		return graph.Update{Messages: []llms.Message{llms.AssistantMessage("流式回答")}}, nil
	}
	env := newTestEnv(t, node)

	body, _ := json.Marshal(map[string]any{"query": "hi", "session_id": "s1"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/agent/chat/stream", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", ownerID)
	rec := &flushRecorder{ResponseRecorder: httptest.NewRecorder()}
	env.srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("stream status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", got)
	}
	if got := rec.Header().Get("X-Vercel-AI-Data-Stream"); got != "v1" {
		t.Errorf("X-Vercel-AI-Data-Stream = %q, want v1", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", got)
	}

	lines := strings.Split(strings.TrimRight(rec.Body.String(), "\n"), "\n")
	var content, debug int
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "0:"):
			content++
			if !strings.Contains(line, "流式回答") {
				t.Errorf("content record %q missing text", line)
			}
		case strings.HasPrefix(line, "e:"):
			debug++
		default:
			t.Errorf("unexpected record prefix in %q", line)
		}
	}
	if content != 1 {
		t.Errorf("content records = %d, want 1", content)
	}
	if debug == 0 {
		t.Error("no debug records in stream")
	}
	if rec.flushes < len(lines) {
		t.Errorf("flushes = %d, want at least one per record (%d)", rec.flushes, len(lines))
	}
}

func TestChatStreamRecordsUsage(t *testing.T) {
	node := func(ctx context.Context, s graph.State, run *graph.Run) (graph.Update, error) {
		run.Emit(graph.Event{
			Kind: graph.EventChatModelEnd,
			Name: "node",
			Data: map[string]any{"response": map[string]any{
				"content":           "done",
				"response_metadata": map[string]any{"model_name": "deepseek-chat", "usage": map[string]any{"total_tokens": 9}},
			}},
		})
		return graph.Update{Messages: []llms.Message{llms.AssistantMessage("done")}}, nil
	}
	env := newTestEnv(t, node)

	rec := env.do(t, http.MethodPost, "/api/v1/agent/chat/stream", ownerID, map[string]any{"query": "hi"})
	if rec.Code != http.StatusOK {
		t.Fatalf("stream status = %d", rec.Code)
	}

	list := env.do(t, http.MethodGet, "/api/v1/usage", ownerID, nil)
	if list.Code != http.StatusOK {
		t.Fatalf("GET /api/v1/usage status = %d", list.Code)
	}
	if got := decodeMap(t, list)["total"]; got != float64(1) {
		t.Errorf("usage total = %v, want 1", got)
	}
}

func TestKBLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t, nil)
	kbID := createKB(t, env, ownerID, "Docs")

	rec := env.do(t, http.MethodGet, "/api/v1/kb", ownerID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	body := decodeMap(t, rec)
	if body["total"] != float64(1) {
		t.Errorf("total = %v, want 1", body["total"])
	}

	rec = env.do(t, http.MethodGet, "/api/v1/kb/"+kbID, ownerID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	if got := decodeMap(t, rec)["name"]; got != "Docs" {
		t.Errorf("name = %v, want Docs", got)
	}

	rec = env.do(t, http.MethodPut, "/api/v1/kb/"+kbID, ownerID, map[string]any{"name": "Docs v2"})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := decodeMap(t, rec)["name"]; got != "Docs v2" {
		t.Errorf("updated name = %v, want Docs v2", got)
	}

	rec = env.do(t, http.MethodDelete, "/api/v1/kb/"+kbID, ownerID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/kb/"+kbID, ownerID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", rec.Code)
	}
	if got := decodeMap(t, rec)["code"]; got != "not_found" {
		t.Errorf("code = %v, want not_found", got)
	}
}

func TestKBPermissionMapping(t *testing.T) {
	env := newTestEnv(t, nil)
	kbID := createKB(t, env, ownerID, "Private Docs")

	rec := env.do(t, http.MethodGet, "/api/v1/kb/"+kbID, otherID, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("foreign get status = %d, want 403", rec.Code)
	}
	if got := decodeMap(t, rec)["code"]; got != "permission_denied" {
		t.Errorf("code = %v, want permission_denied", got)
	}

	rec = env.do(t, http.MethodDelete, "/api/v1/kb/"+kbID, otherID, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("foreign delete status = %d, want 403", rec.Code)
	}
}

func TestKBRequiresUserHeader(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/v1/kb", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing header status = %d, want 400", rec.Code)
	}
	if msg := decodeMap(t, rec)["message"]; msg != "X-User-ID header is required" {
		t.Errorf("message = %v", msg)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/kb", "not-a-uuid", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad uuid status = %d, want 400", rec.Code)
	}
	if msg := decodeMap(t, rec)["message"]; msg != "X-User-ID must be a UUID" {
		t.Errorf("message = %v", msg)
	}
}

func TestUploadDocumentOverHTTP(t *testing.T) {
	env := newTestEnv(t, nil)
	kbID := createKB(t, env, ownerID, "Docs")

	rec := uploadDoc(t, env, ownerID, kbID, "notes.txt", "Notes", "hello world")
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body %s", rec.Code, rec.Body.String())
	}
	doc := decodeMap(t, rec)
	if doc["status"] != "processing" {
		t.Errorf("status = %v, want processing", doc["status"])
	}
	if doc["title"] != "Notes" {
		t.Errorf("title = %v, want Notes", doc["title"])
	}
	if doc["kb_id"] != kbID {
		t.Errorf("kb_id = %v, want %s", doc["kb_id"], kbID)
	}
	if env.queue.len() != 1 {
		t.Errorf("queued jobs = %d, want 1", env.queue.len())
	}
	if env.blobs.len() != 1 {
		t.Errorf("stored blobs = %d, want 1", env.blobs.len())
	}
}

func TestUploadRejectsUnknownFileType(t *testing.T) {
	env := newTestEnv(t, nil)
	kbID := createKB(t, env, ownerID, "Docs")

	rec := uploadDoc(t, env, ownerID, kbID, "malware.exe", "", "MZ")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("upload status = %d, want 400", rec.Code)
	}
	if got := decodeMap(t, rec)["code"]; got != "validation" {
		t.Errorf("code = %v, want validation", got)
	}
	// Rejected before anything was stored or queued.
	if env.blobs.len() != 0 {
		t.Errorf("stored blobs = %d, want 0", env.blobs.len())
	}
	if env.queue.len() != 0 {
		t.Errorf("queued jobs = %d, want 0", env.queue.len())
	}
}

func TestUploadRequiresFileField(t *testing.T) {
	env := newTestEnv(t, nil)
	kbID := createKB(t, env, ownerID, "Docs")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("title", "no file"); err != nil {
		t.Fatalf("WriteField() error = %v", err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/kb/"+kbID+"/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-User-ID", ownerID)
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("upload status = %d, want 400", rec.Code)
	}
}

func TestListDocumentsOverHTTP(t *testing.T) {
	env := newTestEnv(t, nil)
	kbID := createKB(t, env, ownerID, "Docs")
	uploadDoc(t, env, ownerID, kbID, "a.txt", "", "alpha")
	uploadDoc(t, env, ownerID, kbID, "b.md", "", "beta")

	rec := env.do(t, http.MethodGet, "/api/v1/kb/"+kbID+"/documents", ownerID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	if got := decodeMap(t, rec)["total"]; got != float64(2) {
		t.Errorf("total = %v, want 2", got)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/kb/"+kbID+"/documents?limit=1", ownerID, nil)
	body := decodeMap(t, rec)
	if items, ok := body["items"].([]any); !ok || len(items) != 1 {
		t.Errorf("items = %v, want 1 entry", body["items"])
	}
	if body["total"] != float64(2) {
		t.Errorf("paged total = %v, want 2", body["total"])
	}

	rec = env.do(t, http.MethodGet, "/api/v1/kb/"+kbID+"/documents?status=indexed", ownerID, nil)
	if got := decodeMap(t, rec)["total"]; got != float64(0) {
		t.Errorf("indexed total = %v, want 0", got)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/kb/"+kbID+"/documents?status=bogus", ownerID, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bogus status filter = %d, want 400", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/kb/"+kbID+"/documents?limit=oops", ownerID, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rec.Code)
	}
}

func TestDocumentRetryAndDeleteOverHTTP(t *testing.T) {
	env := newTestEnv(t, nil)
	kbID := createKB(t, env, ownerID, "Docs")

	rec := uploadDoc(t, env, ownerID, kbID, "notes.txt", "", "hello")
	docID, _ := decodeMap(t, rec)["id"].(string)
	if docID == "" {
		t.Fatal("uploaded document has no id")
	}

	// Retry is only valid for failed documents.
	rec = env.do(t, http.MethodPost, "/api/v1/kb/documents/"+docID+"/retry", ownerID, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("retry of processing doc status = %d, want 400", rec.Code)
	}

	errMsg := "splitter exploded"
	if err := env.kbSvc.UpdateDocumentStatus(context.Background(), docID, kb.StatusFailed, &errMsg, nil); err != nil {
		t.Fatalf("UpdateDocumentStatus() error = %v", err)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/kb/documents/"+docID+"/retry", ownerID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("retry status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := decodeMap(t, rec)["status"]; got != "processing" {
		t.Errorf("status after retry = %v, want processing", got)
	}
	if env.queue.len() != 2 {
		t.Errorf("queued jobs = %d, want 2", env.queue.len())
	}

	rec = env.do(t, http.MethodDelete, "/api/v1/kb/documents/"+docID, ownerID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete doc status = %d, want 204", rec.Code)
	}
	rec = env.do(t, http.MethodDelete, "/api/v1/kb/documents/"+docID, ownerID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("delete missing doc status = %d, want 404", rec.Code)
	}
}

func TestSearchTestOverHTTP(t *testing.T) {
	env := newTestEnv(t, nil)
	kbID := createKB(t, env, ownerID, "Docs")

	rec := env.do(t, http.MethodPost, "/api/v1/kb/"+kbID+"/search_test", ownerID, map[string]any{
		"query": "你好",
		"top_k": 3,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("search_test status = %d, body %s", rec.Code, rec.Body.String())
	}
	if items, ok := decodeMap(t, rec)["items"].([]any); !ok || len(items) != 0 {
		t.Errorf("items = %v, want empty list", decodeMap(t, rec)["items"])
	}

	rec = env.do(t, http.MethodPost, "/api/v1/kb/"+kbID+"/search_test", ownerID, map[string]any{"query": "  "})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("blank query status = %d, want 400", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/kb/"+kbID+"/search_test", otherID, map[string]any{"query": "x"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("foreign search status = %d, want 403", rec.Code)
	}
}

func TestUsageEndpointsOverHTTP(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	seed := []usage.Record{
		{UserID: ownerID, ModelName: "deepseek-chat", PromptTokens: intPtr(10), CompletionTokens: intPtr(5), TotalTokens: intPtr(15)},
		{UserID: ownerID, ModelName: "gpt-4o", TotalTokens: intPtr(7)},
		{UserID: otherID, ModelName: "deepseek-chat", TotalTokens: intPtr(99)},
	}
	for _, rec := range seed {
		if err := env.recorder.Record(ctx, rec); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	rec := env.do(t, http.MethodGet, "/api/v1/usage", ownerID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	if got := decodeMap(t, rec)["total"]; got != float64(2) {
		t.Errorf("total = %v, want 2 (scoped to caller)", got)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/usage?model=deepseek-chat", ownerID, nil)
	if got := decodeMap(t, rec)["total"]; got != float64(1) {
		t.Errorf("filtered total = %v, want 1", got)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/usage/summary?group_by=model", ownerID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("summary status = %d", rec.Code)
	}
	items, ok := decodeMap(t, rec)["items"].([]any)
	if !ok || len(items) != 2 {
		t.Fatalf("summary items = %v, want 2 groups", items)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/usage/summary?group_by=hour", ownerID, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad group_by status = %d, want 400", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/usage?start=yesterday", ownerID, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad start status = %d, want 400", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/usage", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing user status = %d, want 400", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("disabled /metrics status = %d, want 404", rec.Code)
	}

	env.rebuild(t, &config.ServerConfig{}, true)
	rec = env.do(t, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("enabled /metrics status = %d, want 200", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Error("metrics body is empty")
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, nil)
	env.rebuild(t, &config.ServerConfig{CORS: &config.CORSConfig{
		AllowedOrigins: []string{"http://localhost:3000"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type", "X-User-ID"},
	}}, false)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/agent/chat", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, "POST") {
		t.Errorf("Allow-Methods = %q, want POST included", got)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/agent/chat", strings.NewReader(`{"query":"hi"}`))
	req.Header.Set("Origin", "http://evil.example")
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("disallowed origin got Allow-Origin = %q", got)
	}
}

func TestRecoverMiddleware(t *testing.T) {
	h := recoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal body: %v", err)
	}
	if body.Code != "internal" {
		t.Errorf("code = %q, want internal", body.Code)
	}
}
