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

package kb

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	// One connection keeps every statement on the same in-memory database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db, "sqlite")
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return store
}

func mustCreateKB(t *testing.T, store *Store, kb *KnowledgeBase) *KnowledgeBase {
	t.Helper()
	if kb.Visibility == "" {
		kb.Visibility = VisibilityPrivate
	}
	if kb.EmbeddingModel == "" {
		kb.EmbeddingModel = "fake-model"
	}
	if kb.ChunkSize == 0 {
		kb.ChunkSize = 500
	}
	if kb.ChunkOverlap == 0 {
		kb.ChunkOverlap = 50
	}
	if err := store.CreateKB(context.Background(), kb); err != nil {
		t.Fatalf("CreateKB failed: %v", err)
	}
	return kb
}

func mustCreateDocument(t *testing.T, store *Store, doc *Document) *Document {
	t.Helper()
	if doc.Status == "" {
		doc.Status = StatusProcessing
	}
	if doc.FileKey == "" {
		doc.FileKey = "kb/" + doc.KBID + "/" + doc.ID + "_file.txt"
	}
	if doc.FileType == "" {
		doc.FileType = "txt"
	}
	if err := store.CreateDocument(context.Background(), doc); err != nil {
		t.Fatalf("CreateDocument failed: %v", err)
	}
	return doc
}

func TestCreateGetKB(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	kb := mustCreateKB(t, store, &KnowledgeBase{
		ID:          "kb-1",
		UserID:      "user-a",
		Name:        "go notes",
		Description: "language internals",
		Visibility:  VisibilityPublic,
	})

	got, err := store.GetKB(ctx, "kb-1")
	if err != nil {
		t.Fatalf("GetKB failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected knowledge base, got nil")
	}
	if got.Name != "go notes" || got.Description != "language internals" {
		t.Errorf("unexpected fields: name=%q description=%q", got.Name, got.Description)
	}
	if got.Visibility != VisibilityPublic {
		t.Errorf("visibility = %q, want public", got.Visibility)
	}
	if got.EmbeddingModel != "fake-model" || got.ChunkSize != 500 || got.ChunkOverlap != 50 {
		t.Errorf("unexpected config: model=%q size=%d overlap=%d",
			got.EmbeddingModel, got.ChunkSize, got.ChunkOverlap)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}
	if kb.CreatedAt.IsZero() {
		t.Error("CreateKB should stamp the passed struct")
	}

	missing, err := store.GetKB(ctx, "no-such-kb")
	if err != nil {
		t.Fatalf("GetKB on missing id failed: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for a missing knowledge base, got %+v", missing)
	}
}

func TestListKBsPagination(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"kb-1", "kb-2", "kb-3"} {
		mustCreateKB(t, store, &KnowledgeBase{ID: id, UserID: "user-a", Name: id})
		time.Sleep(2 * time.Millisecond)
	}
	mustCreateKB(t, store, &KnowledgeBase{ID: "kb-other", UserID: "user-b", Name: "other"})

	kbs, total, err := store.ListKBs(ctx, "user-a", 0, 10)
	if err != nil {
		t.Fatalf("ListKBs failed: %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if len(kbs) != 3 {
		t.Fatalf("got %d knowledge bases, want 3", len(kbs))
	}
	if kbs[0].ID != "kb-3" || kbs[2].ID != "kb-1" {
		t.Errorf("expected newest first, got [%s %s %s]", kbs[0].ID, kbs[1].ID, kbs[2].ID)
	}

	page, total, err := store.ListKBs(ctx, "user-a", 1, 1)
	if err != nil {
		t.Fatalf("ListKBs page failed: %v", err)
	}
	if total != 3 {
		t.Errorf("paged total = %d, want 3", total)
	}
	if len(page) != 1 || page[0].ID != "kb-2" {
		t.Errorf("page = %+v, want [kb-2]", page)
	}
}

func TestUpdateKB(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	kb := mustCreateKB(t, store, &KnowledgeBase{ID: "kb-1", UserID: "user-a", Name: "before"})
	created := kb.UpdatedAt

	time.Sleep(2 * time.Millisecond)

	kb.Name = "after"
	kb.Description = "now with a description"
	kb.Visibility = VisibilityPublic
	if err := store.UpdateKB(ctx, kb); err != nil {
		t.Fatalf("UpdateKB failed: %v", err)
	}

	got, err := store.GetKB(ctx, "kb-1")
	if err != nil {
		t.Fatalf("GetKB failed: %v", err)
	}
	if got.Name != "after" || got.Description != "now with a description" || got.Visibility != VisibilityPublic {
		t.Errorf("update not persisted: %+v", got)
	}
	if !got.UpdatedAt.After(created) {
		t.Errorf("updated_at %v should advance past %v", got.UpdatedAt, created)
	}
	if !got.CreatedAt.Equal(kb.CreatedAt) {
		t.Errorf("created_at changed: %v != %v", got.CreatedAt, kb.CreatedAt)
	}
}

func TestAccessibleKBIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustCreateKB(t, store, &KnowledgeBase{ID: "kb-a-private", UserID: "user-a", Name: "a1"})
	time.Sleep(2 * time.Millisecond)
	mustCreateKB(t, store, &KnowledgeBase{ID: "kb-a-public", UserID: "user-a", Name: "a2", Visibility: VisibilityPublic})
	time.Sleep(2 * time.Millisecond)
	mustCreateKB(t, store, &KnowledgeBase{ID: "kb-b-private", UserID: "user-b", Name: "b1"})
	time.Sleep(2 * time.Millisecond)
	mustCreateKB(t, store, &KnowledgeBase{ID: "kb-c-public", UserID: "user-c", Name: "c1", Visibility: VisibilityPublic})

	idsA, err := store.AccessibleKBIDs(ctx, "user-a")
	if err != nil {
		t.Fatalf("AccessibleKBIDs failed: %v", err)
	}
	wantA := []string{"kb-c-public", "kb-a-public", "kb-a-private"}
	assertIDs(t, idsA, wantA)

	idsB, err := store.AccessibleKBIDs(ctx, "user-b")
	if err != nil {
		t.Fatalf("AccessibleKBIDs failed: %v", err)
	}
	wantB := []string{"kb-c-public", "kb-b-private", "kb-a-public"}
	assertIDs(t, idsB, wantB)
}

func assertIDs(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestDocumentStatusTransitions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustCreateDocument(t, store, &Document{ID: "doc-1", KBID: "kb-1", Title: "report"})

	doc, err := store.GetDocument(ctx, "doc-1")
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if doc.Status != StatusProcessing || doc.ChunkCount != 0 || doc.ErrorMsg != "" {
		t.Fatalf("fresh document = %+v, want processing with no error", doc)
	}

	count := 5
	if err := store.UpdateDocumentStatus(ctx, "doc-1", StatusIndexed, nil, &count); err != nil {
		t.Fatalf("UpdateDocumentStatus failed: %v", err)
	}
	doc, _ = store.GetDocument(ctx, "doc-1")
	if doc.Status != StatusIndexed || doc.ChunkCount != 5 {
		t.Errorf("after indexing: %+v", doc)
	}
	if doc.ErrorMsg != "" {
		t.Errorf("error_msg should stay empty, got %q", doc.ErrorMsg)
	}

	// A later failure keeps the stale chunk count; only error_msg changes.
	msg := "embedder unreachable"
	if err := store.UpdateDocumentStatus(ctx, "doc-1", StatusFailed, &msg, nil); err != nil {
		t.Fatalf("UpdateDocumentStatus failed: %v", err)
	}
	doc, _ = store.GetDocument(ctx, "doc-1")
	if doc.Status != StatusFailed || doc.ErrorMsg != "embedder unreachable" {
		t.Errorf("after failure: %+v", doc)
	}
	if doc.ChunkCount != 5 {
		t.Errorf("chunk_count clobbered: %d", doc.ChunkCount)
	}

	missing, err := store.GetDocument(ctx, "no-such-doc")
	if err != nil {
		t.Fatalf("GetDocument on missing id failed: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for a missing document, got %+v", missing)
	}
}

func TestListDocumentsStatusFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"doc-1", "doc-2"} {
		mustCreateDocument(t, store, &Document{ID: id, KBID: "kb-1", Title: id})
		time.Sleep(2 * time.Millisecond)
	}
	mustCreateDocument(t, store, &Document{ID: "doc-3", KBID: "kb-1", Title: "doc-3", Status: StatusFailed})
	time.Sleep(2 * time.Millisecond)
	mustCreateDocument(t, store, &Document{ID: "doc-other", KBID: "kb-2", Title: "other"})

	docs, total, err := store.ListDocuments(ctx, "kb-1", "", 0, 10)
	if err != nil {
		t.Fatalf("ListDocuments failed: %v", err)
	}
	if total != 3 || len(docs) != 3 {
		t.Fatalf("got %d docs (total %d), want 3", len(docs), total)
	}
	if docs[0].ID != "doc-3" {
		t.Errorf("expected newest first, got %s", docs[0].ID)
	}

	failed, total, err := store.ListDocuments(ctx, "kb-1", StatusFailed, 0, 10)
	if err != nil {
		t.Fatalf("ListDocuments filtered failed: %v", err)
	}
	if total != 1 || len(failed) != 1 || failed[0].ID != "doc-3" {
		t.Errorf("failed filter: docs=%+v total=%d", failed, total)
	}

	page, total, err := store.ListDocuments(ctx, "kb-1", "", 1, 1)
	if err != nil {
		t.Fatalf("ListDocuments page failed: %v", err)
	}
	if total != 3 || len(page) != 1 || page[0].ID != "doc-2" {
		t.Errorf("page: docs=%+v total=%d", page, total)
	}
}

func TestDeleteDocumentAndKBDocuments(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustCreateDocument(t, store, &Document{ID: "doc-1", KBID: "kb-1", Title: "one"})
	mustCreateDocument(t, store, &Document{ID: "doc-2", KBID: "kb-1", Title: "two"})
	mustCreateDocument(t, store, &Document{ID: "doc-3", KBID: "kb-2", Title: "three"})

	if err := store.DeleteDocument(ctx, "doc-1"); err != nil {
		t.Fatalf("DeleteDocument failed: %v", err)
	}
	if doc, _ := store.GetDocument(ctx, "doc-1"); doc != nil {
		t.Errorf("doc-1 still present: %+v", doc)
	}

	if err := store.DeleteKBDocuments(ctx, "kb-1"); err != nil {
		t.Fatalf("DeleteKBDocuments failed: %v", err)
	}
	_, total, err := store.ListDocuments(ctx, "kb-1", "", 0, 10)
	if err != nil {
		t.Fatalf("ListDocuments failed: %v", err)
	}
	if total != 0 {
		t.Errorf("kb-1 still has %d documents", total)
	}

	if doc, _ := store.GetDocument(ctx, "doc-3"); doc == nil {
		t.Error("doc-3 in another knowledge base should survive")
	}
}

func TestNewStoreValidation(t *testing.T) {
	if _, err := NewStore(nil, "sqlite"); err == nil {
		t.Error("expected error for nil db")
	}

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	defer db.Close()

	if _, err := NewStore(db, "oracle"); err == nil {
		t.Error("expected error for unsupported dialect")
	}
}
