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

// Package kb manages knowledge bases and their documents: SQL rows for the
// bookkeeping, object storage for the raw files, vector collections for the
// indexed chunks, and a queue handoff to the ingestion worker.
package kb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kadirpekel/axon/pkg/blob"
	"github.com/kadirpekel/axon/pkg/config"
	"github.com/kadirpekel/axon/pkg/databases"
	"github.com/kadirpekel/axon/pkg/rag"
)

var (
	// ErrNotFound reports a knowledge base or document that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrPermissionDenied reports an operation the user may not perform.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrValidation reports a request rejected before touching any state.
	ErrValidation = errors.New("invalid request")
)

const (
	minChunkSize    = 100
	maxChunkSize    = 2000
	maxChunkOverlap = 500

	defaultListLimit = 20
	maxListLimit     = 100

	defaultSearchTopK = 5
	maxSearchTopK     = 20
)

// filenameSanitizer rewrites characters that would change the object key's
// path structure.
var filenameSanitizer = strings.NewReplacer(" ", "_", "/", "_", "\\", "_")

// Enqueuer hands freshly uploaded or retried documents to the ingestion
// pipeline.
type Enqueuer interface {
	Enqueue(ctx context.Context, docID string) error
}

// Service coordinates knowledge base state across the SQL store, the blob
// store, the vector store and the ingestion queue.
type Service struct {
	store    *Store
	blobs    blob.Store
	vectors  *databases.StoreCache
	queue    Enqueuer
	defaults config.KnowledgeBaseConfig
}

// NewService wires the knowledge base service together. defaults supplies
// the values stamped onto new knowledge bases and the vector collection
// name.
func NewService(store *Store, blobs blob.Store, vectors *databases.StoreCache, queue Enqueuer, defaults config.KnowledgeBaseConfig) *Service {
	defaults.SetDefaults()
	return &Service{
		store:    store,
		blobs:    blobs,
		vectors:  vectors,
		queue:    queue,
		defaults: defaults,
	}
}

// CreateKBParams are the caller-supplied fields for a new knowledge base.
// Zero values fall back to the configured defaults.
type CreateKBParams struct {
	Name           string     `json:"name"`
	Description    string     `json:"description"`
	Visibility     Visibility `json:"visibility"`
	EmbeddingModel string     `json:"embedding_model"`
	ChunkSize      int        `json:"chunk_size"`
	ChunkOverlap   int        `json:"chunk_overlap"`
}

// CreateKB validates and inserts a new knowledge base owned by userID.
func (s *Service) CreateKB(ctx context.Context, userID string, p CreateKBParams) (*KnowledgeBase, error) {
	if err := validateName(p.Name); err != nil {
		return nil, err
	}

	if p.Visibility == "" {
		p.Visibility = VisibilityPrivate
	}
	if !p.Visibility.Valid() {
		return nil, fmt.Errorf("%w: visibility must be private or public", ErrValidation)
	}

	if p.EmbeddingModel == "" {
		p.EmbeddingModel = s.defaults.EmbeddingModel
	}
	if p.ChunkSize == 0 {
		p.ChunkSize = s.defaults.ChunkSize
	}
	if p.ChunkOverlap == 0 {
		p.ChunkOverlap = s.defaults.ChunkOverlap
	}

	if p.ChunkSize < minChunkSize || p.ChunkSize > maxChunkSize {
		return nil, fmt.Errorf("%w: chunk_size must be between %d and %d", ErrValidation, minChunkSize, maxChunkSize)
	}
	if p.ChunkOverlap < 0 || p.ChunkOverlap > maxChunkOverlap {
		return nil, fmt.Errorf("%w: chunk_overlap must be between 0 and %d", ErrValidation, maxChunkOverlap)
	}
	if p.ChunkOverlap >= p.ChunkSize {
		return nil, fmt.Errorf("%w: chunk_overlap must be smaller than chunk_size", ErrValidation)
	}

	kb := &KnowledgeBase{
		ID:             uuid.NewString(),
		UserID:         userID,
		Name:           p.Name,
		Description:    p.Description,
		Visibility:     p.Visibility,
		EmbeddingModel: p.EmbeddingModel,
		ChunkSize:      p.ChunkSize,
		ChunkOverlap:   p.ChunkOverlap,
	}

	if err := s.store.CreateKB(ctx, kb); err != nil {
		return nil, err
	}

	slog.Info("knowledge base created", "kb_id", kb.ID, "user_id", userID, "name", kb.Name)
	return kb, nil
}

// GetKB returns a knowledge base regardless of visibility. Callers serving
// user requests should use GetKBWithPermission instead.
func (s *Service) GetKB(ctx context.Context, kbID string) (*KnowledgeBase, error) {
	kb, err := s.store.GetKB(ctx, kbID)
	if err != nil {
		return nil, err
	}
	if kb == nil {
		return nil, fmt.Errorf("knowledge base %s: %w", kbID, ErrNotFound)
	}
	return kb, nil
}

// GetKBWithPermission returns a knowledge base the user may read: public
// ones for anyone, private ones only for their owner.
func (s *Service) GetKBWithPermission(ctx context.Context, kbID, userID string) (*KnowledgeBase, error) {
	kb, err := s.GetKB(ctx, kbID)
	if err != nil {
		return nil, err
	}
	if kb.Visibility == VisibilityPrivate && kb.UserID != userID {
		return nil, fmt.Errorf("knowledge base %s: %w", kbID, ErrPermissionDenied)
	}
	return kb, nil
}

// ListKBs returns one page of the user's own knowledge bases, newest
// first, and the total count.
func (s *Service) ListKBs(ctx context.Context, userID string, skip, limit int) ([]*KnowledgeBase, int, error) {
	skip, limit = normalizePage(skip, limit)
	return s.store.ListKBs(ctx, userID, skip, limit)
}

// UpdateKBParams are the optional fields of a partial update. Nil fields
// keep their current values.
type UpdateKBParams struct {
	Name        *string     `json:"name"`
	Description *string     `json:"description"`
	Visibility  *Visibility `json:"visibility"`
}

// UpdateKB applies a partial update. Only the owner may update, whatever
// the visibility.
func (s *Service) UpdateKB(ctx context.Context, kbID, userID string, p UpdateKBParams) (*KnowledgeBase, error) {
	kb, err := s.GetKB(ctx, kbID)
	if err != nil {
		return nil, err
	}
	if kb.UserID != userID {
		return nil, fmt.Errorf("knowledge base %s: %w", kbID, ErrPermissionDenied)
	}

	if p.Name != nil {
		if err := validateName(*p.Name); err != nil {
			return nil, err
		}
		kb.Name = *p.Name
	}
	if p.Description != nil {
		kb.Description = *p.Description
	}
	if p.Visibility != nil {
		if !p.Visibility.Valid() {
			return nil, fmt.Errorf("%w: visibility must be private or public", ErrValidation)
		}
		kb.Visibility = *p.Visibility
	}

	if err := s.store.UpdateKB(ctx, kb); err != nil {
		return nil, err
	}

	return kb, nil
}

// DeleteKB removes a knowledge base and everything under it. Vectors go
// first, then document rows, then the knowledge base row, so an interrupted
// delete never leaves unreachable vectors behind.
func (s *Service) DeleteKB(ctx context.Context, kbID, userID string) error {
	kb, err := s.GetKB(ctx, kbID)
	if err != nil {
		return err
	}
	if kb.UserID != userID {
		return fmt.Errorf("knowledge base %s: %w", kbID, ErrPermissionDenied)
	}

	vs, err := s.vectors.Get(s.defaults.Collection, kb.EmbeddingModel)
	if err != nil {
		return fmt.Errorf("failed to open vector store: %w", err)
	}
	if err := vs.DeleteBy(ctx, databases.Filter{"kb_id": kbID}); err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}

	if err := s.store.DeleteKBDocuments(ctx, kbID); err != nil {
		return err
	}
	if err := s.store.DeleteKB(ctx, kbID); err != nil {
		return err
	}

	slog.Info("knowledge base deleted", "kb_id", kbID, "user_id", userID)
	return nil
}

// AccessibleKBIDs returns the knowledge base IDs a user may retrieve from:
// their own plus all public ones.
func (s *Service) AccessibleKBIDs(ctx context.Context, userID string) ([]string, error) {
	return s.store.AccessibleKBIDs(ctx, userID)
}

// Upload stores a document file and queues it for ingestion. The file type
// is validated before anything is written, the raw bytes land in the blob
// store under kb/{kb_id}/{doc_id}_{filename}, and the document row starts
// in processing.
func (s *Service) Upload(ctx context.Context, kbID, userID, filename, title string, content []byte, contentType string) (*Document, error) {
	kb, err := s.GetKB(ctx, kbID)
	if err != nil {
		return nil, err
	}
	if kb.UserID != userID {
		return nil, fmt.Errorf("knowledge base %s: %w", kbID, ErrPermissionDenied)
	}

	fileType, err := rag.FileTypeOf(filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if title == "" {
		title = filename
	}
	if utf8.RuneCountInString(title) > 255 {
		return nil, fmt.Errorf("%w: title must be at most 255 characters", ErrValidation)
	}

	docID := uuid.NewString()
	fileKey := fmt.Sprintf("kb/%s/%s_%s", kbID, docID, filenameSanitizer.Replace(filename))

	if contentType == "" {
		contentType = rag.ContentTypeOf(fileType)
	}
	if err := s.blobs.Put(ctx, fileKey, content, contentType); err != nil {
		return nil, fmt.Errorf("failed to store file: %w", err)
	}

	doc := &Document{
		ID:       docID,
		KBID:     kbID,
		Title:    title,
		FileKey:  fileKey,
		FileType: fileType,
		FileSize: int64(len(content)),
		Status:   StatusProcessing,
	}
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		return nil, err
	}

	if err := s.enqueue(ctx, doc.ID); err != nil {
		return nil, err
	}

	slog.Info("document uploaded", "doc_id", doc.ID, "kb_id", kbID,
		"file_type", fileType, "file_size", doc.FileSize)
	return doc, nil
}

// GetDocument returns a document by ID.
func (s *Service) GetDocument(ctx context.Context, docID string) (*Document, error) {
	doc, err := s.store.GetDocument(ctx, docID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("document %s: %w", docID, ErrNotFound)
	}
	return doc, nil
}

// ListDocuments returns one page of a knowledge base's documents, newest
// first, and the total count. status narrows the page when non-empty.
// Anyone who may read the knowledge base may list its documents.
func (s *Service) ListDocuments(ctx context.Context, kbID, userID string, status DocumentStatus, skip, limit int) ([]*Document, int, error) {
	if _, err := s.GetKBWithPermission(ctx, kbID, userID); err != nil {
		return nil, 0, err
	}
	if status != "" && !status.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}

	skip, limit = normalizePage(skip, limit)
	return s.store.ListDocuments(ctx, kbID, status, skip, limit)
}

// UpdateDocumentStatus records ingestion progress. It performs no
// permission check; only internal collaborators call it.
func (s *Service) UpdateDocumentStatus(ctx context.Context, docID string, status DocumentStatus, errorMsg *string, chunkCount *int) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	return s.store.UpdateDocumentStatus(ctx, docID, status, errorMsg, chunkCount)
}

// DeleteDocument removes a document, its vectors and, best-effort, its
// stored file. Only the knowledge base owner may delete.
func (s *Service) DeleteDocument(ctx context.Context, docID, userID string) error {
	doc, err := s.GetDocument(ctx, docID)
	if err != nil {
		return err
	}

	kb, err := s.GetKB(ctx, doc.KBID)
	if err != nil {
		return err
	}
	if kb.UserID != userID {
		return fmt.Errorf("document %s: %w", docID, ErrPermissionDenied)
	}

	vs, err := s.vectors.Get(s.defaults.Collection, kb.EmbeddingModel)
	if err != nil {
		return fmt.Errorf("failed to open vector store: %w", err)
	}
	if err := vs.DeleteBy(ctx, databases.Filter{"doc_id": docID}); err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}

	if err := s.store.DeleteDocument(ctx, docID); err != nil {
		return err
	}

	// The row and vectors are gone; an orphaned blob only wastes space.
	if err := s.blobs.Delete(ctx, doc.FileKey); err != nil {
		slog.Warn("failed to delete document blob", "doc_id", docID, "file_key", doc.FileKey, "error", err)
	}

	slog.Info("document deleted", "doc_id", docID, "kb_id", doc.KBID)
	return nil
}

// RetryDocument re-queues a failed document. Documents in any other status
// are rejected, so a running ingestion cannot be started twice.
func (s *Service) RetryDocument(ctx context.Context, docID, userID string) (*Document, error) {
	doc, err := s.GetDocument(ctx, docID)
	if err != nil {
		return nil, err
	}

	kb, err := s.GetKB(ctx, doc.KBID)
	if err != nil {
		return nil, err
	}
	if kb.UserID != userID {
		return nil, fmt.Errorf("document %s: %w", docID, ErrPermissionDenied)
	}

	if doc.Status != StatusFailed {
		return nil, fmt.Errorf("%w: document is not in failed status", ErrValidation)
	}

	if err := s.store.UpdateDocumentStatus(ctx, docID, StatusProcessing, nil, nil); err != nil {
		return nil, err
	}
	if err := s.enqueue(ctx, docID); err != nil {
		return nil, err
	}

	slog.Info("document retry queued", "doc_id", docID, "kb_id", doc.KBID)
	doc.Status = StatusProcessing
	return doc, nil
}

// SearchTest runs a retrieval probe against one knowledge base and returns
// the scored chunks. It exercises the exact path the RAG agent uses, minus
// the LLM.
func (s *Service) SearchTest(ctx context.Context, kbID, userID, query string, topK int, scoreThreshold *float32) ([]databases.ScoredChunk, error) {
	kb, err := s.GetKBWithPermission(ctx, kbID, userID)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is required", ErrValidation)
	}
	if topK == 0 {
		topK = defaultSearchTopK
	}
	if topK < 1 || topK > maxSearchTopK {
		return nil, fmt.Errorf("%w: top_k must be between 1 and %d", ErrValidation, maxSearchTopK)
	}

	vs, err := s.vectors.Get(s.defaults.Collection, kb.EmbeddingModel)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}

	opts := databases.SearchOptions{
		Filter: databases.Filter{"kb_id": kbID},
		K:      topK,
	}
	if scoreThreshold != nil {
		opts.Strategy = databases.StrategyThreshold
		opts.ScoreThreshold = *scoreThreshold
	}

	chunks, err := vs.Search(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	return chunks, nil
}

// Retrieve returns up to k chunks matching the query. A valid kb_id
// narrows retrieval to that knowledge base (permission-checked, searched
// with the model that indexed it); anything else falls back to the full
// scope the user may read. An invalid kb_id is not an error, it just
// widens the scope. The scoped search fans out per embedding model so
// bases indexed with different models stay retrievable; results merge
// by score.
func (s *Service) Retrieve(ctx context.Context, query, userID, kbID string, k int) ([]databases.ScoredChunk, error) {
	if k <= 0 {
		k = defaultSearchTopK
	}

	if kbID != "" {
		if _, err := uuid.Parse(kbID); err != nil {
			slog.Warn("invalid kb_id for retrieval, using accessible scope", "kb_id", kbID)
		} else {
			kb, err := s.GetKBWithPermission(ctx, kbID, userID)
			if err != nil {
				return nil, err
			}
			vs, err := s.vectors.Get(s.defaults.Collection, kb.EmbeddingModel)
			if err != nil {
				return nil, fmt.Errorf("failed to open vector store: %w", err)
			}
			return vs.Search(ctx, query, databases.SearchOptions{
				Filter: databases.Filter{"kb_id": kbID},
				K:      k,
			})
		}
	}

	scopes, err := s.store.AccessibleKBScopes(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(scopes) == 0 {
		return nil, nil
	}

	// Each group is searched through the embedder that indexed it, so
	// mixed-model scopes stay retrievable.
	byModel := make(map[string][]string)
	var models []string
	for _, scope := range scopes {
		if _, ok := byModel[scope.EmbeddingModel]; !ok {
			models = append(models, scope.EmbeddingModel)
		}
		byModel[scope.EmbeddingModel] = append(byModel[scope.EmbeddingModel], scope.ID)
	}

	var merged []databases.ScoredChunk
	for _, model := range models {
		vs, err := s.vectors.Get(s.defaults.Collection, model)
		if err != nil {
			slog.Warn("skipping knowledge bases with unavailable embedding model",
				"model", model, "kb_count", len(byModel[model]), "error", err)
			continue
		}
		chunks, err := vs.Search(ctx, query, databases.SearchOptions{
			Filter: databases.Filter{"kb_id": databases.InStrings(byModel[model])},
			K:      k,
		})
		if err != nil {
			return nil, err
		}
		merged = append(merged, chunks...)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].ID < merged[j].ID
	})
	if len(merged) > k {
		merged = merged[:k]
	}
	return merged, nil
}

// enqueue hands a document to the worker. On failure the document is
// flipped to failed so the retry endpoint can recover it; otherwise it
// would sit in processing forever with no job behind it.
func (s *Service) enqueue(ctx context.Context, docID string) error {
	err := s.queue.Enqueue(ctx, docID)
	if err == nil {
		return nil
	}

	msg := fmt.Sprintf("failed to enqueue: %v", err)
	if uerr := s.store.UpdateDocumentStatus(ctx, docID, StatusFailed, &msg, nil); uerr != nil {
		slog.Warn("failed to mark document failed after enqueue error", "doc_id", docID, "error", uerr)
	}
	return fmt.Errorf("failed to enqueue document %s: %w", docID, err)
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if utf8.RuneCountInString(name) > 100 {
		return fmt.Errorf("%w: name must be at most 100 characters", ErrValidation)
	}
	return nil
}

func normalizePage(skip, limit int) (int, int) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return skip, limit
}
