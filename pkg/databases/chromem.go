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

package databases

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// ChromemBackend is an embedded, file-backed vector store. It is the
// zero-dependency default for local development and tests.
type ChromemBackend struct {
	db *chromem.DB

	mu          sync.RWMutex
	collections map[string]*chromem.Collection
}

// NewChromemBackend opens a chromem database. An empty path selects a
// purely in-memory store.
func NewChromemBackend(path string) (*ChromemBackend, error) {
	var db *chromem.DB
	var err error

	if path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open chromem database at %s: %w", path, err)
		}
	}

	return &ChromemBackend{
		db:          db,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

// EnsureCollection creates the collection if needed. chromem infers the
// vector dimension from the first document, so dimension is unused here.
func (b *ChromemBackend) EnsureCollection(_ context.Context, collection string, _ int) error {
	_, err := b.getCollection(collection)
	return err
}

// Upsert writes points into the collection.
func (b *ChromemBackend) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	col, err := b.getCollection(collection)
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, 0, len(points))
	for _, p := range points {
		metadata := make(map[string]string, len(p.Metadata))
		for key, value := range p.Metadata {
			metadata[key] = fmt.Sprint(value)
		}

		content, _ := p.Metadata["content"].(string)

		docs = append(docs, chromem.Document{
			ID:        p.ID,
			Content:   content,
			Metadata:  metadata,
			Embedding: p.Vector,
		})
	}

	if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add %d documents: %w", len(docs), err)
	}

	return nil
}

// Search runs a vector query. chromem only supports equality filters, so
// membership filters are expanded into one query per candidate value and
// the hits merged by score.
func (b *ChromemBackend) Search(ctx context.Context, collection string, vector []float32, limit int, filter Filter, withVectors bool) ([]SearchResult, error) {
	col, err := b.getCollection(collection)
	if err != nil {
		return nil, err
	}

	var merged []SearchResult
	seen := make(map[string]bool)

	for _, where := range expandWheres(filter) {
		// chromem rejects nResults greater than the collection size.
		n := limit
		if count := col.Count(); n > count {
			n = count
		}
		if n <= 0 {
			continue
		}

		results, err := col.QueryEmbedding(ctx, vector, n, where, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to query collection %s: %w", collection, err)
		}

		for _, r := range results {
			if seen[r.ID] {
				continue
			}
			seen[r.ID] = true

			metadata := make(map[string]any, len(r.Metadata))
			for key, value := range r.Metadata {
				metadata[key] = value
			}

			result := SearchResult{
				ID:       r.ID,
				Score:    r.Similarity,
				Metadata: metadata,
			}
			if withVectors {
				result.Vector = r.Embedding
			}
			merged = append(merged, result)
		}
	}

	sortResultsByScore(merged)
	if len(merged) > limit {
		merged = merged[:limit]
	}

	return merged, nil
}

// DeleteBy removes every document matching the filter. Deleting with a
// filter that matches nothing is not an error.
func (b *ChromemBackend) DeleteBy(ctx context.Context, collection string, filter Filter) error {
	// chromem's Delete refuses an unrestricted call; an empty filter
	// means the whole collection goes.
	if len(filter) == 0 {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.collections, collection)
		if err := b.db.DeleteCollection(collection); err != nil {
			return fmt.Errorf("failed to delete collection %s: %w", collection, err)
		}
		return nil
	}

	col, err := b.getCollection(collection)
	if err != nil {
		return err
	}

	for _, where := range expandWheres(filter) {
		if col.Count() == 0 {
			return nil
		}
		if err := col.Delete(ctx, where, nil); err != nil {
			return fmt.Errorf("failed to delete from collection %s: %w", collection, err)
		}
	}

	return nil
}

// Close is a no-op; chromem persists on write.
func (b *ChromemBackend) Close() error {
	return nil
}

func (b *ChromemBackend) getCollection(name string) (*chromem.Collection, error) {
	b.mu.RLock()
	col, ok := b.collections[name]
	b.mu.RUnlock()
	if ok {
		return col, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if col, ok := b.collections[name]; ok {
		return col, nil
	}

	// Vectors are computed upstream; chromem must never embed on its own.
	embeddingFunc := func(_ context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("chromem requires pre-computed embeddings, got raw text (%d bytes)", len(text))
	}

	col, err := b.db.GetOrCreateCollection(name, nil, embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create collection %s: %w", name, err)
	}

	b.collections[name] = col
	return col, nil
}

// expandWheres flattens a filter into chromem equality maps. Each In
// value produces its own variant; scalar entries are shared by all.
func expandWheres(filter Filter) []map[string]string {
	base := make(map[string]string)
	var inKey string
	var inValues In

	for key, value := range filter {
		if in, ok := value.(In); ok {
			// A single membership key covers every caller today.
			inKey = key
			inValues = in
			continue
		}
		base[key] = fmt.Sprint(value)
	}

	if inKey == "" {
		if len(base) == 0 {
			return []map[string]string{nil}
		}
		return []map[string]string{base}
	}

	wheres := make([]map[string]string, 0, len(inValues))
	for _, value := range inValues {
		where := make(map[string]string, len(base)+1)
		for k, v := range base {
			where[k] = v
		}
		where[inKey] = fmt.Sprint(value)
		wheres = append(wheres, where)
	}

	return wheres
}

var _ Backend = (*ChromemBackend)(nil)
