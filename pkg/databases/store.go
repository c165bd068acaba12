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

// Package databases stores and searches document embeddings. A Store wraps
// one named collection on a backend (Qdrant over gRPC, or embedded
// chromem-go) together with the embedder that produced its vectors.
package databases

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/kadirpekel/axon/pkg/config"
	"github.com/kadirpekel/axon/pkg/embedders"
	"github.com/kadirpekel/axon/pkg/rag"
)

// Filter selects chunks by metadata. A scalar value matches equality; an
// In value matches membership. Multiple keys AND together.
type Filter map[string]any

// In matches any of the listed values.
type In []any

// InStrings builds an In from strings.
func InStrings(values []string) In {
	in := make(In, len(values))
	for i, v := range values {
		in[i] = v
	}
	return in
}

// ScoredChunk is a search hit. Higher scores are more relevant.
type ScoredChunk struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Score    float32        `json:"score"`
}

// Strategy selects how Search ranks results.
type Strategy string

const (
	// StrategySimilarity returns the top K by similarity.
	StrategySimilarity Strategy = "similarity"

	// StrategyMMR re-ranks a larger candidate set for diversity.
	StrategyMMR Strategy = "mmr"

	// StrategyThreshold keeps top-K hits scoring at least ScoreThreshold.
	StrategyThreshold Strategy = "threshold"
)

const (
	defaultK          = 4
	defaultFetchK     = 20
	defaultLambdaMult = 0.5
)

// SearchOptions tune a Search call. Zero values take defaults: K=4,
// similarity strategy, FetchK=20, LambdaMult=0.5.
type SearchOptions struct {
	Filter         Filter
	K              int
	Strategy       Strategy
	FetchK         int
	LambdaMult     float64
	ScoreThreshold float32
}

// Point is one stored vector with its payload.
type Point struct {
	ID       string
	Vector   []float32
	Metadata map[string]any
}

// SearchResult is a raw backend hit.
type SearchResult struct {
	ID       string
	Score    float32
	Vector   []float32
	Metadata map[string]any
}

// Backend is the provider-level contract both Qdrant and chromem satisfy.
type Backend interface {
	EnsureCollection(ctx context.Context, collection string, dimension int) error
	Upsert(ctx context.Context, collection string, points []Point) error
	Search(ctx context.Context, collection string, vector []float32, limit int, filter Filter, withVectors bool) ([]SearchResult, error)
	DeleteBy(ctx context.Context, collection string, filter Filter) error
	Close() error
}

// NewBackend creates a backend from configuration.
func NewBackend(cfg *config.VectorStoreConfig) (Backend, error) {
	switch cfg.Provider {
	case config.VectorStoreQdrant:
		return NewQdrantBackend(cfg)
	case config.VectorStoreChromem:
		return NewChromemBackend(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported vector store provider: %s", cfg.Provider)
	}
}

// Store is one logical collection bound to an embedder.
type Store struct {
	backend    Backend
	embedder   embedders.Embedder
	collection string
}

// NewStore wraps a collection on a backend.
func NewStore(backend Backend, embedder embedders.Embedder, collection string) *Store {
	return &Store{
		backend:    backend,
		embedder:   embedder,
		collection: collection,
	}
}

// Upsert embeds and writes chunks, stamping every chunk's metadata with
// kb_id, doc_id and user_id so later reads can always be scoped. Returns
// the assigned vector IDs.
func (s *Store) Upsert(ctx context.Context, chunks []rag.Document, kbID, docID, userID string) ([]string, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Content
	}

	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed %d chunks: %w", len(chunks), err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	if err := s.backend.EnsureCollection(ctx, s.collection, s.embedder.Dimension()); err != nil {
		return nil, err
	}

	ids := make([]string, len(chunks))
	points := make([]Point, len(chunks))
	for i, chunk := range chunks {
		metadata := make(map[string]any, len(chunk.Metadata)+4)
		for k, v := range chunk.Metadata {
			metadata[k] = v
		}
		metadata["kb_id"] = kbID
		metadata["doc_id"] = docID
		metadata["user_id"] = userID
		metadata["content"] = chunk.Content

		ids[i] = uuid.NewString()
		points[i] = Point{
			ID:       ids[i],
			Vector:   vectors[i],
			Metadata: metadata,
		}
	}

	if err := s.backend.Upsert(ctx, s.collection, points); err != nil {
		return nil, err
	}

	return ids, nil
}

// DeleteBy removes every chunk matching the filter. Matching nothing is
// not an error.
func (s *Store) DeleteBy(ctx context.Context, filter Filter) error {
	return s.backend.DeleteBy(ctx, s.collection, filter)
}

// Search embeds the query and returns scored chunks per the options.
func (s *Store) Search(ctx context.Context, query string, opts SearchOptions) ([]ScoredChunk, error) {
	k := opts.K
	if k <= 0 {
		k = defaultK
	}

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	switch opts.Strategy {
	case StrategyMMR:
		return s.searchMMR(ctx, vector, k, opts)
	case StrategyThreshold:
		results, err := s.backend.Search(ctx, s.collection, vector, k, opts.Filter, false)
		if err != nil {
			return nil, err
		}
		chunks := toScoredChunks(results)
		kept := chunks[:0]
		for _, c := range chunks {
			if c.Score >= opts.ScoreThreshold {
				kept = append(kept, c)
			}
		}
		return kept, nil
	default:
		results, err := s.backend.Search(ctx, s.collection, vector, k, opts.Filter, false)
		if err != nil {
			return nil, err
		}
		return toScoredChunks(results), nil
	}
}

// searchMMR fetches a wider candidate set with vectors and re-ranks by
// maximal marginal relevance: lambda*relevance - (1-lambda)*max similarity
// to anything already selected.
func (s *Store) searchMMR(ctx context.Context, queryVector []float32, k int, opts SearchOptions) ([]ScoredChunk, error) {
	fetchK := opts.FetchK
	if fetchK <= 0 {
		fetchK = defaultFetchK
	}
	if fetchK < k {
		fetchK = k
	}
	lambda := opts.LambdaMult
	if lambda <= 0 {
		lambda = defaultLambdaMult
	}

	candidates, err := s.backend.Search(ctx, s.collection, queryVector, fetchK, opts.Filter, true)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	selected := make([]int, 0, k)
	remaining := make([]int, len(candidates))
	for i := range candidates {
		remaining[i] = i
	}

	for len(selected) < k && len(remaining) > 0 {
		bestIdx := -1
		bestScore := float64(0)

		for pos, ci := range remaining {
			relevance := float64(candidates[ci].Score)

			maxSim := float64(0)
			for _, si := range selected {
				sim := cosineSimilarity(candidates[ci].Vector, candidates[si].Vector)
				if sim > maxSim {
					maxSim = sim
				}
			}

			score := lambda*relevance - (1-lambda)*maxSim
			if bestIdx == -1 || score > bestScore {
				bestIdx = pos
				bestScore = score
			}
		}

		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	out := make([]ScoredChunk, 0, len(selected))
	for _, ci := range selected {
		out = append(out, toScoredChunk(candidates[ci]))
	}
	return out, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func toScoredChunks(results []SearchResult) []ScoredChunk {
	out := make([]ScoredChunk, 0, len(results))
	for _, r := range results {
		out = append(out, toScoredChunk(r))
	}
	return out
}

func toScoredChunk(r SearchResult) ScoredChunk {
	content := ""
	if c, ok := r.Metadata["content"].(string); ok {
		content = c
	}
	return ScoredChunk{
		ID:       r.ID,
		Content:  content,
		Metadata: r.Metadata,
		Score:    r.Score,
	}
}

// Retriever is a Store scoped to a fixed filter and search options.
type Retriever struct {
	store *Store
	opts  SearchOptions
}

// AsRetriever binds a filter and options to the store.
func (s *Store) AsRetriever(filter Filter, k int, strategy Strategy, opts SearchOptions) *Retriever {
	opts.Filter = filter
	opts.K = k
	opts.Strategy = strategy
	return &Retriever{store: s, opts: opts}
}

// GetRelevantChunks searches with the bound options.
func (r *Retriever) GetRelevantChunks(ctx context.Context, query string) ([]ScoredChunk, error) {
	return r.store.Search(ctx, query, r.opts)
}

// StoreCache hands out stores keyed by "collection:model", constructing
// them lazily. Knowledge bases pick their embedding model per KB, so one
// collection may be read through several embedders.
type StoreCache struct {
	backend  Backend
	registry *embedders.Registry

	mu     sync.RWMutex
	stores map[string]*Store
}

// NewStoreCache creates a store cache over one backend.
func NewStoreCache(backend Backend, registry *embedders.Registry) *StoreCache {
	return &StoreCache{
		backend:  backend,
		registry: registry,
		stores:   make(map[string]*Store),
	}
}

// Get returns the store for a collection and embedding model. A model the
// registry cannot construct refuses reads and writes by failing here.
func (c *StoreCache) Get(collection, model string) (*Store, error) {
	key := collection + ":" + model

	c.mu.RLock()
	store, ok := c.stores[key]
	c.mu.RUnlock()
	if ok {
		return store, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if store, ok := c.stores[key]; ok {
		return store, nil
	}

	embedder, err := c.registry.For(model)
	if err != nil {
		return nil, err
	}

	store = NewStore(c.backend, embedder, collection)
	c.stores[key] = store
	return store, nil
}

// sortResultsByScore orders backend hits by descending score, stable on
// ID for ties.
func sortResultsByScore(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
}
