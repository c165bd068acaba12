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

package embedders

import (
	"context"
	"fmt"
	"sync"

	"github.com/kadirpekel/axon/pkg/config"
)

// Embedder turns texts into dense vectors.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Model() string
	Dimension() int
}

// Registry hands out one embedder per model name, constructed lazily on
// first use. Knowledge bases reference models by name, so several KBs
// sharing a model share one client.
type Registry struct {
	cfg *config.Config

	mu        sync.RWMutex
	embedders map[string]Embedder
}

// NewRegistry creates an embedder registry backed by the given config.
func NewRegistry(cfg *config.Config) *Registry {
	return &Registry{
		cfg:       cfg,
		embedders: make(map[string]Embedder),
	}
}

// For returns the embedder for a model name, constructing and caching it
// on first request.
func (r *Registry) For(model string) (Embedder, error) {
	if model == "" {
		return nil, fmt.Errorf("embedder model cannot be empty")
	}

	r.mu.RLock()
	e, ok := r.embedders[model]
	r.mu.RUnlock()
	if ok {
		return e, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another goroutine may have constructed it while we waited.
	if e, ok := r.embedders[model]; ok {
		return e, nil
	}

	ecfg := r.cfg.EmbedderFor(model)
	ecfg.SetDefaults()
	if err := ecfg.Validate(); err != nil {
		return nil, fmt.Errorf("embedder config for model %q: %w", model, err)
	}

	e, err := NewOpenAIEmbedder(ecfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder for model %q: %w", model, err)
	}

	r.embedders[model] = e
	return e, nil
}

// Register installs a pre-built embedder under a model name. Tests use
// this to inject fakes.
func (r *Registry) Register(model string, e Embedder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embedders[model] = e
}
