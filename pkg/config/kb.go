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

package config

import "fmt"

// DefaultKBCollection is the logical vector collection shared by all
// knowledge bases. Tenancy is enforced by metadata filters, not by
// per-KB collections.
const DefaultKBCollection = "axon_kb_vectors"

// KnowledgeBaseConfig holds defaults stamped onto newly created knowledge
// bases. Existing knowledge bases keep the values they were created with.
type KnowledgeBaseConfig struct {
	// EmbeddingModel used to index documents.
	EmbeddingModel string `yaml:"embedding_model,omitempty"`

	// ChunkSize is the maximum chunk length in characters.
	ChunkSize int `yaml:"chunk_size,omitempty"`

	// ChunkOverlap is how many characters consecutive chunks share.
	ChunkOverlap int `yaml:"chunk_overlap,omitempty"`

	// Collection is the vector store collection name.
	Collection string `yaml:"collection,omitempty"`

	// RetrievalK is how many chunks retrieval returns by default.
	RetrievalK int `yaml:"retrieval_k,omitempty"`
}

// SetDefaults applies default values.
func (c *KnowledgeBaseConfig) SetDefaults() {
	if c.EmbeddingModel == "" {
		c.EmbeddingModel = "BAAI/bge-small-zh-v1.5"
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = 500
	}
	if c.ChunkOverlap == 0 {
		c.ChunkOverlap = 50
	}
	if c.Collection == "" {
		c.Collection = DefaultKBCollection
	}
	if c.RetrievalK == 0 {
		c.RetrievalK = 4
	}
}

// Validate checks the knowledge base defaults.
func (c *KnowledgeBaseConfig) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive")
	}
	if c.ChunkOverlap < 0 {
		return fmt.Errorf("chunk_overlap must be non-negative")
	}
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("chunk_overlap (%d) must be smaller than chunk_size (%d)", c.ChunkOverlap, c.ChunkSize)
	}
	if c.Collection == "" {
		return fmt.Errorf("collection is required")
	}
	if c.RetrievalK <= 0 {
		return fmt.Errorf("retrieval_k must be positive")
	}
	return nil
}
