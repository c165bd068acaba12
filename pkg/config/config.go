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

// Package config defines the configuration schema for the axon server and
// ingestion worker. Configuration is loaded from YAML (or JSON), environment
// variables are expanded, defaults applied, and the result validated.
package config

import (
	"fmt"

	"github.com/kadirpekel/axon/pkg/observability"
)

// Config is the root configuration.
type Config struct {
	// Server configures the HTTP API.
	Server ServerConfig `yaml:"server,omitempty"`

	// Logger configures logging output.
	Logger LoggerConfig `yaml:"logger,omitempty"`

	// Database configures the relational store used for checkpoints,
	// memories, knowledge base records, and usage accounting.
	Database DatabaseConfig `yaml:"database,omitempty"`

	// Redis configures the ingestion queue.
	Redis RedisConfig `yaml:"redis,omitempty"`

	// Blob configures the S3-compatible object store for uploaded files.
	Blob BlobConfig `yaml:"blob,omitempty"`

	// VectorStore configures where document embeddings live.
	VectorStore VectorStoreConfig `yaml:"vector_store,omitempty"`

	// LLM is the chat model used by the conversational agents.
	LLM LLMConfig `yaml:"llm,omitempty"`

	// RouterLLM is the model used for intent classification. When omitted,
	// the chat model is reused with temperature forced to zero.
	RouterLLM *LLMConfig `yaml:"router_llm,omitempty"`

	// Embedders defines named embedding providers. The entry named
	// "default" serves models that have no dedicated entry.
	Embedders map[string]*EmbedderConfig `yaml:"embedders,omitempty"`

	// KnowledgeBase holds defaults applied to newly created knowledge bases.
	KnowledgeBase KnowledgeBaseConfig `yaml:"knowledge_base,omitempty"`

	// Ingest configures the document ingestion worker.
	Ingest IngestConfig `yaml:"ingest,omitempty"`

	// Tools configures tool sources available to agents.
	Tools ToolsConfig `yaml:"tools,omitempty"`

	// Observability configures tracing and metrics.
	Observability *observability.Config `yaml:"observability,omitempty"`
}

// SetDefaults applies defaults to every section.
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.Logger.SetDefaults()
	c.Database.SetDefaults()
	c.Redis.SetDefaults()
	c.Blob.SetDefaults()
	c.VectorStore.SetDefaults()
	c.LLM.SetDefaults()

	if c.RouterLLM == nil {
		router := c.LLM
		zero := 0.0
		router.Temperature = &zero
		c.RouterLLM = &router
	} else {
		// Routing wants determinism, so temperature defaults to zero
		// here, not to the generation default.
		if c.RouterLLM.Temperature == nil {
			zero := 0.0
			c.RouterLLM.Temperature = &zero
		}
		c.RouterLLM.SetDefaults()
	}

	if c.Embedders == nil {
		c.Embedders = make(map[string]*EmbedderConfig)
	}
	if _, ok := c.Embedders["default"]; !ok {
		c.Embedders["default"] = &EmbedderConfig{}
	}
	for _, embedder := range c.Embedders {
		embedder.SetDefaults()
	}

	c.KnowledgeBase.SetDefaults()
	c.Ingest.SetDefaults()
	c.Tools.SetDefaults()

	if c.Observability != nil {
		c.Observability.SetDefaults()
	}
}

// Validate checks every section and reports the first problem found.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Logger.Validate(); err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if err := c.Blob.Validate(); err != nil {
		return fmt.Errorf("blob: %w", err)
	}
	if err := c.VectorStore.Validate(); err != nil {
		return fmt.Errorf("vector_store: %w", err)
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	if c.RouterLLM != nil {
		if err := c.RouterLLM.Validate(); err != nil {
			return fmt.Errorf("router_llm: %w", err)
		}
	}
	for name, embedder := range c.Embedders {
		if err := embedder.Validate(); err != nil {
			return fmt.Errorf("embedders.%s: %w", name, err)
		}
	}
	if err := c.KnowledgeBase.Validate(); err != nil {
		return fmt.Errorf("knowledge_base: %w", err)
	}
	if err := c.Ingest.Validate(); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	if err := c.Tools.Validate(); err != nil {
		return fmt.Errorf("tools: %w", err)
	}
	if c.Observability != nil {
		if err := c.Observability.Validate(); err != nil {
			return fmt.Errorf("observability: %w", err)
		}
	}
	return nil
}

// Default returns a zero-config Config: SQLite on disk, embedded vector
// store, and providers resolved from environment variables.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// EmbedderFor resolves the embedder configuration for a model name. A
// dedicated entry wins; otherwise the default entry is cloned with the
// model swapped in.
func (c *Config) EmbedderFor(model string) *EmbedderConfig {
	if e, ok := c.Embedders[model]; ok {
		return e
	}
	for _, e := range c.Embedders {
		if e.Model == model {
			return e
		}
	}
	base := c.Embedders["default"]
	if base == nil {
		base = &EmbedderConfig{}
		base.SetDefaults()
	}
	clone := *base
	clone.Model = model
	return &clone
}
