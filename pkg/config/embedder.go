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

import (
	"fmt"
	"os"
)

// EmbedderConfig configures an embedding provider. The protocol is the
// OpenAI embeddings API, which SiliconFlow and most self-hosted inference
// servers also speak.
type EmbedderConfig struct {
	// Provider type. Only "openai" (the wire protocol) is supported.
	Provider string `yaml:"provider,omitempty"`

	// Model name (e.g. "BAAI/bge-small-zh-v1.5", "text-embedding-3-small").
	Model string `yaml:"model,omitempty"`

	// APIKey for authentication. Supports ${VAR} expansion.
	APIKey string `yaml:"api_key,omitempty"`

	// BaseURL overrides the default API endpoint.
	BaseURL string `yaml:"base_url,omitempty"`

	// BatchSize caps how many inputs go into one embeddings request.
	BatchSize int `yaml:"batch_size,omitempty"`

	// Dimensions requests a specific output dimensionality, when the
	// model supports it. Zero means model default.
	Dimensions int `yaml:"dimensions,omitempty"`
}

// SetDefaults applies default values.
func (c *EmbedderConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "openai"
	}
	if c.Model == "" {
		c.Model = "BAAI/bge-small-zh-v1.5"
	}
	if c.BaseURL == "" {
		if url := os.Getenv("EMBEDDING_BASE_URL"); url != "" {
			c.BaseURL = url
		} else {
			c.BaseURL = "https://api.openai.com/v1"
		}
	}
	if c.APIKey == "" {
		if key := os.Getenv("EMBEDDING_API_KEY"); key != "" {
			c.APIKey = key
		} else {
			c.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
}

// Validate checks the embedder configuration.
func (c *EmbedderConfig) Validate() error {
	if c.Provider != "" && c.Provider != "openai" {
		return fmt.Errorf("invalid provider %q (valid: openai)", c.Provider)
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("batch_size must be non-negative")
	}
	if c.Dimensions < 0 {
		return fmt.Errorf("dimensions must be non-negative")
	}
	return nil
}
