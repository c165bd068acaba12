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

// VectorStoreProvider identifies the vector store backend.
type VectorStoreProvider string

const (
	// VectorStoreQdrant is the Qdrant gRPC backend, meant for deployments.
	VectorStoreQdrant VectorStoreProvider = "qdrant"

	// VectorStoreChromem is the embedded chromem-go backend, meant for
	// development and tests. Optionally persists to disk.
	VectorStoreChromem VectorStoreProvider = "chromem"
)

// VectorStoreConfig configures where document embeddings live.
type VectorStoreConfig struct {
	// Provider type (qdrant, chromem).
	Provider VectorStoreProvider `yaml:"provider,omitempty"`

	// Host of the Qdrant server.
	Host string `yaml:"host,omitempty"`

	// Port of the Qdrant gRPC endpoint.
	Port int `yaml:"port,omitempty"`

	// APIKey for Qdrant authentication.
	APIKey string `yaml:"api_key,omitempty"`

	// UseTLS enables TLS for the Qdrant connection.
	UseTLS bool `yaml:"use_tls,omitempty"`

	// Path is the persistence directory for the chromem backend.
	// Empty means in-memory only.
	Path string `yaml:"path,omitempty"`
}

// SetDefaults applies default values.
func (c *VectorStoreConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = VectorStoreChromem
	}
	if c.Provider == VectorStoreQdrant {
		if c.Host == "" {
			c.Host = "localhost"
		}
		if c.Port == 0 {
			c.Port = 6334
		}
	}
}

// Validate checks the vector store configuration.
func (c *VectorStoreConfig) Validate() error {
	switch c.Provider {
	case VectorStoreQdrant, VectorStoreChromem:
	default:
		return fmt.Errorf("invalid provider %q (valid: qdrant, chromem)", c.Provider)
	}

	if c.Provider == VectorStoreQdrant {
		if c.Host == "" {
			return fmt.Errorf("host is required for qdrant")
		}
		if c.Port <= 0 || c.Port > 65535 {
			return fmt.Errorf("invalid port %d", c.Port)
		}
	}

	return nil
}
