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

// RedisConfig configures the Redis connection backing the ingestion queue.
type RedisConfig struct {
	// Addr is the host:port of the Redis server.
	Addr string `yaml:"addr,omitempty"`

	// Username for Redis ACL authentication.
	Username string `yaml:"username,omitempty"`

	// Password for authentication.
	Password string `yaml:"password,omitempty"`

	// DB selects the logical database.
	DB int `yaml:"db,omitempty"`

	// KeyPrefix namespaces every key this instance touches.
	KeyPrefix string `yaml:"key_prefix,omitempty"`
}

// SetDefaults applies default values.
func (c *RedisConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "axon"
	}
}

// Validate checks the Redis configuration.
func (c *RedisConfig) Validate() error {
	if c.DB < 0 {
		return fmt.Errorf("db must be non-negative")
	}
	return nil
}
