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

// IngestConfig configures the document ingestion worker.
type IngestConfig struct {
	// Concurrency is the worker pool size.
	Concurrency int `yaml:"concurrency,omitempty"`

	// MaxAttempts bounds how often a failing job is retried.
	MaxAttempts int `yaml:"max_attempts,omitempty"`

	// BackoffBase is the base delay for exponential retry backoff.
	// Attempt n waits 2^n * BackoffBase.
	BackoffBase Duration `yaml:"backoff_base,omitempty"`

	// HardTimeout is the context deadline for one job.
	HardTimeout Duration `yaml:"hard_timeout,omitempty"`

	// SoftTimeout logs an escalation warning when a job is still running.
	SoftTimeout Duration `yaml:"soft_timeout,omitempty"`
}

// SetDefaults applies default values.
func (c *IngestConfig) SetDefaults() {
	if c.Concurrency == 0 {
		c.Concurrency = 4
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = Duration(5e9) // 5s
	}
	if c.HardTimeout == 0 {
		c.HardTimeout = Duration(600e9) // 10m
	}
	if c.SoftTimeout == 0 {
		c.SoftTimeout = Duration(540e9) // 9m
	}
}

// Validate checks the ingestion configuration.
func (c *IngestConfig) Validate() error {
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be positive")
	}
	if c.HardTimeout <= 0 {
		return fmt.Errorf("hard_timeout must be positive")
	}
	if c.SoftTimeout >= c.HardTimeout {
		return fmt.Errorf("soft_timeout must be shorter than hard_timeout")
	}
	return nil
}
