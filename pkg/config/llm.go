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

// LLMProvider identifies the chat model provider type. All providers speak
// the OpenAI chat completions protocol; the provider mainly selects the
// default endpoint and API key variable.
type LLMProvider string

const (
	LLMProviderOpenAI   LLMProvider = "openai"
	LLMProviderDeepSeek LLMProvider = "deepseek"
)

// LLMConfig configures a chat model.
type LLMConfig struct {
	// Provider type (openai, deepseek).
	Provider LLMProvider `yaml:"provider,omitempty"`

	// Model name (e.g. "gpt-4o", "deepseek-chat").
	Model string `yaml:"model,omitempty"`

	// APIKey for authentication. Supports ${VAR} expansion.
	APIKey string `yaml:"api_key,omitempty"`

	// BaseURL overrides the default API endpoint. Self-hosted gateways
	// point this at their /v1 root.
	BaseURL string `yaml:"base_url,omitempty"`

	// Temperature for generation.
	Temperature *float64 `yaml:"temperature,omitempty"`

	// MaxTokens limits response length.
	MaxTokens int `yaml:"max_tokens,omitempty"`

	// Timeout bounds a single completion request.
	Timeout Duration `yaml:"timeout,omitempty"`
}

// SetDefaults applies default values.
func (c *LLMConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = detectLLMProviderFromEnv()
	}

	if c.Model == "" {
		switch c.Provider {
		case LLMProviderDeepSeek:
			c.Model = "deepseek-chat"
		default:
			c.Model = "gpt-4o"
		}
	}

	if c.BaseURL == "" {
		switch c.Provider {
		case LLMProviderDeepSeek:
			c.BaseURL = "https://api.deepseek.com/v1"
		default:
			c.BaseURL = "https://api.openai.com/v1"
		}
	}

	if c.APIKey == "" {
		c.APIKey = llmAPIKeyFromEnv(c.Provider)
	}

	if c.Temperature == nil {
		temp := 0.7
		c.Temperature = &temp
	}

	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}

	if c.Timeout == 0 {
		c.Timeout = Duration(120e9) // 120s
	}
}

// Validate checks the LLM configuration.
func (c *LLMConfig) Validate() error {
	switch c.Provider {
	case LLMProviderOpenAI, LLMProviderDeepSeek:
	default:
		return fmt.Errorf("invalid provider %q (valid: openai, deepseek)", c.Provider)
	}

	if c.Model == "" {
		return fmt.Errorf("model is required")
	}

	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2")
	}

	return nil
}

func detectLLMProviderFromEnv() LLMProvider {
	if os.Getenv("DEEPSEEK_API_KEY") != "" {
		return LLMProviderDeepSeek
	}
	return LLMProviderOpenAI
}

func llmAPIKeyFromEnv(provider LLMProvider) string {
	switch provider {
	case LLMProviderDeepSeek:
		return os.Getenv("DEEPSEEK_API_KEY")
	case LLMProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	default:
		return ""
	}
}
