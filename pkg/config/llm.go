// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import "fmt"

// LLMProviderConfig configures one chat-completion provider endpoint:
// the primary answer model, the optional reflect model, or a backup in
// the resilient fallback chain.
type LLMProviderConfig struct {
	// Type selects the wire adapter: "anthropic", or "openai" for any
	// OpenAI-compatible endpoint (the hosted API, vLLM, Ollama's
	// compatibility server, and the like — Host points at it).
	Type string `yaml:"type"`

	Model  string `yaml:"model"`
	APIKey string `yaml:"api_key"`

	// Host is the API base URL. Defaults per Type when empty.
	Host string `yaml:"host"`

	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`

	// Timeout is the per-request timeout in seconds.
	Timeout int `yaml:"timeout"`

	// MaxRetries and RetryDelay shape the exponential backoff the HTTP
	// client applies to 429 and 503 responses. RetryDelay is the base
	// delay in seconds; attempt n waits 2^n * RetryDelay plus up to 10%
	// jitter, capped at 60s, unless the response carries a Retry-After
	// or reset header. Other retryable statuses (408, 500, 502, 504) get
	// at most two retries at fixed 2s and 3s delays.
	MaxRetries int `yaml:"max_retries"`
	RetryDelay int `yaml:"retry_delay"`

	// TLS settings for an HTTPS endpoint behind a private CA or a
	// self-signed certificate. Only the openai adapter reads them.
	CACertificate      string `yaml:"ca_certificate,omitempty"`
	InsecureSkipVerify *bool  `yaml:"insecure_skip_verify,omitempty"`
}

// SetDefaults fills zero-valued fields. The API key falls back to the
// provider's conventional environment variable so a runtime.yaml never
// has to carry the secret inline.
func (c *LLMProviderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "openai"
	}
	if c.Model == "" {
		switch c.Type {
		case "anthropic":
			c.Model = "claude-3-7-sonnet-latest"
		default:
			c.Model = "gpt-4o"
		}
	}
	if c.Host == "" {
		switch c.Type {
		case "anthropic":
			c.Host = "https://api.anthropic.com"
		default:
			c.Host = "https://api.openai.com/v1"
		}
	}
	if c.Temperature == 0 {
		c.Temperature = 0.7
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 8000
	}
	if c.Timeout == 0 {
		c.Timeout = 60
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 5
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 2
	}
	if c.APIKey == "" {
		c.APIKey = GetProviderAPIKey(c.Type)
	}
}

// Validate checks the provider configuration after SetDefaults.
func (c *LLMProviderConfig) Validate() error {
	switch c.Type {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("unknown llm provider type %q (valid: anthropic, openai)", c.Type)
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must be non-negative")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("retry_delay must be non-negative")
	}
	return nil
}
