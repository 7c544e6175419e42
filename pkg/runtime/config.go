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

// Package runtime builds a turn.Orchestrator and its HTTP gateway from
// a workspace-level configuration file: the LLM provider, the governed
// tool registry, the memory backend, the security policy, and the rate
// limiter. It is the bridge between declarative YAML and a live agent.
package runtime

import (
	"fmt"
	"os"

	"github.com/haru0416-dev/aegis-agent/pkg/config"
	"github.com/haru0416-dev/aegis-agent/pkg/memoryfactory"
	"github.com/haru0416-dev/aegis-agent/pkg/observability"
	"github.com/haru0416-dev/aegis-agent/pkg/policy"
)

// Config is the top-level shape of a workspace's runtime.yaml.
type Config struct {
	// Workspace is the root directory tool file operations and the
	// default memory/action-audit paths are resolved against.
	Workspace string `yaml:"workspace"`

	LLM        config.LLMProviderConfig  `yaml:"llm"`
	ReflectLLM *config.LLMProviderConfig `yaml:"reflect_llm,omitempty"`

	// Backups, when non-empty, wraps LLM in a resilient provider that
	// falls through to each backup in order on a transient failure.
	Backups []config.LLMProviderConfig `yaml:"backups,omitempty"`

	Tools map[string]*config.ToolConfig `yaml:"tools,omitempty"`

	Memory memoryfactory.Config `yaml:"memory"`

	Policy PolicyConfig `yaml:"policy,omitempty"`

	RateLimit config.RateLimitConfig `yaml:"rate_limit,omitempty"`

	Server Server `yaml:"server,omitempty"`

	Logger config.LoggerConfig `yaml:"logger,omitempty"`

	Observability observability.Config `yaml:"observability,omitempty"`

	// PersonaEnabled turns on the post-answer persona reflect call;
	// AutoSaveEnabled turns on writing the user message and assistant
	// response as memory events after each turn.
	PersonaEnabled  bool `yaml:"persona_enabled,omitempty"`
	AutoSaveEnabled bool `yaml:"autosave_enabled,omitempty"`
}

// PolicyConfig is the YAML-facing shape of a policy.Policy; string enums
// are parsed into their typed form by Build.
type PolicyConfig struct {
	Autonomy                string   `yaml:"autonomy,omitempty"` // readonly, supervised, full
	ExternalActionExecution bool     `yaml:"external_action_execution,omitempty"`
	WorkspaceOnly           *bool    `yaml:"workspace_only,omitempty"`
	AllowedCommands         []string `yaml:"allowed_commands,omitempty"`
	ForbiddenPaths          []string `yaml:"forbidden_paths,omitempty"`
	MaxActionsPerHour       uint32   `yaml:"max_actions_per_hour,omitempty"`
	MaxCostPerDayCents      uint32   `yaml:"max_cost_per_day_cents,omitempty"`

	TenantEnabled bool   `yaml:"tenant_enabled,omitempty"`
	TenantID      string `yaml:"tenant_id,omitempty"`
}

// Server configures the HTTP gateway.
type Server struct {
	// Addr is the bind address, e.g. "127.0.0.1:8080".
	Addr string `yaml:"addr,omitempty"`

	// PairingCode is the shared secret /pair matches against; once a
	// client pairs it receives a bearer token for /webhook and /ws.
	PairingCode string `yaml:"pairing_code,omitempty"`

	// TokenSigningKey signs the bearer tokens /pair issues. Required
	// whenever PairingCode is set.
	TokenSigningKey string `yaml:"token_signing_key,omitempty"`

	// WebhookSecret, when set, is checked against the X-Webhook-Secret
	// header on /webhook in addition to the bearer token.
	WebhookSecret string `yaml:"webhook_secret,omitempty"`

	// WhatsAppAppSecret, when set, requires a verified
	// X-Hub-Signature-256 HMAC on inbound /whatsapp POSTs.
	WhatsAppAppSecret   string `yaml:"whatsapp_app_secret,omitempty"`
	WhatsAppVerifyToken string `yaml:"whatsapp_verify_token,omitempty"`

	// TunnelConfigured records that a reverse tunnel (ngrok, cloudflared,
	// etc.) fronts this process, which satisfies the public-bind check
	// without the operator setting AllowPublicBind.
	TunnelConfigured bool `yaml:"tunnel_configured,omitempty"`
	AllowPublicBind  bool `yaml:"allow_public_bind,omitempty"`

	// MetricsAddr, when set, serves Prometheus metrics on its own
	// listener rather than the main gateway's routes.
	MetricsAddr string `yaml:"metrics_addr,omitempty"`

	// Auth, when enabled, requires a JWKS-verified bearer token on the
	// OpenAI-compatible completions endpoint; the token's tenant_id
	// claim scopes that request's memory access.
	Auth *config.AuthConfig `yaml:"auth,omitempty"`
}

// SetDefaults fills zero-valued fields the same way config.LLMProviderConfig
// and memoryfactory.Config's own zero values already behave: empty
// Workspace defaults to the current directory, and the memory backend's
// paths are anchored under Workspace/memory when left blank.
func (c *Config) SetDefaults() {
	if c.Workspace == "" {
		if wd, err := os.Getwd(); err == nil {
			c.Workspace = wd
		} else {
			c.Workspace = "."
		}
	}

	c.LLM.SetDefaults()
	if c.ReflectLLM != nil {
		c.ReflectLLM.SetDefaults()
	}

	if len(c.Tools) == 0 {
		c.Tools = config.GetDefaultToolConfigs()
	}
	for _, tc := range c.Tools {
		if tc != nil {
			tc.SetDefaults()
		}
	}

	if c.Memory.Backend == "" {
		c.Memory.Backend = "sql"
	}
	if c.Memory.Backend == "sql" {
		if c.Memory.Database == nil {
			c.Memory.Database = &config.DatabaseConfig{Driver: "sqlite"}
		}
		if c.Memory.Database.Driver == "" {
			c.Memory.Database.Driver = "sqlite"
		}
		if c.Memory.Database.Dialect() == "sqlite" && c.Memory.Database.Database == "" {
			c.Memory.Database.Database = c.Workspace + "/memory/brain.db"
		}
		c.Memory.Database.SetDefaults()
	}
	if c.Memory.Backend == "columnar" && c.Memory.PersistPath == "" {
		c.Memory.PersistPath = c.Workspace + "/memory/lancedb"
	}

	c.RateLimit.SetDefaults()

	if c.Policy.Autonomy == "" {
		c.Policy.Autonomy = "supervised"
	}
	if c.Policy.MaxActionsPerHour == 0 {
		c.Policy.MaxActionsPerHour = 20
	}
	if c.Policy.MaxCostPerDayCents == 0 {
		c.Policy.MaxCostPerDayCents = 500
	}

	c.Logger.SetDefaults()
	c.Observability.SetDefaults()
	if c.Server.Auth != nil {
		c.Server.Auth.SetDefaults()
	}

	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8080"
	}
}

// Validate reports configuration that SetDefaults cannot safely repair.
func (c *Config) Validate() error {
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	if c.ReflectLLM != nil {
		if err := c.ReflectLLM.Validate(); err != nil {
			return fmt.Errorf("reflect_llm: %w", err)
		}
	}
	switch c.Policy.Autonomy {
	case "readonly", "supervised", "full":
	default:
		return fmt.Errorf("policy.autonomy: unknown level %q", c.Policy.Autonomy)
	}
	if c.Memory.Backend == "sql" {
		if err := c.Memory.Database.Validate(); err != nil {
			return fmt.Errorf("memory.database: %w", err)
		}
	}
	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("rate_limit: %w", err)
	}
	for name, tc := range c.Tools {
		if tc == nil {
			continue
		}
		if err := tc.Validate(); err != nil {
			return fmt.Errorf("tools.%s: %w", name, err)
		}
	}
	if c.Policy.TenantEnabled && c.Policy.TenantID == "" {
		return fmt.Errorf("policy.tenant_id is required when tenant_enabled is true")
	}
	if c.Server.PairingCode != "" && c.Server.TokenSigningKey == "" {
		return fmt.Errorf("server.token_signing_key is required when server.pairing_code is set")
	}
	if c.Server.Auth != nil {
		if err := c.Server.Auth.Validate(); err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}
	return nil
}

// autonomyFromString parses the YAML-facing autonomy string; Validate
// has already rejected anything else by the time Build calls this.
func autonomyFromString(s string) policy.AutonomyLevel {
	switch s {
	case "readonly":
		return policy.AutonomyReadOnly
	case "full":
		return policy.AutonomyFull
	default:
		return policy.AutonomySupervised
	}
}
