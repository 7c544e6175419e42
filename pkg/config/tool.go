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

import (
	"fmt"
	"time"
)

// ToolType identifies how a configured tool is dispatched.
type ToolType string

const (
	// ToolTypeMCP is a tool discovered from an MCP (Model Context
	// Protocol) server.
	ToolTypeMCP ToolType = "mcp"

	// ToolTypeFunction is a built-in function tool.
	ToolTypeFunction ToolType = "function"

	// ToolTypeCommand is the built-in shell command tool.
	ToolTypeCommand ToolType = "command"
)

// ToolConfig is one entry under the runtime config's tools map. The
// same struct configures all three tool types; which fields apply
// depends on Type.
type ToolConfig struct {
	Type ToolType `yaml:"type,omitempty" json:"type,omitempty"`

	// Enabled defaults to true; Internal tools are registered but never
	// offered to the model.
	Enabled  *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Internal *bool `yaml:"internal,omitempty" json:"internal,omitempty"`

	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// MCP transport settings (type: mcp). URL selects sse or
	// streamable-http; Command/Args/Env select stdio.
	URL       string            `yaml:"url,omitempty" json:"url,omitempty"`
	Transport string            `yaml:"transport,omitempty" json:"transport,omitempty"`
	Command   string            `yaml:"command,omitempty" json:"command,omitempty"`
	Args      []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env       map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	// Filter limits which tool names an MCP server may expose.
	Filter []string `yaml:"filter,omitempty" json:"filter,omitempty"`

	// Timeout is a duration string ("30s") applied to MCP calls and
	// web requests.
	Timeout string `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// TLS settings for MCP servers behind HTTPS.
	CACertificate      string `yaml:"ca_certificate,omitempty" json:"ca_certificate,omitempty"`
	InsecureSkipVerify *bool  `yaml:"insecure_skip_verify,omitempty" json:"insecure_skip_verify,omitempty"`

	// Handler names the built-in implementation (type: function).
	Handler    string         `yaml:"handler,omitempty" json:"handler,omitempty"`
	Parameters map[string]any `yaml:"parameters,omitempty" json:"parameters,omitempty"`

	// Command tool settings (type: command). The allowlist here is the
	// tool's own argument-shape check; the policy plane's command gate
	// runs on top of it at dispatch time.
	AllowedCommands  []string `yaml:"allowed_commands,omitempty" json:"allowed_commands,omitempty"`
	DeniedCommands   []string `yaml:"denied_commands,omitempty" json:"denied_commands,omitempty"`
	WorkingDirectory string   `yaml:"working_directory,omitempty" json:"working_directory,omitempty"`
	MaxExecutionTime string   `yaml:"max_execution_time,omitempty" json:"max_execution_time,omitempty"`
	DenyByDefault    *bool    `yaml:"deny_by_default,omitempty" json:"deny_by_default,omitempty"`
	EnableSandboxing *bool    `yaml:"enable_sandboxing,omitempty" json:"enable_sandboxing,omitempty"`

	// File tool settings (read_file, write_file, search_replace,
	// apply_patch, grep_search).
	MaxFileSize       int64    `yaml:"max_file_size,omitempty" json:"max_file_size,omitempty"`
	MaxResults        int      `yaml:"max_results,omitempty" json:"max_results,omitempty"`
	MaxReplacements   int      `yaml:"max_replacements,omitempty" json:"max_replacements,omitempty"`
	ContextLines      int      `yaml:"context_lines,omitempty" json:"context_lines,omitempty"`
	AllowedExtensions []string `yaml:"allowed_extensions,omitempty" json:"allowed_extensions,omitempty"`
	DeniedExtensions  []string `yaml:"denied_extensions,omitempty" json:"denied_extensions,omitempty"`

	// Web request settings (handler: web_request).
	AllowedDomains  []string `yaml:"allowed_domains,omitempty" json:"allowed_domains,omitempty"`
	DeniedDomains   []string `yaml:"denied_domains,omitempty" json:"denied_domains,omitempty"`
	AllowedMethods  []string `yaml:"allowed_methods,omitempty" json:"allowed_methods,omitempty"`
	MaxRequestSize  int64    `yaml:"max_request_size,omitempty" json:"max_request_size,omitempty"`
	MaxResponseSize int64    `yaml:"max_response_size,omitempty" json:"max_response_size,omitempty"`
	AllowRedirects  *bool    `yaml:"allow_redirects,omitempty" json:"allow_redirects,omitempty"`
	MaxRedirects    int      `yaml:"max_redirects,omitempty" json:"max_redirects,omitempty"`
	UserAgent       string   `yaml:"user_agent,omitempty" json:"user_agent,omitempty"`
	MaxRetries      int      `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`

	// RequireApproval marks the tool as needing an approval grant in
	// the execution context before it may run under supervised
	// autonomy; without one the loop stops with an approval-denied
	// reason.
	RequireApproval *bool  `yaml:"require_approval,omitempty" json:"require_approval,omitempty"`
	ApprovalPrompt  string `yaml:"approval_prompt,omitempty" json:"approval_prompt,omitempty"`
}

// SetDefaults applies default values.
func (c *ToolConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = ToolTypeMCP
	}
	if c.Enabled == nil {
		c.Enabled = BoolPtr(true)
	}

	if c.Type == ToolTypeMCP && c.Transport == "" {
		if c.URL != "" {
			c.Transport = "sse"
		} else if c.Command != "" {
			c.Transport = "stdio"
		}
	}

	// Mutating tools default to requiring approval; read-only tools
	// don't.
	if c.RequireApproval == nil {
		switch c.Type {
		case ToolTypeCommand:
			c.RequireApproval = BoolPtr(true)
		case ToolTypeFunction:
			switch c.Handler {
			case "read_file", "grep_search":
				c.RequireApproval = BoolPtr(false)
			default:
				c.RequireApproval = BoolPtr(true)
			}
		default:
			c.RequireApproval = BoolPtr(false)
		}
	}
}

// Validate checks the tool configuration.
func (c *ToolConfig) Validate() error {
	switch c.Type {
	case ToolTypeMCP, ToolTypeFunction, ToolTypeCommand:
	default:
		return fmt.Errorf("invalid tool type %q (valid: mcp, function, command)", c.Type)
	}

	if c.Type == ToolTypeMCP && c.URL == "" && c.Command == "" {
		return fmt.Errorf("mcp tool requires url or command")
	}
	if c.Type == ToolTypeFunction && c.Handler == "" {
		return fmt.Errorf("function tool requires handler")
	}
	if c.Timeout != "" {
		if _, err := time.ParseDuration(c.Timeout); err != nil {
			return fmt.Errorf("invalid timeout: %w", err)
		}
	}
	if c.MaxExecutionTime != "" {
		if _, err := time.ParseDuration(c.MaxExecutionTime); err != nil {
			return fmt.Errorf("invalid max_execution_time: %w", err)
		}
	}
	return nil
}

// IsEnabled returns whether the tool is enabled.
func (c *ToolConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// NeedsApproval returns whether the tool requires an approval grant.
func (c *ToolConfig) NeedsApproval() bool {
	return c.RequireApproval != nil && *c.RequireApproval
}

// GetDefaultToolConfigs returns the built-in tool set a workspace gets
// when its runtime config declares no tools of its own.
func GetDefaultToolConfigs() map[string]*ToolConfig {
	return map[string]*ToolConfig{
		"execute_command": {
			Type:             ToolTypeCommand,
			Enabled:          BoolPtr(true),
			Description:      "Execute shell commands subject to the command allowlist.",
			WorkingDirectory: "./",
			MaxExecutionTime: "30s",
		},
		"read_file": {
			Type:        ToolTypeFunction,
			Handler:     "read_file",
			Enabled:     BoolPtr(true),
			Description: "Read the contents of a file with optional line numbers and range selection.",
		},
		"write_file": {
			Type:        ToolTypeFunction,
			Handler:     "write_file",
			Enabled:     BoolPtr(true),
			Description: "Create a new file or overwrite an existing file with content.",
		},
		"search_replace": {
			Type:        ToolTypeFunction,
			Handler:     "search_replace",
			Enabled:     BoolPtr(true),
			Description: "Replace exact text in a file. Requires a unique match unless replace_all=true.",
		},
		"apply_patch": {
			Type:        ToolTypeFunction,
			Handler:     "apply_patch",
			Enabled:     BoolPtr(true),
			Description: "Apply a patch to a file by matching surrounding context.",
		},
		"grep_search": {
			Type:        ToolTypeFunction,
			Handler:     "grep_search",
			Enabled:     BoolPtr(true),
			Description: "Search for patterns across files using regex.",
		},
		"web_request": {
			Type:        ToolTypeFunction,
			Handler:     "web_request",
			Enabled:     BoolPtr(true),
			Description: "Make HTTP requests to external APIs or services.",
		},
	}
}

// BoolPtr returns a pointer to v; config structs use *bool wherever
// "unset" and "false" mean different things.
func BoolPtr(v bool) *bool {
	return &v
}

// BoolValue dereferences p, falling back to def when p is nil.
func BoolValue(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
