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

// Per-tool configuration structs. Tool constructors in pkg/tools accept
// these directly; NewXToolWithConfig maps the generic ToolConfig entry
// onto them.

// CommandToolsConfig configures the shell command tool.
type CommandToolsConfig struct {
	AllowedCommands  []string      `yaml:"allowed_commands"`
	WorkingDirectory string        `yaml:"working_directory"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time"`

	// EnableSandboxing requires a non-empty allowlist; with it enabled
	// and no allowlist configured, every command is rejected.
	EnableSandboxing *bool `yaml:"enable_sandboxing"`
}

// Validate checks the command tool configuration.
func (c *CommandToolsConfig) Validate() error {
	if len(c.AllowedCommands) == 0 {
		return fmt.Errorf("at least one allowed command is required")
	}
	return nil
}

// SetDefaults applies a conservative read-mostly allowlist.
func (c *CommandToolsConfig) SetDefaults() {
	if len(c.AllowedCommands) == 0 {
		c.AllowedCommands = []string{
			"cat", "head", "tail", "ls", "find", "grep", "wc", "pwd",
			"git", "npm", "go", "curl", "wget", "echo", "date",
		}
	}
	if c.WorkingDirectory == "" {
		c.WorkingDirectory = "./"
	}
	if c.MaxExecutionTime == 0 {
		c.MaxExecutionTime = 30 * time.Second
	}
	if c.EnableSandboxing == nil {
		c.EnableSandboxing = BoolPtr(true)
	}
}

// ReadFileConfig configures the read_file tool.
type ReadFileConfig struct {
	MaxFileSize      int    `yaml:"max_file_size"`
	WorkingDirectory string `yaml:"working_directory"`
	ShowLineNumbers  *bool  `yaml:"show_line_numbers"`
}

// SetDefaults applies default values.
func (c *ReadFileConfig) SetDefaults() {
	if c.MaxFileSize == 0 {
		c.MaxFileSize = 10485760 // 10MB
	}
	if c.WorkingDirectory == "" {
		c.WorkingDirectory = "./"
	}
	if c.ShowLineNumbers == nil {
		c.ShowLineNumbers = BoolPtr(true)
	}
}

// FileWriterConfig configures the write_file tool.
type FileWriterConfig struct {
	MaxFileSize int `yaml:"max_file_size"`

	// Empty AllowedExtensions means any extension may be written;
	// DeniedExtensions always wins over the allowlist.
	AllowedExtensions []string `yaml:"allowed_extensions"`
	DeniedExtensions  []string `yaml:"denied_extensions"`

	BackupOnOverwrite bool   `yaml:"backup_on_overwrite"`
	WorkingDirectory  string `yaml:"working_directory"`
}

// Validate checks the file writer configuration.
func (c *FileWriterConfig) Validate() error {
	if c.MaxFileSize < 0 {
		return fmt.Errorf("max_file_size must be non-negative")
	}
	return nil
}

// SetDefaults applies default values.
func (c *FileWriterConfig) SetDefaults() {
	if c.MaxFileSize == 0 {
		c.MaxFileSize = 1048576 // 1MB
	}
	if c.WorkingDirectory == "" {
		c.WorkingDirectory = "./"
	}
}

// SearchReplaceConfig configures the search_replace tool.
type SearchReplaceConfig struct {
	MaxReplacements  int    `yaml:"max_replacements"`
	ShowDiff         *bool  `yaml:"show_diff"`
	CreateBackup     *bool  `yaml:"create_backup"`
	WorkingDirectory string `yaml:"working_directory"`
}

// Validate checks the search/replace configuration.
func (c *SearchReplaceConfig) Validate() error {
	if c.MaxReplacements < 0 {
		return fmt.Errorf("max_replacements must be non-negative")
	}
	return nil
}

// SetDefaults applies default values.
func (c *SearchReplaceConfig) SetDefaults() {
	if c.MaxReplacements == 0 {
		c.MaxReplacements = 100
	}
	if c.ShowDiff == nil {
		c.ShowDiff = BoolPtr(true)
	}
	if c.CreateBackup == nil {
		c.CreateBackup = BoolPtr(true)
	}
	if c.WorkingDirectory == "" {
		c.WorkingDirectory = "./"
	}
}

// ApplyPatchConfig configures the apply_patch tool.
type ApplyPatchConfig struct {
	MaxFileSize      int    `yaml:"max_file_size"`
	CreateBackup     *bool  `yaml:"create_backup"`
	ContextLines     int    `yaml:"context_lines"`
	WorkingDirectory string `yaml:"working_directory"`
}

// SetDefaults applies default values.
func (c *ApplyPatchConfig) SetDefaults() {
	if c.MaxFileSize == 0 {
		c.MaxFileSize = 10485760 // 10MB
	}
	if c.CreateBackup == nil {
		c.CreateBackup = BoolPtr(true)
	}
	if c.ContextLines == 0 {
		c.ContextLines = 3
	}
	if c.WorkingDirectory == "" {
		c.WorkingDirectory = "./"
	}
}

// GrepSearchConfig configures the grep_search tool.
type GrepSearchConfig struct {
	MaxResults       int    `yaml:"max_results"`
	MaxFileSize      int    `yaml:"max_file_size"`
	WorkingDirectory string `yaml:"working_directory"`
	ContextLines     int    `yaml:"context_lines"`
}

// SetDefaults applies default values.
func (c *GrepSearchConfig) SetDefaults() {
	if c.MaxResults == 0 {
		c.MaxResults = 1000
	}
	if c.MaxFileSize == 0 {
		c.MaxFileSize = 10485760 // 10MB
	}
	if c.WorkingDirectory == "" {
		c.WorkingDirectory = "./"
	}
}
