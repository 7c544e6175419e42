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

package tools

import (
	"context"
	"net/http"
	"time"

	"github.com/haru0416-dev/aegis-agent/pkg/config"
	"github.com/haru0416-dev/aegis-agent/pkg/httpclient"
)

// Test-friendly constructors: tools with small limits and no backups,
// so package tests don't need full configuration.

// NewCommandToolForTesting creates a command tool with test-friendly defaults.
func NewCommandToolForTesting() *CommandTool {
	return NewCommandTool(&config.CommandToolsConfig{
		AllowedCommands:  []string{"echo", "pwd", "ls", "cat", "head", "tail"},
		MaxExecutionTime: 1 * time.Second,
		EnableSandboxing: config.BoolPtr(false),
		WorkingDirectory: "./",
	})
}

// NewCommandToolForTestingWithCommands creates a command tool with a custom allowlist.
func NewCommandToolForTestingWithCommands(allowedCommands []string) *CommandTool {
	return NewCommandTool(&config.CommandToolsConfig{
		AllowedCommands:  allowedCommands,
		MaxExecutionTime: 1 * time.Second,
		EnableSandboxing: config.BoolPtr(true),
		WorkingDirectory: "./",
	})
}

// NewFileWriterToolForTesting creates a file writer tool with test-friendly defaults.
func NewFileWriterToolForTesting() *FileWriterTool {
	return NewFileWriterTool(&config.FileWriterConfig{
		MaxFileSize:       1024,
		AllowedExtensions: []string{".txt", ".md", ".go", ".json"},
		BackupOnOverwrite: false,
		WorkingDirectory:  "./test-temp",
	})
}

// NewSearchReplaceToolForTesting creates a search/replace tool with test-friendly defaults.
func NewSearchReplaceToolForTesting() *SearchReplaceTool {
	return NewSearchReplaceTool(&config.SearchReplaceConfig{
		MaxReplacements:  10,
		ShowDiff:         config.BoolPtr(true),
		CreateBackup:     config.BoolPtr(false),
		WorkingDirectory: "./test-temp",
	})
}

// NewMCPToolSourceForTesting creates an MCP tool source with short
// timeouts pointed at a test URL.
func NewMCPToolSourceForTesting(name, url string) *MCPToolSource {
	return &MCPToolSource{
		name:        name,
		url:         url,
		description: "Test MCP source",
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{
				Timeout: 1 * time.Second,
			}),
			httpclient.WithMaxRetries(1),
		),
		tools: make(map[string]Tool),
	}
}

// StubTool is a minimal Tool implementation for registry and source
// tests that only need registration semantics, not real behavior.
type StubTool struct {
	name string
}

// NewStubToolForTesting returns a StubTool with the given name.
func NewStubToolForTesting(name string) *StubTool {
	return &StubTool{name: name}
}

func (s *StubTool) GetName() string        { return s.name }
func (s *StubTool) GetDescription() string { return "stub tool for tests" }

func (s *StubTool) GetInfo() ToolInfo {
	return ToolInfo{Name: s.name, Description: s.GetDescription()}
}

func (s *StubTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	return ToolResult{Success: true, Content: "ok", ToolName: s.name}, nil
}

// TestToolSource is a simple tool source for testing.
type TestToolSource struct {
	name  string
	tools map[string]Tool
}

func NewTestToolSource(name string) *TestToolSource {
	return &TestToolSource{
		name:  name,
		tools: make(map[string]Tool),
	}
}

func (t *TestToolSource) GetName() string { return t.name }
func (t *TestToolSource) GetType() string { return "test" }

func (t *TestToolSource) DiscoverTools(ctx context.Context) error { return nil }

func (t *TestToolSource) ListTools() []ToolInfo {
	tools := make([]ToolInfo, 0, len(t.tools))
	for _, tool := range t.tools {
		tools = append(tools, tool.GetInfo())
	}
	return tools
}

func (t *TestToolSource) GetTool(name string) (Tool, bool) {
	tool, exists := t.tools[name]
	return tool, exists
}

func (t *TestToolSource) RegisterTool(tool Tool) {
	t.tools[tool.GetName()] = tool
}
