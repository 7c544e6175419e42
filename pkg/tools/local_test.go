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
	"testing"

	"github.com/haru0416-dev/aegis-agent/pkg/config"
)

func TestNewLocalToolSource(t *testing.T) {
	source := NewLocalToolSource("test-source")
	if source.GetName() != "test-source" {
		t.Errorf("GetName() = %v, want 'test-source'", source.GetName())
	}
	if source.GetType() != "local" {
		t.Errorf("GetType() = %v, want 'local'", source.GetType())
	}

	// Empty name defaults to "local".
	if got := NewLocalToolSource("").GetName(); got != "local" {
		t.Errorf("GetName() = %v, want 'local'", got)
	}
}

func TestLocalToolSource_RegisterTool(t *testing.T) {
	source := NewLocalToolSource("test-source")

	tool := NewStubToolForTesting("note_write")
	if err := source.RegisterTool(tool); err != nil {
		t.Fatalf("RegisterTool() error = %v", err)
	}

	registeredTool, exists := source.GetTool("note_write")
	if !exists {
		t.Error("Expected tool to be registered")
	}
	if registeredTool != Tool(tool) {
		t.Error("Expected registered tool to match")
	}

	if err := source.RegisterTool(NewCommandToolForTesting()); err != nil {
		t.Fatalf("RegisterTool() error = %v", err)
	}
	if tools := source.ListTools(); len(tools) != 2 {
		t.Errorf("Expected 2 tools, got %d", len(tools))
	}

	// Duplicate registration fails.
	if err := source.RegisterTool(tool); err == nil {
		t.Error("Expected error when registering duplicate tool")
	}
}

func TestLocalToolSource_RemoveTool(t *testing.T) {
	source := NewLocalToolSource("test-source")

	if err := source.RegisterTool(NewStubToolForTesting("note_write")); err != nil {
		t.Fatalf("RegisterTool() error = %v", err)
	}
	if err := source.RemoveTool("note_write"); err != nil {
		t.Fatalf("RemoveTool() error = %v", err)
	}
	if _, exists := source.GetTool("note_write"); exists {
		t.Error("Expected tool to be removed")
	}

	if err := source.RemoveTool("missing"); err == nil {
		t.Error("Expected error removing unknown tool")
	}
}

func TestNewLocalToolSourceWithConfig(t *testing.T) {
	toolConfigs := map[string]*config.ToolConfig{
		"execute_command": {
			Type:             config.ToolTypeCommand,
			Enabled:          config.BoolPtr(true),
			AllowedCommands:  []string{"echo", "ls"},
			WorkingDirectory: "./",
		},
		"read_file": {
			Type:    config.ToolTypeFunction,
			Handler: "read_file",
			Enabled: config.BoolPtr(true),
		},
		"grep_search": {
			Type:    config.ToolTypeFunction,
			Handler: "grep_search",
			Enabled: config.BoolPtr(true),
		},
		"disabled_tool": {
			Type:    config.ToolTypeFunction,
			Handler: "apply_patch",
			Enabled: config.BoolPtr(false),
		},
		"mcp_tool": {
			Type: config.ToolTypeMCP,
			URL:  "https://mcp.example.com",
		},
	}

	source, err := NewLocalToolSourceWithConfig(toolConfigs)
	if err != nil {
		t.Fatalf("NewLocalToolSourceWithConfig() error = %v", err)
	}

	names := make(map[string]bool)
	for _, info := range source.ListTools() {
		names[info.Name] = true
	}

	if !names["execute_command"] {
		t.Error("Expected execute_command tool to be registered")
	}
	if !names["read_file"] {
		t.Error("Expected read_file tool to be registered")
	}
	if !names["grep_search"] {
		t.Error("Expected grep_search tool to be registered")
	}
	// Disabled tools and MCP entries are skipped here; MCP sources are
	// discovered by the registry, not the local source.
	if len(names) != 3 {
		t.Errorf("Expected 3 tools, got %d: %v", len(names), names)
	}
}

func TestLocalToolSource_UnknownHandlerSkipped(t *testing.T) {
	source, err := NewLocalToolSourceWithConfig(map[string]*config.ToolConfig{
		"widget": {
			Type:    config.ToolTypeFunction,
			Handler: "widget_spin",
			Enabled: config.BoolPtr(true),
		},
	})
	if err != nil {
		t.Fatalf("NewLocalToolSourceWithConfig() error = %v", err)
	}
	if tools := source.ListTools(); len(tools) != 0 {
		t.Errorf("Expected unknown handler to be skipped, got %d tools", len(tools))
	}
}
