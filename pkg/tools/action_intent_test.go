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
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type namedStubTool struct {
	name    string
	content string
}

func (s *namedStubTool) GetInfo() ToolInfo      { return ToolInfo{Name: s.name} }
func (s *namedStubTool) GetName() string        { return s.name }
func (s *namedStubTool) GetDescription() string { return "stub" }
func (s *namedStubTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	return ToolResult{Success: true, Content: s.content, ToolName: s.name}, nil
}

type namedStubSource struct{ tool Tool }

func (s *namedStubSource) GetName() string                         { return "named-stub-source" }
func (s *namedStubSource) GetType() string                         { return "local" }
func (s *namedStubSource) DiscoverTools(ctx context.Context) error { return nil }
func (s *namedStubSource) ListTools() []ToolInfo                   { return []ToolInfo{s.tool.GetInfo()} }
func (s *namedStubSource) GetTool(name string) (Tool, bool) {
	if name == s.tool.GetName() {
		return s.tool, true
	}
	return nil, false
}

func TestGovernedExternalToolCallWritesIntentAndOutcome(t *testing.T) {
	dir := t.TempDir()
	intents, err := NewActionIntentLog(dir)
	require.NoError(t, err)

	reg := NewToolRegistry()
	require.NoError(t, reg.RegisterSource(&namedStubSource{tool: &namedStubTool{name: "web_request", content: "fetched"}}))
	reg.SetActionIntentLog(intents)

	ec := &ExecutionContext{EntityID: "user-1"}
	result, err := reg.ExecuteToolGoverned(context.Background(), "web_request", map[string]interface{}{"url": "https://example.com"}, ec)
	require.NoError(t, err)
	require.True(t, result.Success)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "one intent file per external call")

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2, "intent line plus outcome line")

	var intent, outcome actionIntentRecord
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &intent))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &outcome))

	require.Equal(t, "intent", intent.Phase)
	require.Equal(t, "web_request", intent.Tool)
	require.Equal(t, "user-1", intent.EntityID)
	require.Contains(t, intent.Args, "example.com")

	require.Equal(t, "outcome", outcome.Phase)
	require.Equal(t, intent.IntentID, outcome.IntentID)
	require.NotNil(t, outcome.Success)
	require.True(t, *outcome.Success)
}

func TestGovernedReadOnlyToolCallWritesNoIntent(t *testing.T) {
	dir := t.TempDir()
	intents, err := NewActionIntentLog(dir)
	require.NoError(t, err)

	reg := NewToolRegistry()
	require.NoError(t, reg.RegisterSource(&namedStubSource{tool: &namedStubTool{name: "read_file", content: "data"}}))
	reg.SetActionIntentLog(intents)

	ec := &ExecutionContext{EntityID: "user-1"}
	_, err = reg.ExecuteToolGoverned(context.Background(), "read_file", map[string]interface{}{"path": "a.txt"}, ec)
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries, "reads are audited by the structured log, not the durable intent trail")
}
