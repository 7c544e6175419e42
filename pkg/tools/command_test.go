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
	"strings"
	"testing"

	"github.com/haru0416-dev/aegis-agent/pkg/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandTool_ExecuteAllowed(t *testing.T) {
	tool := NewCommandToolForTestingWithCommands([]string{"echo"})

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"command": "echo hello",
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Contains(t, result.Content, "hello")
}

func TestCommandTool_RejectsUnlistedCommand(t *testing.T) {
	tool := NewCommandToolForTestingWithCommands([]string{"echo"})

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"command": "rm -rf /",
	})
	assert.Error(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "not allowed")
}

func TestCommandTool_BaseCommandExtraction(t *testing.T) {
	tool := NewCommandToolForTesting()

	tests := []struct {
		command string
		want    string
	}{
		{"echo hello", "echo"},
		{"  ls -la  ", "ls"},
		{"cat file | grep x", "cat"},
		{"echo a > out.txt", "echo"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tool.extractBaseCommand(tt.command), "command %q", tt.command)
	}
}

func TestCommandTool_MissingCommandArg(t *testing.T) {
	tool := NewCommandToolForTesting()

	result, err := tool.Execute(context.Background(), map[string]interface{}{})
	assert.Error(t, err)
	assert.False(t, result.Success)
}

func TestCommandTool_PolicyGateWins(t *testing.T) {
	// With a policy attached, the policy's full command gate replaces
	// the tool's own allowlist: subshell syntax is rejected even for an
	// allowlisted base command.
	pol := policy.New(t.TempDir())
	pol.AllowedCommands = []string{"echo"}

	tool := NewCommandToolForTestingWithCommands([]string{"echo"}).WithPolicy(pol)

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"command": "echo `whoami`",
	})
	assert.Error(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "rejected by policy")

	// A plain allowlisted command still passes through the policy gate.
	result, err = tool.Execute(context.Background(), map[string]interface{}{
		"command": "echo ok",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, strings.Contains(result.Content, "ok"))
}

func TestCommandTool_Timeout(t *testing.T) {
	tool := NewCommandToolForTestingWithCommands([]string{"sleep"})

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"command": "sleep 5",
	})
	// The 1s test timeout kills the subprocess.
	assert.Error(t, err)
	assert.False(t, result.Success)
}
