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
	"os"
	"path/filepath"
	"testing"

	"github.com/haru0416-dev/aegis-agent/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadFileTool(t *testing.T) {
	dir := t.TempDir()
	content := "line 1\nline 2\nline 3\nline 4\nline 5"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test.txt"), []byte(content), 0o644))

	cfg := &config.ReadFileConfig{
		MaxFileSize:      1024,
		WorkingDirectory: dir,
		ShowLineNumbers:  config.BoolPtr(true),
	}
	tool := NewReadFileTool(cfg)

	t.Run("read entire file", func(t *testing.T) {
		result, err := tool.Execute(context.Background(), map[string]interface{}{
			"path": "test.txt",
		})
		require.NoError(t, err)
		require.True(t, result.Success)
		assert.Contains(t, result.Content, "line 1")
		assert.Contains(t, result.Content, "line 5")
	})

	t.Run("read line range", func(t *testing.T) {
		result, err := tool.Execute(context.Background(), map[string]interface{}{
			"path":       "test.txt",
			"start_line": float64(2),
			"end_line":   float64(3),
		})
		require.NoError(t, err)
		require.True(t, result.Success)
		assert.Contains(t, result.Content, "line 2")
		assert.Contains(t, result.Content, "line 3")
		assert.NotContains(t, result.Content, "line 5")
	})

	t.Run("missing file", func(t *testing.T) {
		result, err := tool.Execute(context.Background(), map[string]interface{}{
			"path": "absent.txt",
		})
		assert.Error(t, err)
		assert.False(t, result.Success)
	})

	t.Run("file too large", func(t *testing.T) {
		small := NewReadFileTool(&config.ReadFileConfig{
			MaxFileSize:      4,
			WorkingDirectory: dir,
		})
		result, err := small.Execute(context.Background(), map[string]interface{}{
			"path": "test.txt",
		})
		assert.Error(t, err)
		assert.False(t, result.Success)
	})
}

func TestApplyPatchTool(t *testing.T) {
	dir := t.TempDir()
	source := "package main\n\nfunc main() {\n\tprintln(\"old\")\n}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte(source), 0o644))

	tool := NewApplyPatchTool(&config.ApplyPatchConfig{
		MaxFileSize:      1024,
		CreateBackup:     config.BoolPtr(false),
		ContextLines:     3,
		WorkingDirectory: dir,
	})

	t.Run("apply patch", func(t *testing.T) {
		result, err := tool.Execute(context.Background(), map[string]interface{}{
			"path":       "main.go",
			"old_string": "println(\"old\")",
			"new_string": "println(\"new\")",
		})
		require.NoError(t, err)
		require.True(t, result.Success)

		data, _ := os.ReadFile(filepath.Join(dir, "main.go"))
		assert.Contains(t, string(data), "new")
		assert.NotContains(t, string(data), "\"old\"")
	})

	t.Run("old string absent", func(t *testing.T) {
		result, err := tool.Execute(context.Background(), map[string]interface{}{
			"path":       "main.go",
			"old_string": "not in the file",
			"new_string": "x",
		})
		assert.Error(t, err)
		assert.False(t, result.Success)
	})
}

func TestGrepSearchTool(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("alpha match here\nno hit\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("second match line\n"), 0o644))

	tool := NewGrepSearchTool(&config.GrepSearchConfig{
		MaxResults:       100,
		MaxFileSize:      1024,
		WorkingDirectory: dir,
		ContextLines:     0,
	})

	t.Run("pattern hits across files", func(t *testing.T) {
		result, err := tool.Execute(context.Background(), map[string]interface{}{
			"pattern": "match",
		})
		require.NoError(t, err)
		require.True(t, result.Success)
		assert.Contains(t, result.Content, "a.txt")
		assert.Contains(t, result.Content, "b.txt")
	})

	t.Run("no hits", func(t *testing.T) {
		result, err := tool.Execute(context.Background(), map[string]interface{}{
			"pattern": "zzz-absent",
		})
		require.NoError(t, err)
		require.True(t, result.Success)
	})

	t.Run("invalid regex", func(t *testing.T) {
		result, err := tool.Execute(context.Background(), map[string]interface{}{
			"pattern": "([unclosed",
		})
		assert.Error(t, err)
		assert.False(t, result.Success)
	})

	t.Run("missing pattern", func(t *testing.T) {
		result, err := tool.Execute(context.Background(), map[string]interface{}{})
		assert.Error(t, err)
		assert.False(t, result.Success)
	})
}
