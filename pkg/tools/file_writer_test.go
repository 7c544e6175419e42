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

func newWriterInDir(t *testing.T, mutate func(*config.FileWriterConfig)) (*FileWriterTool, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.FileWriterConfig{
		MaxFileSize:      1024,
		WorkingDirectory: dir,
	}
	if mutate != nil {
		mutate(cfg)
	}
	return NewFileWriterTool(cfg), dir
}

func TestFileWriter_CreateAndOverwrite(t *testing.T) {
	tool, dir := newWriterInDir(t, func(c *config.FileWriterConfig) {
		c.BackupOnOverwrite = true
	})

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"path":    "notes.txt",
		"content": "first",
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, "created", result.Metadata["action"])

	data, err := os.ReadFile(filepath.Join(dir, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))

	// Overwriting with backup enabled leaves a .bak alongside.
	result, err = tool.Execute(context.Background(), map[string]interface{}{
		"path":    "notes.txt",
		"content": "second",
		"backup":  true,
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, "overwritten", result.Metadata["action"])

	backup, err := os.ReadFile(filepath.Join(dir, "notes.txt.bak"))
	require.NoError(t, err)
	assert.Equal(t, "first", string(backup))
}

func TestFileWriter_CreatesParentDirs(t *testing.T) {
	tool, dir := newWriterInDir(t, nil)

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"path":    "deep/nested/file.txt",
		"content": "x",
	})
	require.NoError(t, err)
	require.True(t, result.Success)

	_, err = os.Stat(filepath.Join(dir, "deep", "nested", "file.txt"))
	assert.NoError(t, err)
}

func TestFileWriter_RejectsTraversalAndAbsolute(t *testing.T) {
	tool, _ := newWriterInDir(t, nil)

	for _, path := range []string{"../escape.txt", "/etc/passwd", "a/../../b.txt"} {
		result, err := tool.Execute(context.Background(), map[string]interface{}{
			"path":    path,
			"content": "x",
		})
		assert.Error(t, err, "path %q", path)
		assert.False(t, result.Success, "path %q", path)
	}
}

func TestFileWriter_SizeLimit(t *testing.T) {
	tool, _ := newWriterInDir(t, func(c *config.FileWriterConfig) {
		c.MaxFileSize = 8
	})

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"path":    "big.txt",
		"content": "this is way past eight bytes",
	})
	assert.Error(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "too large")
}

func TestFileWriter_ExtensionPolicy(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		denied  []string
		path    string
		wantOK  bool
	}{
		{"no lists allows anything", nil, nil, "anything.xyz", true},
		{"allowlist admits listed", []string{".txt"}, nil, "a.txt", true},
		{"allowlist blocks others", []string{".txt"}, nil, "a.sh", false},
		{"denylist blocks listed", nil, []string{".sh"}, "a.sh", false},
		{"denylist wins over allowlist", []string{".sh"}, []string{".sh"}, "a.sh", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool, _ := newWriterInDir(t, func(c *config.FileWriterConfig) {
				c.AllowedExtensions = tt.allowed
				c.DeniedExtensions = tt.denied
			})
			result, err := tool.Execute(context.Background(), map[string]interface{}{
				"path":    tt.path,
				"content": "x",
			})
			if tt.wantOK {
				require.NoError(t, err)
				assert.True(t, result.Success)
			} else {
				assert.Error(t, err)
				assert.False(t, result.Success)
			}
		})
	}
}

func TestFileWriter_MissingArgs(t *testing.T) {
	tool, _ := newWriterInDir(t, nil)

	result, err := tool.Execute(context.Background(), map[string]interface{}{"content": "x"})
	assert.Error(t, err)
	assert.False(t, result.Success)

	result, err = tool.Execute(context.Background(), map[string]interface{}{"path": "a.txt"})
	assert.Error(t, err)
	assert.False(t, result.Success)
}
