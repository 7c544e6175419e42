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

package policy

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPathAllowlistBasics(t *testing.T) {
	dir := t.TempDir()
	p := New(dir)
	if !p.IsPathAllowed("src/main.go") {
		t.Error("relative path inside workspace should be allowed")
	}
	if p.IsPathAllowed("../../etc/passwd") {
		t.Error("parent traversal should be denied")
	}
	if p.IsPathAllowed("file\x00.txt") {
		t.Error("NUL byte should be denied")
	}
	if p.IsPathAllowed("..%2f..%2fetc/passwd") {
		t.Error("URL-encoded traversal should be denied")
	}
}

func TestPathWorkspaceOnlyBlocksAbsolute(t *testing.T) {
	dir := t.TempDir()
	p := New(dir)
	p.WorkspaceOnly = true
	if p.IsPathAllowed("/tmp/file.txt") {
		t.Error("absolute path should be denied under workspace_only")
	}

	p.WorkspaceOnly = false
	p.ForbiddenPaths = []string{"/etc"}
	if !p.IsPathAllowed("/my/project/data.txt") {
		t.Error("absolute path outside forbidden list should be allowed when workspace_only is off")
	}
}

func TestPathForbiddenIsComponentAware(t *testing.T) {
	p := New(".")
	p.WorkspaceOnly = false
	p.ForbiddenPaths = []string{"/etc"}
	if !p.IsPathAllowed("/etcetera/file.txt") {
		t.Error("component-aware match must not treat /etcetera as under /etc")
	}
	if p.IsPathAllowed("/etc/shadow") {
		t.Error("/etc/shadow must be denied")
	}
}

func TestResolvedPathBlocksSymlinkEscape(t *testing.T) {
	workspace := t.TempDir()
	outside := t.TempDir()

	outsideFile := filepath.Join(outside, "secret.txt")
	if err := os.WriteFile(outsideFile, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(workspace, "link")
	if err := os.Symlink(outside, link); err != nil {
		t.Skip("symlinks unsupported in this environment")
	}

	p := New(workspace)
	resolved, err := filepath.EvalSymlinks(filepath.Join(link, "secret.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if p.IsResolvedPathAllowed(resolved) {
		t.Error("symlink escape must be denied after canonicalization")
	}

	inside := filepath.Join(workspace, "main.go")
	if err := os.WriteFile(inside, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	resolvedInside, err := filepath.EvalSymlinks(inside)
	if err != nil {
		t.Fatal(err)
	}
	if !p.IsResolvedPathAllowed(resolvedInside) {
		t.Error("resolved path inside workspace must be allowed")
	}
}
