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
	"strings"
)

// IsPathAllowed checks a path supplied by the model or a tool call before
// any filesystem I/O happens. It rejects NUL bytes, ".." components,
// URL-encoded traversal, and (when WorkspaceOnly) absolute paths; it
// expands a leading "~/" against HOME before comparing against the
// forbidden-path list.
func (p *Policy) IsPathAllowed(path string) bool {
	if strings.ContainsRune(path, 0) {
		return false
	}

	for _, comp := range strings.Split(filepath.ToSlash(path), "/") {
		if comp == ".." {
			return false
		}
	}

	lower := strings.ToLower(path)
	if strings.Contains(lower, "..%2f") || strings.Contains(lower, "%2f..") {
		return false
	}

	expanded := expandHome(path)

	if p.WorkspaceOnly && filepath.IsAbs(expanded) {
		return false
	}

	for _, forbidden := range p.ForbiddenPaths {
		forbiddenExpanded := expandHome(forbidden)
		if pathHasPrefix(expanded, forbiddenExpanded) {
			return false
		}
	}

	return true
}

// IsResolvedPathAllowed is called after filepath.Join(workspace, path) and
// a filesystem-level canonicalization (EvalSymlinks) have been applied.
// It blocks symlink escapes: the canonical target must still sit under
// the canonical workspace root.
func (p *Policy) IsResolvedPathAllowed(resolved string) bool {
	workspaceRoot := p.WorkspaceDir
	if canon, err := filepath.EvalSymlinks(p.WorkspaceDir); err == nil {
		workspaceRoot = canon
	}
	return pathHasPrefix(resolved, workspaceRoot)
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~/"))
}

// pathHasPrefix reports whether child sits under (or equals) parent,
// comparing by path component rather than raw string prefix so that
// "/etc" does not falsely match "/etcetera".
func pathHasPrefix(child, parent string) bool {
	parent = filepath.Clean(parent)
	child = filepath.Clean(child)
	if parent == "." || parent == "" {
		return false
	}
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel == "." || !strings.HasPrefix(rel, "..")
}
