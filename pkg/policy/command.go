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
	"strings"
)

// blockedSubcommands lists "<base> <args-prefix>" patterns that remain
// denied even when the base command is on the allowlist: safe-looking
// binaries with unsafe subcommands (credential exfiltration, history
// rewriting, unreviewed publishing).
var blockedSubcommands = []func(base string, args []string) bool{
	func(base string, args []string) bool {
		if base != "git" || len(args) == 0 {
			return false
		}
		switch args[0] {
		case "push", "credential":
			return true
		case "remote":
			return len(args) > 1 && (args[1] == "add" || args[1] == "set-url")
		case "config":
			return len(args) > 1 && !strings.HasPrefix(args[1], "--list") && (len(args) > 2 || (args[1] != "user.name" && args[1] != "user.email"))
		case "submodule":
			return len(args) > 1 && args[1] == "add"
		case "-c":
			return true
		case "clone":
			for _, a := range args[1:] {
				if a == "--config" || strings.HasPrefix(a, "--upload-pack") {
					return true
				}
			}
			return false
		case "fetch", "pull":
			for _, a := range args[1:] {
				if strings.HasPrefix(a, "--upload-pack") {
					return true
				}
			}
			return false
		}
		return false
	},
	func(base string, args []string) bool {
		if base != "npm" || len(args) == 0 {
			return false
		}
		switch args[0] {
		case "publish", "login", "token":
			return true
		}
		return false
	},
	func(base string, args []string) bool {
		if base != "cargo" || len(args) == 0 {
			return false
		}
		return args[0] == "publish" || args[0] == "login"
	},
	func(base string, args []string) bool {
		if base != "find" {
			return false
		}
		for i, a := range args {
			if a == "-delete" {
				return true
			}
			if a == "-exec" || a == "-execdir" {
				// The command following -exec/-execdir up to the terminator
				// (';' or '+') must itself be allowlisted; we can't see the
				// allowlist here, so IsCommandAllowed re-checks it via
				// findExecArgsAllowed.
				_ = i
			}
		}
		return false
	},
}

// skipEnvAssignments advances past leading NAME=VALUE assignments
// (e.g. "FOO=bar cmd args") to find the actual command.
func skipEnvAssignments(s string) string {
	rest := s
	for {
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			return rest
		}
		word := fields[0]
		if isEnvAssignment(word) {
			idx := strings.Index(rest, word)
			rest = strings.TrimSpace(rest[idx+len(word):])
			continue
		}
		return rest
	}
}

func isEnvAssignment(word string) bool {
	eq := strings.IndexByte(word, '=')
	if eq <= 0 {
		return false
	}
	c := word[0]
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func baseCommand(segment string) string {
	fields := strings.Fields(segment)
	if len(fields) == 0 {
		return ""
	}
	first := fields[0]
	if idx := strings.LastIndexByte(first, '/'); idx >= 0 {
		first = first[idx+1:]
	}
	return first
}

// splitSegments splits a command string on &&, ||, ;, |, and newlines.
func splitSegments(command string) []string {
	normalized := command
	for _, sep := range []string{"&&", "||"} {
		normalized = strings.ReplaceAll(normalized, sep, "\x00")
	}
	for _, sep := range []string{"\n", ";", "|"} {
		normalized = strings.ReplaceAll(normalized, sep, "\x00")
	}
	parts := strings.Split(normalized, "\x00")
	segments := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			segments = append(segments, p)
		}
	}
	return segments
}

// IsCommandAllowed validates the entire command string against the
// policy's autonomy level, allowlist, and subcommand blocklist.
//
// It rejects unconditionally on subshell/expansion operators and output
// redirection (these can hide arbitrary execution or write outside the
// workspace), then splits on command separators and validates every
// segment's base command against the allowlist, plus the blocklist for
// subcommands that are unsafe even when their binary is allowed.
func (p *Policy) IsCommandAllowed(command string) bool {
	if p.Autonomy == AutonomyReadOnly {
		return false
	}

	if strings.ContainsAny(command, "`") || strings.Contains(command, "$(") ||
		strings.Contains(command, "${") || strings.Contains(command, ">") {
		return false
	}

	segments := splitSegments(command)
	if len(segments) == 0 {
		return false
	}

	for _, segment := range segments {
		cmdPart := skipEnvAssignments(segment)
		base := baseCommand(cmdPart)
		if base == "" {
			continue
		}
		if !p.commandInAllowlist(base) {
			return false
		}

		args := strings.Fields(cmdPart)[1:]
		for _, blocked := range blockedSubcommands {
			if blocked(base, args) {
				return false
			}
		}
		if base == "find" && !p.findExecArgsAllowed(args) {
			return false
		}
	}

	return true
}

func (p *Policy) commandInAllowlist(base string) bool {
	for _, allowed := range p.AllowedCommands {
		if allowed == base {
			return true
		}
	}
	return false
}

// findExecArgsAllowed re-checks the command invoked by -exec/-execdir
// against the allowlist (find . -exec rm -rf {} \; is otherwise
// indistinguishable from a safe "find . -exec grep ...").
func (p *Policy) findExecArgsAllowed(args []string) bool {
	for i, a := range args {
		if a != "-exec" && a != "-execdir" {
			continue
		}
		if i+1 >= len(args) {
			return false
		}
		if !p.commandInAllowlist(baseCommand(args[i+1])) {
			return false
		}
	}
	return true
}
