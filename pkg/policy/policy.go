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

// Policy is the security policy enforced on every tool execution and
// every memory recall. It is cloned cheaply (by value, the trackers are
// pointers shared across the clone) into every ExecutionContext — see
// pkg/turn.ExecutionContext — so there is no process-wide singleton.
type Policy struct {
	Autonomy                AutonomyLevel
	ExternalActionExecution ExternalActionExecution
	WorkspaceDir            string
	WorkspaceOnly           bool
	AllowedCommands         []string
	ForbiddenPaths          []string
	MaxActionsPerHour       uint32
	MaxCostPerDayCents      uint32

	Tracker     *ActionTracker
	CostTracker *CostTracker
}

// DefaultForbiddenPaths mirrors the original's default denylist: system
// directories blocked even when WorkspaceOnly is false, plus sensitive
// dotfiles under the user's home.
func DefaultForbiddenPaths() []string {
	return []string{
		"/etc", "/root", "/home", "/usr", "/bin", "/sbin", "/lib",
		"/opt", "/boot", "/dev", "/proc", "/sys", "/var", "/tmp",
		"~/.ssh", "~/.gnupg", "~/.aws", "~/.config",
	}
}

// DefaultAllowedCommands mirrors the original's default allowlist.
func DefaultAllowedCommands() []string {
	return []string{
		"git", "npm", "cargo", "ls", "cat", "grep", "find",
		"echo", "pwd", "wc", "head", "tail",
	}
}

// New builds a Policy with the supplied workspace and the package
// defaults for everything else; callers override fields as needed.
func New(workspaceDir string) *Policy {
	return &Policy{
		Autonomy:           AutonomySupervised,
		WorkspaceDir:       workspaceDir,
		WorkspaceOnly:      true,
		AllowedCommands:    DefaultAllowedCommands(),
		ForbiddenPaths:     DefaultForbiddenPaths(),
		MaxActionsPerHour:  20,
		MaxCostPerDayCents: 500,
		Tracker:            NewActionTracker(),
		CostTracker:        NewCostTracker(),
	}
}

// CanAct reports whether the autonomy level permits any mutating action.
func (p *Policy) CanAct() bool {
	return p.Autonomy != AutonomyReadOnly
}

// RecordAction records an action against the sliding window and reports
// whether the hourly limit was respected.
func (p *Policy) RecordAction() bool {
	return p.Tracker.Record() <= int(p.MaxActionsPerHour)
}

// IsRateLimited reports whether the hourly limit is already saturated
// without recording a new action.
func (p *Policy) IsRateLimited() bool {
	return p.Tracker.Count() >= int(p.MaxActionsPerHour)
}

// ConsumeActionAndCost records one action and, if estimatedCostCents is
// nonzero, debits it from today's cost budget. Both checks must pass.
func (p *Policy) ConsumeActionAndCost(estimatedCostCents uint32) error {
	if !p.RecordAction() {
		return ErrActionLimitExceeded
	}
	if !p.CostTracker.Record(estimatedCostCents, p.MaxCostPerDayCents) {
		return ErrCostLimitExceeded
	}
	return nil
}
