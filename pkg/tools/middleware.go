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
	"fmt"
	"log/slog"
	"time"

	"github.com/haru0416-dev/aegis-agent/pkg/policy"
	"github.com/haru0416-dev/aegis-agent/pkg/ratelimit"
	"github.com/haru0416-dev/aegis-agent/pkg/sanitize"
)

// ExecutionContext carries the per-call security, entity, and tenant
// state the middleware chain enforces against, independent of the
// tool's own args map.
type ExecutionContext struct {
	EntityID       string
	Policy         *policy.Policy
	RateLimiter    ratelimit.RateLimiter
	AllowedTools   []string // nil/empty means no per-entity restriction
	ProtectedPaths []string // bootstrap files no tool may write to, regardless of policy
}

func (ec *ExecutionContext) toolAllowed(name string) bool {
	if len(ec.AllowedTools) == 0 {
		return true
	}
	for _, t := range ec.AllowedTools {
		if t == name {
			return true
		}
	}
	return false
}

const (
	maxOutputBytes = 256 * 1024
	maxOutputLines = 4000
)

// ExecuteToolGoverned runs a tool through the six-stage middleware
// chain: security gate, rate limit, audit, output-size cap,
// external-content sanitizer, secret scrubber. Any stage may block the
// call outright; later stages only ever rewrite ToolResult.Content,
// never re-execute the tool.
func (r *ToolRegistry) ExecuteToolGoverned(ctx context.Context, toolName string, args map[string]interface{}, ec *ExecutionContext) (ToolResult, error) {
	start := time.Now()

	if reason, blocked := securityGate(toolName, args, ec); blocked {
		slog.Warn("tool call blocked by security gate", "tool", toolName, "entity", ec.EntityID, "reason", reason)
		return blockedResult(toolName, reason, "policy_denied"), nil
	}

	if reason, blocked := rateLimitGate(ctx, toolName, ec); blocked {
		slog.Warn("tool call blocked by rate limit", "tool", toolName, "entity", ec.EntityID, "reason", reason)
		return blockedResult(toolName, reason, "rate_limited"), nil
	}

	var intent *ActionIntent
	if r.actionIntents != nil && isExternalActionTool(toolName) {
		intent = r.actionIntents.Begin(ec.EntityID, toolName, args)
	}

	slog.Info("tool call started", "tool", toolName, "entity", ec.EntityID)
	result, err := r.ExecuteTool(ctx, toolName, args)
	slog.Info("tool call finished", "tool", toolName, "entity", ec.EntityID, "success", result.Success, "duration", time.Since(start))
	intent.Finish(result.Success, result.Error)

	capOutputSize(&result)
	sanitizeToolOutput(&result)
	scrubSecrets(&result)

	return result, err
}

// securityGate enforces autonomy level, per-entity allowed_tools, and
// tool-specific command/path allowlists plus the protected bootstrap
// path set. It never inspects tool output, only the call itself.
func securityGate(toolName string, args map[string]interface{}, ec *ExecutionContext) (string, bool) {
	if ec == nil {
		return "", false
	}

	if !ec.toolAllowed(toolName) {
		return fmt.Sprintf("tool %q is not in this entity's allowed_tools", toolName), true
	}

	if ec.Policy != nil {
		if ec.Policy.Autonomy == policy.AutonomyReadOnly && isWriteTool(toolName) {
			return fmt.Sprintf("autonomy level %q forbids write tool %q", ec.Policy.Autonomy, toolName), true
		}
	}

	if path, ok := args["path"].(string); ok && isWriteTool(toolName) {
		for _, protected := range ec.ProtectedPaths {
			if path == protected {
				return fmt.Sprintf("path %q is a protected bootstrap file", path), true
			}
		}
	}

	return "", false
}

func isWriteTool(name string) bool {
	switch name {
	case "write_file", "execute_command", "search_replace", "apply_patch":
		return true
	default:
		return false
	}
}

// isExternalActionTool widens isWriteTool to everything whose effects
// leave the process — these are the calls the action-intent audit
// records durably.
func isExternalActionTool(name string) bool {
	return isWriteTool(name) || name == "web_request"
}

// rateLimitGate enforces the global and per-entity sliding-window
// budgets tracked in the policy package. A nil RateLimiter or Policy
// disables this stage rather than failing open on every call.
func rateLimitGate(ctx context.Context, toolName string, ec *ExecutionContext) (string, bool) {
	if ec == nil {
		return "", false
	}
	if ec.Policy != nil {
		if ec.Policy.IsRateLimited() {
			return "entity has exceeded its action rate limit", true
		}
	}
	if ec.RateLimiter != nil {
		result, err := ec.RateLimiter.CheckAndRecord(ctx, ratelimit.ScopeEntity, ec.EntityID, 0, 1)
		if err == nil && result != nil && !result.Allowed {
			return result.Reason, true
		}
	}
	return "", false
}

// capOutputSize truncates a ToolResult's content to the configured
// byte/line budget, appending a metadata suffix rather than silently
// dropping the excess.
func capOutputSize(result *ToolResult) {
	truncated := false

	if len(result.Content) > maxOutputBytes {
		result.Content = result.Content[:maxOutputBytes]
		truncated = true
	}

	lines := splitLines(result.Content)
	if len(lines) > maxOutputLines {
		result.Content = joinLines(lines[:maxOutputLines])
		truncated = true
	}

	if truncated {
		if result.Metadata == nil {
			result.Metadata = map[string]interface{}{}
		}
		result.Metadata["truncated"] = true
		result.Content += fmt.Sprintf("\n[output truncated to %d KiB / %d lines]", maxOutputBytes/1024, maxOutputLines)
	}
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	lines = append(lines, s[start:])
	return lines
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}

// sanitizeToolOutput runs tool output and error text through the
// external-content pipeline, since both originate outside the model's
// own context and may carry injected instructions.
func sanitizeToolOutput(result *ToolResult) {
	if result.Content != "" {
		prepared := sanitize.PrepareExternalContent("tool:"+result.ToolName, result.Content)
		result.Content = prepared.ModelInput
	}
	if result.Error != "" {
		prepared := sanitize.PrepareExternalContent("tool:"+result.ToolName+":error", result.Error)
		result.Error = prepared.ModelInput
	}
}

// scrubSecrets redacts API-key-shaped substrings from tool output and
// error text as a last line of defense before the result reaches the
// model or a transcript.
func scrubSecrets(result *ToolResult) {
	result.Content = redactSecrets(result.Content)
	result.Error = redactSecrets(result.Error)
}

// blockedResult marks a tool call refused before execution. kind is the
// policy error taxonomy bucket ("policy_denied" or "rate_limited") the
// tool loop uses to pick a LoopStopReason without re-parsing reason text.
func blockedResult(toolName, reason, kind string) ToolResult {
	return ToolResult{
		Success:  false,
		Error:    reason,
		ToolName: toolName,
		Metadata: map[string]interface{}{"blocked": true, "blocked_kind": kind},
	}
}
