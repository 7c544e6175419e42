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

// Package turn implements the per-turn orchestrator described in
// one turn: the sequence that takes one user message from intent
// to answer — write-scope enforcement, context assembly, budget
// accounting, the bounded tool loop, optional persona reflection,
// autosave, and post-turn consolidation — with a bounded verify/repair
// retry wrapped around the whole thing.
package turn

import (
	"fmt"

	"github.com/haru0416-dev/aegis-agent/pkg/llms"
	"github.com/haru0416-dev/aegis-agent/pkg/policy"
	"github.com/haru0416-dev/aegis-agent/pkg/reasoning"
)

// WriteContext names the entity a turn writes memory events under and
// the tenant scope those writes are checked against. It is distinct
// from the read-side ExecutionContext the tool loop uses because a
// turn may answer on behalf of one entity while executing tools under
// another's allowance (a shared assistant fielding per-user requests).
type WriteContext struct {
	EntityID      string
	TenantContext policy.TenantPolicyContext
	// AllowWrites gates memory mutation independent of tool autonomy;
	// a turn running in a dry-run or export context sets this false.
	AllowWrites bool
}

// EnforceWriteScope rejects a turn outright when the write context
// forbids mutation — the first check execute_turn makes, before any
// context is built or any call is billed.
func (w WriteContext) EnforceWriteScope() error {
	if w.EntityID == "" {
		return fmt.Errorf("turn: write context has no entity id")
	}
	if !w.AllowWrites {
		return fmt.Errorf("turn: write scope forbids mutation for entity %q", w.EntityID)
	}
	return nil
}

// DefaultWriteContext returns a write context for entityID with the
// tenant check disabled and mutation allowed — the shape most callers
// (a single-user CLI session, a paired webhook) want.
func DefaultWriteContext(entityID string) WriteContext {
	return WriteContext{EntityID: entityID, TenantContext: policy.DisabledTenantContext(), AllowWrites: true}
}

// CallAccounting tracks the per-turn budget of priced provider calls:
// the answer call, and — when persona reflection is enabled — the
// reflect call. Both are accounted against policy.Policy before they
// run, not after, so a budget-exhausted entity never reaches the
// provider at all.
type CallAccounting struct {
	PersonaEnabled  bool
	answerConsumed  bool
	reflectConsumed bool
}

// NewCallAccounting builds the accounting for one turn; personaEnabled
// raises the turn's call budget from 1 to 2 (answer + reflect).
func NewCallAccounting(personaEnabled bool) *CallAccounting {
	return &CallAccounting{PersonaEnabled: personaEnabled}
}

// Budget is the number of priced provider calls this turn may make.
func (a *CallAccounting) Budget() int {
	if a.PersonaEnabled {
		return 2
	}
	return 1
}

// ConsumeAnswerCall marks the answer call spent; it is an error to call
// this twice in one turn.
func (a *CallAccounting) ConsumeAnswerCall() error {
	if a.answerConsumed {
		return fmt.Errorf("turn: answer call already consumed this turn")
	}
	a.answerConsumed = true
	return nil
}

// ConsumeReflectCall marks the reflect call spent; it is only valid when
// persona reflection is enabled for this turn.
func (a *CallAccounting) ConsumeReflectCall() error {
	if !a.PersonaEnabled {
		return fmt.Errorf("turn: reflect call not budgeted for this turn")
	}
	if a.reflectConsumed {
		return fmt.Errorf("turn: reflect call already consumed this turn")
	}
	a.reflectConsumed = true
	return nil
}

// Outcome is what ExecuteTurn returns on success.
type Outcome struct {
	Response   string
	TokensUsed int
	StopReason reasoning.LoopStopReason
	Accounting *CallAccounting
	// RepairAttempts counts how many times the turn was retried after a
	// retryable failure before it succeeded (0 on a first-try success).
	RepairAttempts int
}

// Options bundles everything a turn needs beyond the orchestrator's own
// fixed wiring (provider, registry, store, policy): the per-call knobs
// that vary by request.
type Options struct {
	SystemPrompt         string
	ToolDefs             []llms.ToolDefinition
	RequestedTemperature float64
	// StreamTo, when non-nil, switches the tool loop onto its streaming
	// path and forwards text chunks here as they arrive.
	StreamTo chan<- llms.StreamChunk
}
