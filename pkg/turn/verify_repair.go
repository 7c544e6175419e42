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

package turn

import (
	"errors"
	"fmt"

	"github.com/haru0416-dev/aegis-agent/pkg/policy"
	"github.com/haru0416-dev/aegis-agent/pkg/ratelimit"
)

// VerifyRepairCaps bounds the execute_turn retry wrapper: how many
// times the whole turn may be attempted, and how many of those
// attempts may be repairs of a retryable failure (as opposed to the
// first, unconditional attempt).
type VerifyRepairCaps struct {
	MaxAttempts    uint32
	MaxRepairDepth uint32
}

// DefaultVerifyRepairCaps allows three total attempts, at most two of
// which are repairs.
func DefaultVerifyRepairCaps() VerifyRepairCaps {
	return VerifyRepairCaps{MaxAttempts: 3, MaxRepairDepth: 2}
}

// FailureAnalysis is what the failure classifier reduces an error
// to: the taxonomy bucket it falls in, and whether the
// orchestrator's retry wrapper should ever retry it.
type FailureAnalysis struct {
	FailureClass string
	Retryable    bool
}

// AnalyzeFailure classifies err by the policy error taxonomy when it
// carries one; any error that isn't a *policy.Error (a raw provider or
// store error with no taxonomy attached) is treated as non-retryable —
// fail closed rather than guess at a retry that might repeat a
// permanent failure indefinitely.
func AnalyzeFailure(err error) FailureAnalysis {
	var perr *policy.Error
	if errors.As(err, &perr) {
		return FailureAnalysis{FailureClass: string(perr.Kind), Retryable: perr.Retryable()}
	}
	if ratelimit.IsRateLimitError(err) {
		return FailureAnalysis{FailureClass: "rate_limited", Retryable: true}
	}
	return FailureAnalysis{FailureClass: "unclassified", Retryable: false}
}

// Escalation is emitted (and the error ultimately surfaced) once the
// retry wrapper gives up on a turn.
type Escalation struct {
	Attempts     uint32
	RepairDepth  uint32
	FailureClass string
	Err          error
}

func (e *Escalation) Error() string {
	return fmt.Sprintf("turn escalated after %d attempt(s), %d repair(s), class=%s: %v", e.Attempts, e.RepairDepth, e.FailureClass, e.Err)
}

// decideEscalation reports whether the retry wrapper should stop and
// escalate rather than attempt another repair: either the failure
// isn't retryable at all, or the attempt/repair-depth caps are spent.
func decideEscalation(caps VerifyRepairCaps, attempts, repairDepth uint32, analysis FailureAnalysis, err error) *Escalation {
	if analysis.Retryable && attempts < caps.MaxAttempts && repairDepth < caps.MaxRepairDepth {
		return nil
	}
	return &Escalation{Attempts: attempts, RepairDepth: repairDepth, FailureClass: analysis.FailureClass, Err: err}
}
