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
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haru0416-dev/aegis-agent/pkg/policy"
)

func TestAnalyzeFailureClassifiesPolicyErrors(t *testing.T) {
	analysis := AnalyzeFailure(policy.ErrActionLimitExceeded)
	require.Equal(t, string(policy.KindRateLimited), analysis.FailureClass)
	require.True(t, analysis.Retryable)

	analysis = AnalyzeFailure(&policy.Error{Kind: policy.KindPolicyDenied, Rule: "command_allowlist"})
	require.Equal(t, string(policy.KindPolicyDenied), analysis.FailureClass)
	require.False(t, analysis.Retryable)

	analysis = AnalyzeFailure(fmt.Errorf("wrapped: %w", &policy.Error{Kind: policy.KindStoreTransient}))
	require.True(t, analysis.Retryable, "a wrapped transient store error is still retryable")
}

func TestAnalyzeFailureFailsClosedOnRawErrors(t *testing.T) {
	analysis := AnalyzeFailure(fmt.Errorf("something unexpected"))
	require.Equal(t, "unclassified", analysis.FailureClass)
	require.False(t, analysis.Retryable)
}

func TestDecideEscalationHonorsCaps(t *testing.T) {
	caps := DefaultVerifyRepairCaps()
	retryable := FailureAnalysis{FailureClass: "store_transient", Retryable: true}
	err := fmt.Errorf("lock contention")

	require.Nil(t, decideEscalation(caps, 1, 0, retryable, err), "first retryable failure repairs")
	require.Nil(t, decideEscalation(caps, 2, 1, retryable, err), "second retryable failure repairs")

	esc := decideEscalation(caps, 3, 2, retryable, err)
	require.NotNil(t, esc, "caps spent: escalate")
	require.Equal(t, uint32(3), esc.Attempts)
	require.Equal(t, uint32(2), esc.RepairDepth)

	esc = decideEscalation(caps, 1, 0, FailureAnalysis{FailureClass: "policy_denied"}, err)
	require.NotNil(t, esc, "a non-retryable failure escalates immediately")
}
