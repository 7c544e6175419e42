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

package memory

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCheckForgetModeRefusesUnsupported(t *testing.T) {
	matrix := CapabilityMatrix{
		BackendName:     "testbackend",
		ForgetSoft:      CapabilityDegraded,
		ForgetHard:      CapabilityUnsupported,
		ForgetTombstone: CapabilitySupported,
	}

	require.NoError(t, CheckForgetMode(matrix, ForgetSoft))
	require.NoError(t, CheckForgetMode(matrix, ForgetTombstone))

	err := CheckForgetMode(matrix, ForgetHard)
	require.Error(t, err)
	var unsupported *UnsupportedForgetError
	require.ErrorAs(t, err, &unsupported)
	require.Equal(t, "testbackend", unsupported.Backend)
	require.Equal(t, ForgetHard, unsupported.Mode)
}

func TestCheckForgetModeRefusesUnknownMode(t *testing.T) {
	matrix := CapabilityMatrix{BackendName: "testbackend", ForgetSoft: CapabilitySupported}
	require.Error(t, CheckForgetMode(matrix, ForgetMode("vaporize")))
}

func TestCapabilityMatrixRoundTrip(t *testing.T) {
	matrix := CapabilityMatrix{
		BackendName:     "backendcol",
		ForgetSoft:      CapabilityDegraded,
		ForgetHard:      CapabilityDegraded,
		ForgetTombstone: CapabilityDegraded,
	}

	data, err := json.Marshal(matrix)
	require.NoError(t, err)

	var decoded CapabilityMatrix
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, matrix, decoded)
}

func TestMemoryEventRoundTrip(t *testing.T) {
	occurred := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	event := MemoryEvent{
		ID:         "evt-1",
		EntityID:   "user-1",
		SlotKey:    "preference.timezone",
		Kind:       EventFactAdded,
		Value:      "America/New_York",
		Source:     SourceExplicitUser,
		Privacy:    PrivacyPrivate,
		Layer:      LayerSemantic,
		Confidence: 0.95,
		Importance: 0.6,
		Provenance: &Provenance{
			SourceClass: SourceExplicitUser,
			Reference:   "chat",
			EvidenceURI: "https://example.com/transcript/42",
		},
		SupersedesEventID: "evt-0",
		OccurredAt:        occurred,
		RecordedAt:        occurred.Add(time.Second),
		Embedding:         []float32{0.1, 0.2, 0.3},
	}
	require.NoError(t, NormalizeForIngress(&event))

	data, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded MemoryEvent
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, event, decoded)
}
