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

package governance

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/haru0416-dev/aegis-agent/pkg/memory"
)

func TestTrailAppendsDayPartitionedJSONL(t *testing.T) {
	dir := t.TempDir()
	trail, err := NewTrail(dir)
	require.NoError(t, err)

	ts := time.Date(2025, 7, 4, 10, 0, 0, 0, time.UTC)
	require.NoError(t, trail.Append(Record{
		Timestamp: ts,
		Action:    ActionForget,
		EntityID:  "user-1",
		SlotKey:   "preference.diet",
		Detail:    map[string]any{"mode": "soft"},
	}))
	require.NoError(t, trail.Append(Record{Timestamp: ts.Add(time.Hour), Action: ActionEscalation, EntityID: "user-1"}))

	data, err := os.ReadFile(filepath.Join(dir, "2025-07-04.jsonl"))
	require.NoError(t, err)

	lines := splitNonEmptyLines(string(data))
	require.Len(t, lines, 2)

	var first Record
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.Equal(t, ActionForget, first.Action)
	require.Equal(t, "preference.diet", first.SlotKey)
}

func splitNonEmptyLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

type forgetRecorderStore struct {
	memory.Store
	outcome memory.ForgetOutcome
}

func (s *forgetRecorderStore) ForgetSlot(ctx context.Context, entityID, slotKey string, mode memory.ForgetMode, reason, requestor string) (memory.ForgetOutcome, error) {
	return s.outcome, nil
}

func TestGovernedStoreRecordsForgetOutcome(t *testing.T) {
	dir := t.TempDir()
	trail, err := NewTrail(dir)
	require.NoError(t, err)

	inner := &forgetRecorderStore{outcome: memory.ForgetOutcome{
		EntityID: "user-1", SlotKey: "preference.diet", Mode: memory.ForgetSoft,
		Applied: true, Status: memory.StatusDegradedNonComplete,
		Checks: []memory.ArtifactCheck{{Kind: memory.ArtifactSlot, Capability: memory.CapabilityDegraded}},
	}}
	store := Govern(inner, trail)

	outcome, err := store.ForgetSlot(context.Background(), "user-1", "preference.diet", memory.ForgetSoft, "user request", "user-1")
	require.NoError(t, err)
	require.True(t, outcome.Applied)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)

	var rec Record
	require.NoError(t, json.Unmarshal([]byte(splitNonEmptyLines(string(data))[0]), &rec))
	require.Equal(t, ActionForget, rec.Action)
	require.Equal(t, "user-1", rec.EntityID)
	require.Equal(t, true, rec.Detail["applied"])
	require.Equal(t, true, rec.Detail["degraded"])
	require.Equal(t, string(memory.StatusDegradedNonComplete), rec.Detail["status"])
}

func TestGovernNilTrailReturnsStoreUnwrapped(t *testing.T) {
	inner := &forgetRecorderStore{}
	require.Equal(t, memory.Store(inner), Govern(inner, nil))
}
