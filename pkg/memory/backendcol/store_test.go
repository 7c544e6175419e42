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

package backendcol

import (
	"context"
	"testing"
	"time"

	"github.com/haru0416-dev/aegis-agent/pkg/memory"
	"github.com/haru0416-dev/aegis-agent/pkg/sanitize"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(Config{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAppendEventAndResolveSlot(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	now := time.Now()

	require.NoError(t, store.AppendEvent(ctx, memory.MemoryEvent{
		EntityID: "user-1", SlotKey: "preference.timezone", Kind: memory.EventFactAdded,
		Value: "America/New_York", Source: memory.SourceExplicitUser, OccurredAt: now,
		Embedding: []float32{0.1, 0.2, 0.3},
	}))

	slot, err := store.ResolveSlot(ctx, "user-1", "preference.timezone")
	require.NoError(t, err)
	require.NotNil(t, slot)
	require.Equal(t, "America/New_York", slot.Value)

	count, err := store.CountEvents(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestForgetSoftWritesRevocationMarker(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	now := time.Now()

	require.NoError(t, store.AppendEvent(ctx, memory.MemoryEvent{
		EntityID: "user-1", SlotKey: "preference.diet", Kind: memory.EventFactAdded,
		Value: "vegetarian", Source: memory.SourceExplicitUser, OccurredAt: now,
		Embedding: []float32{0.4, 0.5, 0.6},
	}))

	outcome, err := store.ForgetSlot(ctx, "user-1", "preference.diet", memory.ForgetSoft, "user request", "user-1")
	require.NoError(t, err)
	require.True(t, outcome.Applied)
	require.True(t, outcome.Degraded())
	require.Equal(t, memory.StatusDegradedNonComplete, outcome.Status)
	require.False(t, outcome.Complete())

	slot, err := store.ResolveSlot(ctx, "user-1", "preference.diet")
	require.NoError(t, err)
	require.NotNil(t, slot)
	require.True(t, sanitize.IsRevocationMarkerPayload(slot.Value))
}

func TestForgetHardDeletesDocument(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	now := time.Now()

	require.NoError(t, store.AppendEvent(ctx, memory.MemoryEvent{
		EntityID: "user-1", SlotKey: "preference.diet", Kind: memory.EventFactAdded,
		Value: "vegetarian", Source: memory.SourceExplicitUser, OccurredAt: now,
		Embedding: []float32{0.4, 0.5, 0.6},
	}))

	_, err := store.ForgetSlot(ctx, "user-1", "preference.diet", memory.ForgetHard, "user request", "user-1")
	require.NoError(t, err)

	slot, err := store.ResolveSlot(ctx, "user-1", "preference.diet")
	require.NoError(t, err)
	require.Nil(t, slot)
}

func TestRecallScopedRequiresQueryEmbedding(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	items, err := store.RecallScoped(ctx, memory.RecallQuery{EntityID: "user-1", Query: "diet"})
	require.NoError(t, err)
	require.Empty(t, items, "pure-keyword recall is unsupported on this backend")
}

func TestRecallScopedRejectsBlankQuery(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.AppendEvent(ctx, memory.MemoryEvent{
		EntityID: "user-1", SlotKey: "preference.diet", Kind: memory.EventFactAdded,
		Value: "vegetarian", Source: memory.SourceExplicitUser, OccurredAt: time.Now(),
		Embedding: []float32{0.4, 0.5, 0.6},
	}))

	items, err := store.RecallScoped(ctx, memory.RecallQuery{EntityID: "user-1", Query: "   ", QueryEmbedding: []float32{0.4, 0.5, 0.6}})
	require.NoError(t, err)
	require.Empty(t, items, "a blank query must short-circuit to no results")
}

func TestContradictionMarkedPenalizesWithoutOverwriting(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	now := time.Now()

	require.NoError(t, store.AppendEvent(ctx, memory.MemoryEvent{
		EntityID: "user-1", SlotKey: "profile.timezone", Kind: memory.EventFactAdded,
		Value: "America/New_York", Source: memory.SourceExplicitUser, Confidence: 0.9, Importance: 0.5, OccurredAt: now,
		Embedding: []float32{0.1, 0.2, 0.3},
	}))
	require.NoError(t, store.AppendEvent(ctx, memory.MemoryEvent{
		EntityID: "user-1", SlotKey: "profile.alt_timezone", Kind: memory.EventFactAdded,
		Value: "America/New_York", Source: memory.SourceExplicitUser, Confidence: 0.9, Importance: 0.5, OccurredAt: now.Add(-2 * 24 * time.Hour),
		Embedding: []float32{0.1, 0.2, 0.3},
	}))
	require.NoError(t, store.AppendEvent(ctx, memory.MemoryEvent{
		EntityID: "user-1", SlotKey: "profile.timezone", Kind: memory.EventContradictionMarked,
		Confidence: 0.9, Importance: 0.5, OccurredAt: now.Add(time.Minute),
	}))

	slot, err := store.ResolveSlot(ctx, "user-1", "profile.timezone")
	require.NoError(t, err)
	require.Equal(t, "America/New_York", slot.Value, "contradiction_marked must not overwrite the slot")

	items, err := store.RecallScoped(ctx, memory.RecallQuery{EntityID: "user-1", Query: "timezone", QueryEmbedding: []float32{0.1, 0.2, 0.3}, Limit: 5})
	require.NoError(t, err)
	require.Len(t, items, 2)

	scores := map[string]float64{}
	for _, item := range items {
		scores[item.SlotKey] = item.Score
	}
	require.Greater(t, scores["profile.alt_timezone"], scores["profile.timezone"],
		"the contradicted slot must rank strictly lower than its uncontradicted twin")
}
