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
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haru0416-dev/aegis-agent/pkg/governance"
	"github.com/haru0416-dev/aegis-agent/pkg/memory"
)

type consolidationStubStore struct {
	mu     sync.Mutex
	count  int64
	events []memory.MemoryEvent
}

func (s *consolidationStubStore) CountEvents(ctx context.Context, entityID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count, nil
}

func (s *consolidationStubStore) AppendEvent(ctx context.Context, event memory.MemoryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *consolidationStubStore) appended() []memory.MemoryEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]memory.MemoryEvent{}, s.events...)
}

func TestConsolidationWorkerFoldsExchange(t *testing.T) {
	store := &consolidationStubStore{count: 5}
	w := NewConsolidationWorker(store)

	w.Enqueue(ConsolidationInput{
		EntityID:             "user-1",
		CheckpointEventCount: 5,
		UserMessage:          "what's my timezone",
		Response:             "America/New_York",
	})
	w.Close()

	events := store.appended()
	require.Len(t, events, 1)
	require.Equal(t, "conversation.consolidated", events[0].SlotKey)
	require.Equal(t, memory.EventSummaryCompacted, events[0].Kind)
	require.Equal(t, memory.SourceInferred, events[0].Source)
	require.Contains(t, events[0].Value, "timezone")
}

func TestConsolidationWorkerSkipsStaleCheckpoint(t *testing.T) {
	// A forget ran between enqueue and processing: the entity's event
	// count moved below the checkpoint, so the job is skipped.
	store := &consolidationStubStore{count: 2}
	w := NewConsolidationWorker(store)

	w.Enqueue(ConsolidationInput{EntityID: "user-1", CheckpointEventCount: 10})
	w.Close()

	require.Empty(t, store.appended())
}

func TestConsolidationQueueOverflowRecordsGovernanceDrop(t *testing.T) {
	dir := t.TempDir()
	trail, err := governance.NewTrail(dir)
	require.NoError(t, err)

	// An unbuffered queue nothing drains: every Enqueue overflows.
	w := &ConsolidationWorker{
		store: &consolidationStubStore{},
		jobs:  make(chan ConsolidationInput),
		done:  make(chan struct{}),
		Trail: trail,
	}
	w.Enqueue(ConsolidationInput{EntityID: "user-1"})

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	var rec governance.Record
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(data))), &rec))
	require.Equal(t, governance.ActionConsolidationDrop, rec.Action)
	require.Equal(t, "queue_full", rec.Detail["cause"])
}
