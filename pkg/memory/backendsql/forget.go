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

package backendsql

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/haru0416-dev/aegis-agent/pkg/memory"
)

// ForgetSlot executes a forget request. The relational engine gives
// every artifact kind a transactionally-consistent row-level delete, so
// this backend reports full support for every mode — the degraded path
// in pkg/memory/backendcol exists precisely because its storage engine
// cannot make the same promise.
func (s *Store) ForgetSlot(ctx context.Context, entityID, slotKey string, mode memory.ForgetMode, reason, requestor string) (memory.ForgetOutcome, error) {
	if err := memory.CheckForgetMode(s.Capabilities(), mode); err != nil {
		return memory.ForgetOutcome{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return memory.ForgetOutcome{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	checks := []memory.ArtifactCheck{
		{Kind: memory.ArtifactSlot, Capability: memory.CapabilitySupported},
		{Kind: memory.ArtifactRetrievalDocs, Capability: memory.CapabilitySupported},
		{Kind: memory.ArtifactProjectionDocs, Capability: memory.CapabilitySupported},
		{Kind: memory.ArtifactCaches, Capability: memory.CapabilitySupported},
		{Kind: memory.ArtifactLedger, Capability: memory.CapabilitySupported},
	}

	// embedding_cache is keyed by a hash of the content, not by slot, so
	// hard and tombstone forgets purge the entry for the slot's current
	// content before its retrieval doc is deleted.
	if mode == memory.ForgetHard || mode == memory.ForgetTombstone {
		var content string
		err := tx.QueryRowContext(ctx, rebind(s.dialect, `SELECT content FROM retrieval_docs WHERE entity_id = ? AND slot_key = ?`),
			entityID, slotKey).Scan(&content)
		if err == nil {
			if _, err := tx.ExecContext(ctx, rebind(s.dialect, `DELETE FROM embedding_cache WHERE content_hash = ?`),
				memory.ContentHash(content)); err != nil {
				return memory.ForgetOutcome{}, fmt.Errorf("purge embedding cache: %w", err)
			}
		}
	}

	switch mode {
	case memory.ForgetSoft:
		if _, err := tx.ExecContext(ctx, rebind(s.dialect, `
			UPDATE belief_slots SET value = '', updated_at = ? WHERE entity_id = ? AND slot_key = ?`),
			now, entityID, slotKey); err != nil {
			return memory.ForgetOutcome{}, fmt.Errorf("soft forget slot: %w", err)
		}
		if _, err := tx.ExecContext(ctx, rebind(s.dialect, `DELETE FROM retrieval_docs WHERE entity_id = ? AND slot_key = ?`),
			entityID, slotKey); err != nil {
			return memory.ForgetOutcome{}, fmt.Errorf("soft forget retrieval docs: %w", err)
		}

	case memory.ForgetHard:
		if _, err := tx.ExecContext(ctx, rebind(s.dialect, `DELETE FROM belief_slots WHERE entity_id = ? AND slot_key = ?`),
			entityID, slotKey); err != nil {
			return memory.ForgetOutcome{}, fmt.Errorf("hard forget slot: %w", err)
		}
		if _, err := tx.ExecContext(ctx, rebind(s.dialect, `DELETE FROM retrieval_docs WHERE entity_id = ? AND slot_key = ?`),
			entityID, slotKey); err != nil {
			return memory.ForgetOutcome{}, fmt.Errorf("hard forget retrieval docs: %w", err)
		}
		if _, err := tx.ExecContext(ctx, rebind(s.dialect, `UPDATE memory_events SET value = '[redacted]' WHERE entity_id = ? AND slot_key = ?`),
			entityID, slotKey); err != nil {
			return memory.ForgetOutcome{}, fmt.Errorf("hard forget event log: %w", err)
		}

	case memory.ForgetTombstone:
		if _, err := tx.ExecContext(ctx, rebind(s.dialect, `DELETE FROM belief_slots WHERE entity_id = ? AND slot_key = ?`),
			entityID, slotKey); err != nil {
			return memory.ForgetOutcome{}, fmt.Errorf("tombstone forget slot: %w", err)
		}
		if _, err := tx.ExecContext(ctx, rebind(s.dialect, `DELETE FROM retrieval_docs WHERE entity_id = ? AND slot_key = ?`),
			entityID, slotKey); err != nil {
			return memory.ForgetOutcome{}, fmt.Errorf("tombstone forget retrieval docs: %w", err)
		}
		if _, err := tx.ExecContext(ctx, rebind(s.dialect, `DELETE FROM memory_events WHERE entity_id = ? AND slot_key = ?`),
			entityID, slotKey); err != nil {
			return memory.ForgetOutcome{}, fmt.Errorf("tombstone forget event log: %w", err)
		}

	default:
		return memory.ForgetOutcome{}, fmt.Errorf("unknown forget mode: %s", mode)
	}

	if _, err := tx.ExecContext(ctx, rebind(s.dialect, `
		INSERT INTO deletion_ledger (id, entity_id, slot_key, mode, reason, requestor, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		uuid.NewString(), entityID, slotKey, string(mode), reason, requestor, now,
	); err != nil {
		return memory.ForgetOutcome{}, fmt.Errorf("write deletion ledger: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return memory.ForgetOutcome{}, fmt.Errorf("commit forget: %w", err)
	}

	if s.index != nil {
		// Every mode above deletes the retrieval_docs row; mirror that in the
		// external index too. Best-effort, same rationale as the Upsert path
		// in AppendEvent.
		_ = s.index.Delete(ctx, docVectorID(entityID, slotKey))
	}

	return memory.ForgetOutcome{
		EntityID: entityID,
		SlotKey:  slotKey,
		Mode:     mode,
		Applied:  true,
		Status:   memory.StatusComplete,
		Checks:   checks,
	}, nil
}

// Capabilities: the relational engine gives every forget mode a
// row-level, transactionally-consistent delete, so nothing is degraded.
func (s *Store) Capabilities() memory.CapabilityMatrix {
	return memory.CapabilityMatrix{
		BackendName:     s.Name(),
		ForgetSoft:      memory.CapabilitySupported,
		ForgetHard:      memory.CapabilitySupported,
		ForgetTombstone: memory.CapabilitySupported,
	}
}
