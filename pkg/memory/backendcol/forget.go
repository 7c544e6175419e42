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
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"

	"github.com/haru0416-dev/aegis-agent/pkg/memory"
	"github.com/haru0416-dev/aegis-agent/pkg/sanitize"
)

// ForgetSlot always reports Degraded: this backend's persistence model
// (a full-collection gob dump per write, see Store.flush) cannot offer
// the row-level, crash-safe delete pkg/memory/backendsql gets from its
// relational engine's write-ahead log. Soft and tombstone modes write an
// explicit revocation marker in place of the value rather than silently
// depending on a delete that the backend cannot make atomic with the
// rest of the write path; that marker is what pkg/sanitize's context
// replay gate refuses to ever surface to the model.
func (s *Store) ForgetSlot(ctx context.Context, entityID, slotKey string, mode memory.ForgetMode, reason, requestor string) (memory.ForgetOutcome, error) {
	if err := memory.CheckForgetMode(s.Capabilities(), mode); err != nil {
		return memory.ForgetOutcome{}, err
	}

	col, err := s.getCollection(entityID)
	if err != nil {
		return memory.ForgetOutcome{}, err
	}

	now := time.Now()
	var checks []memory.ArtifactCheck

	switch mode {
	case memory.ForgetSoft:
		marker := sanitize.SoftForgetMarker(s.Name())
		if err := s.writeMarkerDocument(ctx, col, entityID, slotKey, marker); err != nil {
			return memory.ForgetOutcome{}, err
		}
		checks = []memory.ArtifactCheck{
			{Kind: memory.ArtifactSlot, Capability: memory.CapabilityDegraded, Detail: "value replaced with a revocation marker, document retained"},
			{Kind: memory.ArtifactRetrievalDocs, Capability: memory.CapabilityDegraded, Detail: "same document backs retrieval and projection in this backend"},
			{Kind: memory.ArtifactProjectionDocs, Capability: memory.CapabilityDegraded},
			{Kind: memory.ArtifactCaches, Capability: memory.CapabilityUnsupported, Detail: "no selective embedding cache purge available"},
			{Kind: memory.ArtifactLedger, Capability: memory.CapabilitySupported},
		}

	case memory.ForgetHard:
		if err := col.Delete(ctx, nil, nil, docID(entityID, slotKey)); err != nil {
			return memory.ForgetOutcome{}, fmt.Errorf("hard forget document: %w", err)
		}
		if err := s.flush(); err != nil {
			return memory.ForgetOutcome{}, err
		}
		checks = []memory.ArtifactCheck{
			{Kind: memory.ArtifactSlot, Capability: memory.CapabilityDegraded, Detail: "deleted, but the on-disk flush is a whole-collection rewrite, not a row-level transaction"},
			{Kind: memory.ArtifactRetrievalDocs, Capability: memory.CapabilityDegraded},
			{Kind: memory.ArtifactProjectionDocs, Capability: memory.CapabilityDegraded},
			{Kind: memory.ArtifactCaches, Capability: memory.CapabilityUnsupported},
			{Kind: memory.ArtifactLedger, Capability: memory.CapabilitySupported},
		}

	case memory.ForgetTombstone:
		marker := sanitize.TombstoneMarker(s.Name())
		if err := s.writeMarkerDocument(ctx, col, entityID, slotKey, marker); err != nil {
			return memory.ForgetOutcome{}, err
		}
		checks = []memory.ArtifactCheck{
			{Kind: memory.ArtifactSlot, Capability: memory.CapabilityDegraded, Detail: "permanent revocation marker, not a true delete"},
			{Kind: memory.ArtifactRetrievalDocs, Capability: memory.CapabilityDegraded},
			{Kind: memory.ArtifactProjectionDocs, Capability: memory.CapabilityDegraded},
			{Kind: memory.ArtifactCaches, Capability: memory.CapabilityUnsupported},
			{Kind: memory.ArtifactLedger, Capability: memory.CapabilitySupported},
		}

	default:
		return memory.ForgetOutcome{}, fmt.Errorf("unknown forget mode: %s", mode)
	}

	s.ledgerMu.Lock()
	s.ledger = append(s.ledger, memory.DeletionLedger{
		ID: uuid.NewString(), EntityID: entityID, SlotKey: slotKey,
		Mode: mode, Reason: reason, Requestor: requestor, ExecutedAt: now,
	})
	s.ledgerMu.Unlock()

	return memory.ForgetOutcome{
		EntityID: entityID,
		SlotKey:  slotKey,
		Mode:     mode,
		Applied:  true,
		Status:   memory.StatusDegradedNonComplete,
		Checks:   checks,
	}, nil
}

// Capabilities: every mode is Degraded here — the flush-oriented
// persistence model cannot give a row-level, crash-safe delete, and
// soft/tombstone forgets substitute revocation markers for true
// removal. Declaring this up front is what keeps the outcome honest.
func (s *Store) Capabilities() memory.CapabilityMatrix {
	return memory.CapabilityMatrix{
		BackendName:     s.Name(),
		ForgetSoft:      memory.CapabilityDegraded,
		ForgetHard:      memory.CapabilityDegraded,
		ForgetTombstone: memory.CapabilityDegraded,
	}
}

func (s *Store) writeMarkerDocument(ctx context.Context, col *chromem.Collection, entityID, slotKey, marker string) error {
	doc := chromem.Document{
		ID:      docID(entityID, slotKey),
		Content: marker,
		Metadata: map[string]string{
			"entity_id":  entityID,
			"slot_key":   slotKey,
			"updated_at": formatTime(time.Now()),
		},
	}
	// The collection has no embedding function (see identityEmbed), so the
	// marker reuses the vector of the document it replaces.
	if existing, err := col.GetByID(ctx, doc.ID); err == nil {
		doc.Embedding = existing.Embedding
	}
	if err := col.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
		return fmt.Errorf("write revocation marker: %w", err)
	}
	return s.flush()
}
