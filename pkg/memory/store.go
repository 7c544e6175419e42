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

import "context"

// Store is the contract both storage backends (pkg/memory/backendsql and
// pkg/memory/backendcol) implement. It is the single seam the rest of
// the agent runtime depends on; nothing above this package knows or
// cares whether facts live in a relational engine or a columnar one.
type Store interface {
	// HealthCheck reports whether the backend is reachable and its
	// schema is at the version this binary expects.
	HealthCheck(ctx context.Context) error

	// AppendEvent writes one MemoryEvent to the immutable log and folds
	// it into the slot's live projection and retrieval index if it
	// supersedes the slot's current value.
	AppendEvent(ctx context.Context, event MemoryEvent) error

	// RecallScoped runs a hybrid keyword+vector search scoped to one
	// entity, fusing and ranking the results per the composite scoring
	// formula.
	RecallScoped(ctx context.Context, query RecallQuery) ([]RecallItem, error)

	// ResolveSlot returns the current live projection for a slot, or
	// (nil, nil) if no projection exists (never written, or removed by a
	// hard or tombstone forget). A slot that was soft-forgotten or cleared
	// by an event stays in place with an empty value; on backendcol a soft
	// or tombstone forget leaves the slot holding a revocation marker.
	ResolveSlot(ctx context.Context, entityID, slotKey string) (*BeliefSlot, error)

	// ForgetSlot executes a forget request at the given mode and reports
	// what actually happened per artifact kind. Modes the backend's
	// capability matrix declares Unsupported are refused with an
	// *UnsupportedForgetError before anything is mutated.
	ForgetSlot(ctx context.Context, entityID, slotKey string, mode ForgetMode, reason, requestor string) (ForgetOutcome, error)

	// Capabilities publishes the backend's forget-mode contract.
	Capabilities() CapabilityMatrix

	// CountEvents reports the total number of events recorded for an
	// entity, used by tests and diagnostics rather than any hot path.
	CountEvents(ctx context.Context, entityID string) (int64, error)

	// Close releases any resources (connections, file handles) the
	// backend holds.
	Close() error
}

// BackendName identifies which Store implementation is in use; the
// degraded-forget revocation markers in pkg/sanitize are parameterized
// by this so the marker text always names its true origin.
func BackendName(s Store) string {
	if n, ok := s.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "unknown"
}
