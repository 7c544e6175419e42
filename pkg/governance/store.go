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
	"log/slog"

	"github.com/haru0416-dev/aegis-agent/pkg/memory"
)

// governedStore wraps a memory.Store so every forget operation leaves a
// trail record alongside the store's own deletion ledger. All other
// Store methods pass through untouched.
type governedStore struct {
	memory.Store
	trail *Trail
}

// Govern wraps store so its forget operations are recorded to trail.
// A nil trail returns the store unwrapped.
func Govern(store memory.Store, trail *Trail) memory.Store {
	if trail == nil {
		return store
	}
	return &governedStore{Store: store, trail: trail}
}

func (g *governedStore) ForgetSlot(ctx context.Context, entityID, slotKey string, mode memory.ForgetMode, reason, requestor string) (memory.ForgetOutcome, error) {
	outcome, err := g.Store.ForgetSlot(ctx, entityID, slotKey, mode, reason, requestor)

	detail := map[string]any{
		"mode":      string(mode),
		"reason":    reason,
		"requestor": requestor,
	}
	if err != nil {
		detail["error"] = err.Error()
	} else {
		detail["applied"] = outcome.Applied
		detail["degraded"] = outcome.Degraded()
		detail["status"] = string(outcome.Status)
	}
	// Best-effort: the forget's own result is never masked by a trail
	// write failure.
	if trailErr := g.trail.Append(Record{
		Action:   ActionForget,
		EntityID: entityID,
		SlotKey:  slotKey,
		Detail:   detail,
	}); trailErr != nil {
		slog.Warn("governance trail write failed", "entity_id", entityID, "slot_key", slotKey, "error", trailErr)
	}

	return outcome, err
}
