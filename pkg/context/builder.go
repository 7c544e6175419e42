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

// Package context assembles the "[Memory context]" block injected into
// a turn's prompt: it recalls belief slots scoped to one entity, filters
// out anything the forget protocol has revoked or that has since
// changed underneath the recalled snapshot, and routes external-content
// slots through pkg/sanitize before they ever reach a line the model
// will read.
package context

import (
	"context"
	"fmt"
	"strings"

	"github.com/haru0416-dev/aegis-agent/pkg/memory"
	"github.com/haru0416-dev/aegis-agent/pkg/sanitize"
	"github.com/haru0416-dev/aegis-agent/pkg/utils"
)

const (
	recallLimit        = 8
	externalSlotPrefix = "external."
	contextHeader      = "[Memory context]\n"

	// contextTokenBudget caps how much of the prompt the memory block
	// may occupy. Recall items arrive ranked best-first, so trimming
	// drops the weakest matches.
	contextTokenBudget = 1024
)

// tokenCounter is shared across turns; the underlying encoding is
// cached process-wide. EstimateTokensForText falls back to a
// character-count estimate on a nil counter, which covers a failed
// construction.
var tokenCounter, _ = utils.NewTokenCounter("gpt-4o")

// Build runs the full context-assembly algorithm: recall, replay-ban
// filter, external-content sanitization, and formatting. It returns an
// empty string when nothing survives the filter, so callers can append
// it to a prompt unconditionally.
func Build(ctx context.Context, store memory.Store, entityID, userMessage string, tenantContext memory.TenantScopeEnforcer) (string, error) {
	query := memory.RecallQuery{
		EntityID:      entityID,
		Query:         userMessage,
		Limit:         recallLimit,
		TenantContext: tenantContext,
	}
	if err := query.EnforcePolicy(); err != nil {
		return "", err
	}

	items, err := store.RecallScoped(ctx, query)
	if err != nil {
		return "", fmt.Errorf("recall scoped context: %w", err)
	}

	var lines []string
	usedTokens := tokenCounter.EstimateTokensForText(contextHeader)
	for _, item := range items {
		if !allowReplay(ctx, store, entityID, item) {
			continue
		}
		value := item.Value
		if strings.HasPrefix(item.SlotKey, externalSlotPrefix) {
			value = sanitize.SanitizeContextReplay(item.SlotKey, value)
		}
		line := fmt.Sprintf("- %s: %s", item.SlotKey, value)
		lineTokens := tokenCounter.EstimateTokensForText(line)
		if usedTokens+lineTokens > contextTokenBudget {
			break
		}
		usedTokens += lineTokens
		lines = append(lines, line)
	}

	if len(lines) == 0 {
		return "", nil
	}
	return contextHeader + strings.Join(lines, "\n") + "\n", nil
}

// allowReplay enforces the replay-ban invariant: a recalled item is
// dropped outright if its value is a degraded-forget revocation marker,
// or if the live projection for its slot no longer matches what was
// recalled (the slot changed or was forgotten between index and read).
func allowReplay(ctx context.Context, store memory.Store, entityID string, item memory.RecallItem) bool {
	if sanitize.IsRevocationMarkerPayload(item.Value) {
		return false
	}
	live, err := store.ResolveSlot(ctx, entityID, item.SlotKey)
	if err != nil || live == nil {
		return false
	}
	if sanitize.IsRevocationMarkerPayload(live.Value) {
		return false
	}
	return live.Value == item.Value
}
