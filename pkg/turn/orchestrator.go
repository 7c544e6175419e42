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
	"fmt"
	"log/slog"
	"strings"
	"time"

	memctx "github.com/haru0416-dev/aegis-agent/pkg/context"
	"github.com/haru0416-dev/aegis-agent/pkg/governance"
	"github.com/haru0416-dev/aegis-agent/pkg/llms"
	"github.com/haru0416-dev/aegis-agent/pkg/memory"
	"github.com/haru0416-dev/aegis-agent/pkg/observability"
	"github.com/haru0416-dev/aegis-agent/pkg/policy"
	"github.com/haru0416-dev/aegis-agent/pkg/ratelimit"
	"github.com/haru0416-dev/aegis-agent/pkg/reasoning"
	"github.com/haru0416-dev/aegis-agent/pkg/tools"
)

// Orchestrator wires a turn's fixed dependencies: the answer provider,
// optionally a persona reflect provider, the governed tool registry,
// the memory store, the security policy, and the consolidation worker.
// One Orchestrator is built per agent/session and reused across turns.
type Orchestrator struct {
	Provider          llms.Provider
	ReflectProvider   llms.Provider // nil disables persona reflection regardless of PersonaEnabled
	Tools             *tools.ToolRegistry
	Store             memory.Store
	Policy            *policy.Policy
	RateLimiter       ratelimit.RateLimiter
	AllowedTools      []string
	ProtectedPaths    []string
	MaxToolIterations int

	AutoSaveEnabled bool
	PersonaEnabled  bool

	// Governance, when set, receives a trail record for every escalation
	// the verify/repair wrapper gives up on.
	Governance *governance.Trail

	Consolidation *ConsolidationWorker

	verifyRepairCaps VerifyRepairCaps
}

// NewOrchestrator builds an Orchestrator with the default verify/repair
// caps; callers adjust exported fields (or call WithVerifyRepairCaps)
// before the first ExecuteTurn call.
func NewOrchestrator(provider llms.Provider, registry *tools.ToolRegistry, store memory.Store, pol *policy.Policy) *Orchestrator {
	return &Orchestrator{
		Provider:          provider,
		Tools:             registry,
		Store:             store,
		Policy:            pol,
		MaxToolIterations: 100,
		verifyRepairCaps:  DefaultVerifyRepairCaps(),
	}
}

// WithVerifyRepairCaps overrides the default attempt/repair-depth caps.
func (o *Orchestrator) WithVerifyRepairCaps(caps VerifyRepairCaps) *Orchestrator {
	o.verifyRepairCaps = caps
	return o
}

// ExecuteTurn runs one full turn: write-scope check,
// context assembly, budget accounting, the bounded tool loop, optional
// persona reflection, autosave, and post-turn consolidation — wrapped
// in a bounded verify/repair retry over the whole sequence.
func (o *Orchestrator) ExecuteTurn(ctx context.Context, wc WriteContext, userMessage string, opts Options) (Outcome, error) {
	var attempts, repairDepth uint32
	start := time.Now()

	for {
		attempts++
		outcome, err := o.executeOnce(ctx, wc, userMessage, opts)
		if err == nil {
			outcome.RepairAttempts = int(repairDepth)
			observability.GetGlobalMetrics().RecordTurn(ctx, time.Since(start), outcome.TokensUsed, nil)
			return outcome, nil
		}

		analysis := AnalyzeFailure(err)
		if escalation := decideEscalation(o.verifyRepairCaps, attempts, repairDepth, analysis, err); escalation != nil {
			o.emitEscalation(ctx, wc.EntityID, escalation)
			observability.GetGlobalMetrics().RecordTurn(ctx, time.Since(start), 0, escalation)
			return Outcome{}, escalation
		}

		repairDepth++
		slog.Warn("turn retrying after retryable failure",
			"attempt", attempts, "repair_depth", repairDepth,
			"failure_class", analysis.FailureClass, "error", err)
	}
}

// emitEscalation records the escalation to the governance audit trail
// (best-effort: a failure to log the escalation must not mask the
// escalation itself).
func (o *Orchestrator) emitEscalation(ctx context.Context, entityID string, esc *Escalation) {
	if o.Governance != nil {
		if err := o.Governance.Append(governance.Record{
			Action:   governance.ActionEscalation,
			EntityID: entityID,
			Detail: map[string]any{
				"attempts":      esc.Attempts,
				"repair_depth":  esc.RepairDepth,
				"failure_class": esc.FailureClass,
				"error":         esc.Err.Error(),
			},
		}); err != nil {
			slog.Warn("governance trail escalation write failed", "error", err)
		}
	}
	if o.Store == nil {
		return
	}
	now := time.Now()
	err := o.Store.AppendEvent(ctx, memory.MemoryEvent{
		ID:         randomEventID(),
		EntityID:   entityID,
		SlotKey:    "turn.escalation",
		Kind:       memory.EventFactAdded,
		Value:      esc.Error(),
		Source:     memory.SourceSystem,
		Privacy:    memory.PrivacyPrivate,
		Layer:      memory.LayerWorking,
		Confidence: 1.0,
		Importance: 0.8,
		Provenance: memory.SourceReference(memory.SourceSystem, "turn.verify_repair.escalation"),
		OccurredAt: now,
		RecordedAt: now,
	})
	if err != nil {
		slog.Warn("verify/repair escalation event write failed", "error", err)
	}
}

func (o *Orchestrator) executeOnce(ctx context.Context, wc WriteContext, userMessage string, opts Options) (Outcome, error) {
	slog.Info("turn intent created", "entity_id", wc.EntityID)

	if err := wc.EnforceWriteScope(); err != nil {
		return Outcome{}, err
	}

	o.saveUserMessageIfEnabled(ctx, wc, userMessage)

	enriched, err := o.buildContext(ctx, wc, userMessage)
	if err != nil {
		slog.Warn("context assembly failed, continuing without memory context", "error", err)
		enriched = userMessage
	}

	if o.Policy != nil {
		if err := o.Policy.ConsumeActionAndCost(0); err != nil {
			slog.Warn("turn intent policy denied", "entity_id", wc.EntityID, "error", err)
			return Outcome{}, err
		}
		slog.Debug("turn intent policy allowed", "entity_id", wc.EntityID)
	}

	accounting := NewCallAccounting(o.PersonaEnabled && o.ReflectProvider != nil)
	if err := accounting.ConsumeAnswerCall(); err != nil {
		return Outcome{}, err
	}

	autonomy := policy.AutonomySupervised
	if o.Policy != nil {
		autonomy = o.Policy.Autonomy
	}
	clamped, wasClamped := ClampTemperature(autonomy, opts.RequestedTemperature)
	if wasClamped {
		band := SelectedTemperatureBand(autonomy)
		slog.Info("temperature clamped to autonomy band",
			"autonomy_level", autonomy.String(),
			"requested_temperature", opts.RequestedTemperature,
			"clamped_temperature", clamped,
			"band_min", band.Min, "band_max", band.Max)
	}
	// clamped is logged above when clamping changes anything; the
	// llms.Provider interface has no per-call temperature override, so
	// the provider's own configured temperature governs Generate.

	execCtx := &tools.ExecutionContext{
		EntityID:       wc.EntityID,
		Policy:         o.Policy,
		RateLimiter:    o.RateLimiter,
		AllowedTools:   o.AllowedTools,
		ProtectedPaths: o.ProtectedPaths,
	}
	loop := reasoning.NewToolLoop(o.Provider, o.Tools, execCtx, o.MaxToolIterations)

	messages := []llms.Message{{Role: "system", Content: opts.SystemPrompt}, {Role: "user", Content: enriched}}

	var result reasoning.Result
	if opts.StreamTo != nil {
		result = loop.RunStreaming(ctx, messages, opts.ToolDefs, opts.StreamTo)
	} else {
		result = loop.Run(ctx, messages, opts.ToolDefs)
	}
	o.logStopReason(wc.EntityID, result)
	if result.StopReason == reasoning.StopError {
		return Outcome{}, fmt.Errorf("tool loop failed: %w", result.Err)
	}

	response := result.FinalText

	if o.PersonaEnabled && o.ReflectProvider != nil {
		o.runPersonaReflect(ctx, wc, accounting, userMessage, response)
	}

	o.saveResponseAndConsolidate(ctx, wc, userMessage, response)

	return Outcome{
		Response:   response,
		TokensUsed: result.TokensUsed,
		StopReason: result.StopReason,
		Accounting: accounting,
	}, nil
}

func (o *Orchestrator) buildContext(ctx context.Context, wc WriteContext, userMessage string) (string, error) {
	if o.Store == nil {
		return userMessage, nil
	}
	block, err := memctx.Build(ctx, o.Store, wc.EntityID, userMessage, wc.TenantContext)
	if err != nil {
		return userMessage, err
	}
	return block + userMessage, nil
}

func (o *Orchestrator) logStopReason(entityID string, result reasoning.Result) {
	switch result.StopReason {
	case reasoning.StopCompleted:
	case reasoning.StopMaxIterations:
		slog.Warn("tool loop hit max iterations", "entity_id", entityID, "iterations", result.Iterations)
	case reasoning.StopRateLimited:
		slog.Warn("tool loop halted by rate limiter", "entity_id", entityID)
	case reasoning.StopApprovalDenied:
		slog.Warn("tool loop halted by approval requirement", "entity_id", entityID)
	case reasoning.StopError:
		slog.Error("tool loop failed", "entity_id", entityID, "error", result.Err)
	}
}

// reflectSystemPrompt shapes the reflect pass's output so the
// writeback can parse it: one candidate belief per line, slot key then
// value. Lines that don't match the shape are dropped, not guessed at.
const reflectSystemPrompt = `Reflect on this exchange and note anything worth remembering about the user as durable beliefs.
Output one belief per line in the exact form:
slot.key: value
Slot keys are lowercase dotted identifiers (e.g. profile.timezone, preference.diet). Output NOTHING else — no prose, no bullets. Output an empty response if nothing is worth remembering.`

// maxReflectClaims caps how many inferred claims one reflect pass may
// write back.
const maxReflectClaims = 5

func (o *Orchestrator) runPersonaReflect(ctx context.Context, wc WriteContext, accounting *CallAccounting, userMessage, response string) {
	if o.Policy != nil {
		if err := o.Policy.ConsumeActionAndCost(0); err != nil {
			slog.Warn("persona reflect rate limit denied, skipping", "entity_id", wc.EntityID, "error", err)
			return
		}
	}
	if err := accounting.ConsumeReflectCall(); err != nil {
		slog.Warn("persona reflect call budget denied, skipping", "entity_id", wc.EntityID, "error", err)
		return
	}

	reflection, _, _, err := o.ReflectProvider.Generate(ctx, []llms.Message{
		{Role: "system", Content: reflectSystemPrompt},
		{Role: "user", Content: userMessage},
		{Role: "assistant", Content: response},
	}, nil)
	if err != nil {
		slog.Warn("persona reflect/writeback failed; answer path preserved", "entity_id", wc.EntityID, "error", err)
		return
	}

	o.writeBackReflectedClaims(ctx, wc, reflection)
}

// writeBackReflectedClaims parses the reflect pass's output and appends
// each candidate belief as an inferred_claim event at reduced
// confidence: the supersession rule guarantees an inferred claim can
// never displace anything the user actually said. Best-effort — a
// failed append is logged, never surfaced to the answer path.
func (o *Orchestrator) writeBackReflectedClaims(ctx context.Context, wc WriteContext, reflection string) {
	if o.Store == nil {
		return
	}
	claims := parseReflectedClaims(reflection, maxReflectClaims)
	if len(claims) == 0 {
		return
	}

	now := time.Now()
	for slotKey, value := range claims {
		if err := o.Store.AppendEvent(ctx, memory.MemoryEvent{
			ID:         randomEventID(),
			EntityID:   wc.EntityID,
			SlotKey:    slotKey,
			Kind:       memory.EventInferredClaim,
			Value:      value,
			Source:     memory.SourceInferred,
			Privacy:    memory.PrivacyPrivate,
			Layer:      memory.LayerSemantic,
			Confidence: 0.6,
			Importance: 0.5,
			Provenance: memory.SourceReference(memory.SourceInferred, "turn.persona.reflect"),
			OccurredAt: now,
			RecordedAt: now,
		}); err != nil {
			slog.Warn("persona reflect claim write failed", "entity_id", wc.EntityID, "slot_key", slotKey, "error", err)
		} else {
			slog.Debug("persona reflect claim written", "entity_id", wc.EntityID, "slot_key", slotKey)
		}
	}
}

// parseReflectedClaims extracts up to limit "slot.key: value" lines.
// Keys must look like dotted lowercase identifiers; everything else in
// the output (prose, bullets, malformed lines) is ignored.
func parseReflectedClaims(reflection string, limit int) map[string]string {
	claims := make(map[string]string)
	for _, line := range strings.Split(reflection, "\n") {
		if len(claims) >= limit {
			break
		}
		key, value, found := strings.Cut(strings.TrimSpace(line), ":")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if value == "" || !isSlotKey(key) {
			continue
		}
		claims[key] = value
	}
	return claims
}

// isSlotKey accepts lowercase dotted identifiers: at least one dot, no
// spaces, only [a-z0-9._-] runes.
func isSlotKey(key string) bool {
	if key == "" || !strings.Contains(key, ".") {
		return false
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}

func (o *Orchestrator) saveUserMessageIfEnabled(ctx context.Context, wc WriteContext, userMessage string) {
	if !o.AutoSaveEnabled || o.Store == nil {
		return
	}
	now := time.Now()
	if err := o.Store.AppendEvent(ctx, memory.MemoryEvent{
		ID:         randomEventID(),
		EntityID:   wc.EntityID,
		SlotKey:    "conversation.user_msg",
		Kind:       memory.EventFactAdded,
		Value:      userMessage,
		Source:     memory.SourceExplicitUser,
		Privacy:    memory.PrivacyPrivate,
		Layer:      memory.LayerWorking,
		Confidence: 0.95,
		Importance: 0.6,
		Provenance: memory.SourceReference(memory.SourceExplicitUser, "turn.autosave.user_msg"),
		OccurredAt: now,
		RecordedAt: now,
	}); err != nil {
		slog.Warn("autosave user message failed", "entity_id", wc.EntityID, "error", err)
	}
}

func (o *Orchestrator) saveResponseAndConsolidate(ctx context.Context, wc WriteContext, userMessage, response string) {
	if !o.AutoSaveEnabled || o.Store == nil {
		return
	}
	now := time.Now()
	summary := truncateWithEllipsis(response, 100)
	if err := o.Store.AppendEvent(ctx, memory.MemoryEvent{
		ID:         randomEventID(),
		EntityID:   wc.EntityID,
		SlotKey:    "conversation.assistant_resp",
		Kind:       memory.EventFactAdded,
		Value:      summary,
		Source:     memory.SourceSystem,
		Privacy:    memory.PrivacyPrivate,
		Layer:      memory.LayerWorking,
		Confidence: 0.9,
		Importance: 0.4,
		Provenance: memory.SourceReference(memory.SourceSystem, "turn.autosave.assistant_resp"),
		OccurredAt: now,
		RecordedAt: now,
	}); err != nil {
		slog.Warn("autosave assistant response failed", "entity_id", wc.EntityID, "error", err)
		return
	}

	if o.Consolidation == nil {
		return
	}
	count, err := o.Store.CountEvents(ctx, wc.EntityID)
	if err != nil {
		slog.Warn("post-turn consolidation checkpoint skipped", "entity_id", wc.EntityID, "error", err)
		return
	}
	o.Consolidation.Enqueue(ConsolidationInput{
		EntityID:             wc.EntityID,
		CheckpointEventCount: count,
		UserMessage:          userMessage,
		Response:             response,
	})
}
