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

package runtime

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/haru0416-dev/aegis-agent/pkg/config"
	"github.com/haru0416-dev/aegis-agent/pkg/governance"
	"github.com/haru0416-dev/aegis-agent/pkg/llms"
	"github.com/haru0416-dev/aegis-agent/pkg/memory"
	"github.com/haru0416-dev/aegis-agent/pkg/memoryfactory"
	"github.com/haru0416-dev/aegis-agent/pkg/observability"
	"github.com/haru0416-dev/aegis-agent/pkg/policy"
	"github.com/haru0416-dev/aegis-agent/pkg/ratelimit"
	"github.com/haru0416-dev/aegis-agent/pkg/tools"
	"github.com/haru0416-dev/aegis-agent/pkg/turn"
)

// Runtime holds the built components a single workspace's turn
// orchestrator is assembled from, so callers (the CLI chat loop, the
// HTTP gateway) can reach the pieces directly when a request needs more
// than ExecuteTurn alone — e.g. the gateway's /health reports store
// health, and /pair needs the configured pairing secret.
type Runtime struct {
	Config       *Config
	Orchestrator *turn.Orchestrator
	Policy       *policy.Policy
	Tools        *tools.ToolRegistry
	RateLimiter  ratelimit.RateLimiter
	// Store is the governed view every consumer should use; rawStore is
	// the unwrapped backend, kept for capability-specific hooks
	// (embedding backfill) the governance wrapper doesn't forward.
	Store         memory.Store
	rawStore      memory.Store
	observability *observability.Manager

	closers []func() error
}

// StartEmbeddingBackfill starts the background worker that computes
// missing retrieval-doc embeddings through the given embedder. The
// embedding provider itself lives outside this module; callers that
// have one wire it here. Returns an error when the configured backend
// doesn't track embedding status (the columnar backend embeds at write
// time or not at all).
func (rt *Runtime) StartEmbeddingBackfill(embedder memory.Embedder) (*memory.BackfillWorker, error) {
	source, ok := rt.rawStore.(memory.BackfillSource)
	if !ok {
		return nil, fmt.Errorf("memory backend %s does not support embedding backfill", memory.BackendName(rt.rawStore))
	}
	worker := memory.NewBackfillWorker(source, embedder)
	rt.closers = append(rt.closers, func() error { worker.Close(); return nil })
	return worker, nil
}

// MetricsHandler returns the Prometheus metrics handler when the
// runtime's observability config has metrics enabled, nil otherwise.
func (rt *Runtime) MetricsHandler() http.Handler {
	if rt.observability == nil || !rt.observability.MetricsEnabled() {
		return nil
	}
	return rt.observability.MetricsHandler()
}

// Observability exposes the built manager so the gateway can mount the
// tracing/metrics HTTP middleware.
func (rt *Runtime) Observability() *observability.Manager {
	return rt.observability
}

// Build constructs a Runtime from a fully defaulted, validated Config.
// Call cfg.SetDefaults() and cfg.Validate() first (Load does both).
func Build(cfg *Config) (*Runtime, error) {
	if err := os.MkdirAll(filepath.Join(cfg.Workspace, "memory"), 0o755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}
	trail, err := governance.NewTrail(filepath.Join(cfg.Workspace, "memory_governance"))
	if err != nil {
		return nil, fmt.Errorf("build governance trail: %w", err)
	}

	rt := &Runtime{Config: cfg}

	obsMgr, err := observability.NewManager(context.Background(), &cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("build observability manager: %w", err)
	}
	rt.observability = obsMgr
	rt.closers = append(rt.closers, func() error { return obsMgr.Shutdown(context.Background()) })

	// One pool serves every SQL consumer: the memory backend and, when
	// configured, the rate limiter's persistent store.
	pool := config.NewDBPool()
	rt.closers = append(rt.closers, pool.Close)

	store, err := memoryfactory.New(cfg.Memory, pool)
	if err != nil {
		return nil, fmt.Errorf("build memory store: %w", err)
	}
	rt.rawStore = store
	// Every forget against the store leaves a governance-trail record in
	// addition to the store's own deletion ledger.
	rt.Store = governance.Govern(store, trail)
	rt.closers = append(rt.closers, store.Close)

	pol := buildPolicy(cfg)
	rt.Policy = pol

	provider, err := buildProvider(&cfg.LLM, cfg.Backups)
	if err != nil {
		return nil, fmt.Errorf("build llm provider: %w", err)
	}

	var reflectProvider llms.Provider
	if cfg.ReflectLLM != nil {
		reflectProvider, err = buildSingleProvider(cfg.ReflectLLM)
		if err != nil {
			return nil, fmt.Errorf("build reflect llm provider: %w", err)
		}
	}

	toolRegistry, err := tools.NewToolRegistryBuilder().WithConfig(cfg.Tools).Build()
	if err != nil {
		return nil, fmt.Errorf("build tool registry: %w", err)
	}
	attachPolicyToTools(cfg.Tools, toolRegistry, pol)
	intentLog, err := tools.NewActionIntentLog(filepath.Join(cfg.Workspace, "action_intents"))
	if err != nil {
		return nil, fmt.Errorf("build action intent log: %w", err)
	}
	toolRegistry.SetActionIntentLog(intentLog)
	rt.Tools = toolRegistry

	rl, err := buildRateLimiter(cfg, pool)
	if err != nil {
		return nil, fmt.Errorf("build rate limiter: %w", err)
	}
	rt.RateLimiter = rl

	orch := turn.NewOrchestrator(provider, toolRegistry, rt.Store, pol)
	orch.ReflectProvider = reflectProvider
	orch.RateLimiter = rl
	orch.AutoSaveEnabled = cfg.AutoSaveEnabled
	orch.PersonaEnabled = cfg.PersonaEnabled
	orch.ProtectedPaths = pol.ForbiddenPaths
	orch.AllowedTools = toolNames(cfg.Tools)
	orch.Governance = trail
	consolidation := turn.NewConsolidationWorker(rt.Store)
	consolidation.Trail = trail
	orch.Consolidation = consolidation
	rt.Orchestrator = orch

	return rt, nil
}

// Close releases every resource Build opened (the store, primarily).
func (rt *Runtime) Close() error {
	var firstErr error
	for _, c := range rt.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if rt.Orchestrator != nil && rt.Orchestrator.Consolidation != nil {
		rt.Orchestrator.Consolidation.Close()
	}
	return firstErr
}

func buildPolicy(cfg *Config) *policy.Policy {
	pol := policy.New(cfg.Workspace)
	pol.Autonomy = autonomyFromString(cfg.Policy.Autonomy)
	if cfg.Policy.ExternalActionExecution {
		pol.ExternalActionExecution = policy.ExternalActionEnabled
	}
	if cfg.Policy.WorkspaceOnly != nil {
		pol.WorkspaceOnly = *cfg.Policy.WorkspaceOnly
	}
	if len(cfg.Policy.AllowedCommands) > 0 {
		pol.AllowedCommands = cfg.Policy.AllowedCommands
	}
	if len(cfg.Policy.ForbiddenPaths) > 0 {
		pol.ForbiddenPaths = cfg.Policy.ForbiddenPaths
	}
	pol.MaxActionsPerHour = cfg.Policy.MaxActionsPerHour
	pol.MaxCostPerDayCents = cfg.Policy.MaxCostPerDayCents
	return pol
}

// TenantContext builds the policy.TenantPolicyContext this workspace's
// turns should be scoped to.
func (c *Config) TenantContext() policy.TenantPolicyContext {
	if !c.Policy.TenantEnabled {
		return policy.DisabledTenantContext()
	}
	return policy.EnabledTenantContext(c.Policy.TenantID)
}

func buildSingleProvider(cfg *config.LLMProviderConfig) (llms.Provider, error) {
	switch cfg.Type {
	case "anthropic":
		return llms.NewAnthropicProviderFromConfig(cfg)
	case "openai", "":
		return llms.NewOpenAIProviderFromConfig(cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider type: %s", cfg.Type)
	}
}

// buildProvider wraps the primary provider in a resilient fallback
// chain when backups are configured: transient provider failures fall
// through to each backup in order.
func buildProvider(primary *config.LLMProviderConfig, backupCfgs []config.LLMProviderConfig) (llms.Provider, error) {
	primaryProvider, err := buildSingleProvider(primary)
	if err != nil {
		return nil, err
	}
	if len(backupCfgs) == 0 {
		return primaryProvider, nil
	}

	backups := make([]llms.Provider, 0, len(backupCfgs))
	for i := range backupCfgs {
		p, err := buildSingleProvider(&backupCfgs[i])
		if err != nil {
			return nil, fmt.Errorf("backup provider %d: %w", i, err)
		}
		backups = append(backups, p)
	}
	return llms.NewResilientProvider(primaryProvider, backups...), nil
}

// buildRateLimiter resolves the configured counter store. The sql
// backend shares the memory backend's database so windows survive
// restarts; it requires the sql memory backend for that reason.
func buildRateLimiter(cfg *Config, pool *config.DBPool) (ratelimit.RateLimiter, error) {
	if !cfg.RateLimit.IsEnabled() {
		return nil, nil
	}
	if cfg.RateLimit.Backend == "sql" {
		if cfg.Memory.Backend != "sql" || cfg.Memory.Database == nil {
			return nil, fmt.Errorf("rate_limit.backend sql requires the sql memory backend")
		}
		db, err := pool.Get(cfg.Memory.Database)
		if err != nil {
			return nil, fmt.Errorf("open rate limit database: %w", err)
		}
		return ratelimit.NewRateLimiterFromConfig(&cfg.RateLimit, db, cfg.Memory.Database.Dialect())
	}
	return ratelimit.NewRateLimiterFromConfig(&cfg.RateLimit, nil, "")
}

// attachPolicyToTools wires the full security gate (command allowlist,
// path canonicalization) into the mutating tools the registry built;
// tools.ExecuteToolGoverned also enforces the policy at dispatch time,
// but command/file tools additionally consult it at construction time
// for argument-shape validation specific to each tool.
func attachPolicyToTools(cfgs map[string]*config.ToolConfig, reg *tools.ToolRegistry, pol *policy.Policy) {
	for name := range cfgs {
		tool, err := reg.GetTool(name)
		if err != nil {
			continue
		}
		switch t := tool.(type) {
		case *tools.CommandTool:
			t.WithPolicy(pol)
		case *tools.FileWriterTool:
			t.WithPolicy(pol)
		}
	}
}

func toolNames(cfgs map[string]*config.ToolConfig) []string {
	names := make([]string, 0, len(cfgs))
	for name, cfg := range cfgs {
		if cfg != nil && cfg.Enabled != nil && *cfg.Enabled {
			names = append(names, name)
		}
	}
	return names
}
