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

package llms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ResilientProvider tries a primary provider and, on a transient failure,
// walks through configured backups in order before giving up. It satisfies
// Provider itself so the rest of the system never needs to know whether it
// is talking to a single backend or a fallback chain.
type ResilientProvider struct {
	providers []Provider // providers[0] is primary
}

// NewResilientProvider builds a fallback chain. primary must be non-nil;
// backups are tried in order only when the prior attempt fails with a
// transient ProviderError.
func NewResilientProvider(primary Provider, backups ...Provider) *ResilientProvider {
	return &ResilientProvider{providers: append([]Provider{primary}, backups...)}
}

func (r *ResilientProvider) Name() string {
	return r.providers[0].Name()
}

func (r *ResilientProvider) GetModelName() string    { return r.providers[0].GetModelName() }
func (r *ResilientProvider) GetMaxTokens() int       { return r.providers[0].GetMaxTokens() }
func (r *ResilientProvider) GetTemperature() float64 { return r.providers[0].GetTemperature() }

func (r *ResilientProvider) Close() error {
	var firstErr error
	for _, p := range r.providers {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *ResilientProvider) Generate(ctx context.Context, messages []Message, tools []ToolDefinition) (string, []ToolCall, int, error) {
	var lastErr error
	for i, p := range r.providers {
		text, toolCalls, tokens, err := p.Generate(ctx, messages, tools)
		if err == nil {
			return text, toolCalls, tokens, nil
		}
		lastErr = err
		if i == len(r.providers)-1 || !classifyError(err) {
			return "", nil, 0, fmt.Errorf("provider %s: %w", p.Name(), err)
		}
		slog.Warn("provider failed, falling back",
			"provider", p.Name(), "next_provider", r.providers[i+1].Name(), "error", err)
	}
	return "", nil, 0, lastErr
}

func (r *ResilientProvider) GenerateStreaming(ctx context.Context, messages []Message, tools []ToolDefinition) (<-chan StreamChunk, error) {
	for i, p := range r.providers {
		ch, err := p.GenerateStreaming(ctx, messages, tools)
		if err == nil {
			return ch, nil
		}
		if i == len(r.providers)-1 || !classifyError(err) {
			return nil, fmt.Errorf("provider %s: %w", p.Name(), err)
		}
		slog.Warn("provider failed to start stream, falling back",
			"provider", p.Name(), "next_provider", r.providers[i+1].Name(), "error", err)
	}
	return nil, fmt.Errorf("no providers configured")
}

// GenerateStructured fans out the same fallback behavior to structured-output
// calls. Backups that don't support structured output (SupportsStructuredOutput
// returns false) are skipped rather than attempted.
func (r *ResilientProvider) GenerateStructured(ctx context.Context, messages []Message, tools []ToolDefinition, config *StructuredOutputConfig) (string, []ToolCall, int, error) {
	var lastErr error
	for i, p := range r.providers {
		sp, ok := p.(StructuredOutputProvider)
		if !ok || !sp.SupportsStructuredOutput() {
			continue
		}
		text, toolCalls, tokens, err := sp.GenerateStructured(ctx, messages, tools, config)
		if err == nil {
			return text, toolCalls, tokens, nil
		}
		lastErr = err
		if i == len(r.providers)-1 || !classifyError(err) {
			return "", nil, 0, fmt.Errorf("provider %s: %w", p.Name(), err)
		}
		slog.Warn("provider failed structured generation, falling back",
			"provider", p.Name(), "error", err)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no configured provider supports structured output")
	}
	return "", nil, 0, lastErr
}

func (r *ResilientProvider) SupportsStructuredOutput() bool {
	for _, p := range r.providers {
		if sp, ok := p.(StructuredOutputProvider); ok && sp.SupportsStructuredOutput() {
			return true
		}
	}
	return false
}

// TokenRefresher obtains a fresh credential for an OAuth-backed provider.
type TokenRefresher interface {
	Refresh(ctx context.Context) (apiKey string, err error)
}

// apiKeySetter is implemented by every provider in this package; it is kept
// unexported since callers only need it through OAuthRecoveryProvider.
type apiKeySetter interface {
	SetAPIKey(key string)
}

type turnIDKeyType struct{}

var turnIDKey = turnIDKeyType{}

// WithTurnID tags a context with the orchestrator's turn identifier, so the
// OAuth-recovery wrapper can enforce "refresh at most once per provider per
// turn" without threading extra parameters through every provider call.
func WithTurnID(ctx context.Context, turnID string) context.Context {
	return context.WithValue(ctx, turnIDKey, turnID)
}

func turnIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(turnIDKey).(string)
	return id
}

// OAuthRecoveryProvider wraps a Provider whose credential can expire
// mid-session. On a permanent 401/403 ProviderError it refreshes the token
// once per turn and retries the call a single time before giving up.
type OAuthRecoveryProvider struct {
	Provider
	refresher TokenRefresher

	mu           sync.Mutex
	refreshedFor string // turn ID most recently refreshed, empty if none this turn
}

// NewOAuthRecoveryProvider wraps inner with refresher. inner must implement
// SetAPIKey (every provider in this package does); if it doesn't, the
// wrapper becomes a no-op passthrough.
func NewOAuthRecoveryProvider(inner Provider, refresher TokenRefresher) *OAuthRecoveryProvider {
	return &OAuthRecoveryProvider{Provider: inner, refresher: refresher}
}

func (o *OAuthRecoveryProvider) isAuthError(err error) bool {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.StatusCode == 401 || perr.StatusCode == 403
	}
	return false
}

func (o *OAuthRecoveryProvider) refreshOnce(ctx context.Context) error {
	turnID := turnIDFromContext(ctx)

	o.mu.Lock()
	defer o.mu.Unlock()

	if turnID != "" && o.refreshedFor == turnID {
		return fmt.Errorf("credential already refreshed this turn, not retrying")
	}

	setter, ok := o.Provider.(apiKeySetter)
	if !ok {
		return fmt.Errorf("provider %s does not support credential refresh", o.Provider.Name())
	}

	key, err := o.refresher.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("token refresh failed: %w", err)
	}

	setter.SetAPIKey(key)
	o.refreshedFor = turnID
	slog.Info("refreshed OAuth credential", "provider", o.Provider.Name())
	return nil
}

func (o *OAuthRecoveryProvider) Generate(ctx context.Context, messages []Message, tools []ToolDefinition) (string, []ToolCall, int, error) {
	text, toolCalls, tokens, err := o.Provider.Generate(ctx, messages, tools)
	if err == nil || !o.isAuthError(err) {
		return text, toolCalls, tokens, err
	}
	if rerr := o.refreshOnce(ctx); rerr != nil {
		return "", nil, 0, err
	}
	return o.Provider.Generate(ctx, messages, tools)
}

func (o *OAuthRecoveryProvider) GenerateStreaming(ctx context.Context, messages []Message, tools []ToolDefinition) (<-chan StreamChunk, error) {
	ch, err := o.Provider.GenerateStreaming(ctx, messages, tools)
	if err == nil || !o.isAuthError(err) {
		return ch, err
	}
	if rerr := o.refreshOnce(ctx); rerr != nil {
		return nil, err
	}
	return o.Provider.GenerateStreaming(ctx, messages, tools)
}
