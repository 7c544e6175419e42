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

package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Config holds the limiter's rule set.
type Config struct {
	Enabled bool
	Limits  []LimitRule
}

// LimitRule is one window rule; every configured rule must hold for a
// call to pass.
type LimitRule struct {
	Type   LimitType
	Window TimeWindow
	Limit  int64
}

// DefaultRateLimiter enforces the configured rules over a Store. The
// mutex serializes check-and-record so two concurrent callers can't
// both slip under the same remaining budget.
type DefaultRateLimiter struct {
	config *Config
	store  Store
	mu     sync.RWMutex
}

// NewRateLimiter validates the rule set and returns a limiter over store.
func NewRateLimiter(cfg *Config, store Store) (*DefaultRateLimiter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}

	for i, limit := range cfg.Limits {
		if limit.Type == "" {
			return nil, fmt.Errorf("limit[%d]: type is required", i)
		}
		if limit.Window == "" {
			return nil, fmt.Errorf("limit[%d]: window is required", i)
		}
		if limit.Limit <= 0 {
			return nil, fmt.Errorf("limit[%d]: limit must be positive", i)
		}
	}

	return &DefaultRateLimiter{config: cfg, store: store}, nil
}

// snapshotRule reads one rule's current usage, treating an expired
// window as empty with a fresh end time.
func (rl *DefaultRateLimiter) snapshotRule(ctx context.Context, scope Scope, identifier string, limit LimitRule, now time.Time) (Usage, error) {
	current, windowEnd, err := rl.store.GetUsage(ctx, scope, identifier, limit.Type, limit.Window)
	if err != nil {
		return Usage{}, fmt.Errorf("failed to get usage for %s/%s: %w", limit.Type, limit.Window, err)
	}

	if windowEnd.Before(now) {
		current = 0
		windowEnd = now.Add(limit.Window.Duration())
	}

	remaining := limit.Limit - current
	if remaining < 0 {
		remaining = 0
	}

	return Usage{
		LimitType:  limit.Type,
		Window:     limit.Window,
		Current:    current,
		Limit:      limit.Limit,
		WindowEnd:  windowEnd,
		Remaining:  remaining,
		Percentage: float64(current) / float64(limit.Limit) * 100,
	}, nil
}

// checkUnlocked evaluates every rule and assembles the CheckResult.
// Callers hold rl.mu in at least read mode.
func (rl *DefaultRateLimiter) checkUnlocked(ctx context.Context, scope Scope, identifier string) (*CheckResult, error) {
	result := &CheckResult{
		Allowed: true,
		Usages:  make([]Usage, 0, len(rl.config.Limits)),
	}

	now := time.Now()
	var earliestRetry *time.Time

	for _, limit := range rl.config.Limits {
		usage, err := rl.snapshotRule(ctx, scope, identifier, limit, now)
		if err != nil {
			return nil, err
		}
		result.Usages = append(result.Usages, usage)

		// Strictly greater: a window exactly at its limit still admits
		// nothing new on the next record, but this read passes.
		if usage.Current > limit.Limit {
			result.Allowed = false
			if result.Reason == "" {
				result.Reason = fmt.Sprintf("%s limit exceeded for %s window (%d/%d)",
					limit.Type, limit.Window, usage.Current, limit.Limit)
			}
			windowEnd := usage.WindowEnd
			if earliestRetry == nil || windowEnd.Before(*earliestRetry) {
				earliestRetry = &windowEnd
			}
		}
	}

	if !result.Allowed && earliestRetry != nil {
		if retryDuration := time.Until(*earliestRetry); retryDuration > 0 {
			result.RetryAfter = &retryDuration
		}
	}

	return result, nil
}

// recordUnlocked adds the call's token and request spend to every rule
// that tracks the corresponding dimension. Callers hold rl.mu.
func (rl *DefaultRateLimiter) recordUnlocked(ctx context.Context, scope Scope, identifier string, tokenCount, requestCount int64) error {
	now := time.Now()

	for _, limit := range rl.config.Limits {
		var amount int64
		switch limit.Type {
		case LimitTypeToken:
			amount = tokenCount
		case LimitTypeCount:
			amount = requestCount
		default:
			continue
		}
		if amount <= 0 {
			continue
		}

		_, windowEnd, err := rl.store.GetUsage(ctx, scope, identifier, limit.Type, limit.Window)
		if err != nil {
			return fmt.Errorf("failed to get usage for %s/%s: %w", limit.Type, limit.Window, err)
		}

		if windowEnd.Before(now) {
			// The previous window lapsed; start a fresh one at this
			// call's spend instead of incrementing stale state.
			windowEnd = now.Add(limit.Window.Duration())
			if err := rl.store.SetUsage(ctx, scope, identifier, limit.Type, limit.Window, amount, windowEnd); err != nil {
				return fmt.Errorf("failed to reset usage for %s/%s: %w", limit.Type, limit.Window, err)
			}
			continue
		}

		if _, _, err := rl.store.IncrementUsage(ctx, scope, identifier, limit.Type, limit.Window, amount); err != nil {
			return fmt.Errorf("failed to increment usage for %s/%s: %w", limit.Type, limit.Window, err)
		}
	}

	return nil
}

// Check verifies whether a call would be admitted, without spending.
func (rl *DefaultRateLimiter) Check(ctx context.Context, scope Scope, identifier string) (*CheckResult, error) {
	if !rl.config.Enabled {
		return &CheckResult{Allowed: true}, nil
	}
	if identifier == "" {
		return nil, ErrInvalidIdentifier
	}

	rl.mu.RLock()
	defer rl.mu.RUnlock()

	return rl.checkUnlocked(ctx, scope, identifier)
}

// Record spends tokens/requests against the windows without checking.
func (rl *DefaultRateLimiter) Record(ctx context.Context, scope Scope, identifier string, tokenCount, requestCount int64) error {
	if !rl.config.Enabled {
		return nil
	}
	if identifier == "" {
		return ErrInvalidIdentifier
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	return rl.recordUnlocked(ctx, scope, identifier, tokenCount, requestCount)
}

// CheckAndRecord admits-and-spends atomically; a denied call spends
// nothing.
func (rl *DefaultRateLimiter) CheckAndRecord(ctx context.Context, scope Scope, identifier string, tokenCount, requestCount int64) (*CheckResult, error) {
	if !rl.config.Enabled {
		return &CheckResult{Allowed: true}, nil
	}

	if identifier == "" {
		return nil, ErrInvalidIdentifier
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	result, err := rl.checkUnlocked(ctx, scope, identifier)
	if err != nil {
		return nil, err
	}
	if !result.Allowed {
		return result, nil
	}
	// Deny, without spending, a call whose own spend would exceed a window.
	for _, u := range result.Usages {
		amount := requestCount
		if u.LimitType == LimitTypeToken {
			amount = tokenCount
		}
		if u.Current+amount > u.Limit {
			retry := time.Until(u.WindowEnd)
			result.Allowed = false
			result.Reason = fmt.Sprintf("%s limit exceeded for %s window (%d/%d)", u.LimitType, u.Window, u.Current+amount, u.Limit)
			result.RetryAfter = &retry
			return result, nil
		}
	}

	if err := rl.recordUnlocked(ctx, scope, identifier, tokenCount, requestCount); err != nil {
		return nil, fmt.Errorf("failed to record usage: %w", err)
	}

	// Re-read so the returned usages reflect this call's spend.
	return rl.checkUnlocked(ctx, scope, identifier)
}

// GetUsage returns a usage snapshot for every configured rule.
func (rl *DefaultRateLimiter) GetUsage(ctx context.Context, scope Scope, identifier string) ([]Usage, error) {
	if !rl.config.Enabled {
		return []Usage{}, nil
	}
	if identifier == "" {
		return nil, ErrInvalidIdentifier
	}

	rl.mu.RLock()
	defer rl.mu.RUnlock()

	now := time.Now()
	usages := make([]Usage, 0, len(rl.config.Limits))
	for _, limit := range rl.config.Limits {
		usage, err := rl.snapshotRule(ctx, scope, identifier, limit, now)
		if err != nil {
			return nil, err
		}
		usages = append(usages, usage)
	}
	return usages, nil
}

// Reset clears every window for an identifier.
func (rl *DefaultRateLimiter) Reset(ctx context.Context, scope Scope, identifier string) error {
	if identifier == "" {
		return ErrInvalidIdentifier
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	return rl.store.DeleteUsage(ctx, scope, identifier)
}

// ResetExpired drops records whose window ended before the given time.
func (rl *DefaultRateLimiter) ResetExpired(ctx context.Context, before time.Time) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return rl.store.DeleteExpired(ctx, before)
}

// IsEnabled returns whether rate limiting is enabled.
func (rl *DefaultRateLimiter) IsEnabled() bool {
	return rl.config.Enabled
}

// Store returns the underlying store (for testing).
func (rl *DefaultRateLimiter) Store() Store {
	return rl.store
}
