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
	"database/sql"
	"fmt"

	"github.com/haru0416-dev/aegis-agent/pkg/config"
)

// NewRateLimiterFromConfig builds a limiter from the runtime's
// rate_limit section. Returns (nil, nil) when rate limiting is
// disabled. For the sql backend the caller supplies the shared
// workspace database connection and its dialect, so window counters
// survive a process restart; the memory backend ignores both.
func NewRateLimiterFromConfig(cfg *config.RateLimitConfig, db *sql.DB, dialect string) (RateLimiter, error) {
	if !cfg.IsEnabled() {
		return nil, nil
	}

	var store Store
	switch cfg.Backend {
	case "sql":
		if db == nil {
			return nil, fmt.Errorf("a database connection is required for the sql rate limit backend")
		}
		var err error
		store, err = NewSQLStore(db, dialect)
		if err != nil {
			return nil, fmt.Errorf("create sql rate limit store: %w", err)
		}
	case "memory", "":
		store = NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown rate limit backend: %s", cfg.Backend)
	}

	return NewRateLimiterFromConfigWithStore(cfg, store)
}

// NewRateLimiterFromConfigWithStore builds a limiter over a caller-
// provided store. Used by tests and by callers that share one store
// across limiters.
func NewRateLimiterFromConfigWithStore(cfg *config.RateLimitConfig, store Store) (RateLimiter, error) {
	if !cfg.IsEnabled() {
		return nil, nil
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}

	limits := make([]LimitRule, len(cfg.Limits))
	for i, l := range cfg.Limits {
		limits[i] = LimitRule{
			Type:   ParseLimitType(l.Type),
			Window: ParseTimeWindow(l.Window),
			Limit:  l.Limit,
		}
	}

	return NewRateLimiter(&Config{Enabled: true, Limits: limits}, store)
}
