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

// Package ratelimit enforces the fixed-window budgets the tool
// middleware chain and the HTTP gateway consult before work runs. A
// window opens with the first spend after the previous one ended, and
// its counter restarts at zero; spend is not carried across a window
// boundary, so the windows do not slide.
//
// Limits stack across time windows (minute, hour, day, week, month)
// and track both token spend and request count. Counters are scoped
// globally or per entity, and live either in memory or in the shared
// workspace database so they survive restarts.
//
// # Basic usage
//
//	limiter, err := ratelimit.NewRateLimiterFromConfig(cfg, db, dialect)
//
//	result, err := limiter.CheckAndRecord(ctx, ratelimit.ScopeEntity, entityID, tokens, 1)
//	if !result.Allowed {
//	    // surface as RateLimited; transports answer 429
//	}
//
// # Configuration
//
//	rate_limit:
//	  enabled: true
//	  backend: "memory"  # or "sql"
//	  limits:
//	    - type: token
//	      window: day
//	      limit: 100000
//	    - type: count
//	      window: minute
//	      limit: 60
package ratelimit
