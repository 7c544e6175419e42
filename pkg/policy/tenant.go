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

package policy

import "strings"

// TenantPolicyContext enforces the tenant scope rule: when tenant
// mode is enabled, every recall or write's entity_id must equal the
// tenant id or be a hierarchical child ("<tenant>:x" or "<tenant>/x").
// The sentinel "default" is forbidden under tenant mode.
type TenantPolicyContext struct {
	Enabled  bool
	TenantID string
}

// DisabledTenantContext returns a context where tenant scoping is off.
func DisabledTenantContext() TenantPolicyContext {
	return TenantPolicyContext{}
}

// EnabledTenantContext returns a context scoped to tenantID.
func EnabledTenantContext(tenantID string) TenantPolicyContext {
	return TenantPolicyContext{Enabled: true, TenantID: tenantID}
}

// EnforceRecallScope validates entityID against the tenant context,
// returning a structured *Error on violation so callers can branch on
// Kind/Rule instead of the message.
func (c TenantPolicyContext) EnforceRecallScope(entityID string) error {
	if !c.Enabled {
		return nil
	}

	requested := strings.TrimSpace(entityID)
	if requested == "" || requested == "default" {
		return ErrTenantDefaultScope
	}

	if c.TenantID == "" {
		return ErrTenantCrossScope
	}

	if requested == c.TenantID {
		return nil
	}
	if suffix, ok := strings.CutPrefix(requested, c.TenantID); ok {
		if strings.HasPrefix(suffix, ":") || strings.HasPrefix(suffix, "/") {
			return nil
		}
	}
	return ErrTenantCrossScope
}
