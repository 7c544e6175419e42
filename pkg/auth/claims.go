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

// Package auth covers both of the gateway's bearer-token flows: the
// self-issued pairing tokens a device gets from /pair (PairingGate, in
// pairing.go, HS256 against a local signing key) and, when an external
// identity provider is configured, JWKS-verified tokens on the
// OpenAI-compatible surface (JWTValidator, in jwt.go). Both paths
// reduce a token to the same Claims shape and attach it to the request
// context.
package auth

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

// claimsContextKey is the context key for storing validated claims.
const claimsContextKey contextKey = "auth_claims"

// Claims is what PairingGate.ValidateToken extracts from a previously
// issued bearer token. It is attached to the request context so a
// handler downstream of authenticateBearer can log or audit which
// subject a call is running under without re-parsing the token.
type Claims struct {
	// Subject identifies who the token was issued for (sub claim);
	// every token the pairing gate issues carries "paired-client" since
	// pairing has no per-user identity, only a single shared secret.
	// Provider-issued tokens carry the provider's user id.
	Subject string

	// IssuedAt and ExpiresAt come directly off the token.
	IssuedAt  time.Time
	ExpiresAt time.Time

	// Email, Role, and TenantID are optional provider-issued claims; a
	// pairing token never carries them. TenantID, when present, scopes
	// the request's memory writes and recalls to that tenant.
	Email    string
	Role     string
	TenantID string
}

// ClaimsFromContext extracts claims from a context. Returns nil if no
// claims are present.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsContextKey).(*Claims)
	return claims
}

// ContextWithClaims returns a new context carrying claims.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}
