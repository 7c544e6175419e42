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

package auth

import (
	"crypto/subtle"
	"fmt"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// pairingTokenTTL bounds how long a token /pair issues remains valid;
// a paired client is expected to re-pair rather than hold one
// indefinitely.
const pairingTokenTTL = 30 * 24 * time.Hour

// PairingGate matches an inbound pairing code against the configured
// secret with a constant-time comparison, and locks a caller out with
// exponential backoff after repeated mismatches — "under
// lockout, 429 with retry_after".
type PairingGate struct {
	code       string
	signingKey []byte
	issuer     string

	mu       sync.Mutex
	failures map[string]*lockoutState
}

type lockoutState struct {
	count       int
	lockedUntil time.Time
}

// NewPairingGate builds a gate for the configured pairing code, signing
// issued tokens with signingKey under HS256.
func NewPairingGate(code, signingKey, issuer string) *PairingGate {
	return &PairingGate{
		code:       code,
		signingKey: []byte(signingKey),
		issuer:     issuer,
		failures:   make(map[string]*lockoutState),
	}
}

// Attempt checks candidate against the configured code for the given
// caller key (typically the remote IP). On match it returns a signed
// bearer token and clears any lockout state; on mismatch it records a
// failure and returns an error — ErrLockedOut while backoff is active,
// or a plain mismatch error otherwise.
func (g *PairingGate) Attempt(callerKey, candidate string) (token string, retryAfter time.Duration, err error) {
	g.mu.Lock()
	state := g.failures[callerKey]
	if state != nil && time.Now().Before(state.lockedUntil) {
		retryAfter = time.Until(state.lockedUntil)
		g.mu.Unlock()
		return "", retryAfter, ErrLockedOut
	}
	g.mu.Unlock()

	if subtle.ConstantTimeCompare([]byte(candidate), []byte(g.code)) != 1 {
		g.mu.Lock()
		if state == nil {
			state = &lockoutState{}
			g.failures[callerKey] = state
		}
		state.count++
		backoff := time.Duration(1<<uint(min(state.count, 6))) * time.Second
		state.lockedUntil = time.Now().Add(backoff)
		g.mu.Unlock()
		return "", backoff, fmt.Errorf("pairing code mismatch")
	}

	g.mu.Lock()
	delete(g.failures, callerKey)
	g.mu.Unlock()

	tok, err := g.issueToken()
	if err != nil {
		return "", 0, fmt.Errorf("issue pairing token: %w", err)
	}
	return tok, 0, nil
}

func (g *PairingGate) issueToken() (string, error) {
	now := time.Now()
	builder := jwt.NewBuilder().
		Issuer(g.issuer).
		IssuedAt(now).
		Expiration(now.Add(pairingTokenTTL)).
		Subject("paired-client")
	tok, err := builder.Build()
	if err != nil {
		return "", err
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, g.signingKey))
	if err != nil {
		return "", err
	}
	return string(signed), nil
}

// ValidateToken verifies a bearer token /pair previously issued and
// returns the Claims it carries. A token whose signature or issuer
// doesn't check out fails with ErrInvalidToken; one that parses but has
// passed its exp claim fails with ErrTokenExpired, so a caller can
// distinguish "re-pair" from "this token was never ours" instead of
// branching on an opaque parser error.
func (g *PairingGate) ValidateToken(token string) (*Claims, error) {
	tok, err := jwt.Parse([]byte(token),
		jwt.WithKey(jwa.HS256, g.signingKey),
		jwt.WithValidate(false),
	)
	if err != nil || tok.Issuer() != g.issuer {
		return nil, ErrInvalidToken
	}
	exp := tok.Expiration()
	if exp.IsZero() || time.Now().After(exp) {
		return nil, ErrTokenExpired
	}
	return &Claims{Subject: tok.Subject(), IssuedAt: tok.IssuedAt(), ExpiresAt: exp}, nil
}
