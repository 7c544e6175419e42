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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPairingGateIssuesValidatableToken(t *testing.T) {
	gate := NewPairingGate("secret-code", "signing-key", "aegis-agent")

	token, retryAfter, err := gate.Attempt("1.2.3.4", "secret-code")
	require.NoError(t, err)
	require.Zero(t, retryAfter)
	require.NotEmpty(t, token)

	claims, err := gate.ValidateToken(token)
	require.NoError(t, err)
	require.Equal(t, "paired-client", claims.Subject)
	require.False(t, claims.ExpiresAt.IsZero())
}

func TestPairingGateMismatchThenLockout(t *testing.T) {
	gate := NewPairingGate("secret-code", "signing-key", "aegis-agent")

	_, retryAfter, err := gate.Attempt("1.2.3.4", "wrong")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrLockedOut)
	require.Greater(t, retryAfter.Seconds(), 0.0)

	// The first mismatch opened a backoff window; even the right code is
	// locked out until it passes.
	_, retryAfter, err = gate.Attempt("1.2.3.4", "secret-code")
	require.ErrorIs(t, err, ErrLockedOut)
	require.Greater(t, retryAfter.Seconds(), 0.0)

	// A different caller is unaffected.
	token, _, err := gate.Attempt("5.6.7.8", "secret-code")
	require.NoError(t, err)
	require.NotEmpty(t, token)
}

func TestPairingGateRejectsForeignToken(t *testing.T) {
	gate := NewPairingGate("secret-code", "signing-key", "aegis-agent")
	other := NewPairingGate("secret-code", "other-signing-key", "aegis-agent")

	token, _, err := other.Attempt("1.2.3.4", "secret-code")
	require.NoError(t, err)

	_, err = gate.ValidateToken(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}
