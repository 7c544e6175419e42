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

import "errors"

// Sentinel errors PairingGate.ValidateToken distinguishes so a caller
// can tell a stale token (re-pair) from a garbage one (misconfiguration
// or tampering) instead of branching on an opaque jwt-parse error string.
var (
	// ErrLockedOut is returned by PairingGate.Attempt while a prior run
	// of mismatched codes still holds the caller in backoff.
	ErrLockedOut = errors.New("pairing: locked out, too many mismatched attempts")

	// ErrInvalidToken is returned when a token fails signature or issuer
	// verification.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrTokenExpired is returned when a token's exp claim has passed.
	ErrTokenExpired = errors.New("auth: token expired")
)
