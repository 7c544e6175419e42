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

package server

import (
	"net/http"
	"strconv"

	"github.com/haru0416-dev/aegis-agent/pkg/auth"
)

// handlePair answers POST /pair: the caller presents the
// shared pairing code in X-Pairing-Code and receives a bearer token on
// match, 403 on mismatch, or 429 with Retry-After under lockout.
func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	if s.gate == nil {
		writeJSONError(w, http.StatusNotFound, "pairing is not configured")
		return
	}

	candidate := r.Header.Get("X-Pairing-Code")
	if candidate == "" {
		writeJSONError(w, http.StatusBadRequest, "missing X-Pairing-Code header")
		return
	}

	token, retryAfter, err := s.gate.Attempt(remoteCallerKey(r), candidate)
	if err != nil {
		if err == auth.ErrLockedOut {
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
			writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
				"error":       "locked out",
				"retry_after": retryAfter.Seconds(),
			})
			return
		}
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
		writeJSONError(w, http.StatusForbidden, "pairing code mismatch")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"paired": true,
		"token":  token,
	})
}
