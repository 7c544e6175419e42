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
	"encoding/json"
	"errors"
	"net/http"

	"github.com/haru0416-dev/aegis-agent/pkg/policy"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// statusForError maps the spec's error taxonomy onto HTTP status codes
// for the /webhook and /v1/chat/completions surfaces: a policy.Error's
// Kind decides between a client (4xx) and server (5xx) response.
func statusForError(err error) (int, string) {
	var polErr *policy.Error
	if errors.As(err, &polErr) {
		switch polErr.Kind {
		case policy.KindPolicyDenied:
			return http.StatusForbidden, polErr.Error()
		case policy.KindRateLimited:
			return http.StatusTooManyRequests, polErr.Error()
		case policy.KindProviderPermanent:
			return http.StatusBadGateway, polErr.Error()
		case policy.KindStoreInvariantViolation:
			return http.StatusInternalServerError, polErr.Error()
		default:
			return http.StatusInternalServerError, polErr.Error()
		}
	}
	return http.StatusInternalServerError, err.Error()
}
