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

package llms

import (
	"errors"
	"fmt"

	"github.com/haru0416-dev/aegis-agent/pkg/policy"
)

// ProviderError wraps a non-2xx HTTP response from an LLM backend with the
// status code, so callers can classify it as transient (5xx, retryable by
// falling back to a backup provider) or permanent (4xx, surfaced as-is)
// without parsing the error string.
type ProviderError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s API request failed with status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Transient reports whether the failure is worth retrying against a
// different provider: server errors and 429s, but never 4xx client errors
// (bad request, auth failure, content policy) which will fail identically
// on any backend.
func (e *ProviderError) Transient() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// Kind maps the error onto the spec's error taxonomy.
func (e *ProviderError) Kind() policy.ErrorKind {
	if e.Transient() {
		return policy.KindProviderTransient
	}
	return policy.KindProviderPermanent
}

// classifyError reports whether err should trigger provider fallback. A nil
// or non-ProviderError (marshal failure, context cancellation, malformed
// response body) is treated as permanent: retrying it against a different
// backend wouldn't help.
func classifyError(err error) bool {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Transient()
	}
	return false
}
