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

package observability

import (
	"net/http"
	"time"
)

// NoopManager returns a Manager with tracing and metrics disabled, for
// tests and for runtimes whose observability config is absent.
func NoopManager() *Manager {
	return &Manager{}
}

// NoopMetrics is a Metrics stand-in whose recorders do nothing.
type NoopMetrics struct{}

func (NoopMetrics) RecordTurn(_ time.Duration, _ error) {}
func (NoopMetrics) RecordTurnError(_ string)            {}

func (NoopMetrics) RecordProviderCall(_, _ string, _ time.Duration) {}
func (NoopMetrics) RecordProviderTokens(_, _ string, _, _ int)      {}
func (NoopMetrics) RecordProviderError(_, _, _ string)              {}

func (NoopMetrics) RecordToolCall(_ string, _ time.Duration) {}
func (NoopMetrics) RecordToolError(_, _ string)              {}

func (NoopMetrics) RecordMemoryAppend(_, _ string)               {}
func (NoopMetrics) RecordMemoryRecall(_ string, _ time.Duration) {}
func (NoopMetrics) RecordMemoryForget(_, _, _ string)            {}
func (NoopMetrics) RecordPolicyDenial(_ string)                  {}
func (NoopMetrics) RecordSanitizerVerdict(_ string)              {}
func (NoopMetrics) RecordRateLimitDenial(_ string)               {}

func (NoopMetrics) RecordHTTPRequest(_, _ string, _ int, _ time.Duration, _, _ int64) {}

func (NoopMetrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("metrics not enabled"))
	})
}

// Recorder is the recording surface shared by *Metrics and NoopMetrics,
// so callers can inject either.
type Recorder interface {
	RecordTurn(duration time.Duration, err error)
	RecordTurnError(errorKind string)

	RecordProviderCall(model, provider string, duration time.Duration)
	RecordProviderTokens(model, provider string, inputTokens, outputTokens int)
	RecordProviderError(model, provider, errorType string)

	RecordToolCall(toolName string, duration time.Duration)
	RecordToolError(toolName, errorType string)

	RecordMemoryAppend(backend, layer string)
	RecordMemoryRecall(backend string, duration time.Duration)
	RecordMemoryForget(backend, mode, outcome string)
	RecordPolicyDenial(rule string)
	RecordSanitizerVerdict(verdict string)
	RecordRateLimitDenial(scope string)

	RecordHTTPRequest(method, path string, statusCode int, duration time.Duration, reqSize, respSize int64)
}

// Ensure implementations satisfy the interface.
var (
	_ Recorder = (*Metrics)(nil)
	_ Recorder = NoopMetrics{}
)
