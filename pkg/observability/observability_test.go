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
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestPrometheusMetricsNilSafe(t *testing.T) {
	ctx := context.Background()

	// A zero-value recorder (no instruments built) must swallow calls.
	metrics := &PrometheusMetrics{}
	metrics.RecordTurn(ctx, 100*time.Millisecond, 150, nil)
	metrics.RecordToolExecution(ctx, "grep_search", 50*time.Millisecond, nil)
	metrics.RecordProviderCall(ctx, "gpt-4o", 500*time.Millisecond, 100, 50, nil)
	metrics.RecordMemoryOp(ctx, "recall", "sql", 5*time.Millisecond, nil)
	metrics.RecordHTTPRequest(ctx, "POST", "/webhook", 200, 20*time.Millisecond, 512)
}

func TestGlobalMetricsInstallAndFallback(t *testing.T) {
	ctx := context.Background()

	// Before installation the getter hands back a working no-op.
	GetGlobalMetrics().RecordTurn(ctx, time.Millisecond, 1, nil)

	SetGlobalMetrics(noopGlobalMetrics{})
	defer SetGlobalMetrics(nil)

	retrieved := GetGlobalMetrics()
	if retrieved == nil {
		t.Fatal("expected non-nil metrics after SetGlobalMetrics")
	}
	retrieved.RecordProviderCall(ctx, "test-model", 300*time.Millisecond, 10, 5, nil)
}

func TestMetricsDisabledReturnsNil(t *testing.T) {
	m, err := NewMetrics(&MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	if m != nil {
		t.Error("expected nil Metrics when disabled")
	}

	// A nil *Metrics is safe to record against.
	m.RecordTurn(time.Second, nil)
	m.RecordMemoryForget("columnar", "soft", "degraded")
}

func TestMetricsRegistryServesFamilies(t *testing.T) {
	cfg := &MetricsConfig{Enabled: true}
	m, err := NewMetrics(cfg)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	m.RecordTurn(250*time.Millisecond, nil)
	m.RecordProviderCall("gpt-4o", "openai", 500*time.Millisecond)
	m.RecordProviderTokens("gpt-4o", "openai", 120, 40)
	m.RecordToolCall("execute_command", 10*time.Millisecond)
	m.RecordMemoryAppend("sql", "semantic")
	m.RecordMemoryRecall("sql", 3*time.Millisecond)
	m.RecordMemoryForget("columnar", "soft", "degraded")
	m.RecordSanitizerVerdict("sanitize")
	m.RecordRateLimitDenial("entity")
	m.RecordHTTPRequest("POST", "/webhook", 200, 20*time.Millisecond, 256, 512)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Result().Body)
	out := string(body)

	for _, family := range []string{
		"agent_turns_total",
		"agent_llm_calls_total",
		"agent_llm_tokens_input_total",
		"agent_tool_calls_total",
		"agent_memory_appends_total",
		"agent_memory_recalls_total",
		"agent_memory_forgets_total",
		"agent_sanitizer_verdicts_total",
		"agent_rate_limit_denials_total",
		"agent_http_requests_total",
	} {
		if !strings.Contains(out, family) {
			t.Errorf("expected metric family %s in /metrics output", family)
		}
	}
}

func TestHTTPMiddlewareRecords(t *testing.T) {
	m, err := NewMetrics(&MetricsConfig{Enabled: true})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	handler := MetricsMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("unexpected status: %d", rec.Code)
	}

	metricsRec := httptest.NewRecorder()
	m.Handler().ServeHTTP(metricsRec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(metricsRec.Result().Body)
	if !strings.Contains(string(body), `status="418"`) {
		t.Error("expected middleware to record the handler's status code")
	}
}

func TestNoopManager(t *testing.T) {
	m := NoopManager()
	if m.TracingEnabled() {
		t.Error("noop manager must report tracing disabled")
	}
	if m.MetricsEnabled() {
		t.Error("noop manager must report metrics disabled")
	}
	if err := m.Shutdown(context.Background()); err != nil {
		t.Errorf("noop shutdown: %v", err)
	}
}

func TestNoopMetricsSatisfiesRecorder(t *testing.T) {
	var r Recorder = NoopMetrics{}
	r.RecordTurn(time.Second, nil)
	r.RecordToolError("execute_command", "timeout")
	r.RecordPolicyDenial("command_allowlist")
}
