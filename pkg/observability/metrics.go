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
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the config-driven Prometheus registry behind the gateway's
// /metrics endpoint. It covers the runtime's four surfaces: turns,
// provider calls, governed tool dispatch, and the memory engine, plus
// the HTTP gateway itself and the policy plane's denials.
type Metrics struct {
	config   *MetricsConfig
	registry *prometheus.Registry

	// Turn metrics
	turns        *prometheus.CounterVec
	turnDuration *prometheus.HistogramVec
	turnErrors   *prometheus.CounterVec

	// Provider metrics
	llmCalls        *prometheus.CounterVec
	llmCallDuration *prometheus.HistogramVec
	llmTokensInput  *prometheus.CounterVec
	llmTokensOutput *prometheus.CounterVec
	llmErrors       *prometheus.CounterVec

	// Tool metrics
	toolCalls        *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec
	toolErrors       *prometheus.CounterVec

	// Memory engine metrics
	memoryAppends   *prometheus.CounterVec
	memoryRecalls   *prometheus.CounterVec
	memoryRecallDur *prometheus.HistogramVec
	memoryForgets   *prometheus.CounterVec

	// Policy plane metrics
	policyDenials     *prometheus.CounterVec
	sanitizerVerdicts *prometheus.CounterVec
	rateLimitDenials  *prometheus.CounterVec

	// HTTP metrics
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	httpRequestSize  *prometheus.HistogramVec
	httpResponseSize *prometheus.HistogramVec
}

// NewMetrics creates a Metrics registry from configuration. Returns
// (nil, nil) when metrics are disabled.
func NewMetrics(cfg *MetricsConfig) (*Metrics, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	cfg.SetDefaults()

	m := &Metrics{
		config:   cfg,
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(prometheus.NewGoCollector())
	m.registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m.initTurnMetrics()
	m.initLLMMetrics()
	m.initToolMetrics()
	m.initMemoryMetrics()
	m.initPolicyMetrics()
	m.initHTTPMetrics()

	return m, nil
}

func (m *Metrics) opts(name, help string) prometheus.Opts {
	return prometheus.Opts{
		Namespace:   m.config.Namespace,
		Subsystem:   m.config.Subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.config.ConstLabels,
	}
}

func (m *Metrics) initTurnMetrics() {
	m.turns = prometheus.NewCounterVec(
		prometheus.CounterOpts(m.opts("turns_total", "Total orchestrator turns executed")),
		[]string{"status"},
	)
	m.turnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   m.config.Subsystem,
			Name:        "turn_duration_seconds",
			Help:        "Turn execution duration",
			ConstLabels: m.config.ConstLabels,
			Buckets:     []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"status"},
	)
	m.turnErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts(m.opts("turn_errors_total", "Turn failures by error kind")),
		[]string{"error_kind"},
	)

	m.registry.MustRegister(m.turns, m.turnDuration, m.turnErrors)
}

func (m *Metrics) initLLMMetrics() {
	m.llmCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts(m.opts("llm_calls_total", "Total LLM API calls")),
		[]string{"model", "provider"},
	)
	m.llmCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   m.config.Subsystem,
			Name:        "llm_call_duration_seconds",
			Help:        "LLM API call duration",
			ConstLabels: m.config.ConstLabels,
			Buckets:     []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"model", "provider"},
	)
	m.llmTokensInput = prometheus.NewCounterVec(
		prometheus.CounterOpts(m.opts("llm_tokens_input_total", "Total input tokens consumed")),
		[]string{"model", "provider"},
	)
	m.llmTokensOutput = prometheus.NewCounterVec(
		prometheus.CounterOpts(m.opts("llm_tokens_output_total", "Total output tokens generated")),
		[]string{"model", "provider"},
	)
	m.llmErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts(m.opts("llm_errors_total", "LLM API errors")),
		[]string{"model", "provider", "error_type"},
	)

	m.registry.MustRegister(m.llmCalls, m.llmCallDuration, m.llmTokensInput, m.llmTokensOutput, m.llmErrors)
}

func (m *Metrics) initToolMetrics() {
	m.toolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts(m.opts("tool_calls_total", "Total governed tool dispatches")),
		[]string{"tool"},
	)
	m.toolCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   m.config.Subsystem,
			Name:        "tool_call_duration_seconds",
			Help:        "Tool execution duration",
			ConstLabels: m.config.ConstLabels,
			Buckets:     []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
		[]string{"tool"},
	)
	m.toolErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts(m.opts("tool_errors_total", "Tool execution errors")),
		[]string{"tool", "error_type"},
	)

	m.registry.MustRegister(m.toolCalls, m.toolCallDuration, m.toolErrors)
}

func (m *Metrics) initMemoryMetrics() {
	m.memoryAppends = prometheus.NewCounterVec(
		prometheus.CounterOpts(m.opts("memory_appends_total", "Events appended to the memory log")),
		[]string{"backend", "layer"},
	)
	m.memoryRecalls = prometheus.NewCounterVec(
		prometheus.CounterOpts(m.opts("memory_recalls_total", "Scoped recall queries executed")),
		[]string{"backend"},
	)
	m.memoryRecallDur = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   m.config.Subsystem,
			Name:        "memory_recall_duration_seconds",
			Help:        "Hybrid recall latency",
			ConstLabels: m.config.ConstLabels,
			Buckets:     []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"backend"},
	)
	m.memoryForgets = prometheus.NewCounterVec(
		prometheus.CounterOpts(m.opts("memory_forgets_total", "Forget operations by mode and outcome")),
		[]string{"backend", "mode", "outcome"},
	)

	m.registry.MustRegister(m.memoryAppends, m.memoryRecalls, m.memoryRecallDur, m.memoryForgets)
}

func (m *Metrics) initPolicyMetrics() {
	m.policyDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts(m.opts("policy_denials_total", "Actions refused by the policy plane")),
		[]string{"rule"},
	)
	m.sanitizerVerdicts = prometheus.NewCounterVec(
		prometheus.CounterOpts(m.opts("sanitizer_verdicts_total", "External-content sanitizer verdicts")),
		[]string{"verdict"},
	)
	m.rateLimitDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts(m.opts("rate_limit_denials_total", "Requests refused by a rate limit window")),
		[]string{"scope"},
	)

	m.registry.MustRegister(m.policyDenials, m.sanitizerVerdicts, m.rateLimitDenials)
}

func (m *Metrics) initHTTPMetrics() {
	m.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts(m.opts("http_requests_total", "Total gateway requests")),
		[]string{"method", "path", "status"},
	)
	m.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   m.config.Subsystem,
			Name:        "http_request_duration_seconds",
			Help:        "Gateway request duration",
			ConstLabels: m.config.ConstLabels,
			Buckets:     prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	m.httpRequestSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   m.config.Subsystem,
			Name:        "http_request_size_bytes",
			Help:        "Gateway request body size",
			ConstLabels: m.config.ConstLabels,
			Buckets:     prometheus.ExponentialBuckets(128, 4, 8),
		},
		[]string{"method", "path"},
	)
	m.httpResponseSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   m.config.Subsystem,
			Name:        "http_response_size_bytes",
			Help:        "Gateway response body size",
			ConstLabels: m.config.ConstLabels,
			Buckets:     prometheus.ExponentialBuckets(128, 4, 8),
		},
		[]string{"method", "path"},
	)

	m.registry.MustRegister(m.httpRequests, m.httpDuration, m.httpRequestSize, m.httpResponseSize)
}

// RecordTurn records one completed turn.
func (m *Metrics) RecordTurn(duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.turns.WithLabelValues(status).Inc()
	m.turnDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordTurnError records a turn failure by its error-taxonomy kind.
func (m *Metrics) RecordTurnError(errorKind string) {
	if m == nil {
		return
	}
	m.turnErrors.WithLabelValues(errorKind).Inc()
}

// RecordProviderCall records one LLM API call.
func (m *Metrics) RecordProviderCall(model, provider string, duration time.Duration) {
	if m == nil {
		return
	}
	m.llmCalls.WithLabelValues(model, provider).Inc()
	m.llmCallDuration.WithLabelValues(model, provider).Observe(duration.Seconds())
}

// RecordProviderTokens records token usage for an LLM call.
func (m *Metrics) RecordProviderTokens(model, provider string, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	m.llmTokensInput.WithLabelValues(model, provider).Add(float64(inputTokens))
	m.llmTokensOutput.WithLabelValues(model, provider).Add(float64(outputTokens))
}

// RecordProviderError records an LLM API error.
func (m *Metrics) RecordProviderError(model, provider, errorType string) {
	if m == nil {
		return
	}
	m.llmErrors.WithLabelValues(model, provider, errorType).Inc()
}

// RecordToolCall records a tool dispatch.
func (m *Metrics) RecordToolCall(toolName string, duration time.Duration) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(toolName).Inc()
	m.toolCallDuration.WithLabelValues(toolName).Observe(duration.Seconds())
}

// RecordToolError records a tool execution error.
func (m *Metrics) RecordToolError(toolName, errorType string) {
	if m == nil {
		return
	}
	m.toolErrors.WithLabelValues(toolName, errorType).Inc()
}

// RecordMemoryAppend records one event append.
func (m *Metrics) RecordMemoryAppend(backend, layer string) {
	if m == nil {
		return
	}
	m.memoryAppends.WithLabelValues(backend, layer).Inc()
}

// RecordMemoryRecall records one scoped recall.
func (m *Metrics) RecordMemoryRecall(backend string, duration time.Duration) {
	if m == nil {
		return
	}
	m.memoryRecalls.WithLabelValues(backend).Inc()
	m.memoryRecallDur.WithLabelValues(backend).Observe(duration.Seconds())
}

// RecordMemoryForget records one forget operation. outcome is
// "complete", "degraded", or "failed".
func (m *Metrics) RecordMemoryForget(backend, mode, outcome string) {
	if m == nil {
		return
	}
	m.memoryForgets.WithLabelValues(backend, mode, outcome).Inc()
}

// RecordPolicyDenial records a policy plane refusal by rule.
func (m *Metrics) RecordPolicyDenial(rule string) {
	if m == nil {
		return
	}
	m.policyDenials.WithLabelValues(rule).Inc()
}

// RecordSanitizerVerdict records an external-content verdict
// ("allow", "sanitize", "block").
func (m *Metrics) RecordSanitizerVerdict(verdict string) {
	if m == nil {
		return
	}
	m.sanitizerVerdicts.WithLabelValues(verdict).Inc()
}

// RecordRateLimitDenial records a refused request by limiter scope.
func (m *Metrics) RecordRateLimitDenial(scope string) {
	if m == nil {
		return
	}
	m.rateLimitDenials.WithLabelValues(scope).Inc()
}

// RecordHTTPRequest records one gateway request.
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration, reqSize, respSize int64) {
	if m == nil {
		return
	}
	status := strconv.Itoa(statusCode)
	m.httpRequests.WithLabelValues(method, path, status).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	if reqSize > 0 {
		m.httpRequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	}
	if respSize > 0 {
		m.httpResponseSize.WithLabelValues(method, path).Observe(float64(respSize))
	}
}

// Handler returns the HTTP handler serving this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry so the otel metric bridge
// can attach its instruments to the same /metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
