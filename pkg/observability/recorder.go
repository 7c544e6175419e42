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
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	globalMetrics GlobalMetrics
	metricsMu     sync.RWMutex
)

// GlobalMetrics is the per-call instrumentation interface backed by otel
// metric instruments (PrometheusMetrics below). Distinct from the *Metrics
// struct in metrics.go, which is the config-driven Prometheus registry/HTTP
// handler wired through the observability Manager.
type GlobalMetrics interface {
	// RecordTurn records one completed orchestrator turn.
	RecordTurn(ctx context.Context, duration time.Duration, tokens int, err error)

	// RecordToolExecution records one governed tool dispatch.
	RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error)

	// RecordProviderCall records one LLM API call.
	RecordProviderCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error)

	// RecordMemoryOp records one memory engine operation; op is
	// "append", "recall", or "forget".
	RecordMemoryOp(ctx context.Context, op, backend string, duration time.Duration, err error)

	// RecordHTTPRequest records one gateway request.
	RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration, responseSize int)
}

// PrometheusMetrics implements GlobalMetrics over otel instruments built by
// initGlobalRecorder.
type PrometheusMetrics struct {
	turnDuration    metric.Float64Histogram
	turnsTotal      metric.Int64Counter
	turnErrorsTotal metric.Int64Counter
	turnTokensTotal metric.Int64Counter

	toolDuration    metric.Float64Histogram
	toolCallsTotal  metric.Int64Counter
	toolErrorsTotal metric.Int64Counter

	llmDuration     metric.Float64Histogram
	llmInputTokens  metric.Int64Counter
	llmOutputTokens metric.Int64Counter
	llmErrorsTotal  metric.Int64Counter

	memoryDuration    metric.Float64Histogram
	memoryOpsTotal    metric.Int64Counter
	memoryErrorsTotal metric.Int64Counter

	httpRequestsTotal metric.Int64Counter
	httpDuration      metric.Float64Histogram
	httpResponseSize  metric.Int64Histogram
}

// RecordTurn records one completed orchestrator turn.
func (m *PrometheusMetrics) RecordTurn(ctx context.Context, duration time.Duration, tokens int, err error) {
	if m == nil || m.turnDuration == nil {
		return
	}
	status := statusAttr(err)
	m.turnsTotal.Add(ctx, 1, metric.WithAttributes(status))
	m.turnDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(status))
	if tokens > 0 {
		m.turnTokensTotal.Add(ctx, int64(tokens))
	}
	if err != nil {
		m.turnErrorsTotal.Add(ctx, 1)
	}
}

// RecordToolExecution records one governed tool dispatch.
func (m *PrometheusMetrics) RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error) {
	if m == nil || m.toolDuration == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String(AttrToolName, tool), statusAttr(err))
	m.toolCallsTotal.Add(ctx, 1, attrs)
	m.toolDuration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		m.toolErrorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrToolName, tool)))
	}
}

// RecordProviderCall records one LLM API call.
func (m *PrometheusMetrics) RecordProviderCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	if m == nil || m.llmDuration == nil {
		return
	}
	modelAttr := attribute.String(AttrLLMModel, model)
	m.llmDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(modelAttr, statusAttr(err)))
	if inputTokens > 0 {
		m.llmInputTokens.Add(ctx, int64(inputTokens), metric.WithAttributes(modelAttr))
	}
	if outputTokens > 0 {
		m.llmOutputTokens.Add(ctx, int64(outputTokens), metric.WithAttributes(modelAttr))
	}
	if err != nil {
		m.llmErrorsTotal.Add(ctx, 1, metric.WithAttributes(modelAttr))
	}
}

// RecordMemoryOp records one memory engine operation.
func (m *PrometheusMetrics) RecordMemoryOp(ctx context.Context, op, backend string, duration time.Duration, err error) {
	if m == nil || m.memoryDuration == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("memory.op", op),
		attribute.String(AttrBackend, backend),
		statusAttr(err),
	)
	m.memoryOpsTotal.Add(ctx, 1, attrs)
	m.memoryDuration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		m.memoryErrorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("memory.op", op)))
	}
}

// RecordHTTPRequest records one gateway request.
func (m *PrometheusMetrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration, responseSize int) {
	if m == nil || m.httpRequestsTotal == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPPath, path),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	)
	m.httpRequestsTotal.Add(ctx, 1, attrs)
	m.httpDuration.Record(ctx, duration.Seconds(), attrs)
	if responseSize > 0 {
		m.httpResponseSize.Record(ctx, int64(responseSize))
	}
}

func statusAttr(err error) attribute.KeyValue {
	if err != nil {
		return attribute.String("status", "error")
	}
	return attribute.String("status", "ok")
}

// SetGlobalMetrics installs the process-wide recorder.
func SetGlobalMetrics(m GlobalMetrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetrics = m
}

// GetGlobalMetrics returns the installed recorder, or a no-op one.
func GetGlobalMetrics() GlobalMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	if globalMetrics == nil {
		return noopGlobalMetrics{}
	}
	return globalMetrics
}

type noopGlobalMetrics struct{}

func (noopGlobalMetrics) RecordTurn(context.Context, time.Duration, int, error)             {}
func (noopGlobalMetrics) RecordToolExecution(context.Context, string, time.Duration, error) {}
func (noopGlobalMetrics) RecordProviderCall(context.Context, string, time.Duration, int, int, error) {
}
func (noopGlobalMetrics) RecordMemoryOp(context.Context, string, string, time.Duration, error) {}
func (noopGlobalMetrics) RecordHTTPRequest(context.Context, string, string, int, time.Duration, int) {
}

var _ GlobalMetrics = (*PrometheusMetrics)(nil)
var _ GlobalMetrics = noopGlobalMetrics{}
