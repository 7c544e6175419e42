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
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// meterProvider backs the GlobalMetrics instruments recorded through
// GetGlobalMetrics/SetGlobalMetrics. Unlike the Metrics struct (which
// registers its own CounterVec/HistogramVec families by hand), these
// instruments are built against an otel Meter and bridged into the same
// Prometheus registry so both surfaces appear on one /metrics endpoint.
type meterProvider struct {
	provider *sdkmetric.MeterProvider
}

// initGlobalRecorder builds an otel MeterProvider bridged to reg, constructs
// the instrument set PrometheusMetrics needs, and installs it as the
// process-global recorder. Call once, after the registry passed in has been
// created by NewMetrics.
func initGlobalRecorder(cfg MetricsConfig, reg *prometheus.Registry) (*meterProvider, error) {
	exporter, err := otelprometheus.New(
		otelprometheus.WithRegisterer(reg),
		otelprometheus.WithNamespace(cfg.Namespace),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create otel prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("aegis-agent")

	instruments, err := buildInstruments(meter)
	if err != nil {
		return nil, fmt.Errorf("failed to build metric instruments: %w", err)
	}

	SetGlobalMetrics(instruments)

	return &meterProvider{provider: provider}, nil
}

// Shutdown flushes and shuts down the meter provider.
func (p *meterProvider) Shutdown(ctx context.Context) error {
	if p == nil || p.provider == nil {
		return nil
	}
	return p.provider.Shutdown(ctx)
}

func buildInstruments(meter metric.Meter) (*PrometheusMetrics, error) {
	var errs []error
	must := func(name string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	m := &PrometheusMetrics{}
	var err error

	m.turnDuration, err = meter.Float64Histogram("agent.turn.duration", metric.WithUnit("s"))
	must("turn.duration", err)
	m.turnsTotal, err = meter.Int64Counter("agent.turns")
	must("turns", err)
	m.turnErrorsTotal, err = meter.Int64Counter("agent.turn.errors")
	must("turn.errors", err)
	m.turnTokensTotal, err = meter.Int64Counter("agent.turn.tokens")
	must("turn.tokens", err)

	m.toolDuration, err = meter.Float64Histogram("agent.tool.call.duration", metric.WithUnit("s"))
	must("tool.call.duration", err)
	m.toolCallsTotal, err = meter.Int64Counter("agent.tool.calls")
	must("tool.calls", err)
	m.toolErrorsTotal, err = meter.Int64Counter("agent.tool.errors")
	must("tool.errors", err)

	m.llmDuration, err = meter.Float64Histogram("agent.llm.call.duration", metric.WithUnit("s"))
	must("llm.call.duration", err)
	m.llmInputTokens, err = meter.Int64Counter("agent.llm.tokens.input")
	must("llm.tokens.input", err)
	m.llmOutputTokens, err = meter.Int64Counter("agent.llm.tokens.output")
	must("llm.tokens.output", err)
	m.llmErrorsTotal, err = meter.Int64Counter("agent.llm.errors")
	must("llm.errors", err)

	m.memoryDuration, err = meter.Float64Histogram("agent.memory.op.duration", metric.WithUnit("s"))
	must("memory.op.duration", err)
	m.memoryOpsTotal, err = meter.Int64Counter("agent.memory.ops")
	must("memory.ops", err)
	m.memoryErrorsTotal, err = meter.Int64Counter("agent.memory.errors")
	must("memory.errors", err)

	m.httpRequestsTotal, err = meter.Int64Counter("agent.http.requests")
	must("http.requests", err)
	m.httpDuration, err = meter.Float64Histogram("agent.http.duration", metric.WithUnit("s"))
	must("http.duration", err)
	m.httpResponseSize, err = meter.Int64Histogram("agent.http.response.size", metric.WithUnit("By"))
	must("http.response.size", err)

	if len(errs) > 0 {
		return nil, fmt.Errorf("%d instrument(s) failed: %v", len(errs), errs)
	}

	return m, nil
}
