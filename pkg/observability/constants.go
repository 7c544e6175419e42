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

// Service attributes (OpenTelemetry semantic conventions).
const (
	AttrServiceName     = "service.name"
	AttrServiceVersion  = "service.version"
	AttrServiceInstance = "service.instance.id"
)

// GenAI semantic conventions, applied to provider-call spans.
const (
	AttrGenAISystem = "gen_ai.system"

	// AttrGenAIOperationName values: "chat", "execute_tool".
	AttrGenAIOperationName = "gen_ai.operation.name"

	AttrGenAIRequestModel       = "gen_ai.request.model"
	AttrGenAIRequestTemperature = "gen_ai.request.temperature"
	AttrGenAIRequestMaxTokens   = "gen_ai.request.max_tokens"

	// AttrGenAIResponseFinishReason values: "stop", "length",
	// "tool_calls", "content_filter".
	AttrGenAIResponseFinishReason = "gen_ai.response.finish_reason"

	AttrGenAIUsageInputTokens  = "gen_ai.usage.input_tokens"
	AttrGenAIUsageOutputTokens = "gen_ai.usage.output_tokens"

	AttrGenAIToolName   = "gen_ai.tool.name"
	AttrGenAIToolCallID = "gen_ai.tool.call.id"
)

// Runtime-specific attributes.
const (
	AttrEntityID   = "agent.entity_id"
	AttrSlotKey    = "agent.memory.slot_key"
	AttrLayer      = "agent.memory.layer"
	AttrBackend    = "agent.memory.backend"
	AttrForgetMode = "agent.memory.forget_mode"
	AttrStopReason = "agent.turn.stop_reason"

	// AttrLLMRequest/Response hold serialized payloads, only set when
	// TracingConfig.CapturePayloads is enabled.
	AttrLLMRequest  = "agent.llm.request"
	AttrLLMResponse = "agent.llm.response"

	AttrToolArgs     = "agent.tool.args"
	AttrToolResponse = "agent.tool.response"
)

// Plain attribute names for packages that instrument spans directly
// against a bare otel.Tracer rather than through the Tracer helpers.
const (
	AttrToolName        = "tool.name"
	AttrLLMModel        = "llm.model"
	AttrLLMTokensInput  = "llm.tokens.input"
	AttrLLMTokensOutput = "llm.tokens.output"
	AttrErrorType       = "error.type"
	AttrErrorMessage    = "error.message"
)

// HTTP attributes.
const (
	AttrHTTPMethod       = "http.method"
	AttrHTTPPath         = "http.route"
	AttrHTTPStatusCode   = "http.status_code"
	AttrHTTPRequestSize  = "http.request.body.size"
	AttrHTTPResponseSize = "http.response.body.size"
)

// Span names.
const (
	SpanTurnExecute   = "agent.turn.execute"
	SpanProviderCall  = "agent.llm.call"
	SpanToolExecution = "agent.tool.execute"
	SpanMemoryAppend  = "agent.memory.append"
	SpanMemoryRecall  = "agent.memory.recall"
	SpanMemoryForget  = "agent.memory.forget"
	SpanHTTPRequest   = "agent.http.request"
)

// Default values.
const (
	DefaultServiceName  = "aegis-agent"
	DefaultSamplingRate = 1.0
	DefaultOTLPEndpoint = "localhost:4317"
	DefaultMetricsPath  = "/metrics"
)

// GenAI operation names (for AttrGenAIOperationName).
const (
	OpChat     = "chat"
	OpToolCall = "execute_tool"
)
