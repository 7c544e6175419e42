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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/haru0416-dev/aegis-agent/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAnthropicAgainst(t *testing.T, url string) *AnthropicProvider {
	t.Helper()
	provider, err := NewAnthropicProviderFromConfig(&config.LLMProviderConfig{
		Type:   "anthropic",
		Model:  "claude-3-5-sonnet-20241022",
		Host:   url,
		APIKey: "sk-ant-test-key",
	})
	require.NoError(t, err)
	return provider
}

func TestAnthropicProvider_Defaults(t *testing.T) {
	provider := NewAnthropicProvider("sk-ant-test-key", "claude-3-5-sonnet-20241022")

	assert.Equal(t, "claude-3-5-sonnet-20241022", provider.GetModelName())
	assert.Equal(t, 4096, provider.GetMaxTokens())
	assert.Equal(t, 1.0, provider.GetTemperature())
	assert.NoError(t, provider.Close())
}

func TestAnthropicProvider_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-ant-test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		var req AnthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "claude-3-5-sonnet-20241022", req.Model)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"content": [{"type": "text", "text": "Hello back"}],
			"usage": {"input_tokens": 10, "output_tokens": 15}
		}`))
	}))
	defer server.Close()

	provider := newAnthropicAgainst(t, server.URL)
	text, toolCalls, tokens, err := provider.Generate(context.Background(), []Message{{Role: "user", Content: "Hello"}}, nil)

	require.NoError(t, err)
	assert.Equal(t, "Hello back", text)
	assert.Empty(t, toolCalls)
	assert.Equal(t, 25, tokens)
}

func TestAnthropicProvider_GenerateToolUse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req AnthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Tools, 1)
		assert.Equal(t, "lookup", req.Tools[0].Name)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"content": [{"type": "tool_use", "id": "toolu_123", "name": "lookup", "input": {"key": "value"}}],
			"usage": {"input_tokens": 20, "output_tokens": 10}
		}`))
	}))
	defer server.Close()

	tools := []ToolDefinition{{
		Name:        "lookup",
		Description: "Look something up",
		Parameters: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"key": map[string]interface{}{"type": "string"}},
		},
	}}

	provider := newAnthropicAgainst(t, server.URL)
	text, toolCalls, tokens, err := provider.Generate(context.Background(), []Message{{Role: "user", Content: "use the tool"}}, tools)

	require.NoError(t, err)
	assert.Empty(t, text)
	require.Len(t, toolCalls, 1)
	assert.Equal(t, "toolu_123", toolCalls[0].ID)
	assert.Equal(t, "lookup", toolCalls[0].Name)
	assert.Equal(t, 30, tokens)
}

func TestAnthropicProvider_GenerateHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": {"type": "authentication_error", "message": "bad key"}}`))
	}))
	defer server.Close()

	provider := newAnthropicAgainst(t, server.URL)
	_, _, _, err := provider.Generate(context.Background(), []Message{{Role: "user", Content: "Hello"}}, nil)
	assert.Error(t, err)
}

func TestAnthropicProvider_GenerateInvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer server.Close()

	provider := newAnthropicAgainst(t, server.URL)
	_, _, _, err := provider.Generate(context.Background(), []Message{{Role: "user", Content: "Hello"}}, nil)
	assert.Error(t, err)
}

func TestAnthropicProvider_GenerateStreaming(t *testing.T) {
	events := []string{
		`event: message_start
data: {"type": "message_start", "message": {"usage": {"input_tokens": 10, "output_tokens": 0}}}`,
		`event: content_block_start
data: {"type": "content_block_start", "index": 0, "content_block": {"type": "text", "text": ""}}`,
		`event: content_block_delta
data: {"type": "content_block_delta", "index": 0, "delta": {"type": "text_delta", "text": "Hello"}}`,
		`event: content_block_delta
data: {"type": "content_block_delta", "index": 0, "delta": {"type": "text_delta", "text": " there"}}`,
		`event: content_block_stop
data: {"type": "content_block_stop", "index": 0}`,
		`event: message_delta
data: {"type": "message_delta", "delta": {"stop_reason": "end_turn"}, "usage": {"output_tokens": 8}}`,
		`event: message_stop
data: {"type": "message_stop"}`,
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req AnthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		for _, event := range events {
			_, _ = w.Write([]byte(event + "\n\n"))
		}
	}))
	defer server.Close()

	provider := newAnthropicAgainst(t, server.URL)
	ch, err := provider.GenerateStreaming(context.Background(), []Message{{Role: "user", Content: "Hello"}}, nil)
	require.NoError(t, err)

	var text string
	for chunk := range ch {
		if chunk.Type == "text" {
			text += chunk.Text
		}
	}
	assert.Equal(t, "Hello there", text)
}

func TestAnthropicProvider_GenerateStreamingError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	// Stream setup always succeeds; transport failures arrive as an
	// error chunk on the channel.
	provider := newAnthropicAgainst(t, server.URL)
	ch, err := provider.GenerateStreaming(context.Background(), []Message{{Role: "user", Content: "Hello"}}, nil)
	require.NoError(t, err)

	sawError := false
	for chunk := range ch {
		if chunk.Type == "error" {
			sawError = true
		}
	}
	assert.True(t, sawError)
}
