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
	"strings"
	"testing"

	"github.com/haru0416-dev/aegis-agent/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOpenAIAgainst(t *testing.T, url string) *OpenAIProvider {
	t.Helper()
	provider, err := NewOpenAIProviderFromConfig(&config.LLMProviderConfig{
		Type:   "openai",
		Model:  "gpt-4o",
		Host:   url,
		APIKey: "sk-test-key",
	})
	require.NoError(t, err)
	return provider
}

func TestOpenAIProvider_Defaults(t *testing.T) {
	provider := NewOpenAIProvider("sk-test-key", "gpt-4o")

	assert.Equal(t, "gpt-4o", provider.GetModelName())
	assert.Equal(t, 4096, provider.GetMaxTokens())
	assert.Equal(t, 0.7, provider.GetTemperature())
	assert.NoError(t, provider.Close())
}

func TestOpenAIProvider_RequiresAPIKey(t *testing.T) {
	_, err := NewOpenAIProviderFromConfig(&config.LLMProviderConfig{Type: "openai", Model: "gpt-4o"})
	assert.Error(t, err)
}

func TestOpenAIProvider_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "Bearer sk-test-key"))

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o", req["model"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"role": "assistant", "content": "Hello back"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 15, "total_tokens": 25}
		}`))
	}))
	defer server.Close()

	provider := newOpenAIAgainst(t, server.URL)
	text, toolCalls, tokens, err := provider.Generate(context.Background(), []Message{{Role: "user", Content: "Hello"}}, nil)

	require.NoError(t, err)
	assert.Equal(t, "Hello back", text)
	assert.Empty(t, toolCalls)
	assert.Equal(t, 25, tokens)
}

func TestOpenAIProvider_GenerateToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		tools, _ := req["tools"].([]interface{})
		require.Len(t, tools, 1)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices": [{
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{
						"id": "call_123",
						"type": "function",
						"function": {"name": "lookup", "arguments": "{\"key\": \"value\"}"}
					}]
				},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 20, "completion_tokens": 10, "total_tokens": 30}
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

	provider := newOpenAIAgainst(t, server.URL)
	text, toolCalls, tokens, err := provider.Generate(context.Background(), []Message{{Role: "user", Content: "use the tool"}}, tools)

	require.NoError(t, err)
	assert.Empty(t, text)
	require.Len(t, toolCalls, 1)
	assert.Equal(t, "call_123", toolCalls[0].ID)
	assert.Equal(t, "lookup", toolCalls[0].Name)
	assert.Equal(t, 30, tokens)
}

func TestOpenAIProvider_GenerateHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": {"message": "bad key", "type": "invalid_request_error"}}`))
	}))
	defer server.Close()

	provider := newOpenAIAgainst(t, server.URL)
	_, _, _, err := provider.Generate(context.Background(), []Message{{Role: "user", Content: "Hello"}}, nil)
	assert.Error(t, err)
}

func TestOpenAIProvider_GenerateInvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer server.Close()

	provider := newOpenAIAgainst(t, server.URL)
	_, _, _, err := provider.Generate(context.Background(), []Message{{Role: "user", Content: "Hello"}}, nil)
	assert.Error(t, err)
}

func TestOpenAIProvider_GenerateStreaming(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, true, req["stream"])

		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`data: {"choices":[{"delta":{"role":"assistant"}}]}`,
			`data: {"choices":[{"delta":{"content":"Hello"}}]}`,
			`data: {"choices":[{"delta":{"content":" there"}}]}`,
			`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`,
			"data: [DONE]",
		}
		for _, chunk := range chunks {
			_, _ = w.Write([]byte(chunk + "\n\n"))
		}
	}))
	defer server.Close()

	provider := newOpenAIAgainst(t, server.URL)
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

func TestOpenAIProvider_GenerateStreamingError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	provider := newOpenAIAgainst(t, server.URL)
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
