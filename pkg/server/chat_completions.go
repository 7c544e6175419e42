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
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/haru0416-dev/aegis-agent/pkg/auth"
	"github.com/haru0416-dev/aegis-agent/pkg/llms"
	"github.com/haru0416-dev/aegis-agent/pkg/policy"
	"github.com/haru0416-dev/aegis-agent/pkg/turn"
)

type chatCompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model    string                  `json:"model"`
	Messages []chatCompletionMessage `json:"messages"`
	Stream   bool                    `json:"stream,omitempty"`
}

type chatCompletionChoice struct {
	Index        int                   `json:"index"`
	Message      chatCompletionMessage `json:"message,omitempty"`
	Delta        chatCompletionMessage `json:"delta,omitempty"`
	FinishReason string                `json:"finish_reason,omitempty"`
}

type chatCompletionResponse struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Model   string                 `json:"model"`
	Choices []chatCompletionChoice `json:"choices"`
	Usage   chatCompletionUsage    `json:"usage"`
}

type chatCompletionUsage struct {
	TotalTokens int `json:"total_tokens"`
}

// handleChatCompletions answers POST /v1/chat/completions:
// an OpenAI-compatible surface, returning a JSON completion or an SSE
// stream of deltas when the caller sets stream=true.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	userMessage, systemPrompt := splitMessages(req.Messages)
	if userMessage == "" {
		writeJSONError(w, http.StatusBadRequest, "at least one user message is required")
		return
	}

	id := "chatcmpl-" + uuid.NewString()
	model := req.Model
	if model == "" {
		model = s.rt.Config.LLM.Model
	}

	if req.Stream {
		s.streamChatCompletion(w, r, id, model, systemPrompt, userMessage)
		return
	}

	outcome, err := s.rt.Orchestrator.ExecuteTurn(r.Context(), completionWriteContext(r), userMessage, turn.Options{
		SystemPrompt: systemPrompt,
		ToolDefs:     s.rt.Tools.ToolDefinitions(true),
	})
	if err != nil {
		status, msg := statusForError(err)
		writeJSONError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusOK, chatCompletionResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []chatCompletionChoice{{
			Index:        0,
			Message:      chatCompletionMessage{Role: "assistant", Content: outcome.Response},
			FinishReason: "stop",
		}},
		Usage: chatCompletionUsage{TotalTokens: outcome.TokensUsed},
	})
}

func (s *Server) streamChatCompletion(w http.ResponseWriter, r *http.Request, id, model, systemPrompt, userMessage string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	chunks := make(chan llms.StreamChunk, 16)
	done := make(chan error, 1)
	go func() {
		_, err := s.rt.Orchestrator.ExecuteTurn(r.Context(), completionWriteContext(r), userMessage, turn.Options{
			SystemPrompt: systemPrompt,
			ToolDefs:     s.rt.Tools.ToolDefinitions(true),
			StreamTo:     chunks,
		})
		done <- err
		close(chunks)
	}()

	for chunk := range chunks {
		if chunk.Type != "text" || chunk.Text == "" {
			continue
		}
		writeSSEChunk(w, flusher, id, model, chunk.Text, "")
	}
	if err := <-done; err != nil {
		writeSSEChunk(w, flusher, id, model, "", "error")
		return
	}
	writeSSEChunk(w, flusher, id, model, "", "stop")
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func writeSSEChunk(w http.ResponseWriter, flusher http.Flusher, id, model, text, finishReason string) {
	resp := chatCompletionResponse{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []chatCompletionChoice{{
			Index:        0,
			Delta:        chatCompletionMessage{Content: text},
			FinishReason: finishReason,
		}},
	}
	b, _ := json.Marshal(resp)
	fmt.Fprintf(w, "data: %s\n\n", b)
	flusher.Flush()
}

// completionWriteContext picks the turn's write scope from request
// claims: a token carrying a tenant_id claim confines the turn's
// memory access to that tenant's subtree; anything else falls back to
// the shared openai-compat entity.
func completionWriteContext(r *http.Request) turn.WriteContext {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil || claims.TenantID == "" {
		return turn.DefaultWriteContext("openai-compat")
	}
	wc := turn.DefaultWriteContext(claims.TenantID + ":openai-compat")
	wc.TenantContext = policy.EnabledTenantContext(claims.TenantID)
	return wc
}

func splitMessages(msgs []chatCompletionMessage) (userMessage, systemPrompt string) {
	for _, m := range msgs {
		switch m.Role {
		case "system":
			systemPrompt = m.Content
		case "user":
			userMessage = m.Content
		}
	}
	return userMessage, systemPrompt
}
