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
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/haru0416-dev/aegis-agent/pkg/auth"
	"github.com/haru0416-dev/aegis-agent/pkg/turn"
)

type webhookRequest struct {
	Message  string `json:"message"`
	EntityID string `json:"entity_id,omitempty"`
}

type webhookResponse struct {
	Response string `json:"response"`
	Model    string `json:"model"`
}

// handleWebhook answers POST /webhook: a paired bearer
// token is required, and an optional X-Webhook-Secret header must match
// the configured secret in addition to the token.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx, ok := s.authenticateBearer(w, r)
	if !ok {
		return
	}
	r = r.WithContext(ctx)
	if s.cfg.WebhookSecret != "" && r.Header.Get("X-Webhook-Secret") != s.cfg.WebhookSecret {
		writeJSONError(w, http.StatusForbidden, "invalid webhook secret")
		return
	}

	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		writeJSONError(w, http.StatusBadRequest, "message is required")
		return
	}
	entityID := req.EntityID
	if entityID == "" {
		entityID = "webhook"
	}

	outcome, err := s.rt.Orchestrator.ExecuteTurn(r.Context(), turn.DefaultWriteContext(entityID), req.Message, turn.Options{
		ToolDefs: s.rt.Tools.ToolDefinitions(true),
	})
	if err != nil {
		status, msg := statusForError(err)
		writeJSONError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusOK, webhookResponse{
		Response: outcome.Response,
		Model:    s.rt.Config.LLM.Model,
	})
}

// authenticateBearer requires and validates the Authorization: Bearer
// header against the pairing gate's token signing key. On success it
// returns a context carrying the token's auth.Claims (so a handler can
// log which subject/expiry a request is running under) and true; on
// failure it writes an error response and returns false.
func (s *Server) authenticateBearer(w http.ResponseWriter, r *http.Request) (context.Context, bool) {
	if s.gate == nil {
		writeJSONError(w, http.StatusNotFound, "pairing is not configured")
		return r.Context(), false
	}
	authz := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		writeJSONError(w, http.StatusUnauthorized, "missing bearer token")
		return r.Context(), false
	}
	token := strings.TrimPrefix(authz, prefix)
	claims, err := s.gate.ValidateToken(token)
	if err != nil {
		status := http.StatusUnauthorized
		msg := "invalid or expired token"
		if err == auth.ErrTokenExpired {
			msg = "token expired, re-pair"
		}
		writeJSONError(w, status, msg)
		return r.Context(), false
	}
	return auth.ContextWithClaims(r.Context(), claims), true
}
