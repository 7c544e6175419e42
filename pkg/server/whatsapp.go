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
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/haru0416-dev/aegis-agent/pkg/turn"
)

// handleWhatsAppVerify answers the WhatsApp Business webhook
// verification handshake: GET /whatsapp?hub.mode=subscribe&hub.verify_token=...&hub.challenge=...
func (s *Server) handleWhatsAppVerify(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode != "subscribe" || token == "" || s.cfg.WhatsAppVerifyToken == "" || token != s.cfg.WhatsAppVerifyToken {
		writeJSONError(w, http.StatusForbidden, "verification failed")
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}

// whatsAppInbound models the minimal slice of the Business webhook
// payload this gateway understands: the text of the first message in
// the first change of the first entry.
type whatsAppInbound struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []struct {
					From string `json:"from"`
					Text struct {
						Body string `json:"body"`
					} `json:"text"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// handleWhatsAppWebhook answers POST /whatsapp: inbound
// messages are verified against app_secret via X-Hub-Signature-256 when
// configured, then routed through the orchestrator like any other
// channel.
func (s *Server) handleWhatsAppWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	if s.cfg.WhatsAppAppSecret != "" {
		if !verifyWhatsAppSignature(s.cfg.WhatsAppAppSecret, body, r.Header.Get("X-Hub-Signature-256")) {
			writeJSONError(w, http.StatusForbidden, "invalid signature")
			return
		}
	}

	var payload whatsAppInbound
	if err := json.Unmarshal(body, &payload); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				if msg.Text.Body == "" {
					continue
				}
				entityID := "whatsapp:" + msg.From
				if _, err := s.rt.Orchestrator.ExecuteTurn(r.Context(), turn.DefaultWriteContext(entityID), msg.Text.Body, turn.Options{
					ToolDefs: s.rt.Tools.ToolDefinitions(true),
				}); err != nil {
					writeJSONError(w, http.StatusInternalServerError, err.Error())
					return
				}
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

func verifyWhatsAppSignature(appSecret string, body []byte, header string) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	expected := hmac.New(sha256.New, []byte(appSecret))
	expected.Write(body)
	expectedHex := hex.EncodeToString(expected.Sum(nil))
	return hmac.Equal([]byte(expectedHex), []byte(strings.TrimPrefix(header, prefix)))
}
