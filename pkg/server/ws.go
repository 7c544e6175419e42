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
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/haru0416-dev/aegis-agent/pkg/turn"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The gateway is paired via a shared pairing code rather than a
	// browser-origin trust model, so cross-origin upgrades are fine.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsInbound struct {
	Type     string `json:"type"`
	Message  string `json:"message,omitempty"`
	EntityID string `json:"entity_id,omitempty"`
}

type wsOutbound struct {
	Type     string `json:"type"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

// handleWebSocket answers GET /ws: a long-lived JSON
// message channel carrying chat/typing/ping from the client and
// connected/typing/chat_response/pong/error back.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	reqCtx := r.Context()
	if s.gate != nil {
		ctx, ok := s.authenticateBearer(w, r)
		if !ok {
			return
		}
		reqCtx = ctx
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	if err := conn.WriteJSON(wsOutbound{Type: "connected"}); err != nil {
		return
	}

	ctx := reqCtx
	for {
		var in wsInbound
		if err := conn.ReadJSON(&in); err != nil {
			return
		}

		switch in.Type {
		case "ping":
			if conn.WriteJSON(wsOutbound{Type: "pong"}) != nil {
				return
			}
		case "chat":
			if !s.handleWSChat(ctx, conn, in) {
				return
			}
		default:
			if conn.WriteJSON(wsOutbound{Type: "error", Error: "unknown message type"}) != nil {
				return
			}
		}
	}
}

// handleWSChat runs one chat turn and writes its result back over conn;
// it returns false when the connection write failed and the caller
// should stop serving it.
func (s *Server) handleWSChat(ctx context.Context, conn *websocket.Conn, in wsInbound) bool {
	if in.Message == "" {
		return conn.WriteJSON(wsOutbound{Type: "error", Error: "message is required"}) == nil
	}
	entityID := in.EntityID
	if entityID == "" {
		entityID = "ws"
	}

	if conn.WriteJSON(wsOutbound{Type: "typing"}) != nil {
		return false
	}

	outcome, err := s.rt.Orchestrator.ExecuteTurn(ctx, turn.DefaultWriteContext(entityID), in.Message, turn.Options{
		ToolDefs: s.rt.Tools.ToolDefinitions(true),
	})
	if err != nil {
		return conn.WriteJSON(wsOutbound{Type: "error", Error: err.Error()}) == nil
	}
	return conn.WriteJSON(wsOutbound{Type: "chat_response", Response: outcome.Response}) == nil
}
