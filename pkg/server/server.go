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

// Package server implements the HTTP gateway: a small chi-routed
// surface in front of a workspace's turn.Orchestrator for health
// checks, device pairing, a governed webhook, a streaming WebSocket
// chat channel, an OpenAI-compatible completions endpoint, and a
// WhatsApp Business webhook.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/haru0416-dev/aegis-agent/pkg/auth"
	"github.com/haru0416-dev/aegis-agent/pkg/observability"
	"github.com/haru0416-dev/aegis-agent/pkg/ratelimit"
	"github.com/haru0416-dev/aegis-agent/pkg/runtime"
)

// maxBodyBytes is the 64 KiB request body limit, enforced on
// every route via http.MaxBytesReader.
const maxBodyBytes = 64 * 1024

// requestTimeout is the flat 30s per-request timeout.
const requestTimeout = 30 * time.Second

// Server wires the HTTP gateway to a built runtime.Runtime.
type Server struct {
	rt     *runtime.Runtime
	cfg    runtime.Server
	gate   *auth.PairingGate
	router chi.Router

	startedAt time.Time
}

// New builds a Server ready to ListenAndServe. rt must already be built
// (runtime.Build) and its Orchestrator non-nil.
func New(rt *runtime.Runtime) (*Server, error) {
	cfg := rt.Config.Server

	s := &Server{rt: rt, cfg: cfg, startedAt: time.Now()}
	if cfg.PairingCode != "" {
		issuer := cfg.Addr
		if issuer == "" {
			issuer = "aegis-agent"
		}
		s.gate = auth.NewPairingGate(cfg.PairingCode, cfg.TokenSigningKey, issuer)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if m := rt.Observability(); m != nil && (m.TracingEnabled() || m.MetricsEnabled()) {
		r.Use(observability.HTTPMiddleware(m.Tracer(), m.Metrics()))
	}
	r.Use(requestBodyLimit)
	r.Use(requestTimeoutMiddleware)
	r.Use(recoverMiddleware)
	if rt.RateLimiter != nil {
		// Transport-level 429s for over-limit callers; the tool
		// middleware chain enforces the same limiter again per
		// dispatch.
		r.Use(ratelimit.Middleware(ratelimit.MiddlewareConfig{
			Limiter:       rt.RateLimiter,
			ExcludedPaths: []string{"/health", "/pair", "/metrics"},
		}))
	}

	r.Get("/health", s.handleHealth)
	r.Post("/pair", s.handlePair)
	r.Post("/webhook", s.handleWebhook)
	r.Get("/ws", s.handleWebSocket)
	if cfg.Auth.IsEnabled() {
		// The OpenAI-compatible surface can face provider-issued tokens
		// instead of pairing tokens; a tenant_id claim on the token
		// scopes the request's memory access.
		validator, err := auth.NewValidatorFromConfig(cfg.Auth)
		if err != nil {
			return nil, fmt.Errorf("build jwt validator: %w", err)
		}
		r.With(validator.HTTPMiddleware).Post("/v1/chat/completions", s.handleChatCompletions)
	} else {
		r.Post("/v1/chat/completions", s.handleChatCompletions)
	}
	r.Get("/whatsapp", s.handleWhatsAppVerify)
	r.Post("/whatsapp", s.handleWhatsAppWebhook)

	if cfg.MetricsAddr == "" {
		// No dedicated metrics listener configured: expose alongside the
		// gateway's own routes instead of on a second port.
		if h := rt.MetricsHandler(); h != nil {
			r.Handle("/metrics", h)
		}
	}

	s.router = r
	return s, nil
}

// ListenAndServe refuses to bind a non-loopback address unless a
// tunnel is configured or AllowPublicBind is set: an agent gateway
// should not face the open internet by accident.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.checkBindAllowed(); err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http gateway listening", "addr", s.cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) checkBindAllowed() error {
	if s.cfg.TunnelConfigured || s.cfg.AllowPublicBind {
		return nil
	}
	host, _, err := net.SplitHostPort(s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server: invalid bind address %q: %w", s.cfg.Addr, err)
	}
	if host == "" || host == "localhost" {
		return nil
	}
	ip := net.ParseIP(host)
	if ip != nil && ip.IsLoopback() {
		return nil
	}
	return fmt.Errorf("server: refusing to bind public address %q without a tunnel or allow_public_bind", s.cfg.Addr)
}

func requestBodyLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func requestTimeoutMiddleware(next http.Handler) http.Handler {
	// The WebSocket upgrade route manages its own connection lifetime
	// far past 30s; everything else gets the flat request timeout.
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/ws") {
			next.ServeHTTP(w, r)
			return
		}
		http.TimeoutHandler(next, requestTimeout, `{"error":"request timed out"}`).ServeHTTP(w, r)
	})
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("http handler panic", "error", rec, "path", r.URL.Path)
				writeJSONError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func remoteCallerKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
