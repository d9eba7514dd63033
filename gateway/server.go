// Copyright 2026 The Vellum Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/vellum-notes/vellum/lib/agentrt"
	"github.com/vellum-notes/vellum/lib/archive"
	"github.com/vellum-notes/vellum/lib/clock"
	"github.com/vellum-notes/vellum/lib/session"
	"github.com/vellum-notes/vellum/lib/vault"
)

// Config holds the dependencies of a gateway server.
type Config struct {
	// Vaults resolves vault IDs to opened vault stores. Required.
	Vaults *vault.Manager

	// Sessions is the persistent session registry. Required.
	Sessions *session.Registry

	// Archive receives completed discussion turns. Optional; nil
	// disables archival.
	Archive *archive.Archive

	// Driver runs agent turns. Required.
	Driver agentrt.Driver

	// Clock provides timers and timestamps. Required.
	Clock clock.Clock

	// Scheduler computes spaced-repetition due times. Defaults to
	// IntervalScheduler.
	Scheduler Scheduler

	// KeepAlive is the server ping cadence. Non-positive disables the
	// keep-alive ticker.
	KeepAlive time.Duration

	// PermissionTimeout bounds how long a gated tool waits for a client
	// decision before the default deny. Non-positive disables the timer.
	PermissionTimeout time.Duration

	// SystemPrompt is appended to the runtime's system prompt on every
	// turn.
	SystemPrompt string

	// AllowOrigins is forwarded to the websocket accept handshake.
	// Empty means same-origin only.
	AllowOrigins []string

	// Logger receives operational messages. If nil, a no-op logger is
	// used.
	Logger *slog.Logger
}

// Server is the websocket gateway. One Server handles any number of
// concurrent connections; connections share no mutable state beyond
// the injected collaborators.
type Server struct {
	cfg    Config
	logger *slog.Logger
}

// New validates the configuration and returns a server.
func New(cfg Config) (*Server, error) {
	if cfg.Vaults == nil {
		return nil, fmt.Errorf("gateway: Vaults is required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("gateway: Sessions is required")
	}
	if cfg.Driver == nil {
		return nil, fmt.Errorf("gateway: Driver is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("gateway: Clock is required")
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = IntervalScheduler{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{cfg: cfg, logger: logger}, nil
}

// Handler returns the HTTP handler: /ws upgrades to the websocket
// protocol, /healthz answers liveness probes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	socket, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowOrigins,
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := s.newConn(socket)
	s.logger.Info("client connected", "remote", r.RemoteAddr)
	c.run(r.Context())
	s.logger.Info("client disconnected", "remote", r.RemoteAddr)
}
