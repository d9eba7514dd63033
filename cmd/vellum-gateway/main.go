// Copyright 2026 The Vellum Authors
// SPDX-License-Identifier: Apache-2.0

// Vellum-gateway is the websocket backend of the Vellum notes
// assistant. It serves the browser client's websocket protocol,
// mediates access to the configured note vaults, persists session
// history in SQLite, archives completed discussion turns, and spawns
// the agent runtime subprocess for each turn.
//
// Configuration comes from a single YAML file, named by --config or
// the VELLUM_CONFIG environment variable. There is no config
// discovery.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vellum-notes/vellum/gateway"
	"github.com/vellum-notes/vellum/lib/agentrt"
	"github.com/vellum-notes/vellum/lib/archive"
	"github.com/vellum-notes/vellum/lib/clock"
	"github.com/vellum-notes/vellum/lib/config"
	"github.com/vellum-notes/vellum/lib/session"
	"github.com/vellum-notes/vellum/lib/vault"
	"github.com/vellum-notes/vellum/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		debug       bool
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "path to vellum.yaml (defaults to $VELLUM_CONFIG)")
	flag.BoolVar(&debug, "debug", false, "log at debug level")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("vellum-gateway %s\n", version.Info())
		return nil
	}

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return fmt.Errorf("preparing data directories: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wallClock := clock.Real()

	vaults, err := vault.NewManager(cfg.Vaults, logger)
	if err != nil {
		return fmt.Errorf("opening vaults: %w", err)
	}

	sessions, err := session.Open(session.Config{
		Path:   cfg.Paths.Database,
		Clock:  wallClock,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("opening session registry: %w", err)
	}
	defer sessions.Close()

	turnArchive, err := archive.New(archive.Config{
		Root:   cfg.Paths.Archive,
		Clock:  wallClock,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("opening turn archive: %w", err)
	}

	driver := &agentrt.SubprocessDriver{
		Binary: cfg.Runtime.Binary,
		Args:   cfg.Runtime.Args,
		Logger: logger,
	}

	server, err := gateway.New(gateway.Config{
		Vaults:            vaults,
		Sessions:          sessions,
		Archive:           turnArchive,
		Driver:            driver,
		Clock:             wallClock,
		KeepAlive:         cfg.KeepAlive(),
		PermissionTimeout: cfg.PermissionWait(),
		SystemPrompt:      cfg.Runtime.SystemPrompt,
		Logger:            logger,
	})
	if err != nil {
		return fmt.Errorf("building gateway: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", cfg.Listen, "vaults", len(cfg.Vaults))
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
