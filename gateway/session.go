// Copyright 2026 The Vellum Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"

	"github.com/vellum-notes/vellum/lib/vault"
	"github.com/vellum-notes/vellum/lib/wire"
)

func (c *conn) handleSelectVault(ctx context.Context, m *wire.SelectVault) {
	if err := c.refuseWhileTurnActive(); err != nil {
		c.sendError(err, "")
		return
	}

	vlt, err := c.server.cfg.Vaults.Get(m.VaultID)
	if err != nil {
		c.sendError(err, "")
		return
	}

	sessionID, history, err := c.server.cfg.Sessions.Select(ctx, m.VaultID)
	if err != nil {
		c.sendError(err, "")
		return
	}

	c.attachVault(vlt, sessionID, m.VaultID)
	commands := c.loadCommands(ctx, vlt)
	c.send(ctx, wire.NewSessionReady(sessionID, m.VaultID, history, commands))
}

func (c *conn) handleResumeSession(ctx context.Context, m *wire.ResumeSession) {
	if err := c.refuseWhileTurnActive(); err != nil {
		c.sendError(err, "")
		return
	}

	vaultID, history, err := c.server.cfg.Sessions.Resume(ctx, m.SessionID)
	if err != nil {
		c.sendError(err, "")
		return
	}

	vlt, err := c.server.cfg.Vaults.Get(vaultID)
	if err != nil {
		c.sendError(err, "")
		return
	}

	c.attachVault(vlt, m.SessionID, vaultID)
	commands := c.loadCommands(ctx, vlt)
	c.send(ctx, wire.NewSessionReady(m.SessionID, vaultID, history, commands))
}

func (c *conn) handleDeleteSession(ctx context.Context, m *wire.DeleteSession) {
	if err := c.server.cfg.Sessions.Delete(ctx, m.SessionID); err != nil {
		c.sendError(err, "")
		return
	}
	if arc := c.server.cfg.Archive; arc != nil {
		if err := arc.Delete(m.SessionID); err != nil {
			c.server.logger.Warn("deleting archived turns", "session_id", m.SessionID, "error", err)
		}
	}

	// Deleting the active session needs no connection-state reset: the
	// session row is recreated lazily when the next message appends.
	c.send(ctx, wire.NewSessionDeleted(m.SessionID))
}

// refuseWhileTurnActive rejects session switches while any turn is in
// flight. Aborting first is the client's job.
func (c *conn) refuseWhileTurnActive() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.turns) > 0 {
		return wire.NewProtocolError(wire.CodeTurnActive, "",
			"a turn is in flight; abort it before switching sessions")
	}
	return nil
}

// attachVault binds the connection to a vault and session. Health
// issues are scoped to the vault selection, so the tracker resets.
func (c *conn) attachVault(vlt *vault.Vault, sessionID, vaultID string) {
	c.mu.Lock()
	c.vault = vlt
	c.sessionID = sessionID
	c.vaultID = vaultID
	c.mu.Unlock()

	c.health.Clear()
}

// loadCommands reads the vault's slash-command affordances. A
// malformed settings file degrades to no commands plus a dismissible
// health issue rather than failing the session handshake.
func (c *conn) loadCommands(ctx context.Context, vlt *vault.Vault) []wire.SlashCommand {
	settings, err := vlt.Settings()
	if err != nil {
		c.server.logger.Warn("vault settings unreadable", "vault_id", vlt.ID(), "error", err)
		issue := c.health.Raise(wire.SeverityWarning, "settings", err.Error(), true)
		c.send(ctx, wire.NewHealthIssueNotice(issue))
		return nil
	}
	return settings.Commands
}
