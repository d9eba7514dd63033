// Copyright 2026 The Vellum Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"time"

	"github.com/vellum-notes/vellum/lib/correlate"
	"github.com/vellum-notes/vellum/lib/vault"
	"github.com/vellum-notes/vellum/lib/wire"
)

// oneShot runs a single request/response exchange through the
// correlator. The entry exists only for identifier hygiene and
// disconnect accounting: one-shots never accumulate chunks.
func (c *conn) oneShot(ctx context.Context, requestID string, handle func(vlt *vault.Vault) (wire.ServerMessage, error)) {
	vlt, err := c.currentVault()
	if err != nil {
		c.sendError(err, requestID)
		return
	}
	if err := c.table.Open(requestID, correlate.KindOneShot); err != nil {
		c.sendError(err, requestID)
		return
	}

	reply, err := handle(vlt)
	if err != nil {
		_ = c.table.Fail(requestID)
		c.sendError(err, requestID)
		return
	}
	if _, err := c.table.Resolve(requestID); err != nil {
		// Failed out from under us (connection teardown). The reply
		// has nowhere to go.
		return
	}
	c.send(ctx, reply)
}

func (c *conn) handleSearch(ctx context.Context, m *wire.SearchRequest) {
	c.oneShot(ctx, m.RequestID, func(vlt *vault.Vault) (wire.ServerMessage, error) {
		results, err := vlt.Search(m.Query, m.Limit)
		if err != nil {
			return nil, err
		}
		return wire.NewSearchResponse(m.RequestID, results), nil
	})
}

func (c *conn) handleSnippet(ctx context.Context, m *wire.SnippetRequest) {
	c.oneShot(ctx, m.RequestID, func(vlt *vault.Vault) (wire.ServerMessage, error) {
		content, err := vlt.Snippet(m.FilePath, m.Heading)
		if err != nil {
			return nil, err
		}
		return wire.NewSnippetResponse(m.RequestID, content), nil
	})
}

func (c *conn) handleTaskToggle(ctx context.Context, m *wire.TaskToggleRequest) {
	c.oneShot(ctx, m.RequestID, func(vlt *vault.Vault) (wire.ServerMessage, error) {
		checked, err := vlt.ToggleTask(m.FilePath, m.Line)
		if err != nil {
			return nil, err
		}
		return wire.NewTaskToggleResponse(m.RequestID, checked), nil
	})
}

func (c *conn) handleWidget(ctx context.Context, m *wire.WidgetRequest) {
	c.oneShot(ctx, m.RequestID, func(vlt *vault.Vault) (wire.ServerMessage, error) {
		payload, err := computeWidget(vlt, m.WidgetID)
		if err != nil {
			return nil, err
		}
		return wire.NewWidgetResponse(m.RequestID, payload), nil
	})
}

func (c *conn) handleReview(ctx context.Context, m *wire.ReviewRequest) {
	c.oneShot(ctx, m.RequestID, func(vlt *vault.Vault) (wire.ServerMessage, error) {
		// The note must exist; the scheduler itself never touches the
		// vault.
		if _, err := vlt.Read(m.NotePath); err != nil {
			return nil, err
		}
		nextDue := c.server.cfg.Scheduler.NextDue(m.NotePath, m.Grade, c.server.cfg.Clock.Now().UTC())
		return wire.NewReviewResponse(m.RequestID, nextDue.UTC().Format(time.RFC3339)), nil
	})
}

func (c *conn) handleSetup(ctx context.Context, m *wire.SetupRequest) {
	c.oneShot(ctx, m.RequestID, func(vlt *vault.Vault) (wire.ServerMessage, error) {
		payload, err := setupStep(vlt, m.Step)
		if err != nil {
			return nil, err
		}
		return wire.NewSetupResponse(m.RequestID, payload), nil
	})
}

// handleSnapshotCreate stores the note's current content under a
// content-derived ID, for a later compare advisory against it.
func (c *conn) handleSnapshotCreate(ctx context.Context, m *wire.SnapshotCreateRequest) {
	c.oneShot(ctx, m.RequestID, func(vlt *vault.Vault) (wire.ServerMessage, error) {
		id, err := vlt.Snapshot(m.FilePath)
		if err != nil {
			return nil, err
		}
		return wire.NewSnapshotCreateResponse(m.RequestID, id), nil
	})
}

// handleSync re-indexes the vault. A failed re-index raises a health
// issue in addition to the correlated error: the stale index outlives
// the request that noticed it.
func (c *conn) handleSync(ctx context.Context, m *wire.SyncRequest) {
	c.oneShot(ctx, m.RequestID, func(vlt *vault.Vault) (wire.ServerMessage, error) {
		if err := vlt.Sync(); err != nil {
			issue := c.health.Raise(wire.SeverityWarning, "search", err.Error(), true)
			c.send(ctx, wire.NewHealthIssueNotice(issue))
			return nil, err
		}
		return wire.NewSyncResponse(m.RequestID), nil
	})
}
