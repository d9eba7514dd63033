// Copyright 2026 The Vellum Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/vellum-notes/vellum/lib/correlate"
	"github.com/vellum-notes/vellum/lib/health"
	"github.com/vellum-notes/vellum/lib/permission"
	"github.com/vellum-notes/vellum/lib/vault"
	"github.com/vellum-notes/vellum/lib/wire"
)

// conn is the state of one websocket connection. A single goroutine
// owns the read loop; turn runners and the keep-alive ticker write
// concurrently through send, which serializes on writeMu.
type conn struct {
	server *Server
	socket *websocket.Conn

	writeMu sync.Mutex

	table  *correlate.Table
	gate   *permission.Gate
	health *health.Tracker

	mu        sync.Mutex
	sessionID string
	vaultID   string
	vault     *vault.Vault
	turns     map[string]*activeTurn
}

func (s *Server) newConn(socket *websocket.Conn) *conn {
	return &conn{
		server: s,
		socket: socket,
		table:  correlate.NewTable(),
		gate:   permission.NewGate(s.cfg.Clock, s.cfg.PermissionTimeout),
		health: health.NewTracker(s.cfg.Clock, s.logger),
		turns:  make(map[string]*activeTurn),
	}
}

// run drives the connection until the client disconnects or ctx is
// canceled. It owns teardown: on exit every pending request fails with
// CONNECTION_LOST and every suspended tool prompt is denied.
func (c *conn) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if interval := c.server.cfg.KeepAlive; interval > 0 {
		go c.keepAlive(ctx, interval)
	}

	for {
		_, data, err := c.socket.Read(ctx)
		if err != nil {
			break
		}
		c.dispatch(ctx, data)
	}

	cancel()
	c.teardown()
}

// keepAlive pings the client on the configured cadence. A failed ping
// surfaces as a read error in the read loop, which tears the
// connection down.
func (c *conn) keepAlive(ctx context.Context, interval time.Duration) {
	ticker := c.server.cfg.Clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.socket.Ping(ctx); err != nil {
				return
			}
		}
	}
}

// teardown fails every pending request with CONNECTION_LOST, denies
// every suspended prompt, and interrupts every active turn. The client
// is gone, so nothing is written; the failures exist so that session
// state and the runtime wind down cleanly.
func (c *conn) teardown() {
	c.mu.Lock()
	active := make([]*activeTurn, 0, len(c.turns))
	for _, turn := range c.turns {
		active = append(active, turn)
	}
	c.turns = make(map[string]*activeTurn)
	c.mu.Unlock()

	for _, turn := range active {
		turn.markAborted()
		turn.promptCancel()
		_ = turn.turn.Interrupt()
	}

	denied := c.gate.DenyAll()
	failed := c.table.FailAll()
	if len(failed) > 0 || len(denied) > 0 {
		c.server.logger.Info("connection lost with pending work",
			"code", wire.CodeConnectionLost,
			"failed_requests", len(failed),
			"denied_prompts", len(denied))
	}

	_ = c.socket.Close(websocket.StatusNormalClosure, "")
}

// dispatch decodes one client payload and routes it. Decode failures
// answer with a connection-addressed VALIDATION_ERROR: the request ID,
// if the payload had one, did not survive validation.
func (c *conn) dispatch(ctx context.Context, data []byte) {
	message, err := wire.DecodeClient(data)
	if err != nil {
		c.sendError(err, "")
		return
	}

	switch m := message.(type) {
	case *wire.SelectVault:
		c.handleSelectVault(ctx, m)
	case *wire.ResumeSession:
		c.handleResumeSession(ctx, m)
	case *wire.DeleteSession:
		c.handleDeleteSession(ctx, m)
	case *wire.DiscussionMessage:
		c.handleDiscussion(ctx, m)
	case *wire.Abort:
		c.handleAbort()
	case *wire.QuickActionRequest:
		c.handleQuickAction(ctx, m)
	case *wire.AdvisoryRequest:
		c.handleAdvisory(ctx, m)
	case *wire.ToolPermissionResponse:
		c.handlePermissionResponse(m)
	case *wire.AskUserQuestionResponse:
		c.handleQuestionResponse(m)
	case *wire.SearchRequest:
		c.handleSearch(ctx, m)
	case *wire.SnippetRequest:
		c.handleSnippet(ctx, m)
	case *wire.TaskToggleRequest:
		c.handleTaskToggle(ctx, m)
	case *wire.WidgetRequest:
		c.handleWidget(ctx, m)
	case *wire.ReviewRequest:
		c.handleReview(ctx, m)
	case *wire.SetupRequest:
		c.handleSetup(ctx, m)
	case *wire.SyncRequest:
		c.handleSync(ctx, m)
	case *wire.SnapshotCreateRequest:
		c.handleSnapshotCreate(ctx, m)
	case *wire.DismissHealthIssue:
		c.handleDismissHealthIssue(m)
	case *wire.Ping:
		c.send(ctx, wire.NewPong())
	default:
		c.sendError(wire.NewProtocolError(wire.CodeInternal, "",
			"no handler for message type %q", message.MessageType()), "")
	}
}

// send encodes and writes one server message. Writes serialize on
// writeMu; per-connection ordering is the protocol's only sequencing
// guarantee, so nothing may bypass this method.
func (c *conn) send(ctx context.Context, message wire.ServerMessage) {
	data, err := wire.Encode(message)
	if err != nil {
		c.server.logger.Error("encoding server message", "type", message.MessageType(), "error", err)
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.socket.Write(ctx, websocket.MessageText, data); err != nil {
		c.server.logger.Debug("write failed", "type", message.MessageType(), "error", err)
	}
}

// sendError converts err to a protocol error addressed to
// correlationID (unless the error already carries an address) and
// writes it.
func (c *conn) sendError(err error, correlationID string) {
	c.send(context.Background(), wire.NewErrorMessage(asProtocolError(err, correlationID)))
}

// asProtocolError maps any error onto the closed protocol taxonomy.
// Unrecognized errors become INTERNAL_ERROR.
func asProtocolError(err error, correlationID string) *wire.ProtocolError {
	var validationErr *wire.ValidationError
	if errors.As(err, &validationErr) {
		return validationErr.AsProtocolError(correlationID)
	}

	var protocolErr *wire.ProtocolError
	if errors.As(err, &protocolErr) {
		if protocolErr.CorrelationID == "" && correlationID != "" {
			addressed := *protocolErr
			addressed.CorrelationID = correlationID
			return &addressed
		}
		return protocolErr
	}

	return wire.NewProtocolError(wire.CodeInternal, correlationID, "%s", err.Error())
}

// currentVault returns the selected vault, or a VALIDATION_ERROR when
// no vault has been selected on this connection.
func (c *conn) currentVault() (*vault.Vault, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.vault == nil {
		return nil, wire.NewProtocolError(wire.CodeValidation, "",
			"no vault selected; send select_vault first")
	}
	return c.vault, nil
}

func (c *conn) handlePermissionResponse(m *wire.ToolPermissionResponse) {
	decision := permission.Decision{Allowed: m.Allowed}
	if !c.gate.Resolve(m.ToolUseID, decision) {
		// Unknown or already-decided prompt. Ignored: the matching
		// prompt stays suspended only while its ID is pending.
		c.server.logger.Debug("permission response without a pending prompt", "tool_use_id", m.ToolUseID)
	}
}

func (c *conn) handleQuestionResponse(m *wire.AskUserQuestionResponse) {
	decision := permission.Decision{Allowed: true, Answers: m.Answers}
	if !c.gate.Resolve(m.ToolUseID, decision) {
		c.server.logger.Debug("question response without a pending prompt", "tool_use_id", m.ToolUseID)
	}
}

func (c *conn) handleDismissHealthIssue(m *wire.DismissHealthIssue) {
	if err := c.health.Dismiss(m.IssueID); err != nil {
		c.sendError(err, "")
		return
	}
	c.send(context.Background(), wire.NewHealthIssueDismissed(m.IssueID))
}
