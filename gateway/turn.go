// Copyright 2026 The Vellum Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vellum-notes/vellum/lib/agentrt"
	"github.com/vellum-notes/vellum/lib/archive"
	"github.com/vellum-notes/vellum/lib/correlate"
	"github.com/vellum-notes/vellum/lib/permission"
	"github.com/vellum-notes/vellum/lib/wire"
)

// deniedToolOutput closes the tool lifecycle of a denied permission.
var deniedToolOutput = json.RawMessage(`{"error":"permission denied"}`)

// activeTurn is one in-flight turn of a connection. Turns of
// independent kinds run concurrently; the correlator enforces the
// one-discussion rule at admission.
type activeTurn struct {
	correlationID string
	kind          correlate.Kind
	turn          *agentrt.Turn
	cancel        context.CancelFunc

	// userContent and record control history: only discussion turns
	// append to the session, with userContent as the user message.
	userContent string
	record      bool
	startedAt   time.Time

	// promptCtx scopes gate waits to the turn: canceling it denies
	// whatever prompt is (or is about to be) suspended, without races
	// against the suspension itself.
	promptCtx    context.Context
	promptCancel context.CancelFunc

	mu          sync.Mutex
	aborted     bool
	invocations []wire.ToolInvocation
	byID        map[string]int
}

func (a *activeTurn) markAborted() {
	a.mu.Lock()
	a.aborted = true
	a.mu.Unlock()
}

func (a *activeTurn) isAborted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.aborted
}

func (a *activeTurn) toolStart(toolUseID, toolName string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.byID[toolUseID]; exists {
		return
	}
	a.byID[toolUseID] = len(a.invocations)
	a.invocations = append(a.invocations, wire.ToolInvocation{
		ID:       toolUseID,
		ToolName: toolName,
		Status:   wire.ToolRunning,
	})
}

func (a *activeTurn) toolInput(toolUseID string, input json.RawMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if index, exists := a.byID[toolUseID]; exists {
		a.invocations[index].Input = input
	}
}

// toolEnd completes an invocation. An end without a matching start
// (a denial synthesized before the runtime announced the tool) records
// a completed invocation on its own.
func (a *activeTurn) toolEnd(toolUseID string, output json.RawMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	index, exists := a.byID[toolUseID]
	if !exists {
		a.byID[toolUseID] = len(a.invocations)
		a.invocations = append(a.invocations, wire.ToolInvocation{
			ID:     toolUseID,
			Output: output,
			Status: wire.ToolComplete,
		})
		return
	}
	a.invocations[index].Output = output
	a.invocations[index].Status = wire.ToolComplete
}

func (a *activeTurn) toolUses() []wire.ToolInvocation {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.invocations) == 0 {
		return nil
	}
	uses := make([]wire.ToolInvocation, len(a.invocations))
	copy(uses, a.invocations)
	return uses
}

func (c *conn) handleDiscussion(ctx context.Context, m *wire.DiscussionMessage) {
	c.startTurn(ctx, correlate.KindDiscussion, m.Text, m.Text, true)
}

func (c *conn) handleQuickAction(ctx context.Context, m *wire.QuickActionRequest) {
	c.startTurn(ctx, correlate.KindQuickAction, quickActionPrompt(m), "", false)
}

func (c *conn) handleAdvisory(ctx context.Context, m *wire.AdvisoryRequest) {
	var snapshot string
	if m.Action == wire.AdvisoryCompare {
		vlt, err := c.currentVault()
		if err != nil {
			c.sendError(err, "")
			return
		}
		content, err := vlt.SnapshotByID(m.SnapshotID)
		if err != nil {
			c.sendError(err, "")
			return
		}
		snapshot = string(content)
	}
	c.startTurn(ctx, correlate.KindAdvisory, advisoryPrompt(m, snapshot), "", false)
}

// startTurn opens the correlator entry, starts the runtime turn, and
// hands the event stream to a runner goroutine. The correlation ID of
// a turn is the server-minted message ID announced by response_start.
func (c *conn) startTurn(ctx context.Context, kind correlate.Kind, prompt, userContent string, record bool) {
	c.mu.Lock()
	if c.vault == nil {
		c.mu.Unlock()
		c.sendError(wire.NewProtocolError(wire.CodeValidation, "",
			"no vault selected; send select_vault first"), "")
		return
	}
	vaultRoot := c.vault.Root()
	sessionID := c.sessionID
	vaultID := c.vaultID
	c.mu.Unlock()

	// Admission is the correlator's call: a second discussion is
	// rejected with TURN_ACTIVE, while quick actions and advisories run
	// alongside whatever is in flight. The server-minted ID is unknown
	// to the client, so the rejection goes out connection-scoped.
	messageID := uuid.NewString()
	if err := c.table.Open(messageID, kind); err != nil {
		rejection := *asProtocolError(err, "")
		rejection.CorrelationID = ""
		c.send(ctx, wire.NewErrorMessage(&rejection))
		return
	}

	turnCtx, cancel := context.WithCancel(ctx)
	turn, err := c.server.cfg.Driver.StartTurn(turnCtx, agentrt.TurnRequest{
		SessionID:    sessionID,
		VaultRoot:    vaultRoot,
		Prompt:       prompt,
		SystemPrompt: c.server.cfg.SystemPrompt,
	})
	if err != nil {
		cancel()
		_ = c.table.Fail(messageID)
		c.sendError(wire.NewProtocolError(wire.CodeAgentError, messageID,
			"starting turn: %v", err), "")
		return
	}

	promptCtx, promptCancel := context.WithCancel(turnCtx)
	active := &activeTurn{
		correlationID: messageID,
		kind:          kind,
		turn:          turn,
		cancel:        cancel,
		userContent:   userContent,
		record:        record,
		startedAt:     c.server.cfg.Clock.Now().UTC(),
		promptCtx:     promptCtx,
		promptCancel:  promptCancel,
		byID:          make(map[string]int),
	}
	c.mu.Lock()
	c.turns[messageID] = active
	c.mu.Unlock()

	c.send(ctx, wire.NewResponseStart(messageID))
	go c.runTurn(turnCtx, active, sessionID, vaultID)
}

// handleAbort cancels the in-flight discussion turn. Quick actions and
// advisories are short-lived and run to completion.
func (c *conn) handleAbort() {
	c.mu.Lock()
	var active *activeTurn
	for _, turn := range c.turns {
		if turn.kind == correlate.KindDiscussion {
			active = turn
			break
		}
	}
	c.mu.Unlock()
	if active == nil {
		// The turn may have resolved in the window between the client
		// deciding to abort and the abort arriving.
		return
	}

	active.markAborted()
	active.promptCancel()
	c.table.Abort(active.correlationID)
	if err := active.turn.Interrupt(); err != nil {
		c.server.logger.Debug("interrupting turn", "message_id", active.correlationID, "error", err)
	}
}

// runTurn pumps runtime events into wire messages until the turn's
// terminal event. An aborted turn keeps draining but goes silent: the
// client already discarded the stream. The terminal event is handled
// after the stream closes, so by the time the client sees response_end
// the turn is deregistered and the session history is written.
func (c *conn) runTurn(ctx context.Context, active *activeTurn, sessionID, vaultID string) {
	defer func() {
		active.promptCancel()
		active.cancel()
	}()

	messageID := active.correlationID
	var terminal agentrt.Event
	for event := range active.turn.Events() {
		switch event.Type {
		case agentrt.EventTextChunk:
			if active.isAborted() {
				continue
			}
			if err := c.table.AppendChunk(messageID, event.Text); err != nil {
				continue
			}
			c.send(ctx, wire.NewResponseChunk(messageID, event.Text))

		case agentrt.EventToolStart:
			active.toolStart(event.ToolUseID, event.ToolName)
			if !active.isAborted() {
				c.send(ctx, wire.NewToolStart(event.ToolUseID, event.ToolName))
			}

		case agentrt.EventToolInput:
			active.toolInput(event.ToolUseID, event.Input)
			if !active.isAborted() {
				c.send(ctx, wire.NewToolInput(event.ToolUseID, event.Input))
			}

		case agentrt.EventToolEnd:
			active.toolEnd(event.ToolUseID, event.Output)
			if !active.isAborted() {
				c.send(ctx, wire.NewToolEnd(event.ToolUseID, event.Output))
			}

		case agentrt.EventPermissionRequest:
			c.runPermission(ctx, active, event)

		case agentrt.EventQuestion:
			c.runQuestion(ctx, active, event)

		case agentrt.EventTurnEnd, agentrt.EventTurnError:
			if terminal.Type == "" {
				terminal = event
			}
		}
	}

	c.mu.Lock()
	delete(c.turns, messageID)
	c.mu.Unlock()

	if terminal.Type == agentrt.EventTurnEnd {
		c.finishTurn(ctx, active, terminal, sessionID, vaultID)
		return
	}
	if active.isAborted() {
		return
	}
	message := terminal.Message
	if message == "" {
		message = "runtime ended the turn without a terminal event"
	}
	_ = c.table.Fail(messageID)
	c.sendError(wire.NewProtocolError(wire.CodeAgentError, messageID, "%s", message), "")
}

// runPermission suspends one gated tool call on the permission gate.
// Denial (explicit, timed out, or canceled) synthesizes a tool_end so
// the client's tool lifecycle always closes; the turn itself
// continues.
func (c *conn) runPermission(ctx context.Context, active *activeTurn, event agentrt.Event) {
	if active.isAborted() {
		_ = active.turn.Decide(agentrt.Decision{ToolUseID: event.ToolUseID})
		return
	}

	c.send(ctx, wire.NewToolPermissionRequest(event.ToolUseID, event.ToolName, event.Input))
	decision, err := c.gate.Await(active.promptCtx, event.ToolUseID)
	if err != nil {
		c.server.logger.Warn("permission await failed", "tool_use_id", event.ToolUseID, "error", err)
		decision = permission.Deny
	}

	if !decision.Allowed && !active.isAborted() {
		active.toolEnd(event.ToolUseID, deniedToolOutput)
		c.send(ctx, wire.NewToolEnd(event.ToolUseID, deniedToolOutput))
	}
	if err := active.turn.Decide(agentrt.Decision{
		ToolUseID: event.ToolUseID,
		Allowed:   decision.Allowed,
	}); err != nil {
		c.server.logger.Debug("delivering permission decision", "tool_use_id", event.ToolUseID, "error", err)
	}
}

// runQuestion suspends the turn on an ask-user exchange. The answer
// map travels back to the runtime verbatim; no decision within the
// timeout resolves as a deny with no answers.
func (c *conn) runQuestion(ctx context.Context, active *activeTurn, event agentrt.Event) {
	if active.isAborted() {
		_ = active.turn.Decide(agentrt.Decision{ToolUseID: event.ToolUseID})
		return
	}

	c.send(ctx, wire.NewAskUserQuestionRequest(event.ToolUseID, event.Questions))
	decision, err := c.gate.Await(active.promptCtx, event.ToolUseID)
	if err != nil {
		c.server.logger.Warn("question await failed", "tool_use_id", event.ToolUseID, "error", err)
		decision = permission.Deny
	}

	if err := active.turn.Decide(agentrt.Decision{
		ToolUseID: event.ToolUseID,
		Allowed:   decision.Allowed,
		Answers:   decision.Answers,
	}); err != nil {
		c.server.logger.Debug("delivering answers", "tool_use_id", event.ToolUseID, "error", err)
	}
}

// finishTurn resolves the correlator entry, appends a discussion
// exchange to the session history and the archive, and emits
// response_end last: once the client sees the terminal event the
// history is already durable. An aborted turn resolves nothing; its
// entry is already gone.
func (c *conn) finishTurn(ctx context.Context, active *activeTurn, event agentrt.Event, sessionID, vaultID string) {
	content, err := c.table.Resolve(active.correlationID)
	if err != nil {
		return
	}

	var durationMS *int64
	if event.DurationMS > 0 {
		duration := event.DurationMS
		durationMS = &duration
	}

	if !active.record {
		c.send(ctx, wire.NewResponseEnd(active.correlationID, event.ContextPercent, durationMS))
		return
	}

	now := c.server.cfg.Clock.Now().UTC()
	userMessage := wire.ConversationMessage{
		ID:        uuid.NewString(),
		Role:      wire.RoleUser,
		Content:   active.userContent,
		Timestamp: active.startedAt,
	}
	agentMessage := wire.ConversationMessage{
		ID:             active.correlationID,
		Role:           wire.RoleAgent,
		Content:        content,
		Timestamp:      now,
		ToolUses:       active.toolUses(),
		ContextPercent: event.ContextPercent,
		DurationMS:     durationMS,
	}

	sessions := c.server.cfg.Sessions
	if err := sessions.Append(ctx, sessionID, vaultID, userMessage); err != nil {
		c.server.logger.Error("appending user message", "session_id", sessionID, "error", err)
	} else if err := sessions.Append(ctx, sessionID, vaultID, agentMessage); err != nil {
		c.server.logger.Error("appending agent message", "session_id", sessionID, "error", err)
	} else {
		c.archiveTurn(sessionID, vaultID, userMessage, agentMessage)
	}

	c.send(ctx, wire.NewResponseEnd(active.correlationID, event.ContextPercent, durationMS))
}

func (c *conn) archiveTurn(sessionID, vaultID string, prompt, response wire.ConversationMessage) {
	arc := c.server.cfg.Archive
	if arc == nil {
		return
	}
	seqs, err := arc.Seqs(sessionID)
	if err != nil {
		c.server.logger.Warn("listing archived turns", "session_id", sessionID, "error", err)
		return
	}
	var next int64 = 1
	if n := len(seqs); n > 0 {
		next = seqs[n-1] + 1
	}
	if err := arc.Store(archive.Record{
		SessionID: sessionID,
		VaultID:   vaultID,
		Seq:       next,
		Prompt:    prompt,
		Response:  response,
	}); err != nil {
		c.server.logger.Warn("archiving turn", "session_id", sessionID, "seq", next, "error", err)
	}
}

// quickActionPrompt builds the runtime prompt for a selection-scoped
// edit. The agent performs the edit through gated file tools and ends
// the turn with a short confirmation string.
func quickActionPrompt(m *wire.QuickActionRequest) string {
	instructions := map[wire.QuickAction]string{
		wire.ActionTighten:   "Tighten the selected text: shorter sentences, no filler, same meaning.",
		wire.ActionEmbellish: "Embellish the selected text: richer detail and texture, same structure.",
		wire.ActionCorrect:   "Correct the selected text: fix spelling, grammar, and factual slips only.",
		wire.ActionPolish:    "Polish the selected text: smooth the phrasing without changing the content.",
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", instructions[m.Action])
	fmt.Fprintf(&b, "File: %s (lines %d-%d)\n\n", m.FilePath, m.StartLine, m.EndLine)
	fmt.Fprintf(&b, "Selected text:\n%s\n\n", m.Selection)
	b.WriteString("Apply the edit to the file in place, then reply with a one-sentence confirmation of what changed.")
	return b.String()
}

// advisoryPrompt builds the runtime prompt for a non-mutating
// critique. The agent must not edit any file.
func advisoryPrompt(m *wire.AdvisoryRequest, snapshot string) string {
	instructions := map[wire.AdvisoryAction]string{
		wire.AdvisoryValidate: "Check the selected text for internal consistency and factual soundness.",
		wire.AdvisoryCritique: "Critique the selected text: what works, what does not, and why.",
		wire.AdvisoryCompare:  "Compare the selected text against the earlier version below and describe what changed and whether it improved.",
		wire.AdvisoryDiscuss:  "Discuss the ideas in the selected text and where they could go next.",
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", instructions[m.Action])
	fmt.Fprintf(&b, "File: %s\n\n", m.FilePath)
	fmt.Fprintf(&b, "Selected text:\n%s\n", m.Selection)
	if m.Context != "" {
		fmt.Fprintf(&b, "\nSurrounding context:\n%s\n", m.Context)
	}
	if snapshot != "" {
		fmt.Fprintf(&b, "\nEarlier version:\n%s\n", snapshot)
	}
	b.WriteString("\nDo not modify any file. Reply with your assessment only.")
	return b.String()
}
