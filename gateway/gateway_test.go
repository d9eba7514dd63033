// Copyright 2026 The Vellum Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vellum-notes/vellum/lib/agentrt"
	"github.com/vellum-notes/vellum/lib/archive"
	"github.com/vellum-notes/vellum/lib/clock"
	"github.com/vellum-notes/vellum/lib/session"
	"github.com/vellum-notes/vellum/lib/testutil"
	"github.com/vellum-notes/vellum/lib/vault"
	"github.com/vellum-notes/vellum/lib/wire"
)

const receiveTimeout = 5 * time.Second

func fixtureFiles() map[string]string {
	return map[string]string{
		"cooking.md":            "# Cooking\n\n## Breads\n\nSourdough needs a mature starter.\n",
		"notes/tasks.md":        "# Tasks\n\n- [ ] water the plants\n- [x] file taxes\n",
		".vellum/settings.json": `{"commands": [{"name": "summarize", "description": "Summarize the current note"}]}`,
	}
}

type fixture struct {
	t         *testing.T
	ctx       context.Context
	client    *websocket.Conn
	driver    *agentrt.ScriptedDriver
	clock     *clock.FakeClock
	archive   *archive.Archive
	vaultRoot string
}

type fixtureOptions struct {
	files     map[string]string
	keepAlive time.Duration
}

func newFixture(t *testing.T, turns ...[]agentrt.Event) *fixture {
	return newFixtureWith(t, fixtureOptions{}, turns...)
}

func newFixtureWith(t *testing.T, options fixtureOptions, turns ...[]agentrt.Event) *fixture {
	t.Helper()

	files := options.files
	if files == nil {
		files = fixtureFiles()
	}
	fake := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	root := testutil.TempVault(t, files)

	manager, err := vault.NewManager(map[string]string{"personal": root}, nil)
	if err != nil {
		t.Fatalf("opening vaults: %v", err)
	}
	registry, err := session.Open(session.Config{
		Path:  filepath.Join(t.TempDir(), "sessions.db"),
		Clock: fake,
	})
	if err != nil {
		t.Fatalf("opening registry: %v", err)
	}
	t.Cleanup(func() { registry.Close() })

	arc, err := archive.New(archive.Config{Root: t.TempDir(), Clock: fake})
	if err != nil {
		t.Fatalf("opening archive: %v", err)
	}

	driver := agentrt.NewScriptedDriver(turns...)
	server, err := New(Config{
		Vaults:            manager,
		Sessions:          registry,
		Archive:           arc,
		Driver:            driver,
		Clock:             fake,
		KeepAlive:         options.keepAlive,
		PermissionTimeout: time.Minute,
		SystemPrompt:      "You are a careful notes assistant.",
	})
	if err != nil {
		t.Fatalf("building server: %v", err)
	}

	httpServer := httptest.NewServer(server.Handler())
	t.Cleanup(httpServer.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	client, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(httpServer.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dialing: %v", err)
	}
	t.Cleanup(func() { client.Close(websocket.StatusNormalClosure, "") })

	return &fixture{
		t:         t,
		ctx:       ctx,
		client:    client,
		driver:    driver,
		clock:     fake,
		archive:   arc,
		vaultRoot: root,
	}
}

func (f *fixture) send(payload map[string]any) {
	f.t.Helper()
	if err := wsjson.Write(f.ctx, f.client, payload); err != nil {
		f.t.Fatalf("sending %v: %v", payload["type"], err)
	}
}

func (f *fixture) receive() wire.ServerMessage {
	f.t.Helper()
	_, data, err := f.client.Read(f.ctx)
	if err != nil {
		f.t.Fatalf("reading: %v", err)
	}
	message, err := wire.DecodeServer(data)
	if err != nil {
		f.t.Fatalf("decoding server message: %v", err)
	}
	return message
}

func receiveAs[T wire.ServerMessage](f *fixture) T {
	f.t.Helper()
	message := f.receive()
	typed, ok := message.(T)
	if !ok {
		f.t.Fatalf("received %T (%+v), want %T", message, message, typed)
	}
	return typed
}

// selectVault performs the session handshake and returns the session
// ID.
func (f *fixture) selectVault() string {
	f.t.Helper()
	f.send(map[string]any{"type": "select_vault", "vault_id": "personal"})
	ready := receiveAs[*wire.SessionReady](f)
	if ready.VaultID != "personal" || ready.SessionID == "" {
		f.t.Fatalf("session_ready = %+v", ready)
	}
	return ready.SessionID
}

// waitForDecision polls the scripted driver until the runtime has been
// handed a decision for toolUseID.
func waitForDecision(t *testing.T, driver *agentrt.ScriptedDriver, toolUseID string) agentrt.Decision {
	t.Helper()
	deadline := time.Now().Add(receiveTimeout)
	for time.Now().Before(deadline) {
		for _, decision := range driver.Decided() {
			if decision.ToolUseID == toolUseID {
				return decision
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no decision delivered for %s", toolUseID)
	return agentrt.Decision{}
}

func TestSelectVault(t *testing.T) {
	f := newFixture(t)

	f.send(map[string]any{"type": "select_vault", "vault_id": "personal"})
	ready := receiveAs[*wire.SessionReady](f)
	if ready.SessionID == "" {
		t.Error("session_ready without a session ID")
	}
	if len(ready.Messages) != 0 {
		t.Errorf("fresh session replayed %d messages", len(ready.Messages))
	}
	if len(ready.Commands) != 1 || ready.Commands[0].Name != "summarize" {
		t.Errorf("commands = %+v", ready.Commands)
	}

	f.send(map[string]any{"type": "select_vault", "vault_id": "attic"})
	errMsg := receiveAs[*wire.ErrorMessage](f)
	if errMsg.Code != wire.CodeVaultNotFound {
		t.Errorf("code = %s, want VAULT_NOT_FOUND", errMsg.Code)
	}
}

func TestResumeMissThenSelectFallback(t *testing.T) {
	f := newFixture(t)

	f.send(map[string]any{"type": "resume_session", "session_id": "ghost"})
	errMsg := receiveAs[*wire.ErrorMessage](f)
	if errMsg.Code != wire.CodeSessionNotFound {
		t.Fatalf("code = %s, want SESSION_NOT_FOUND", errMsg.Code)
	}

	f.selectVault()
}

func TestDiscussionTurnStreamsAndPersists(t *testing.T) {
	contextPercent := 37.5
	f := newFixture(t, []agentrt.Event{
		{Type: agentrt.EventTextChunk, Text: "Sourdough "},
		{Type: agentrt.EventTextChunk, Text: "needs patience."},
		{Type: agentrt.EventTurnEnd, ContextPercent: &contextPercent, DurationMS: 900},
	})
	sessionID := f.selectVault()

	f.send(map[string]any{"type": "discussion_message", "text": "How do I start sourdough?"})

	start := receiveAs[*wire.ResponseStart](f)
	if start.MessageID == "" {
		t.Fatal("response_start without a message ID")
	}
	first := receiveAs[*wire.ResponseChunk](f)
	second := receiveAs[*wire.ResponseChunk](f)
	if first.MessageID != start.MessageID || second.MessageID != start.MessageID {
		t.Errorf("chunk message IDs %q, %q do not match %q", first.MessageID, second.MessageID, start.MessageID)
	}
	if first.Content+second.Content != "Sourdough needs patience." {
		t.Errorf("chunks concatenate to %q", first.Content+second.Content)
	}

	end := receiveAs[*wire.ResponseEnd](f)
	if end.MessageID != start.MessageID {
		t.Errorf("response_end for %q, want %q", end.MessageID, start.MessageID)
	}
	if end.ContextPercent == nil || *end.ContextPercent != contextPercent {
		t.Errorf("context_percent = %v", end.ContextPercent)
	}
	if end.DurationMS == nil || *end.DurationMS != 900 {
		t.Errorf("duration_ms = %v", end.DurationMS)
	}

	// The runtime saw the user's text and the vault root.
	requests := f.driver.RecordedRequests()
	if len(requests) != 1 || requests[0].Prompt != "How do I start sourdough?" {
		t.Fatalf("requests = %+v", requests)
	}
	if requests[0].VaultRoot != f.vaultRoot {
		t.Errorf("vault root = %s", requests[0].VaultRoot)
	}

	// History is durable before response_end reaches the client.
	f.send(map[string]any{"type": "resume_session", "session_id": sessionID})
	ready := receiveAs[*wire.SessionReady](f)
	if len(ready.Messages) != 2 {
		t.Fatalf("replayed %d messages, want 2", len(ready.Messages))
	}
	if ready.Messages[0].Role != wire.RoleUser || ready.Messages[0].Content != "How do I start sourdough?" {
		t.Errorf("user message = %+v", ready.Messages[0])
	}
	if ready.Messages[1].Role != wire.RoleAgent || ready.Messages[1].Content != "Sourdough needs patience." {
		t.Errorf("agent message = %+v", ready.Messages[1])
	}

	seqs, err := f.archive.Seqs(sessionID)
	if err != nil || len(seqs) != 1 || seqs[0] != 1 {
		t.Errorf("archived seqs = %v (%v)", seqs, err)
	}
}

func TestSecondDiscussionRejectedWhileActive(t *testing.T) {
	f := newFixture(t, []agentrt.Event{
		{Type: agentrt.EventPermissionRequest, ToolUseID: "p1", ToolName: "write_file",
			Input: json.RawMessage(`{"path":"cooking.md"}`)},
		{Type: agentrt.EventTurnEnd},
	})
	f.selectVault()

	f.send(map[string]any{"type": "discussion_message", "text": "edit my note"})
	receiveAs[*wire.ResponseStart](f)
	receiveAs[*wire.ToolPermissionRequest](f)

	f.send(map[string]any{"type": "discussion_message", "text": "another one"})
	errMsg := receiveAs[*wire.ErrorMessage](f)
	if errMsg.Code != wire.CodeTurnActive {
		t.Fatalf("code = %s, want TURN_ACTIVE", errMsg.Code)
	}

	f.send(map[string]any{"type": "tool_permission_response", "tool_use_id": "p1", "allowed": true})
	receiveAs[*wire.ResponseEnd](f)

	decision := waitForDecision(t, f.driver, "p1")
	if !decision.Allowed {
		t.Error("granted permission delivered as a deny")
	}
}

func TestQuickActionRunsAlongsideDiscussion(t *testing.T) {
	f := newFixture(t,
		[]agentrt.Event{
			{Type: agentrt.EventPermissionRequest, ToolUseID: "p1", ToolName: "write_file"},
			{Type: agentrt.EventTextChunk, Text: "Edited the note."},
			{Type: agentrt.EventTurnEnd},
		},
		[]agentrt.Event{
			{Type: agentrt.EventTextChunk, Text: "Tightened the paragraph."},
			{Type: agentrt.EventTurnEnd},
		},
	)
	f.selectVault()

	f.send(map[string]any{"type": "discussion_message", "text": "edit my note"})
	discussion := receiveAs[*wire.ResponseStart](f)
	receiveAs[*wire.ToolPermissionRequest](f)

	// The discussion is suspended on its permission prompt; a quick
	// action still runs to completion on its own stream.
	f.send(map[string]any{
		"type": "quick_action_request", "action": "tighten",
		"selection": "Sourdough needs a mature starter.",
		"file_path": "cooking.md", "start_line": 5, "end_line": 5,
	})
	quick := receiveAs[*wire.ResponseStart](f)
	if quick.MessageID == discussion.MessageID {
		t.Fatal("quick action reused the discussion's message ID")
	}
	chunk := receiveAs[*wire.ResponseChunk](f)
	if chunk.MessageID != quick.MessageID || chunk.Content != "Tightened the paragraph." {
		t.Errorf("response_chunk = %+v", chunk)
	}
	if end := receiveAs[*wire.ResponseEnd](f); end.MessageID != quick.MessageID {
		t.Errorf("response_end for %q, want %q", end.MessageID, quick.MessageID)
	}

	// The discussion resumes untouched once its prompt resolves.
	f.send(map[string]any{"type": "tool_permission_response", "tool_use_id": "p1", "allowed": true})
	chunk = receiveAs[*wire.ResponseChunk](f)
	if chunk.MessageID != discussion.MessageID {
		t.Errorf("response_chunk for %q, want %q", chunk.MessageID, discussion.MessageID)
	}
	if end := receiveAs[*wire.ResponseEnd](f); end.MessageID != discussion.MessageID {
		t.Errorf("response_end for %q, want %q", end.MessageID, discussion.MessageID)
	}
}

func TestPermissionDenialClosesToolLifecycle(t *testing.T) {
	f := newFixture(t, []agentrt.Event{
		{Type: agentrt.EventPermissionRequest, ToolUseID: "p1", ToolName: "write_file",
			Input: json.RawMessage(`{"path":"cooking.md"}`)},
		{Type: agentrt.EventTextChunk, Text: "Left the file alone."},
		{Type: agentrt.EventTurnEnd},
	})
	sessionID := f.selectVault()

	f.send(map[string]any{"type": "discussion_message", "text": "edit my note"})
	receiveAs[*wire.ResponseStart](f)
	request := receiveAs[*wire.ToolPermissionRequest](f)
	if request.ToolUseID != "p1" || request.ToolName != "write_file" {
		t.Fatalf("tool_permission_request = %+v", request)
	}

	f.send(map[string]any{"type": "tool_permission_response", "tool_use_id": "p1", "allowed": false})

	end := receiveAs[*wire.ToolEnd](f)
	if end.ToolUseID != "p1" || !strings.Contains(string(end.Output), "permission denied") {
		t.Errorf("tool_end = %+v", end)
	}
	receiveAs[*wire.ResponseChunk](f)
	receiveAs[*wire.ResponseEnd](f)

	// The denied invocation persists, completed, in the history.
	f.send(map[string]any{"type": "resume_session", "session_id": sessionID})
	ready := receiveAs[*wire.SessionReady](f)
	if len(ready.Messages) != 2 {
		t.Fatalf("replayed %d messages, want 2", len(ready.Messages))
	}
	uses := ready.Messages[1].ToolUses
	if len(uses) != 1 || uses[0].ID != "p1" || uses[0].Status != wire.ToolComplete {
		t.Errorf("tool uses = %+v", uses)
	}
}

func TestPermissionTimeoutDenies(t *testing.T) {
	f := newFixture(t, []agentrt.Event{
		{Type: agentrt.EventPermissionRequest, ToolUseID: "p1", ToolName: "write_file"},
		{Type: agentrt.EventTurnEnd},
	})
	f.selectVault()

	f.send(map[string]any{"type": "discussion_message", "text": "edit my note"})
	receiveAs[*wire.ResponseStart](f)
	receiveAs[*wire.ToolPermissionRequest](f)

	// The gate registered its timeout timer; fire it.
	f.clock.WaitForTimers(1)
	f.clock.Advance(2 * time.Minute)

	end := receiveAs[*wire.ToolEnd](f)
	if end.ToolUseID != "p1" || !strings.Contains(string(end.Output), "permission denied") {
		t.Errorf("tool_end = %+v", end)
	}
	receiveAs[*wire.ResponseEnd](f)

	decision := waitForDecision(t, f.driver, "p1")
	if decision.Allowed {
		t.Error("timed-out permission delivered as a grant")
	}
}

func TestToolLifecycleForwarded(t *testing.T) {
	f := newFixture(t, []agentrt.Event{
		{Type: agentrt.EventToolStart, ToolUseID: "t1", ToolName: "read_file"},
		{Type: agentrt.EventToolInput, ToolUseID: "t1", Input: json.RawMessage(`{"path":"cooking.md"}`)},
		{Type: agentrt.EventToolEnd, ToolUseID: "t1", Output: json.RawMessage(`{"content":"# Cooking"}`)},
		{Type: agentrt.EventTextChunk, Text: "Read it."},
		{Type: agentrt.EventTurnEnd},
	})
	f.selectVault()

	f.send(map[string]any{"type": "discussion_message", "text": "read my note"})
	receiveAs[*wire.ResponseStart](f)

	start := receiveAs[*wire.ToolStart](f)
	if start.ToolUseID != "t1" || start.ToolName != "read_file" {
		t.Errorf("tool_start = %+v", start)
	}
	input := receiveAs[*wire.ToolInput](f)
	if !strings.Contains(string(input.Input), "cooking.md") {
		t.Errorf("tool_input = %s", input.Input)
	}
	end := receiveAs[*wire.ToolEnd](f)
	if !strings.Contains(string(end.Output), "# Cooking") {
		t.Errorf("tool_end = %s", end.Output)
	}
	receiveAs[*wire.ResponseChunk](f)
	receiveAs[*wire.ResponseEnd](f)
}

func TestAskUserQuestionRoundTrip(t *testing.T) {
	f := newFixture(t, []agentrt.Event{
		{Type: agentrt.EventQuestion, ToolUseID: "q1", Questions: []wire.Question{
			{Text: "Which tone?", Options: []string{"formal", "casual"}},
		}},
		{Type: agentrt.EventTextChunk, Text: "Casual it is."},
		{Type: agentrt.EventTurnEnd},
	})
	f.selectVault()

	f.send(map[string]any{"type": "discussion_message", "text": "rewrite this"})
	receiveAs[*wire.ResponseStart](f)

	question := receiveAs[*wire.AskUserQuestionRequest](f)
	if question.ToolUseID != "q1" || len(question.Questions) != 1 {
		t.Fatalf("ask_user_question_request = %+v", question)
	}

	f.send(map[string]any{
		"type":        "ask_user_question_response",
		"tool_use_id": "q1",
		"answers":     map[string][]string{"Which tone?": {"casual"}},
	})
	receiveAs[*wire.ResponseChunk](f)
	receiveAs[*wire.ResponseEnd](f)

	decision := waitForDecision(t, f.driver, "q1")
	if got := decision.Answers["Which tone?"]; len(got) != 1 || got[0] != "casual" {
		t.Errorf("answers = %+v", decision.Answers)
	}
}

func TestAbortSilencesTurn(t *testing.T) {
	f := newFixture(t, []agentrt.Event{
		{Type: agentrt.EventTextChunk, Text: "partial "},
		{Type: agentrt.EventPermissionRequest, ToolUseID: "p1", ToolName: "write_file"},
		{Type: agentrt.EventTurnEnd},
	})
	f.selectVault()

	f.send(map[string]any{"type": "discussion_message", "text": "edit my note"})
	receiveAs[*wire.ResponseStart](f)
	receiveAs[*wire.ResponseChunk](f)
	receiveAs[*wire.ToolPermissionRequest](f)

	f.send(map[string]any{"type": "abort"})

	// The aborted turn's pending prompt is denied and the runtime
	// interrupted; nothing further is sent for the turn.
	decision := waitForDecision(t, f.driver, "p1")
	if decision.Allowed {
		t.Error("aborted turn's prompt delivered as a grant")
	}

	f.send(map[string]any{"type": "ping"})
	if message := f.receive(); message.MessageType() != wire.TypePong {
		t.Errorf("received %s after abort, want pong", message.MessageType())
	}
}

func TestDisconnectDeniesPendingPrompt(t *testing.T) {
	f := newFixture(t, []agentrt.Event{
		{Type: agentrt.EventPermissionRequest, ToolUseID: "p1", ToolName: "write_file"},
		{Type: agentrt.EventTurnEnd},
	})
	f.selectVault()

	f.send(map[string]any{"type": "discussion_message", "text": "edit my note"})
	receiveAs[*wire.ResponseStart](f)
	receiveAs[*wire.ToolPermissionRequest](f)

	f.client.Close(websocket.StatusNormalClosure, "")

	decision := waitForDecision(t, f.driver, "p1")
	if decision.Allowed {
		t.Error("disconnect delivered a grant")
	}
}

func TestTurnErrorFailsRequest(t *testing.T) {
	f := newFixture(t, []agentrt.Event{
		{Type: agentrt.EventTextChunk, Text: "partial"},
		{Type: agentrt.EventTurnError, Message: "runtime crashed"},
	})
	f.selectVault()

	f.send(map[string]any{"type": "discussion_message", "text": "hello"})
	start := receiveAs[*wire.ResponseStart](f)
	receiveAs[*wire.ResponseChunk](f)

	errMsg := receiveAs[*wire.ErrorMessage](f)
	if errMsg.Code != wire.CodeAgentError {
		t.Errorf("code = %s, want AGENT_ERROR", errMsg.Code)
	}
	if errMsg.CorrelationID != start.MessageID {
		t.Errorf("correlation = %q, want %q", errMsg.CorrelationID, start.MessageID)
	}
}

func TestQuickActionNotRecorded(t *testing.T) {
	f := newFixture(t, []agentrt.Event{
		{Type: agentrt.EventTextChunk, Text: "Tightened the paragraph."},
		{Type: agentrt.EventTurnEnd},
	})
	sessionID := f.selectVault()

	f.send(map[string]any{
		"type": "quick_action_request", "action": "tighten",
		"selection": "Sourdough needs a mature starter.",
		"file_path": "cooking.md", "start_line": 5, "end_line": 5,
	})
	receiveAs[*wire.ResponseStart](f)
	receiveAs[*wire.ResponseChunk](f)
	receiveAs[*wire.ResponseEnd](f)

	prompt := f.driver.RecordedRequests()[0].Prompt
	if !strings.Contains(prompt, "Tighten") || !strings.Contains(prompt, "cooking.md") {
		t.Errorf("quick action prompt = %q", prompt)
	}

	// Quick actions never append to the session, so the lazily-minted
	// session still has no row.
	f.send(map[string]any{"type": "resume_session", "session_id": sessionID})
	errMsg := receiveAs[*wire.ErrorMessage](f)
	if errMsg.Code != wire.CodeSessionNotFound {
		t.Errorf("code = %s, want SESSION_NOT_FOUND", errMsg.Code)
	}
}

func TestAdvisoryCompareLoadsSnapshot(t *testing.T) {
	f := newFixture(t, []agentrt.Event{
		{Type: agentrt.EventTextChunk, Text: "The new version is clearer."},
		{Type: agentrt.EventTurnEnd},
	})
	f.selectVault()

	f.send(map[string]any{"type": "snapshot_create_request", "request_id": "r-snap", "file_path": "cooking.md"})
	created := receiveAs[*wire.SnapshotCreateResponse](f)
	if created.RequestID != "r-snap" || created.SnapshotID == "" {
		t.Fatalf("snapshot_create_response = %+v", created)
	}

	f.send(map[string]any{
		"type": "advisory_request", "action": "compare",
		"selection": "Sourdough needs a mature starter.",
		"file_path": "cooking.md", "snapshot_id": created.SnapshotID,
	})
	receiveAs[*wire.ResponseStart](f)
	receiveAs[*wire.ResponseChunk](f)
	receiveAs[*wire.ResponseEnd](f)

	prompt := f.driver.RecordedRequests()[0].Prompt
	if !strings.Contains(prompt, "Earlier version") || !strings.Contains(prompt, "mature starter") {
		t.Errorf("advisory prompt = %q", prompt)
	}

	f.send(map[string]any{
		"type": "advisory_request", "action": "compare",
		"selection": "x", "file_path": "cooking.md", "snapshot_id": "not-a-snapshot",
	})
	errMsg := receiveAs[*wire.ErrorMessage](f)
	if errMsg.Code != wire.CodeValidation {
		t.Errorf("code = %s, want VALIDATION_ERROR", errMsg.Code)
	}
}

func TestDeleteSession(t *testing.T) {
	f := newFixture(t, []agentrt.Event{
		{Type: agentrt.EventTextChunk, Text: "noted"},
		{Type: agentrt.EventTurnEnd},
	})
	sessionID := f.selectVault()

	f.send(map[string]any{"type": "discussion_message", "text": "remember this"})
	receiveAs[*wire.ResponseStart](f)
	receiveAs[*wire.ResponseChunk](f)
	receiveAs[*wire.ResponseEnd](f)

	f.send(map[string]any{"type": "delete_session", "session_id": sessionID})
	deleted := receiveAs[*wire.SessionDeleted](f)
	if deleted.SessionID != sessionID {
		t.Errorf("session_deleted = %+v", deleted)
	}
	if seqs, err := f.archive.Seqs(sessionID); err != nil || seqs != nil {
		t.Errorf("archive after delete: seqs=%v err=%v", seqs, err)
	}

	f.send(map[string]any{"type": "resume_session", "session_id": sessionID})
	errMsg := receiveAs[*wire.ErrorMessage](f)
	if errMsg.Code != wire.CodeSessionNotFound {
		t.Errorf("code = %s, want SESSION_NOT_FOUND", errMsg.Code)
	}
}

func TestOneShots(t *testing.T) {
	f := newFixture(t)
	f.selectVault()

	t.Run("search", func(t *testing.T) {
		f.send(map[string]any{"type": "search_request", "request_id": "r-search", "query": "sourdough"})
		response := receiveAs[*wire.SearchResponse](f)
		if response.RequestID != "r-search" || len(response.Results) == 0 {
			t.Fatalf("search_response = %+v", response)
		}
		if response.Results[0].Path != "cooking.md" {
			t.Errorf("top hit = %s", response.Results[0].Path)
		}
	})

	t.Run("snippet", func(t *testing.T) {
		f.send(map[string]any{"type": "snippet_request", "request_id": "r-snippet",
			"file_path": "cooking.md", "heading": "Breads"})
		response := receiveAs[*wire.SnippetResponse](f)
		if !strings.Contains(response.Content, "Sourdough") {
			t.Errorf("snippet = %q", response.Content)
		}
	})

	t.Run("task toggle", func(t *testing.T) {
		f.send(map[string]any{"type": "task_toggle_request", "request_id": "r-toggle",
			"file_path": "notes/tasks.md", "line": 3})
		response := receiveAs[*wire.TaskToggleResponse](f)
		if !response.Checked {
			t.Error("toggle did not check the task")
		}
	})

	t.Run("widget", func(t *testing.T) {
		f.send(map[string]any{"type": "widget_request", "request_id": "r-widget", "widget_id": "note_count"})
		response := receiveAs[*wire.WidgetResponse](f)
		var payload struct {
			Count int `json:"count"`
		}
		if err := json.Unmarshal(response.Payload, &payload); err != nil || payload.Count != 2 {
			t.Errorf("note_count payload = %s (%v)", response.Payload, err)
		}

		f.send(map[string]any{"type": "widget_request", "request_id": "r-widget2", "widget_id": "astrology"})
		errMsg := receiveAs[*wire.ErrorMessage](f)
		if errMsg.Code != wire.CodeValidation || errMsg.CorrelationID != "r-widget2" {
			t.Errorf("error = %+v", errMsg)
		}
	})

	t.Run("review", func(t *testing.T) {
		f.send(map[string]any{"type": "review_request", "request_id": "r-review",
			"note_path": "cooking.md", "grade": 5})
		response := receiveAs[*wire.ReviewResponse](f)
		due, err := time.Parse(time.RFC3339, response.NextDue)
		if err != nil {
			t.Fatalf("next_due %q: %v", response.NextDue, err)
		}
		if want := f.clock.Now().UTC().Add(7 * 24 * time.Hour); !due.Equal(want) {
			t.Errorf("next_due = %v, want %v", due, want)
		}

		f.send(map[string]any{"type": "review_request", "request_id": "r-review2",
			"note_path": "missing.md", "grade": 3})
		errMsg := receiveAs[*wire.ErrorMessage](f)
		if errMsg.Code != wire.CodeFileNotFound || errMsg.CorrelationID != "r-review2" {
			t.Errorf("error = %+v", errMsg)
		}
	})

	t.Run("setup", func(t *testing.T) {
		f.send(map[string]any{"type": "setup_request", "request_id": "r-setup", "step": "scan"})
		response := receiveAs[*wire.SetupResponse](f)
		var payload struct {
			Notes   int      `json:"notes"`
			Folders []string `json:"folders"`
			Next    string   `json:"next"`
		}
		if err := json.Unmarshal(response.Payload, &payload); err != nil {
			t.Fatalf("payload %s: %v", response.Payload, err)
		}
		if payload.Notes != 2 || len(payload.Folders) != 1 || payload.Folders[0] != "notes" {
			t.Errorf("scan payload = %+v", payload)
		}

		f.send(map[string]any{"type": "setup_request", "request_id": "r-setup2", "step": "teleport"})
		errMsg := receiveAs[*wire.ErrorMessage](f)
		if errMsg.Code != wire.CodeValidation {
			t.Errorf("error = %+v", errMsg)
		}
	})

	t.Run("snapshot create", func(t *testing.T) {
		f.send(map[string]any{"type": "snapshot_create_request", "request_id": "r-snap",
			"file_path": "cooking.md"})
		response := receiveAs[*wire.SnapshotCreateResponse](f)
		if response.RequestID != "r-snap" || len(response.SnapshotID) != 16 {
			t.Errorf("snapshot_create_response = %+v", response)
		}

		f.send(map[string]any{"type": "snapshot_create_request", "request_id": "r-snap2",
			"file_path": "missing.md"})
		errMsg := receiveAs[*wire.ErrorMessage](f)
		if errMsg.Code != wire.CodeFileNotFound || errMsg.CorrelationID != "r-snap2" {
			t.Errorf("error = %+v", errMsg)
		}
	})

	t.Run("sync", func(t *testing.T) {
		f.send(map[string]any{"type": "sync_request", "request_id": "r-sync"})
		response := receiveAs[*wire.SyncResponse](f)
		if response.RequestID != "r-sync" {
			t.Errorf("sync_response = %+v", response)
		}
	})
}

func TestOneShotRequiresVault(t *testing.T) {
	f := newFixture(t)

	f.send(map[string]any{"type": "search_request", "request_id": "r1", "query": "anything"})
	errMsg := receiveAs[*wire.ErrorMessage](f)
	if errMsg.Code != wire.CodeValidation || errMsg.CorrelationID != "r1" {
		t.Errorf("error = %+v", errMsg)
	}
}

func TestMalformedPayloadsRejected(t *testing.T) {
	f := newFixture(t)

	f.send(map[string]any{"type": "discussion_message"})
	errMsg := receiveAs[*wire.ErrorMessage](f)
	if errMsg.Code != wire.CodeValidation || errMsg.CorrelationID != "" {
		t.Errorf("error = %+v", errMsg)
	}

	if err := f.client.Write(f.ctx, websocket.MessageText, []byte("not json")); err != nil {
		t.Fatalf("writing raw payload: %v", err)
	}
	errMsg = receiveAs[*wire.ErrorMessage](f)
	if errMsg.Code != wire.CodeValidation {
		t.Errorf("error = %+v", errMsg)
	}
}

func TestSettingsFailureRaisesHealthIssue(t *testing.T) {
	files := fixtureFiles()
	files[".vellum/settings.json"] = `{"commands": [`
	f := newFixtureWith(t, fixtureOptions{files: files})

	f.send(map[string]any{"type": "select_vault", "vault_id": "personal"})

	notice := receiveAs[*wire.HealthIssueNotice](f)
	if notice.Issue.Severity != wire.SeverityWarning || notice.Issue.Category != "settings" {
		t.Fatalf("health_issue = %+v", notice.Issue)
	}
	if !notice.Issue.Dismissible {
		t.Error("settings issue should be dismissible")
	}

	ready := receiveAs[*wire.SessionReady](f)
	if len(ready.Commands) != 0 {
		t.Errorf("commands survived a settings failure: %+v", ready.Commands)
	}

	f.send(map[string]any{"type": "dismiss_health_issue", "issue_id": notice.Issue.ID})
	dismissed := receiveAs[*wire.HealthIssueDismissed](f)
	if dismissed.IssueID != notice.Issue.ID {
		t.Errorf("health_issue_dismissed = %+v", dismissed)
	}

	f.send(map[string]any{"type": "dismiss_health_issue", "issue_id": notice.Issue.ID})
	errMsg := receiveAs[*wire.ErrorMessage](f)
	if errMsg.Code != wire.CodeValidation {
		t.Errorf("second dismissal = %+v", errMsg)
	}
}

func TestPingBypassesEverything(t *testing.T) {
	f := newFixture(t)

	f.send(map[string]any{"type": "ping"})
	if message := f.receive(); message.MessageType() != wire.TypePong {
		t.Errorf("received %s, want pong", message.MessageType())
	}
}

func TestKeepAliveTicks(t *testing.T) {
	f := newFixtureWith(t, fixtureOptions{keepAlive: 15 * time.Second})

	// The keep-alive ticker registers on connect; firing it must not
	// disturb the message stream.
	f.clock.WaitForTimers(1)
	f.clock.Advance(15 * time.Second)

	f.send(map[string]any{"type": "ping"})
	if message := f.receive(); message.MessageType() != wire.TypePong {
		t.Errorf("received %s, want pong", message.MessageType())
	}
}
