// Copyright 2026 The Vellum Authors
// SPDX-License-Identifier: Apache-2.0

package session_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/vellum-notes/vellum/lib/clock"
	"github.com/vellum-notes/vellum/lib/session"
	"github.com/vellum-notes/vellum/lib/testutil"
	"github.com/vellum-notes/vellum/lib/wire"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openTestRegistry(t *testing.T, fake *clock.FakeClock) *session.Registry {
	t.Helper()
	registry, err := session.Open(session.Config{
		Path:  filepath.Join(t.TempDir(), "sessions.db"),
		Clock: fake,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := registry.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return registry
}

func userMessage(content string) wire.ConversationMessage {
	return wire.ConversationMessage{
		ID:        testutil.UniqueID("msg"),
		Role:      wire.RoleUser,
		Content:   content,
		Timestamp: testEpoch,
	}
}

func TestSelectFreshVault(t *testing.T) {
	registry := openTestRegistry(t, clock.Fake(testEpoch))
	ctx := context.Background()

	sessionID, history, err := registry.Select(ctx, "vault-a")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if sessionID == "" {
		t.Fatal("Select returned an empty session ID")
	}
	if len(history) != 0 {
		t.Errorf("fresh vault history has %d messages, want 0", len(history))
	}

	// Nothing was appended, so the session does not exist yet.
	if _, _, err := registry.Resume(ctx, sessionID); !wire.IsCode(err, wire.CodeSessionNotFound) {
		t.Errorf("Resume of a lazy session = %v, want SESSION_NOT_FOUND", err)
	}

	sessions, err := registry.Sessions(ctx, "vault-a")
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("lazy select left %d session rows", len(sessions))
	}
}

func TestAppendCreatesSessionAndSelectResumesIt(t *testing.T) {
	registry := openTestRegistry(t, clock.Fake(testEpoch))
	ctx := context.Background()

	sessionID, _, err := registry.Select(ctx, "vault-a")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if err := registry.Append(ctx, sessionID, "vault-a", userMessage("first")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	resumedID, history, err := registry.Select(ctx, "vault-a")
	if err != nil {
		t.Fatalf("second Select: %v", err)
	}
	if resumedID != sessionID {
		t.Errorf("second Select returned %s, want the existing session %s", resumedID, sessionID)
	}
	if len(history) != 1 || history[0].Content != "first" {
		t.Errorf("unexpected history: %+v", history)
	}
}

func TestResumeIsIdempotent(t *testing.T) {
	registry := openTestRegistry(t, clock.Fake(testEpoch))
	ctx := context.Background()

	sessionID, _, err := registry.Select(ctx, "vault-a")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}

	contextPercent := 37.5
	durationMS := int64(2200)
	agentReply := wire.ConversationMessage{
		ID:             testutil.UniqueID("msg"),
		Role:           wire.RoleAgent,
		Content:        "reply",
		Timestamp:      testEpoch.Add(time.Second),
		ContextPercent: &contextPercent,
		DurationMS:     &durationMS,
		ToolUses: []wire.ToolInvocation{
			{
				ID:       "tu1",
				ToolName: "read_file",
				Input:    json.RawMessage(`{"path":"a.md"}`),
				Output:   json.RawMessage(`{"content":"x"}`),
				Status:   wire.ToolComplete,
			},
			{
				ID:       "tu2",
				ToolName: "write_file",
				Status:   wire.ToolComplete,
			},
		},
	}

	if err := registry.Append(ctx, sessionID, "vault-a", userMessage("question")); err != nil {
		t.Fatalf("Append user: %v", err)
	}
	if err := registry.Append(ctx, sessionID, "vault-a", agentReply); err != nil {
		t.Fatalf("Append agent: %v", err)
	}

	vaultID, first, err := registry.Resume(ctx, sessionID)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if vaultID != "vault-a" {
		t.Errorf("vault ID = %s, want vault-a", vaultID)
	}
	_, second, err := registry.Resume(ctx, sessionID)
	if err != nil {
		t.Fatalf("second Resume: %v", err)
	}

	firstJSON, _ := json.Marshal(first)
	secondJSON, _ := json.Marshal(second)
	if string(firstJSON) != string(secondJSON) {
		t.Errorf("two resumes differ:\n%s\n%s", firstJSON, secondJSON)
	}

	if len(first) != 2 {
		t.Fatalf("history has %d messages, want 2", len(first))
	}
	reply := first[1]
	if reply.ContextPercent == nil || *reply.ContextPercent != contextPercent {
		t.Errorf("context percent not preserved: %v", reply.ContextPercent)
	}
	if len(reply.ToolUses) != 2 || reply.ToolUses[0].ID != "tu1" || reply.ToolUses[1].ID != "tu2" {
		t.Errorf("tool invocations out of order: %+v", reply.ToolUses)
	}
	if reply.ToolUses[1].Input != nil {
		t.Errorf("absent input came back non-nil: %s", reply.ToolUses[1].Input)
	}
}

func TestResumeMiss(t *testing.T) {
	registry := openTestRegistry(t, clock.Fake(testEpoch))

	_, _, err := registry.Resume(context.Background(), "no-such-session")
	if !wire.IsCode(err, wire.CodeSessionNotFound) {
		t.Fatalf("Resume miss = %v, want SESSION_NOT_FOUND", err)
	}
}

func TestDeleteCascades(t *testing.T) {
	registry := openTestRegistry(t, clock.Fake(testEpoch))
	ctx := context.Background()

	sessionID, _, err := registry.Select(ctx, "vault-a")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if err := registry.Append(ctx, sessionID, "vault-a", userMessage("doomed")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if err := registry.Delete(ctx, sessionID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, _, err := registry.Resume(ctx, sessionID); !wire.IsCode(err, wire.CodeSessionNotFound) {
		t.Errorf("Resume after delete = %v, want SESSION_NOT_FOUND", err)
	}

	// Deleting again reports the miss.
	if err := registry.Delete(ctx, sessionID); !wire.IsCode(err, wire.CodeSessionNotFound) {
		t.Errorf("second Delete = %v, want SESSION_NOT_FOUND", err)
	}
}

func TestSelectPicksNewestSession(t *testing.T) {
	fake := clock.Fake(testEpoch)
	registry := openTestRegistry(t, fake)
	ctx := context.Background()

	olderID, _, err := registry.Select(ctx, "vault-a")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if err := registry.Append(ctx, olderID, "vault-a", userMessage("old")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// A later session for the same vault, created after the clock
	// advances, becomes the newest.
	fake.Advance(time.Hour)
	newerID := testutil.UniqueID("session")
	if err := registry.Append(ctx, newerID, "vault-a", userMessage("new")); err != nil {
		t.Fatalf("Append to newer session: %v", err)
	}

	selectedID, history, err := registry.Select(ctx, "vault-a")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if selectedID != newerID {
		t.Errorf("Select returned %s, want the newest session %s", selectedID, newerID)
	}
	if len(history) != 1 || history[0].Content != "new" {
		t.Errorf("unexpected history: %+v", history)
	}
}

func TestSessionsListing(t *testing.T) {
	fake := clock.Fake(testEpoch)
	registry := openTestRegistry(t, fake)
	ctx := context.Background()

	first := testutil.UniqueID("session")
	if err := registry.Append(ctx, first, "vault-a", userMessage("a")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	fake.Advance(time.Minute)
	second := testutil.UniqueID("session")
	if err := registry.Append(ctx, second, "vault-a", userMessage("b")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := registry.Append(ctx, testutil.UniqueID("session"), "vault-b", userMessage("c")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	sessions, err := registry.Sessions(ctx, "vault-a")
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("Sessions returned %d rows, want 2", len(sessions))
	}
	if sessions[0].ID != second || sessions[1].ID != first {
		t.Errorf("sessions not newest-first: %s, %s", sessions[0].ID, sessions[1].ID)
	}
}
