// Copyright 2026 The Vellum Authors
// SPDX-License-Identifier: Apache-2.0

package agentrt

import (
	"context"
	"testing"
	"time"

	"github.com/vellum-notes/vellum/lib/testutil"
)

const receiveTimeout = 5 * time.Second

func TestScriptedReplay(t *testing.T) {
	driver := NewScriptedDriver([]Event{
		{Type: EventTextChunk, Text: "hello "},
		{Type: EventTextChunk, Text: "world"},
		{Type: EventTurnEnd, DurationMS: 12},
	})

	turn, err := driver.StartTurn(context.Background(), TurnRequest{SessionID: "s1", Prompt: "hi"})
	if err != nil {
		t.Fatalf("StartTurn: %v", err)
	}

	var text string
	for {
		event := testutil.RequireReceive(t, turn.Events(), receiveTimeout, "replay event")
		if event.Type == EventTurnEnd {
			if event.DurationMS != 12 {
				t.Errorf("DurationMS = %d", event.DurationMS)
			}
			break
		}
		text += event.Text
	}
	if text != "hello world" {
		t.Errorf("text = %q", text)
	}

	if _, ok := <-turn.Events(); ok {
		t.Error("events channel still open after turn end")
	}

	if len(driver.Requests) != 1 || driver.Requests[0].SessionID != "s1" {
		t.Errorf("Requests = %+v", driver.Requests)
	}
}

func TestScriptedPermissionSuspendsReplay(t *testing.T) {
	driver := NewScriptedDriver([]Event{
		{Type: EventToolStart, ToolUseID: "tu1", ToolName: "write_note"},
		{Type: EventPermissionRequest, ToolUseID: "tu1", ToolName: "write_note"},
		{Type: EventToolEnd, ToolUseID: "tu1"},
		{Type: EventTurnEnd},
	})

	turn, err := driver.StartTurn(context.Background(), TurnRequest{})
	if err != nil {
		t.Fatalf("StartTurn: %v", err)
	}

	testutil.RequireReceive(t, turn.Events(), receiveTimeout, "tool_start")
	testutil.RequireReceive(t, turn.Events(), receiveTimeout, "permission_request")

	// The replay must not advance while the tool is suspended.
	select {
	case event := <-turn.Events():
		t.Fatalf("replay advanced past a pending permission: %+v", event)
	case <-time.After(50 * time.Millisecond):
	}

	if err := turn.Decide(Decision{ToolUseID: "tu1", Allowed: true}); err != nil {
		t.Fatalf("Decide: %v", err)
	}

	event := testutil.RequireReceive(t, turn.Events(), receiveTimeout, "tool_end after decision")
	if event.Type != EventToolEnd {
		t.Fatalf("event after decision = %s", event.Type)
	}
	testutil.RequireReceive(t, turn.Events(), receiveTimeout, "turn_end")

	if len(driver.Decisions) != 1 || !driver.Decisions[0].Allowed {
		t.Errorf("Decisions = %+v", driver.Decisions)
	}
}

func TestScriptedInterrupt(t *testing.T) {
	driver := NewScriptedDriver([]Event{
		{Type: EventTextChunk, Text: "a"},
		{Type: EventPermissionRequest, ToolUseID: "tu1"},
		{Type: EventTurnEnd},
	})

	turn, err := driver.StartTurn(context.Background(), TurnRequest{})
	if err != nil {
		t.Fatalf("StartTurn: %v", err)
	}
	testutil.RequireReceive(t, turn.Events(), receiveTimeout, "text_chunk")
	testutil.RequireReceive(t, turn.Events(), receiveTimeout, "permission_request")

	if err := turn.Interrupt(); err != nil {
		t.Fatalf("Interrupt: %v", err)
	}

	event := testutil.RequireReceive(t, turn.Events(), receiveTimeout, "terminal event")
	if event.Type != EventTurnError {
		t.Errorf("terminal event = %s, want turn_error", event.Type)
	}
}

func TestScriptedExhaustion(t *testing.T) {
	driver := NewScriptedDriver([]Event{{Type: EventTurnEnd}})

	turn, err := driver.StartTurn(context.Background(), TurnRequest{})
	if err != nil {
		t.Fatalf("first StartTurn: %v", err)
	}
	testutil.RequireReceive(t, turn.Events(), receiveTimeout, "turn_end")

	if _, err := driver.StartTurn(context.Background(), TurnRequest{}); err == nil {
		t.Fatal("second StartTurn succeeded with no script")
	}
}

func TestScriptedMissingTerminal(t *testing.T) {
	driver := NewScriptedDriver([]Event{{Type: EventTextChunk, Text: "x"}})

	turn, err := driver.StartTurn(context.Background(), TurnRequest{})
	if err != nil {
		t.Fatalf("StartTurn: %v", err)
	}
	testutil.RequireReceive(t, turn.Events(), receiveTimeout, "text_chunk")

	event := testutil.RequireReceive(t, turn.Events(), receiveTimeout, "synthesized terminal")
	if event.Type != EventTurnError {
		t.Errorf("terminal event = %s, want turn_error", event.Type)
	}
}
