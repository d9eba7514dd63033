// Copyright 2026 The Vellum Authors
// SPDX-License-Identifier: Apache-2.0

package agentrt

import (
	"encoding/json"

	"github.com/vellum-notes/vellum/lib/wire"
)

// EventType classifies runtime events. Events are serialized as JSONL
// on the runtime's stdout.
type EventType string

const (
	// EventTextChunk is an incremental slice of assistant prose.
	EventTextChunk EventType = "text_chunk"

	// EventToolStart announces a tool invocation by name and ID.
	EventToolStart EventType = "tool_start"

	// EventToolInput carries the full input of a started tool.
	EventToolInput EventType = "tool_input"

	// EventToolEnd closes a tool invocation with its output.
	EventToolEnd EventType = "tool_end"

	// EventPermissionRequest suspends a tool pending a user decision.
	// The runtime holds the tool until a decision arrives on stdin.
	EventPermissionRequest EventType = "permission_request"

	// EventQuestion asks the user one to four multiple-choice
	// questions mid-turn. Resolved like a permission request, with
	// answers instead of a boolean.
	EventQuestion EventType = "question"

	// EventTurnEnd terminates a successful turn.
	EventTurnEnd EventType = "turn_end"

	// EventTurnError terminates a failed turn.
	EventTurnError EventType = "turn_error"
)

// Event is one structured runtime event. Fields are populated per
// type; unused fields stay zero.
type Event struct {
	// Type classifies the event.
	Type EventType `json:"type"`

	// Text is set for text_chunk events.
	Text string `json:"text,omitempty"`

	// ToolUseID identifies a tool invocation across its start, input,
	// end, permission, and question events.
	ToolUseID string `json:"tool_use_id,omitempty"`

	// ToolName is set for tool_start and permission_request events.
	ToolName string `json:"tool_name,omitempty"`

	// Input is the tool input, preserved as raw JSON. Set for
	// tool_input and permission_request events.
	Input json.RawMessage `json:"input,omitempty"`

	// Output is the tool output, preserved as raw JSON. Set for
	// tool_end events.
	Output json.RawMessage `json:"output,omitempty"`

	// IsError marks a tool_end whose output describes a failure.
	IsError bool `json:"is_error,omitempty"`

	// Questions is set for question events.
	Questions []wire.Question `json:"questions,omitempty"`

	// ContextPercent reports context window usage at turn end, when
	// the runtime knows it.
	ContextPercent *float64 `json:"context_percent,omitempty"`

	// DurationMS is the turn's wall-clock duration, set on turn_end.
	DurationMS int64 `json:"duration_ms,omitempty"`

	// Message is the error description for turn_error events.
	Message string `json:"message,omitempty"`
}

// terminal reports whether the event ends the turn.
func (e Event) terminal() bool {
	return e.Type == EventTurnEnd || e.Type == EventTurnError
}

// Decision answers a permission_request or question event. For
// permission requests Allowed carries the verdict; for questions
// Answers maps question text to the selected options.
type Decision struct {
	ToolUseID string              `json:"tool_use_id"`
	Allowed   bool                `json:"allowed"`
	Answers   map[string][]string `json:"answers,omitempty"`
}
