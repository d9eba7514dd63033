// Copyright 2026 The Vellum Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ClientMessage is a validated client→server message. The concrete
// type is determined by the "type" discriminator; switch on the
// returned value to route it.
type ClientMessage interface {
	MessageType() MessageType

	// validate checks type-specific required fields after structural
	// decoding has succeeded.
	validate() error

	clientMessage()
}

// QuickAction is a selection-scoped agent-performed edit.
type QuickAction string

const (
	ActionTighten   QuickAction = "tighten"
	ActionEmbellish QuickAction = "embellish"
	ActionCorrect   QuickAction = "correct"
	ActionPolish    QuickAction = "polish"
)

// AdvisoryAction is a selection-scoped, non-mutating critique mode.
type AdvisoryAction string

const (
	AdvisoryValidate AdvisoryAction = "validate"
	AdvisoryCritique AdvisoryAction = "critique"
	AdvisoryCompare  AdvisoryAction = "compare"
	AdvisoryDiscuss  AdvisoryAction = "discuss"
)

// SelectVault starts (or lazily creates) a session for a vault.
type SelectVault struct {
	Type    MessageType `json:"type"`
	VaultID string      `json:"vault_id"`
}

// ResumeSession replays history for an existing session. The server
// answers SESSION_NOT_FOUND on a miss, upon which the documented
// client fallback is to send select_vault for the same vault.
type ResumeSession struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

// DeleteSession irreversibly removes a session.
type DeleteSession struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

// DiscussionMessage starts one discussion turn. Only one discussion
// turn may be in flight per session.
type DiscussionMessage struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

// Abort cancels the active discussion turn.
type Abort struct {
	Type MessageType `json:"type"`
}

// QuickActionRequest starts a gated-edit flow over a text selection.
type QuickActionRequest struct {
	Type      MessageType `json:"type"`
	Action    QuickAction `json:"action"`
	Selection string      `json:"selection"`
	FilePath  string      `json:"file_path"`
	StartLine int         `json:"start_line"`
	EndLine   int         `json:"end_line"`
}

// AdvisoryRequest starts a non-mutating critique turn over a selection,
// optionally against a stored snapshot.
type AdvisoryRequest struct {
	Type       MessageType    `json:"type"`
	Action     AdvisoryAction `json:"action"`
	Selection  string         `json:"selection"`
	FilePath   string         `json:"file_path"`
	Context    string         `json:"context,omitempty"`
	SnapshotID string         `json:"snapshot_id,omitempty"`
}

// ToolPermissionResponse resolves a pending tool permission request.
type ToolPermissionResponse struct {
	Type      MessageType `json:"type"`
	ToolUseID string      `json:"tool_use_id"`
	Allowed   bool        `json:"allowed"`
}

// AskUserQuestionResponse resolves a pending ask-user exchange.
// Answers are keyed by question text; multi-select answers hold more
// than one option.
type AskUserQuestionResponse struct {
	Type      MessageType         `json:"type"`
	ToolUseID string              `json:"tool_use_id"`
	Answers   map[string][]string `json:"answers"`
}

// SearchRequest is a one-shot vault search.
type SearchRequest struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id"`
	Query     string      `json:"query"`
	Limit     int         `json:"limit,omitempty"`
}

// SnippetRequest fetches a note, or one heading-scoped section of it.
type SnippetRequest struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id"`
	FilePath  string      `json:"file_path"`
	Heading   string      `json:"heading,omitempty"`
}

// TaskToggleRequest flips a markdown task checkbox on one line.
type TaskToggleRequest struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id"`
	FilePath  string      `json:"file_path"`
	Line      int         `json:"line"`
}

// WidgetRequest recomputes one dashboard widget.
type WidgetRequest struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id"`
	WidgetID  string      `json:"widget_id"`
}

// ReviewRequest records one spaced-repetition review grade.
type ReviewRequest struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id"`
	NotePath  string      `json:"note_path"`
	Grade     int         `json:"grade"`
}

// SetupRequest advances a guided setup flow by one step.
type SetupRequest struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id"`
	Step      string      `json:"step"`
}

// SyncRequest triggers a vault re-index.
type SyncRequest struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id"`
}

// SnapshotCreateRequest stores the current content of a note under a
// content-derived snapshot ID. The returned ID is what a later compare
// advisory names in snapshot_id.
type SnapshotCreateRequest struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id"`
	FilePath  string      `json:"file_path"`
}

// DismissHealthIssue removes a dismissible health issue.
type DismissHealthIssue struct {
	Type    MessageType `json:"type"`
	IssueID string      `json:"issue_id"`
}

// Ping is the client half of the keep-alive exchange. It bypasses
// request correlation entirely.
type Ping struct {
	Type MessageType `json:"type"`
}

func (m *SelectVault) MessageType() MessageType             { return TypeSelectVault }
func (m *ResumeSession) MessageType() MessageType           { return TypeResumeSession }
func (m *DeleteSession) MessageType() MessageType           { return TypeDeleteSession }
func (m *DiscussionMessage) MessageType() MessageType       { return TypeDiscussionMessage }
func (m *Abort) MessageType() MessageType                   { return TypeAbort }
func (m *QuickActionRequest) MessageType() MessageType      { return TypeQuickActionRequest }
func (m *AdvisoryRequest) MessageType() MessageType         { return TypeAdvisoryRequest }
func (m *ToolPermissionResponse) MessageType() MessageType  { return TypeToolPermissionResponse }
func (m *AskUserQuestionResponse) MessageType() MessageType { return TypeAskUserQuestionResponse }
func (m *SearchRequest) MessageType() MessageType           { return TypeSearchRequest }
func (m *SnippetRequest) MessageType() MessageType          { return TypeSnippetRequest }
func (m *TaskToggleRequest) MessageType() MessageType       { return TypeTaskToggleRequest }
func (m *WidgetRequest) MessageType() MessageType           { return TypeWidgetRequest }
func (m *ReviewRequest) MessageType() MessageType           { return TypeReviewRequest }
func (m *SetupRequest) MessageType() MessageType            { return TypeSetupRequest }
func (m *SyncRequest) MessageType() MessageType             { return TypeSyncRequest }
func (m *SnapshotCreateRequest) MessageType() MessageType   { return TypeSnapshotCreateRequest }
func (m *DismissHealthIssue) MessageType() MessageType      { return TypeDismissHealthIssue }
func (m *Ping) MessageType() MessageType                    { return TypePing }

func (m *SelectVault) clientMessage()             {}
func (m *ResumeSession) clientMessage()           {}
func (m *DeleteSession) clientMessage()           {}
func (m *DiscussionMessage) clientMessage()       {}
func (m *Abort) clientMessage()                   {}
func (m *QuickActionRequest) clientMessage()      {}
func (m *AdvisoryRequest) clientMessage()         {}
func (m *ToolPermissionResponse) clientMessage()  {}
func (m *AskUserQuestionResponse) clientMessage() {}
func (m *SearchRequest) clientMessage()           {}
func (m *SnippetRequest) clientMessage()          {}
func (m *TaskToggleRequest) clientMessage()       {}
func (m *WidgetRequest) clientMessage()           {}
func (m *ReviewRequest) clientMessage()           {}
func (m *SetupRequest) clientMessage()            {}
func (m *SyncRequest) clientMessage()             {}
func (m *SnapshotCreateRequest) clientMessage()   {}
func (m *DismissHealthIssue) clientMessage()      {}
func (m *Ping) clientMessage()                    {}

func (m *SelectVault) validate() error {
	if m.VaultID == "" {
		return missingField("vault_id")
	}
	return nil
}

func (m *ResumeSession) validate() error {
	if m.SessionID == "" {
		return missingField("session_id")
	}
	return nil
}

func (m *DeleteSession) validate() error {
	if m.SessionID == "" {
		return missingField("session_id")
	}
	return nil
}

func (m *DiscussionMessage) validate() error {
	if m.Text == "" {
		return missingField("text")
	}
	return nil
}

func (m *Abort) validate() error { return nil }

func (m *QuickActionRequest) validate() error {
	switch m.Action {
	case ActionTighten, ActionEmbellish, ActionCorrect, ActionPolish:
	case "":
		return missingField("action")
	default:
		return invalidField("action", fmt.Sprintf("unknown quick action %q", m.Action))
	}
	if m.Selection == "" {
		return missingField("selection")
	}
	if m.FilePath == "" {
		return missingField("file_path")
	}
	if m.StartLine < 1 {
		return invalidField("start_line", "must be a positive line number")
	}
	if m.EndLine < m.StartLine {
		return invalidField("end_line", "must not precede start_line")
	}
	return nil
}

func (m *AdvisoryRequest) validate() error {
	switch m.Action {
	case AdvisoryValidate, AdvisoryCritique, AdvisoryCompare, AdvisoryDiscuss:
	case "":
		return missingField("action")
	default:
		return invalidField("action", fmt.Sprintf("unknown advisory action %q", m.Action))
	}
	if m.Selection == "" {
		return missingField("selection")
	}
	if m.FilePath == "" {
		return missingField("file_path")
	}
	if m.Action == AdvisoryCompare && m.SnapshotID == "" {
		return invalidField("snapshot_id", "required for the compare action")
	}
	return nil
}

func (m *ToolPermissionResponse) validate() error {
	if m.ToolUseID == "" {
		return missingField("tool_use_id")
	}
	return nil
}

func (m *AskUserQuestionResponse) validate() error {
	if m.ToolUseID == "" {
		return missingField("tool_use_id")
	}
	if len(m.Answers) == 0 {
		return missingField("answers")
	}
	return nil
}

func (m *SearchRequest) validate() error {
	if m.RequestID == "" {
		return missingField("request_id")
	}
	if m.Query == "" {
		return missingField("query")
	}
	if m.Limit < 0 {
		return invalidField("limit", "must not be negative")
	}
	return nil
}

func (m *SnippetRequest) validate() error {
	if m.RequestID == "" {
		return missingField("request_id")
	}
	if m.FilePath == "" {
		return missingField("file_path")
	}
	return nil
}

func (m *TaskToggleRequest) validate() error {
	if m.RequestID == "" {
		return missingField("request_id")
	}
	if m.FilePath == "" {
		return missingField("file_path")
	}
	if m.Line < 1 {
		return invalidField("line", "must be a positive line number")
	}
	return nil
}

func (m *WidgetRequest) validate() error {
	if m.RequestID == "" {
		return missingField("request_id")
	}
	if m.WidgetID == "" {
		return missingField("widget_id")
	}
	return nil
}

func (m *ReviewRequest) validate() error {
	if m.RequestID == "" {
		return missingField("request_id")
	}
	if m.NotePath == "" {
		return missingField("note_path")
	}
	if m.Grade < 0 || m.Grade > 5 {
		return invalidField("grade", "must be between 0 and 5")
	}
	return nil
}

func (m *SetupRequest) validate() error {
	if m.RequestID == "" {
		return missingField("request_id")
	}
	if m.Step == "" {
		return missingField("step")
	}
	return nil
}

func (m *SyncRequest) validate() error {
	if m.RequestID == "" {
		return missingField("request_id")
	}
	return nil
}

func (m *SnapshotCreateRequest) validate() error {
	if m.RequestID == "" {
		return missingField("request_id")
	}
	if m.FilePath == "" {
		return missingField("file_path")
	}
	return nil
}

func (m *DismissHealthIssue) validate() error {
	if m.IssueID == "" {
		return missingField("issue_id")
	}
	return nil
}

func (m *Ping) validate() error { return nil }

// clientFactories maps each client-bound discriminator to a fresh
// instance of its concrete type. Registered once; decoding never
// mutates this map.
var clientFactories = map[MessageType]func() ClientMessage{
	TypeSelectVault:             func() ClientMessage { return &SelectVault{} },
	TypeResumeSession:           func() ClientMessage { return &ResumeSession{} },
	TypeDeleteSession:           func() ClientMessage { return &DeleteSession{} },
	TypeDiscussionMessage:       func() ClientMessage { return &DiscussionMessage{} },
	TypeAbort:                   func() ClientMessage { return &Abort{} },
	TypeQuickActionRequest:      func() ClientMessage { return &QuickActionRequest{} },
	TypeAdvisoryRequest:         func() ClientMessage { return &AdvisoryRequest{} },
	TypeToolPermissionResponse:  func() ClientMessage { return &ToolPermissionResponse{} },
	TypeAskUserQuestionResponse: func() ClientMessage { return &AskUserQuestionResponse{} },
	TypeSearchRequest:           func() ClientMessage { return &SearchRequest{} },
	TypeSnippetRequest:          func() ClientMessage { return &SnippetRequest{} },
	TypeTaskToggleRequest:       func() ClientMessage { return &TaskToggleRequest{} },
	TypeWidgetRequest:           func() ClientMessage { return &WidgetRequest{} },
	TypeReviewRequest:           func() ClientMessage { return &ReviewRequest{} },
	TypeSetupRequest:            func() ClientMessage { return &SetupRequest{} },
	TypeSyncRequest:             func() ClientMessage { return &SyncRequest{} },
	TypeSnapshotCreateRequest:   func() ClientMessage { return &SnapshotCreateRequest{} },
	TypeDismissHealthIssue:      func() ClientMessage { return &DismissHealthIssue{} },
	TypePing:                    func() ClientMessage { return &Ping{} },
}

// DecodeClient validates a raw server-bound payload and returns the
// strongly-typed message. On failure the returned error is a
// *ValidationError; the caller must not route the payload further.
func DecodeClient(data []byte) (ClientMessage, error) {
	var envelope struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, &ValidationError{Reason: "not a JSON object: " + err.Error()}
	}
	if envelope.Type == "" {
		return nil, missingField("type")
	}

	factory, known := clientFactories[envelope.Type]
	if !known {
		return nil, invalidField("type", fmt.Sprintf("unknown client message type %q", envelope.Type))
	}

	message := factory()
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(message); err != nil {
		return nil, &ValidationError{Field: string(envelope.Type), Reason: err.Error()}
	}
	if err := message.validate(); err != nil {
		return nil, err
	}
	return message, nil
}
