// Copyright 2026 The Vellum Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/json"
	"time"
)

// MessageType is the value of the "type" discriminator field.
type MessageType string

// Client→server message types.
const (
	TypeSelectVault             MessageType = "select_vault"
	TypeResumeSession           MessageType = "resume_session"
	TypeDeleteSession           MessageType = "delete_session"
	TypeDiscussionMessage       MessageType = "discussion_message"
	TypeAbort                   MessageType = "abort"
	TypeQuickActionRequest      MessageType = "quick_action_request"
	TypeAdvisoryRequest         MessageType = "advisory_request"
	TypeToolPermissionResponse  MessageType = "tool_permission_response"
	TypeAskUserQuestionResponse MessageType = "ask_user_question_response"
	TypeSearchRequest           MessageType = "search_request"
	TypeSnippetRequest          MessageType = "snippet_request"
	TypeTaskToggleRequest       MessageType = "task_toggle_request"
	TypeWidgetRequest           MessageType = "widget_request"
	TypeReviewRequest           MessageType = "review_request"
	TypeSetupRequest            MessageType = "setup_request"
	TypeSyncRequest             MessageType = "sync_request"
	TypeSnapshotCreateRequest   MessageType = "snapshot_create_request"
	TypeDismissHealthIssue      MessageType = "dismiss_health_issue"
	TypePing                    MessageType = "ping"
)

// Server→client message types.
const (
	TypeSessionReady           MessageType = "session_ready"
	TypeSessionDeleted         MessageType = "session_deleted"
	TypeResponseStart          MessageType = "response_start"
	TypeResponseChunk          MessageType = "response_chunk"
	TypeResponseEnd            MessageType = "response_end"
	TypeToolStart              MessageType = "tool_start"
	TypeToolInput              MessageType = "tool_input"
	TypeToolEnd                MessageType = "tool_end"
	TypeToolPermissionRequest  MessageType = "tool_permission_request"
	TypeAskUserQuestionRequest MessageType = "ask_user_question_request"
	TypeSearchResponse         MessageType = "search_response"
	TypeSnippetResponse        MessageType = "snippet_response"
	TypeTaskToggleResponse     MessageType = "task_toggle_response"
	TypeWidgetResponse         MessageType = "widget_response"
	TypeReviewResponse         MessageType = "review_response"
	TypeSetupResponse          MessageType = "setup_response"
	TypeSyncResponse           MessageType = "sync_response"
	TypeSnapshotCreateResponse MessageType = "snapshot_create_response"
	TypeHealthIssue            MessageType = "health_issue"
	TypeHealthIssueDismissed   MessageType = "health_issue_dismissed"
	TypeError                  MessageType = "error"
	TypePong                   MessageType = "pong"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// ToolStatus is the lifecycle state of a tool invocation. Transitions
// only running → complete, never backward.
type ToolStatus string

const (
	ToolRunning  ToolStatus = "running"
	ToolComplete ToolStatus = "complete"
)

// ConversationMessage is one entry of a session's replayed history.
// Immutable once its terminal event has been received.
type ConversationMessage struct {
	ID             string           `json:"id"`
	Role           Role             `json:"role"`
	Content        string           `json:"content"`
	Timestamp      time.Time        `json:"timestamp"`
	ToolUses       []ToolInvocation `json:"tool_uses,omitempty"`
	ContextPercent *float64         `json:"context_percent,omitempty"`
	DurationMS     *int64           `json:"duration_ms,omitempty"`
}

// ToolInvocation records one tool call made while producing a
// conversation message. The ID is shared with the permission or
// ask-question exchange that gated it, if any.
type ToolInvocation struct {
	ID       string          `json:"id"`
	ToolName string          `json:"tool_name"`
	Input    json.RawMessage `json:"input,omitempty"`
	Output   json.RawMessage `json:"output,omitempty"`
	Status   ToolStatus      `json:"status"`
}

// Question is one entry of an ask-user exchange. A request carries one
// to four questions with two to four options each.
type Question struct {
	Text        string   `json:"text"`
	Options     []string `json:"options"`
	MultiSelect bool     `json:"multi_select,omitempty"`
}

// SlashCommand is a command affordance advertised with session_ready.
type SlashCommand struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// SearchResult is one ranked hit of a vault search.
type SearchResult struct {
	Path    string  `json:"path"`
	Title   string  `json:"title"`
	Score   float64 `json:"score"`
	Excerpt string  `json:"excerpt,omitempty"`
}

// IssueSeverity classifies a health issue.
type IssueSeverity string

const (
	SeverityError   IssueSeverity = "error"
	SeverityWarning IssueSeverity = "warning"
)

// HealthIssue is a cross-cutting diagnostic raised by any subsystem
// that hits a recoverable fault. Removed on explicit dismissal or
// vault reselection.
type HealthIssue struct {
	ID          string        `json:"id"`
	Severity    IssueSeverity `json:"severity"`
	Category    string        `json:"category"`
	Message     string        `json:"message"`
	Dismissible bool          `json:"dismissible"`
	Timestamp   time.Time     `json:"timestamp"`
}
