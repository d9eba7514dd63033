// Copyright 2026 The Vellum Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ServerMessage is a validated server→client message. Constructors set
// the "type" discriminator; Encode refuses a message whose
// discriminator does not match its concrete type, which catches
// hand-built structs that skipped the constructor.
type ServerMessage interface {
	MessageType() MessageType
	serverMessage()
}

// SessionReady is the terminal message of select_vault and
// resume_session. Messages replays the conversation history (empty for
// a lazily-created session); Commands lists the vault's slash-command
// affordances.
type SessionReady struct {
	Type      MessageType           `json:"type"`
	SessionID string                `json:"session_id"`
	VaultID   string                `json:"vault_id"`
	Messages  []ConversationMessage `json:"messages"`
	Commands  []SlashCommand        `json:"commands,omitempty"`
}

// SessionDeleted confirms an irreversible session deletion.
type SessionDeleted struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

// ResponseStart opens a streamed response. Every subsequent chunk and
// the terminal end event carry the same message ID.
type ResponseStart struct {
	Type      MessageType `json:"type"`
	MessageID string      `json:"message_id"`
}

// ResponseChunk carries one streamed content fragment. Chunks are
// appended in arrival order; the transport guarantees per-connection
// ordering, so no resequencing happens anywhere.
type ResponseChunk struct {
	Type      MessageType `json:"type"`
	MessageID string      `json:"message_id"`
	Content   string      `json:"content"`
}

// ResponseEnd is the terminal event of a streamed response, carrying
// summary metadata computed by the agent runtime.
type ResponseEnd struct {
	Type           MessageType `json:"type"`
	MessageID      string      `json:"message_id"`
	ContextPercent *float64    `json:"context_percent,omitempty"`
	DurationMS     *int64      `json:"duration_ms,omitempty"`
}

// ToolStart announces a tool invocation within a turn.
type ToolStart struct {
	Type      MessageType `json:"type"`
	ToolUseID string      `json:"tool_use_id"`
	ToolName  string      `json:"tool_name"`
}

// ToolInput carries the (opaque) input payload of a tool invocation.
type ToolInput struct {
	Type      MessageType     `json:"type"`
	ToolUseID string          `json:"tool_use_id"`
	Input     json.RawMessage `json:"input"`
}

// ToolEnd closes a tool invocation with its output payload. A denied
// permission still produces a ToolEnd with an error-shaped output, so
// the client's tool lifecycle always closes.
type ToolEnd struct {
	Type      MessageType     `json:"type"`
	ToolUseID string          `json:"tool_use_id"`
	Output    json.RawMessage `json:"output,omitempty"`
}

// ToolPermissionRequest suspends one gated tool call until the client
// answers with tool_permission_response (or the connection drops, in
// which case the call is denied).
type ToolPermissionRequest struct {
	Type      MessageType     `json:"type"`
	ToolUseID string          `json:"tool_use_id"`
	ToolName  string          `json:"tool_name"`
	Input     json.RawMessage `json:"input,omitempty"`
}

// AskUserQuestionRequest suspends a turn until the client answers a
// short multi-question form (1–4 questions, 2–4 options each).
type AskUserQuestionRequest struct {
	Type      MessageType `json:"type"`
	ToolUseID string      `json:"tool_use_id"`
	Questions []Question  `json:"questions"`
}

// SearchResponse is the one-shot terminal of search_request.
type SearchResponse struct {
	Type      MessageType    `json:"type"`
	RequestID string         `json:"request_id"`
	Results   []SearchResult `json:"results"`
}

// SnippetResponse is the one-shot terminal of snippet_request.
type SnippetResponse struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id"`
	Content   string      `json:"content"`
}

// TaskToggleResponse is the one-shot terminal of task_toggle_request.
type TaskToggleResponse struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id"`
	Checked   bool        `json:"checked"`
}

// WidgetResponse is the one-shot terminal of widget_request. The
// payload is computed by the widget engine and opaque to the protocol.
type WidgetResponse struct {
	Type      MessageType     `json:"type"`
	RequestID string          `json:"request_id"`
	Payload   json.RawMessage `json:"payload"`
}

// ReviewResponse is the one-shot terminal of review_request. NextDue
// is an RFC 3339 timestamp computed by the scheduler.
type ReviewResponse struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id"`
	NextDue   string      `json:"next_due"`
}

// SetupResponse is the one-shot terminal of setup_request.
type SetupResponse struct {
	Type      MessageType     `json:"type"`
	RequestID string          `json:"request_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// SyncResponse confirms a completed vault re-index.
type SyncResponse struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id"`
}

// SnapshotCreateResponse is the one-shot terminal of
// snapshot_create_request, carrying the stored snapshot's ID.
type SnapshotCreateResponse struct {
	Type       MessageType `json:"type"`
	RequestID  string      `json:"request_id"`
	SnapshotID string      `json:"snapshot_id"`
}

// HealthIssueNotice surfaces a new health issue to the client.
type HealthIssueNotice struct {
	Type  MessageType `json:"type"`
	Issue HealthIssue `json:"issue"`
}

// HealthIssueDismissed confirms removal of a health issue.
type HealthIssueDismissed struct {
	Type    MessageType `json:"type"`
	IssueID string      `json:"issue_id"`
}

// ErrorMessage carries a protocol error. With a correlation ID it
// fails exactly one pending request; without one it is
// connection-scoped.
type ErrorMessage struct {
	Type          MessageType `json:"type"`
	Code          ErrorCode   `json:"code"`
	Message       string      `json:"message"`
	CorrelationID string      `json:"correlation_id,omitempty"`
}

// Pong is the keep-alive reply. It does not participate in
// correlation ordering.
type Pong struct {
	Type MessageType `json:"type"`
}

func (m *SessionReady) MessageType() MessageType           { return TypeSessionReady }
func (m *SessionDeleted) MessageType() MessageType         { return TypeSessionDeleted }
func (m *ResponseStart) MessageType() MessageType          { return TypeResponseStart }
func (m *ResponseChunk) MessageType() MessageType          { return TypeResponseChunk }
func (m *ResponseEnd) MessageType() MessageType            { return TypeResponseEnd }
func (m *ToolStart) MessageType() MessageType              { return TypeToolStart }
func (m *ToolInput) MessageType() MessageType              { return TypeToolInput }
func (m *ToolEnd) MessageType() MessageType                { return TypeToolEnd }
func (m *ToolPermissionRequest) MessageType() MessageType  { return TypeToolPermissionRequest }
func (m *AskUserQuestionRequest) MessageType() MessageType { return TypeAskUserQuestionRequest }
func (m *SearchResponse) MessageType() MessageType         { return TypeSearchResponse }
func (m *SnippetResponse) MessageType() MessageType        { return TypeSnippetResponse }
func (m *TaskToggleResponse) MessageType() MessageType     { return TypeTaskToggleResponse }
func (m *WidgetResponse) MessageType() MessageType         { return TypeWidgetResponse }
func (m *ReviewResponse) MessageType() MessageType         { return TypeReviewResponse }
func (m *SetupResponse) MessageType() MessageType          { return TypeSetupResponse }
func (m *SyncResponse) MessageType() MessageType           { return TypeSyncResponse }
func (m *SnapshotCreateResponse) MessageType() MessageType { return TypeSnapshotCreateResponse }
func (m *HealthIssueNotice) MessageType() MessageType      { return TypeHealthIssue }
func (m *HealthIssueDismissed) MessageType() MessageType   { return TypeHealthIssueDismissed }
func (m *ErrorMessage) MessageType() MessageType           { return TypeError }
func (m *Pong) MessageType() MessageType                   { return TypePong }

func (m *SessionReady) serverMessage()           {}
func (m *SessionDeleted) serverMessage()         {}
func (m *ResponseStart) serverMessage()          {}
func (m *ResponseChunk) serverMessage()          {}
func (m *ResponseEnd) serverMessage()            {}
func (m *ToolStart) serverMessage()              {}
func (m *ToolInput) serverMessage()              {}
func (m *ToolEnd) serverMessage()                {}
func (m *ToolPermissionRequest) serverMessage()  {}
func (m *AskUserQuestionRequest) serverMessage() {}
func (m *SearchResponse) serverMessage()         {}
func (m *SnippetResponse) serverMessage()        {}
func (m *TaskToggleResponse) serverMessage()     {}
func (m *WidgetResponse) serverMessage()         {}
func (m *ReviewResponse) serverMessage()         {}
func (m *SetupResponse) serverMessage()          {}
func (m *SyncResponse) serverMessage()           {}
func (m *SnapshotCreateResponse) serverMessage() {}
func (m *HealthIssueNotice) serverMessage()      {}
func (m *HealthIssueDismissed) serverMessage()   {}
func (m *ErrorMessage) serverMessage()           {}
func (m *Pong) serverMessage()                   {}

// NewSessionReady builds the terminal message of select/resume.
// Messages may be nil; it is normalized to an empty slice so the
// client always receives a JSON array.
func NewSessionReady(sessionID, vaultID string, messages []ConversationMessage, commands []SlashCommand) *SessionReady {
	if messages == nil {
		messages = []ConversationMessage{}
	}
	return &SessionReady{
		Type:      TypeSessionReady,
		SessionID: sessionID,
		VaultID:   vaultID,
		Messages:  messages,
		Commands:  commands,
	}
}

// NewSessionDeleted confirms deletion of sessionID.
func NewSessionDeleted(sessionID string) *SessionDeleted {
	return &SessionDeleted{Type: TypeSessionDeleted, SessionID: sessionID}
}

// NewResponseStart opens the stream for messageID.
func NewResponseStart(messageID string) *ResponseStart {
	return &ResponseStart{Type: TypeResponseStart, MessageID: messageID}
}

// NewResponseChunk carries one content fragment for messageID.
func NewResponseChunk(messageID, content string) *ResponseChunk {
	return &ResponseChunk{Type: TypeResponseChunk, MessageID: messageID, Content: content}
}

// NewResponseEnd closes the stream for messageID with its summary
// metadata. Either pointer may be nil when the runtime did not report
// the figure.
func NewResponseEnd(messageID string, contextPercent *float64, durationMS *int64) *ResponseEnd {
	return &ResponseEnd{
		Type:           TypeResponseEnd,
		MessageID:      messageID,
		ContextPercent: contextPercent,
		DurationMS:     durationMS,
	}
}

// NewToolStart announces a tool invocation.
func NewToolStart(toolUseID, toolName string) *ToolStart {
	return &ToolStart{Type: TypeToolStart, ToolUseID: toolUseID, ToolName: toolName}
}

// NewToolInput carries the tool's input payload.
func NewToolInput(toolUseID string, input json.RawMessage) *ToolInput {
	return &ToolInput{Type: TypeToolInput, ToolUseID: toolUseID, Input: input}
}

// NewToolEnd closes a tool invocation.
func NewToolEnd(toolUseID string, output json.RawMessage) *ToolEnd {
	return &ToolEnd{Type: TypeToolEnd, ToolUseID: toolUseID, Output: output}
}

// NewToolPermissionRequest suspends a gated tool call.
func NewToolPermissionRequest(toolUseID, toolName string, input json.RawMessage) *ToolPermissionRequest {
	return &ToolPermissionRequest{
		Type:      TypeToolPermissionRequest,
		ToolUseID: toolUseID,
		ToolName:  toolName,
		Input:     input,
	}
}

// NewAskUserQuestionRequest suspends a turn on a multi-question form.
func NewAskUserQuestionRequest(toolUseID string, questions []Question) *AskUserQuestionRequest {
	return &AskUserQuestionRequest{
		Type:      TypeAskUserQuestionRequest,
		ToolUseID: toolUseID,
		Questions: questions,
	}
}

// NewSearchResponse answers a search_request. Results may be nil; it
// is normalized to an empty slice.
func NewSearchResponse(requestID string, results []SearchResult) *SearchResponse {
	if results == nil {
		results = []SearchResult{}
	}
	return &SearchResponse{Type: TypeSearchResponse, RequestID: requestID, Results: results}
}

// NewSnippetResponse answers a snippet_request.
func NewSnippetResponse(requestID, content string) *SnippetResponse {
	return &SnippetResponse{Type: TypeSnippetResponse, RequestID: requestID, Content: content}
}

// NewTaskToggleResponse answers a task_toggle_request with the new
// checkbox state.
func NewTaskToggleResponse(requestID string, checked bool) *TaskToggleResponse {
	return &TaskToggleResponse{Type: TypeTaskToggleResponse, RequestID: requestID, Checked: checked}
}

// NewWidgetResponse answers a widget_request.
func NewWidgetResponse(requestID string, payload json.RawMessage) *WidgetResponse {
	return &WidgetResponse{Type: TypeWidgetResponse, RequestID: requestID, Payload: payload}
}

// NewReviewResponse answers a review_request.
func NewReviewResponse(requestID, nextDue string) *ReviewResponse {
	return &ReviewResponse{Type: TypeReviewResponse, RequestID: requestID, NextDue: nextDue}
}

// NewSetupResponse answers a setup_request.
func NewSetupResponse(requestID string, payload json.RawMessage) *SetupResponse {
	return &SetupResponse{Type: TypeSetupResponse, RequestID: requestID, Payload: payload}
}

// NewSyncResponse answers a sync_request.
func NewSyncResponse(requestID string) *SyncResponse {
	return &SyncResponse{Type: TypeSyncResponse, RequestID: requestID}
}

// NewSnapshotCreateResponse answers a snapshot_create_request.
func NewSnapshotCreateResponse(requestID, snapshotID string) *SnapshotCreateResponse {
	return &SnapshotCreateResponse{
		Type:       TypeSnapshotCreateResponse,
		RequestID:  requestID,
		SnapshotID: snapshotID,
	}
}

// NewHealthIssueNotice surfaces issue to the client.
func NewHealthIssueNotice(issue HealthIssue) *HealthIssueNotice {
	return &HealthIssueNotice{Type: TypeHealthIssue, Issue: issue}
}

// NewHealthIssueDismissed confirms removal of issueID.
func NewHealthIssueDismissed(issueID string) *HealthIssueDismissed {
	return &HealthIssueDismissed{Type: TypeHealthIssueDismissed, IssueID: issueID}
}

// NewErrorMessage wraps a ProtocolError for the wire.
func NewErrorMessage(protocolError *ProtocolError) *ErrorMessage {
	return &ErrorMessage{
		Type:          TypeError,
		Code:          protocolError.Code,
		Message:       protocolError.Message,
		CorrelationID: protocolError.CorrelationID,
	}
}

// NewPong is the keep-alive reply.
func NewPong() *Pong {
	return &Pong{Type: TypePong}
}

// Encode marshals a server message for the wire. It refuses a message
// whose discriminator field does not match its concrete type.
func Encode(message ServerMessage) ([]byte, error) {
	data, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("wire: encoding %s: %w", message.MessageType(), err)
	}

	var envelope struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("wire: encoding %s: %w", message.MessageType(), err)
	}
	if envelope.Type != message.MessageType() {
		return nil, fmt.Errorf("wire: message built without its constructor: discriminator %q, concrete type %q",
			envelope.Type, message.MessageType())
	}
	return data, nil
}

// serverFactories maps each client-bound discriminator to a fresh
// instance of its concrete type.
var serverFactories = map[MessageType]func() ServerMessage{
	TypeSessionReady:           func() ServerMessage { return &SessionReady{} },
	TypeSessionDeleted:         func() ServerMessage { return &SessionDeleted{} },
	TypeResponseStart:          func() ServerMessage { return &ResponseStart{} },
	TypeResponseChunk:          func() ServerMessage { return &ResponseChunk{} },
	TypeResponseEnd:            func() ServerMessage { return &ResponseEnd{} },
	TypeToolStart:              func() ServerMessage { return &ToolStart{} },
	TypeToolInput:              func() ServerMessage { return &ToolInput{} },
	TypeToolEnd:                func() ServerMessage { return &ToolEnd{} },
	TypeToolPermissionRequest:  func() ServerMessage { return &ToolPermissionRequest{} },
	TypeAskUserQuestionRequest: func() ServerMessage { return &AskUserQuestionRequest{} },
	TypeSearchResponse:         func() ServerMessage { return &SearchResponse{} },
	TypeSnippetResponse:        func() ServerMessage { return &SnippetResponse{} },
	TypeTaskToggleResponse:     func() ServerMessage { return &TaskToggleResponse{} },
	TypeWidgetResponse:         func() ServerMessage { return &WidgetResponse{} },
	TypeReviewResponse:         func() ServerMessage { return &ReviewResponse{} },
	TypeSetupResponse:          func() ServerMessage { return &SetupResponse{} },
	TypeSyncResponse:           func() ServerMessage { return &SyncResponse{} },
	TypeSnapshotCreateResponse: func() ServerMessage { return &SnapshotCreateResponse{} },
	TypeHealthIssue:            func() ServerMessage { return &HealthIssueNotice{} },
	TypeHealthIssueDismissed:   func() ServerMessage { return &HealthIssueDismissed{} },
	TypeError:                  func() ServerMessage { return &ErrorMessage{} },
	TypePong:                   func() ServerMessage { return &Pong{} },
}

// DecodeServer validates a raw client-bound payload and returns the
// strongly-typed message. Used by client implementations and by the
// gateway's own tests; the gateway never decodes its own output in
// production paths.
func DecodeServer(data []byte) (ServerMessage, error) {
	var envelope struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, &ValidationError{Reason: "not a JSON object: " + err.Error()}
	}
	if envelope.Type == "" {
		return nil, missingField("type")
	}

	factory, known := serverFactories[envelope.Type]
	if !known {
		return nil, invalidField("type", fmt.Sprintf("unknown server message type %q", envelope.Type))
	}

	message := factory()
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(message); err != nil {
		return nil, &ValidationError{Field: string(envelope.Type), Reason: err.Error()}
	}
	return message, nil
}
