// Copyright 2026 The Vellum Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"errors"
	"fmt"
)

// ErrorCode is one of the fixed protocol error codes. The code space is
// closed: every error surfaced to the client uses one of these values,
// so feature handlers and the client can switch on them safely.
type ErrorCode string

const (
	// Not-found conditions.
	CodeVaultNotFound     ErrorCode = "VAULT_NOT_FOUND"
	CodeSessionNotFound   ErrorCode = "SESSION_NOT_FOUND"
	CodeFileNotFound      ErrorCode = "FILE_NOT_FOUND"
	CodeDirectoryNotFound ErrorCode = "DIRECTORY_NOT_FOUND"

	// Access conditions.
	CodeVaultAccessDenied ErrorCode = "VAULT_ACCESS_DENIED"
	CodePathTraversal     ErrorCode = "PATH_TRAVERSAL"
	CodeInvalidFileType   ErrorCode = "INVALID_FILE_TYPE"

	// Validation conditions.
	CodeValidation ErrorCode = "VALIDATION_ERROR"
	CodeTurnActive ErrorCode = "TURN_ACTIVE"

	// Runtime conditions.
	CodeAgentError     ErrorCode = "AGENT_ERROR"
	CodeToolError      ErrorCode = "TOOL_ERROR"
	CodeConnectionLost ErrorCode = "CONNECTION_LOST"
	CodeInternal       ErrorCode = "INTERNAL_ERROR"
)

// ProtocolError is a typed error carried by the error message. When
// CorrelationID is set the error is addressed to a single pending
// request; when empty it is connection-scoped and fails every pending
// request on the connection.
//
// Callers use errors.As to extract the structured information:
//
//	var protocolErr *wire.ProtocolError
//	if errors.As(err, &protocolErr) {
//	    if protocolErr.Code == wire.CodeSessionNotFound { ... }
//	}
type ProtocolError struct {
	Code          ErrorCode
	Message       string
	CorrelationID string
}

func (e *ProtocolError) Error() string {
	if e.CorrelationID != "" {
		return fmt.Sprintf("wire: %s (%s): %s", e.Code, e.CorrelationID, e.Message)
	}
	return fmt.Sprintf("wire: %s: %s", e.Code, e.Message)
}

// NewProtocolError builds a ProtocolError addressed to correlationID.
// Pass an empty correlationID for a connection-scoped error.
func NewProtocolError(code ErrorCode, correlationID, format string, args ...any) *ProtocolError {
	return &ProtocolError{
		Code:          code,
		Message:       fmt.Sprintf(format, args...),
		CorrelationID: correlationID,
	}
}

// IsCode reports whether err is a *ProtocolError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var protocolErr *ProtocolError
	if errors.As(err, &protocolErr) {
		return protocolErr.Code == code
	}
	return false
}

// ValidationError describes why a raw payload failed codec validation.
// Field is a dotted path into the offending payload ("type",
// "answers", ...); an empty Field means the payload was not a JSON
// object at all.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "wire: invalid message: " + e.Reason
	}
	return fmt.Sprintf("wire: invalid message: field %q: %s", e.Field, e.Reason)
}

// AsProtocolError converts a codec validation failure into the
// VALIDATION_ERROR protocol error addressed to correlationID.
func (e *ValidationError) AsProtocolError(correlationID string) *ProtocolError {
	return &ProtocolError{
		Code:          CodeValidation,
		Message:       e.Error(),
		CorrelationID: correlationID,
	}
}

func missingField(field string) *ValidationError {
	return &ValidationError{Field: field, Reason: "missing required field"}
}

func invalidField(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}
