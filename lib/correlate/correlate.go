// Copyright 2026 The Vellum Authors
// SPDX-License-Identifier: Apache-2.0

// Package correlate tracks the pending requests of one connection.
//
// Every client request that expects correlated server events is opened
// in a Table keyed by its correlation ID (request_id for one-shots,
// message_id for streamed turns). A pending request moves through
// created → accumulating → one of the terminal states (resolved,
// aborted, errored); terminal states remove it from the table. The
// table enforces the protocol's two admission rules: a correlation ID
// may not be reused while pending, and at most one discussion-kind
// request may be pending at a time.
//
// The table never resequences: chunks append in arrival order because
// the transport guarantees per-connection ordering.
package correlate

import (
	"fmt"
	"strings"
	"sync"

	"github.com/vellum-notes/vellum/lib/wire"
)

// Kind classifies a pending request. Kinds are independent: requests
// of different kinds never block each other. Only KindDiscussion is
// exclusive.
type Kind string

const (
	KindDiscussion  Kind = "discussion"
	KindQuickAction Kind = "quick_action"
	KindAdvisory    Kind = "advisory"
	KindPermission  Kind = "permission"
	KindAskQuestion Kind = "ask_question"
	KindOneShot     Kind = "one_shot"
)

// State is the lifecycle state of a pending request. Terminal states
// (resolved, aborted, errored) are never observed through the table;
// reaching one removes the request.
type State string

const (
	StateCreated      State = "created"
	StateAccumulating State = "accumulating"
	StateResolved     State = "resolved"
	StateAborted      State = "aborted"
	StateErrored      State = "errored"
)

type pending struct {
	kind   Kind
	state  State
	chunks []string
}

// Table is the per-connection pending-request table. Safe for
// concurrent use.
type Table struct {
	mu      sync.Mutex
	pending map[string]*pending
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{pending: make(map[string]*pending)}
}

// Open admits a new pending request. It fails with VALIDATION_ERROR if
// the correlation ID is already pending, and with TURN_ACTIVE if kind
// is KindDiscussion and another discussion request is pending.
func (t *Table) Open(correlationID string, kind Kind) error {
	if correlationID == "" {
		return fmt.Errorf("correlate: empty correlation ID")
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.pending[correlationID]; exists {
		return wire.NewProtocolError(wire.CodeValidation, correlationID,
			"correlation ID %q is already pending", correlationID)
	}
	if kind == KindDiscussion {
		for id, request := range t.pending {
			if request.kind == KindDiscussion {
				return wire.NewProtocolError(wire.CodeTurnActive, correlationID,
					"a discussion turn (%s) is already in flight", id)
			}
		}
	}
	t.pending[correlationID] = &pending{kind: kind, state: StateCreated}
	return nil
}

// AppendChunk appends one content fragment to a pending request,
// moving it to the accumulating state.
func (t *Table) AppendChunk(correlationID, content string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	request, exists := t.pending[correlationID]
	if !exists {
		return fmt.Errorf("correlate: no pending request %q", correlationID)
	}
	request.state = StateAccumulating
	request.chunks = append(request.chunks, content)
	return nil
}

// Resolve terminates a pending request successfully and returns its
// accumulated content in arrival order.
func (t *Table) Resolve(correlationID string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	request, exists := t.pending[correlationID]
	if !exists {
		return "", fmt.Errorf("correlate: no pending request %q", correlationID)
	}
	request.state = StateResolved
	delete(t.pending, correlationID)
	return strings.Join(request.chunks, ""), nil
}

// Abort terminates a pending request, discarding its accumulated
// content. Aborting an unknown ID is not an error: the request may
// have resolved in the window between the client deciding to abort and
// the abort arriving.
func (t *Table) Abort(correlationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if request, exists := t.pending[correlationID]; exists {
		request.state = StateAborted
		delete(t.pending, correlationID)
	}
}

// Fail terminates one pending request with an error.
func (t *Table) Fail(correlationID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	request, exists := t.pending[correlationID]
	if !exists {
		return fmt.Errorf("correlate: no pending request %q", correlationID)
	}
	request.state = StateErrored
	delete(t.pending, correlationID)
	return nil
}

// FailAll terminates every pending request and returns their
// correlation IDs. The table is empty afterward. Used for
// connection-scoped errors and for disconnect, where every pending
// request fails with CONNECTION_LOST.
func (t *Table) FailAll() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]string, 0, len(t.pending))
	for id, request := range t.pending {
		request.state = StateErrored
		ids = append(ids, id)
	}
	t.pending = make(map[string]*pending)
	return ids
}

// DiscussionID returns the correlation ID of the pending discussion
// turn, if one is in flight.
func (t *Table) DiscussionID() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, request := range t.pending {
		if request.kind == KindDiscussion {
			return id, true
		}
	}
	return "", false
}

// KindOf returns the kind of a pending request.
func (t *Table) KindOf(correlationID string) (Kind, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	request, exists := t.pending[correlationID]
	if !exists {
		return "", false
	}
	return request.kind, true
}

// Len reports the number of pending requests.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
