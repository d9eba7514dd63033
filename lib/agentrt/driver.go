// Copyright 2026 The Vellum Authors
// SPDX-License-Identifier: Apache-2.0

package agentrt

import (
	"context"
)

// TurnRequest holds everything the runtime needs for one turn.
type TurnRequest struct {
	// SessionID identifies the session the turn belongs to. The
	// runtime uses it to load conversation state.
	SessionID string

	// VaultRoot is the directory the runtime operates in. Tool calls
	// are scoped to this directory.
	VaultRoot string

	// Prompt is the user content driving the turn. For quick actions
	// and advisory requests the caller composes the prompt from the
	// selection and action kind.
	Prompt string

	// SystemPrompt is appended to the runtime's system prompt. Empty
	// means no addition.
	SystemPrompt string

	// ExtraEnv is additional environment for the runtime process, in
	// "KEY=VALUE" form.
	ExtraEnv []string
}

// Driver is the boundary between the gateway and a specific agent
// runtime. Implementations start one process (or replay) per turn.
type Driver interface {
	// StartTurn begins a turn. The returned Turn streams events until
	// a terminal turn_end or turn_error; the caller must drain Events
	// to completion. Cancelling ctx interrupts the turn.
	StartTurn(ctx context.Context, request TurnRequest) (*Turn, error)
}

// Turn is one in-flight runtime turn. Events delivers the runtime's
// event stream; the channel closes after the terminal event. Decide
// answers a pending permission_request or question event. Interrupt
// asks the runtime to stop after the current tool call.
type Turn struct {
	events    <-chan Event
	decide    func(Decision) error
	interrupt func() error
}

// Events returns the turn's event stream. Closed after turn_end or
// turn_error.
func (t *Turn) Events() <-chan Event { return t.events }

// Decide delivers a decision for a suspended tool. Calling Decide for
// a tool the runtime is not waiting on is the runtime's problem to
// ignore; the gateway's permission gate already deduplicates.
func (t *Turn) Decide(decision Decision) error { return t.decide(decision) }

// Interrupt requests a graceful stop. The runtime finishes the current
// tool call and emits turn_end or turn_error.
func (t *Turn) Interrupt() error { return t.interrupt() }
