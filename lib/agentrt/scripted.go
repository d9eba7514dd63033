// Copyright 2026 The Vellum Authors
// SPDX-License-Identifier: Apache-2.0

package agentrt

import (
	"context"
	"fmt"
	"sync"
)

// ScriptedDriver replays fixed event sequences, one per StartTurn
// call, in order. Permission and question events suspend the replay
// until Decide supplies the matching tool-use ID; Interrupt skips the
// rest of the script and ends the turn with turn_error. Used by
// gateway tests in place of a real runtime.
type ScriptedDriver struct {
	mu      sync.Mutex
	scripts [][]Event
	next    int

	// Requests records every TurnRequest in call order.
	Requests []TurnRequest

	// Decisions records every decision delivered to any turn.
	Decisions []Decision
}

// NewScriptedDriver builds a driver replaying the given turns in
// order.
func NewScriptedDriver(turns ...[]Event) *ScriptedDriver {
	return &ScriptedDriver{scripts: turns}
}

// RecordedRequests returns a copy of the turn requests seen so far.
// Safe to call while a turn is running.
func (d *ScriptedDriver) RecordedRequests() []TurnRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]TurnRequest(nil), d.Requests...)
}

// Decided returns a copy of the decisions delivered so far. Safe to
// call while a turn is running.
func (d *ScriptedDriver) Decided() []Decision {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Decision(nil), d.Decisions...)
}

// StartTurn replays the next script. Fails when the scripts are
// exhausted.
func (d *ScriptedDriver) StartTurn(ctx context.Context, request TurnRequest) (*Turn, error) {
	d.mu.Lock()
	if d.next >= len(d.scripts) {
		d.mu.Unlock()
		return nil, fmt.Errorf("agentrt: no script for turn %d", d.next+1)
	}
	script := d.scripts[d.next]
	d.next++
	d.Requests = append(d.Requests, request)
	d.mu.Unlock()

	events := make(chan Event, 1)
	decisions := make(chan Decision)
	interrupted := make(chan struct{})
	var interruptOnce sync.Once

	go func() {
		defer close(events)
		for _, event := range script {
			select {
			case events <- event:
			case <-ctx.Done():
				return
			case <-interrupted:
				events <- Event{Type: EventTurnError, Message: "turn interrupted"}
				return
			}
			if event.terminal() {
				return
			}
			if event.Type != EventPermissionRequest && event.Type != EventQuestion {
				continue
			}
			// Hold the replay until the suspended tool is decided.
			waiting := true
			for waiting {
				select {
				case decision := <-decisions:
					if decision.ToolUseID == event.ToolUseID {
						waiting = false
					}
				case <-ctx.Done():
					return
				case <-interrupted:
					events <- Event{Type: EventTurnError, Message: "turn interrupted"}
					return
				}
			}
		}
		events <- Event{Type: EventTurnError, Message: "script ended without a terminal event"}
	}()

	return &Turn{
		events: events,
		decide: func(decision Decision) error {
			d.mu.Lock()
			d.Decisions = append(d.Decisions, decision)
			d.mu.Unlock()
			select {
			case decisions <- decision:
			case <-ctx.Done():
			case <-interrupted:
			}
			return nil
		},
		interrupt: func() error {
			interruptOnce.Do(func() { close(interrupted) })
			return nil
		},
	}, nil
}
