// Copyright 2026 The Vellum Authors
// SPDX-License-Identifier: Apache-2.0

// Package permission implements the client-decision gate for tool
// calls and ask-user exchanges.
//
// A turn that hits a gated tool call registers the tool-use ID with
// Await and blocks until the client answers, the per-request timeout
// fires, or the connection context is canceled. Only the gated call
// blocks; the gate never holds a lock while waiting, so other flows on
// the connection proceed.
//
// Decisions are exactly-once: the first Resolve for an ID wins and
// later decisions for the same ID are ignored. The default is denial:
// timeout, context cancellation, and DenyAll (connection teardown) all
// produce a deny decision for every prompt still pending.
package permission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vellum-notes/vellum/lib/clock"
)

// Decision is the client's answer to one prompt. For a permission
// prompt only Allowed is meaningful. For an ask-user prompt a granted
// decision carries Answers keyed by question text.
type Decision struct {
	Allowed bool
	Answers map[string][]string
}

// Deny is the default decision.
var Deny = Decision{Allowed: false}

// Gate tracks the prompts of one connection awaiting a client
// decision. Safe for concurrent use.
type Gate struct {
	clock   clock.Clock
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]chan Decision
}

// NewGate returns a gate whose prompts time out (and deny) after
// timeout. A non-positive timeout disables the timer; prompts then
// wait for a decision or context cancellation only.
func NewGate(clk clock.Clock, timeout time.Duration) *Gate {
	return &Gate{
		clock:   clk,
		timeout: timeout,
		pending: make(map[string]chan Decision),
	}
}

// Await blocks until the prompt identified by toolUseID is decided.
// It returns the deny decision when the timeout fires or ctx is
// canceled; the error reports only registration failures (a duplicate
// pending ID), never denial.
func (g *Gate) Await(ctx context.Context, toolUseID string) (Decision, error) {
	g.mu.Lock()
	if _, exists := g.pending[toolUseID]; exists {
		g.mu.Unlock()
		return Deny, fmt.Errorf("permission: prompt %q is already pending", toolUseID)
	}
	decided := make(chan Decision, 1)
	g.pending[toolUseID] = decided
	g.mu.Unlock()

	var timeout <-chan time.Time
	if g.timeout > 0 {
		timeout = g.clock.After(g.timeout)
	}

	select {
	case decision := <-decided:
		return decision, nil
	case <-timeout:
		g.take(toolUseID)
		return Deny, nil
	case <-ctx.Done():
		g.take(toolUseID)
		return Deny, nil
	}
}

// Resolve delivers the client's decision for toolUseID. It reports
// whether the decision was accepted; a decision for an unknown or
// already-decided prompt is ignored.
func (g *Gate) Resolve(toolUseID string, decision Decision) bool {
	decided := g.take(toolUseID)
	if decided == nil {
		return false
	}
	decided <- decision
	return true
}

// DenyOne denies a single pending prompt, as when its turn is aborted.
// Reports whether a prompt was pending under that ID.
func (g *Gate) DenyOne(toolUseID string) bool {
	return g.Resolve(toolUseID, Deny)
}

// DenyAll denies every pending prompt and returns their IDs. Called on
// connection teardown; a dropped client can never grant anything.
func (g *Gate) DenyAll() []string {
	g.mu.Lock()
	ids := make([]string, 0, len(g.pending))
	channels := make([]chan Decision, 0, len(g.pending))
	for id, decided := range g.pending {
		ids = append(ids, id)
		channels = append(channels, decided)
	}
	g.pending = make(map[string]chan Decision)
	g.mu.Unlock()

	for _, decided := range channels {
		decided <- Deny
	}
	return ids
}

// Len reports the number of pending prompts.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// take removes and returns the pending channel for toolUseID, or nil.
// Removal under the lock is what makes decisions exactly-once: whoever
// takes the channel owns the (buffered) send.
func (g *Gate) take(toolUseID string) chan Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	decided := g.pending[toolUseID]
	delete(g.pending, toolUseID)
	return decided
}
