// Copyright 2026 The Vellum Authors
// SPDX-License-Identifier: Apache-2.0

// Package health tracks cross-cutting diagnostics raised by gateway
// subsystems: a failed search index rebuild, an unreadable settings
// file, a runtime that keeps crashing. Issues surface to the client as
// health_issue messages and live until dismissed or until the vault
// changes.
package health

import (
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/vellum-notes/vellum/lib/clock"
	"github.com/vellum-notes/vellum/lib/wire"
)

// Tracker is the issue registry for one connection. Safe for
// concurrent use.
type Tracker struct {
	clock  clock.Clock
	logger *slog.Logger

	mu     sync.Mutex
	issues map[string]wire.HealthIssue
}

// NewTracker builds an empty tracker. A nil logger discards.
func NewTracker(clk clock.Clock, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Tracker{
		clock:  clk,
		logger: logger,
		issues: make(map[string]wire.HealthIssue),
	}
}

// Raise registers a new issue and returns it for delivery to the
// client.
func (t *Tracker) Raise(severity wire.IssueSeverity, category, message string, dismissible bool) wire.HealthIssue {
	issue := wire.HealthIssue{
		ID:          uuid.NewString(),
		Severity:    severity,
		Category:    category,
		Message:     message,
		Dismissible: dismissible,
		Timestamp:   t.clock.Now().UTC(),
	}
	t.mu.Lock()
	t.issues[issue.ID] = issue
	t.mu.Unlock()

	t.logger.Warn("health issue raised",
		"issue_id", issue.ID, "severity", severity, "category", category, "message", message)
	return issue
}

// Dismiss removes a dismissible issue. Unknown IDs and non-dismissible
// issues are validation errors.
func (t *Tracker) Dismiss(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	issue, exists := t.issues[id]
	if !exists {
		return wire.NewProtocolError(wire.CodeValidation, "", "no health issue %q", id)
	}
	if !issue.Dismissible {
		return wire.NewProtocolError(wire.CodeValidation, "", "health issue %q is not dismissible", id)
	}
	delete(t.issues, id)
	t.logger.Info("health issue dismissed", "issue_id", id)
	return nil
}

// Clear drops every issue. Called on vault reselection: old issues
// describe the old vault.
func (t *Tracker) Clear() {
	t.mu.Lock()
	count := len(t.issues)
	t.issues = make(map[string]wire.HealthIssue)
	t.mu.Unlock()
	if count > 0 {
		t.logger.Info("health issues cleared", "count", count)
	}
}

// Issues returns the open issues ordered by timestamp, then ID for
// same-instant issues.
func (t *Tracker) Issues() []wire.HealthIssue {
	t.mu.Lock()
	issues := make([]wire.HealthIssue, 0, len(t.issues))
	for _, issue := range t.issues {
		issues = append(issues, issue)
	}
	t.mu.Unlock()

	sort.Slice(issues, func(a, b int) bool {
		if !issues[a].Timestamp.Equal(issues[b].Timestamp) {
			return issues[a].Timestamp.Before(issues[b].Timestamp)
		}
		return issues[a].ID < issues[b].ID
	})
	return issues
}
