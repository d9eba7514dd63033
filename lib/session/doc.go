// Copyright 2026 The Vellum Authors
// SPDX-License-Identifier: Apache-2.0

// Package session persists conversation sessions in SQLite.
//
// A session belongs to one vault and holds an ordered message history;
// each message may carry the tool invocations made while producing it.
// The registry serves the session lifecycle: Select resumes the newest
// session for a vault (or hands out a fresh ID without touching the
// database — the row appears on the first appended message), Resume
// replays an existing session's history, Delete removes a session and
// everything under it, and Append records one completed message.
//
// History replay is deterministic: messages are ordered by their
// per-session sequence number and tool invocations by their
// per-message sequence number, so resuming the same session twice
// yields byte-identical history.
//
// Storage goes through lib/sqlitepool (WAL, foreign keys ON); deletes
// cascade from sessions through messages to tool invocations.
package session
