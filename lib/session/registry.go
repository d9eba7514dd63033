// Copyright 2026 The Vellum Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/vellum-notes/vellum/lib/clock"
	"github.com/vellum-notes/vellum/lib/sqlitepool"
	"github.com/vellum-notes/vellum/lib/wire"
)

const schema = `
	CREATE TABLE IF NOT EXISTS sessions (
		id             TEXT PRIMARY KEY,
		vault_id       TEXT NOT NULL,
		created_at     INTEGER NOT NULL,
		last_active_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_vault
		ON sessions(vault_id, last_active_at DESC);

	CREATE TABLE IF NOT EXISTS messages (
		id              TEXT PRIMARY KEY,
		session_id      TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		seq             INTEGER NOT NULL,
		role            TEXT NOT NULL,
		content         TEXT NOT NULL,
		created_at      INTEGER NOT NULL,
		context_percent REAL,
		duration_ms     INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session
		ON messages(session_id, seq);

	CREATE TABLE IF NOT EXISTS tool_invocations (
		id         TEXT PRIMARY KEY,
		message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		seq        INTEGER NOT NULL,
		tool_name  TEXT NOT NULL,
		input      TEXT,
		output     TEXT,
		status     TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tool_invocations_message
		ON tool_invocations(message_id, seq);
`

// Config holds the parameters for opening a session registry.
type Config struct {
	// Path is the filesystem path to the SQLite database file. The
	// parent directory must exist. Required.
	Path string

	// PoolSize is forwarded to the connection pool. Defaults to 4.
	PoolSize int

	// Clock provides timestamps for session activity. Required.
	Clock clock.Clock

	// Logger receives operational messages. If nil, a no-op logger is
	// used.
	Logger *slog.Logger
}

// Registry is the persistent session store. Safe for concurrent use;
// each operation takes its own pooled connection.
type Registry struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

// Session is one row of the sessions table.
type Session struct {
	ID           string
	VaultID      string
	CreatedAt    time.Time
	LastActiveAt time.Time
}

// Open creates the registry, its database file, and its schema.
func Open(cfg Config) (*Registry, error) {
	if cfg.Clock == nil {
		return nil, fmt.Errorf("session: Clock is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	return &Registry{pool: pool, clock: cfg.Clock, logger: logger}, nil
}

// Close closes the underlying connection pool.
func (r *Registry) Close() error {
	return r.pool.Close()
}

// Select resumes the newest session for a vault. If the vault has no
// sessions, it hands out a fresh session ID with empty history and
// writes nothing: the session row is created when the first message is
// appended, so abandoned vault selections leave no residue.
func (r *Registry) Select(ctx context.Context, vaultID string) (string, []wire.ConversationMessage, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("session: select: %w", err)
	}
	defer r.pool.Put(conn)

	var sessionID string
	err = sqlitex.Execute(conn,
		"SELECT id FROM sessions WHERE vault_id = ? ORDER BY last_active_at DESC, id LIMIT 1",
		&sqlitex.ExecOptions{
			Args: []any{vaultID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				sessionID = stmt.ColumnText(0)
				return nil
			},
		})
	if err != nil {
		return "", nil, fmt.Errorf("session: select newest for vault %s: %w", vaultID, err)
	}

	if sessionID == "" {
		sessionID = uuid.NewString()
		r.logger.Info("session created lazily", "session_id", sessionID, "vault_id", vaultID)
		return sessionID, []wire.ConversationMessage{}, nil
	}

	history, err := r.loadHistory(conn, sessionID)
	if err != nil {
		return "", nil, err
	}
	return sessionID, history, nil
}

// Resume replays an existing session's history. A miss is a
// SESSION_NOT_FOUND protocol error; the documented client fallback is
// to re-select the vault. Resume is idempotent: the same session ID
// yields the same history in the same order every time.
func (r *Registry) Resume(ctx context.Context, sessionID string) (string, []wire.ConversationMessage, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("session: resume: %w", err)
	}
	defer r.pool.Put(conn)

	var vaultID string
	err = sqlitex.Execute(conn,
		"SELECT vault_id FROM sessions WHERE id = ?",
		&sqlitex.ExecOptions{
			Args: []any{sessionID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				vaultID = stmt.ColumnText(0)
				return nil
			},
		})
	if err != nil {
		return "", nil, fmt.Errorf("session: resume %s: %w", sessionID, err)
	}
	if vaultID == "" {
		return "", nil, wire.NewProtocolError(wire.CodeSessionNotFound, "",
			"no session %q", sessionID)
	}

	history, err := r.loadHistory(conn, sessionID)
	if err != nil {
		return "", nil, err
	}
	return vaultID, history, nil
}

// Delete removes a session and, via cascade, its messages and tool
// invocations. Deleting an unknown session is a SESSION_NOT_FOUND
// protocol error.
func (r *Registry) Delete(ctx context.Context, sessionID string) error {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("session: delete: %w", err)
	}
	defer r.pool.Put(conn)

	err = sqlitex.Execute(conn, "DELETE FROM sessions WHERE id = ?", &sqlitex.ExecOptions{
		Args: []any{sessionID},
	})
	if err != nil {
		return fmt.Errorf("session: delete %s: %w", sessionID, err)
	}
	if conn.Changes() == 0 {
		return wire.NewProtocolError(wire.CodeSessionNotFound, "",
			"no session %q", sessionID)
	}

	r.logger.Info("session deleted", "session_id", sessionID)
	return nil
}

// Append records one completed message, creating the session row on
// first use. The whole write (session upsert, message, tool
// invocations, activity bump) is one IMMEDIATE transaction.
func (r *Registry) Append(ctx context.Context, sessionID, vaultID string, message wire.ConversationMessage) (err error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("session: append: %w", err)
	}
	defer r.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("session: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	now := r.clock.Now().UnixNano()

	err = sqlitex.Execute(conn,
		"INSERT INTO sessions (id, vault_id, created_at, last_active_at) VALUES (?, ?, ?, ?) "+
			"ON CONFLICT(id) DO UPDATE SET last_active_at = excluded.last_active_at",
		&sqlitex.ExecOptions{
			Args: []any{sessionID, vaultID, now, now},
		})
	if err != nil {
		return fmt.Errorf("session: upsert session %s: %w", sessionID, err)
	}

	var nextSeq int64
	err = sqlitex.Execute(conn,
		"SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = ?",
		&sqlitex.ExecOptions{
			Args: []any{sessionID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				nextSeq = stmt.ColumnInt64(0)
				return nil
			},
		})
	if err != nil {
		return fmt.Errorf("session: next seq for %s: %w", sessionID, err)
	}

	var contextPercent any
	if message.ContextPercent != nil {
		contextPercent = *message.ContextPercent
	}
	var durationMS any
	if message.DurationMS != nil {
		durationMS = *message.DurationMS
	}

	err = sqlitex.Execute(conn,
		"INSERT INTO messages (id, session_id, seq, role, content, created_at, context_percent, duration_ms) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		&sqlitex.ExecOptions{
			Args: []any{
				message.ID,
				sessionID,
				nextSeq,
				string(message.Role),
				message.Content,
				message.Timestamp.UnixNano(),
				contextPercent,
				durationMS,
			},
		})
	if err != nil {
		return fmt.Errorf("session: insert message %s: %w", message.ID, err)
	}

	for i, invocation := range message.ToolUses {
		var input any
		if len(invocation.Input) > 0 {
			input = string(invocation.Input)
		}
		var output any
		if len(invocation.Output) > 0 {
			output = string(invocation.Output)
		}
		err = sqlitex.Execute(conn,
			"INSERT INTO tool_invocations (id, message_id, seq, tool_name, input, output, status) "+
				"VALUES (?, ?, ?, ?, ?, ?, ?)",
			&sqlitex.ExecOptions{
				Args: []any{
					invocation.ID,
					message.ID,
					i + 1,
					invocation.ToolName,
					input,
					output,
					string(invocation.Status),
				},
			})
		if err != nil {
			return fmt.Errorf("session: insert tool invocation %s: %w", invocation.ID, err)
		}
	}

	return nil
}

// Sessions returns all sessions for a vault, newest first. Used by
// setup and health reporting.
func (r *Registry) Sessions(ctx context.Context, vaultID string) ([]Session, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}
	defer r.pool.Put(conn)

	var sessions []Session
	err = sqlitex.Execute(conn,
		"SELECT id, vault_id, created_at, last_active_at FROM sessions "+
			"WHERE vault_id = ? ORDER BY last_active_at DESC, id",
		&sqlitex.ExecOptions{
			Args: []any{vaultID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				sessions = append(sessions, Session{
					ID:           stmt.ColumnText(0),
					VaultID:      stmt.ColumnText(1),
					CreatedAt:    time.Unix(0, stmt.ColumnInt64(2)).UTC(),
					LastActiveAt: time.Unix(0, stmt.ColumnInt64(3)).UTC(),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("session: list for vault %s: %w", vaultID, err)
	}
	return sessions, nil
}

// loadHistory replays a session's messages in sequence order, each
// with its tool invocations in sequence order.
func (r *Registry) loadHistory(conn *sqlite.Conn, sessionID string) ([]wire.ConversationMessage, error) {
	history := []wire.ConversationMessage{}

	err := sqlitex.Execute(conn,
		"SELECT id, role, content, created_at, context_percent, duration_ms "+
			"FROM messages WHERE session_id = ? ORDER BY seq",
		&sqlitex.ExecOptions{
			Args: []any{sessionID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				message := wire.ConversationMessage{
					ID:        stmt.ColumnText(0),
					Role:      wire.Role(stmt.ColumnText(1)),
					Content:   stmt.ColumnText(2),
					Timestamp: time.Unix(0, stmt.ColumnInt64(3)).UTC(),
				}
				if !stmt.ColumnIsNull(4) {
					value := stmt.ColumnFloat(4)
					message.ContextPercent = &value
				}
				if !stmt.ColumnIsNull(5) {
					value := stmt.ColumnInt64(5)
					message.DurationMS = &value
				}
				history = append(history, message)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("session: load messages for %s: %w", sessionID, err)
	}

	for i := range history {
		invocations, err := r.loadToolInvocations(conn, history[i].ID)
		if err != nil {
			return nil, err
		}
		history[i].ToolUses = invocations
	}
	return history, nil
}

func (r *Registry) loadToolInvocations(conn *sqlite.Conn, messageID string) ([]wire.ToolInvocation, error) {
	var invocations []wire.ToolInvocation
	err := sqlitex.Execute(conn,
		"SELECT id, tool_name, input, output, status "+
			"FROM tool_invocations WHERE message_id = ? ORDER BY seq",
		&sqlitex.ExecOptions{
			Args: []any{messageID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				invocation := wire.ToolInvocation{
					ID:       stmt.ColumnText(0),
					ToolName: stmt.ColumnText(1),
					Status:   wire.ToolStatus(stmt.ColumnText(4)),
				}
				if !stmt.ColumnIsNull(2) {
					invocation.Input = json.RawMessage(stmt.ColumnText(2))
				}
				if !stmt.ColumnIsNull(3) {
					invocation.Output = json.RawMessage(stmt.ColumnText(3))
				}
				invocations = append(invocations, invocation)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("session: load tool invocations for %s: %w", messageID, err)
	}
	return invocations, nil
}
