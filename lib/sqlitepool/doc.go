// Copyright 2026 The Vellum Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides the gateway's SQLite connection pool.
//
// The session registry is the only persistent store in the gateway,
// and it lives in a single SQLite file under the data directory. This
// package wraps zombiezen.com/go/sqlite with the pragmas that workload
// needs: WAL journal mode so history replay (reads) never blocks a
// turn appending messages (writes), NORMAL synchronous for
// process-crash durability without fsync-per-commit overhead, and a
// busy timeout so a contended write waits instead of failing.
//
// The pool is built on zombiezen's sqlitex.Pool, which manages a
// fixed-size set of connections. Callers [Pool.Take] a connection,
// perform work, and [Pool.Put] it back. Connections are NOT safe for
// concurrent use — each goroutine must hold its own connection for the
// duration of its work.
//
// # Pragmas
//
// Every connection in the pool is initialized with these pragmas:
//
//   - journal_mode=WAL: concurrent readers and a single writer. A
//     resume replaying a long history never blocks the active turn's
//     appends.
//   - synchronous=NORMAL: transactions survive process crashes. Not
//     durable across OS crashes or power failure — acceptable because
//     the vault itself is the source of truth; the registry holds
//     conversation history only.
//   - busy_timeout=5000: wait up to 5 seconds for a write lock instead
//     of returning SQLITE_BUSY immediately.
//   - foreign_keys=ON: messages reference sessions and tool
//     invocations reference messages; deleting a session must cascade
//     through both.
//   - cache_size=-8192: 8 MB page cache per connection.
//   - temp_store=MEMORY: temporary tables and indexes in memory.
//
// # Usage
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:   "/var/lib/vellum/sessions.db",
//	    Logger: logger,
//	    OnConnect: func(conn *sqlite.Conn) error {
//	        return sqlitex.ExecuteScript(conn, schema, nil)
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	conn, err := pool.Take(ctx)
//	if err != nil {
//	    return err
//	}
//	defer pool.Put(conn)
//
// # Design
//
// This package is intentionally thin: it applies standard pragmas and
// exposes the underlying zombiezen types directly. There is no attempt
// to abstract away SQLite's connection model or invent a query
// builder. The session registry writes SQL, uses sqlitex.Execute for
// cached statements, and manages transactions with
// sqlitex.ImmediateTransaction.
package sqlitepool
