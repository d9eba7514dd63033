// Copyright 2026 The Vellum Authors
// SPDX-License-Identifier: Apache-2.0

// Package gateway is the websocket edge between the browser client and
// the rest of the system. One goroutine reads each connection; writes
// serialize through a per-connection mutex. Incoming messages decode
// through lib/wire and route to feature handlers: session selection
// and resume, streamed discussion turns driven by lib/agentrt,
// selection-scoped quick actions and advisory critiques, and one-shot
// vault operations (search, snippet, task toggle, widget, review,
// setup, sync, snapshot). At most one discussion turn is in flight at
// a time; quick actions and advisories run alongside it.
//
// Request correlation lives in lib/correlate, tool gating in
// lib/permission. A disconnect fails every pending request with
// CONNECTION_LOST and denies every suspended tool.
package gateway
