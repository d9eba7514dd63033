// Copyright 2026 The Vellum Authors
// SPDX-License-Identifier: Apache-2.0

// Package agentrt drives the agent runtime that produces assistant
// turns. A Driver starts one Turn per request; the Turn streams
// structured events (text chunks, tool lifecycle, permission requests,
// questions) on a channel until a terminal turn_end or turn_error
// event.
//
// SubprocessDriver spawns the runtime binary per turn and parses
// newline-delimited JSON events from its stdout; decisions for gated
// tools flow back on stdin. ScriptedDriver replays a fixed event
// sequence and is used by gateway tests.
package agentrt
