// Copyright 2026 The Vellum Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// Production code accepts a Clock interface parameter instead of
// calling time.Now, time.After, or time.NewTicker directly. In
// production, Real() provides the standard library behavior. In tests,
// Fake() provides a deterministic clock that advances only when
// Advance is called.
//
// The gateway uses the clock in two places: the keep-alive ticker on
// each websocket connection, and the permission gate's per-request
// timeout. Both are exercised deterministically in tests:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	gate := permission.NewGate(c, timeout)
//	// ... start the Await goroutine ...
//	c.WaitForTimers(1)                 // wait for the timeout to register
//	c.Advance(timeout)                 // fire it deterministically
//
// When a goroutine calls After or NewTicker on a FakeClock, it
// registers a pending waiter. Use WaitForTimers to block until a
// specific number of waiters are registered before calling Advance.
// This eliminates the race between timer registration and time
// advancement that plagues tests using time.Sleep for synchronization.
package clock
