// Copyright 2026 The Vellum Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for Vellum packages.
//
// [RequireReceive], [RequireSend], and [RequireClosed] encapsulate the
// timeout safety valve pattern (select with time.After fallback) so
// that individual tests do not need direct time.After calls. These are
// the only place in the test suite where real wall-clock timeouts are
// used; everything else runs on lib/clock's FakeClock.
//
// [TempVault] materializes a vault directory from a path→content map,
// for vault store and gateway tests that need real notes on disk.
//
// [UniqueID] generates monotonically increasing identifiers for test
// disambiguation. Use it instead of time.Now() when tests need unique
// session IDs, request IDs, or note bodies.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no Vellum-internal dependencies.
package testutil
