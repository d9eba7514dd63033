// Copyright 2026 The Vellum Authors
// SPDX-License-Identifier: Apache-2.0

// Package archive persists completed conversation turns as compact
// on-disk records, one file per turn. Records are CBOR encoded with
// deterministic encoding and zstd compressed; the same turn always
// produces identical bytes. The archive is write-mostly cold storage
// alongside the session registry, used for export and for rebuilding
// a registry from scratch.
package archive
