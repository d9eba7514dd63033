// Copyright 2026 The Vellum Authors
// SPDX-License-Identifier: Apache-2.0

// Package vault is the filesystem store for one notes vault.
//
// A Vault is rooted at a single directory. Every operation takes a
// vault-relative path, cleans it, and verifies it stays under the root
// before touching the filesystem; escapes fail with PATH_TRAVERSAL.
// Writes are further restricted to the note extensions (.md, .txt,
// .canvas) and fail with INVALID_FILE_TYPE otherwise.
//
// Beyond plain reads and writes the vault offers the derived
// operations the feature handlers need: heading-scoped snippet
// extraction over the goldmark AST, BM25 ranked search across note
// titles, headings, and bodies, markdown task toggling, content
// snapshots keyed by BLAKE3 hash (backing advisory compare), and
// vault settings parsed from .vellum/settings.json (JSONC, so user
// settings files may carry comments and trailing commas).
//
// A Manager maps vault IDs from the gateway configuration to open
// Vault instances.
package vault
