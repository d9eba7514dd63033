// Copyright 2026 The Vellum Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire defines the JSON message protocol spoken between the
// browser client and the gateway. Every message is a JSON object with
// a required "type" discriminator; each type is defined exactly once
// per direction and decoded into its own struct. There is no shared
// catch-all type and no forward-compatible parsing: unknown types,
// unknown fields, and missing required fields are all rejected at the
// boundary with a ValidationError carrying the field path and reason,
// so malformed input never reaches a feature handler.
//
// The package is pure transformation and validation — it performs no
// I/O and holds no state.
package wire
