// Copyright 2026 The Vellum Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/zeebo/blake3"

	"github.com/vellum-notes/vellum/lib/wire"
)

// snapshotIDPattern constrains snapshot IDs to the hex form Snapshot
// produces. Anything else is rejected before it reaches the
// filesystem.
var snapshotIDPattern = regexp.MustCompile(`^[0-9a-f]{16}$`)

// Snapshot stores the current content of a note under a
// content-derived ID and returns that ID. Snapshotting identical
// content yields the same ID, so repeated snapshots of an unchanged
// note cost one file. Snapshots back the advisory compare action.
func (v *Vault) Snapshot(relative string) (string, error) {
	content, err := v.Read(relative)
	if err != nil {
		return "", err
	}

	sum := blake3.Sum256(content)
	id := hex.EncodeToString(sum[:8])

	directory := filepath.Join(v.root, settingsDir, "snapshots")
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return "", fmt.Errorf("vault: creating snapshot directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(directory, id), content, 0o644); err != nil {
		return "", fmt.Errorf("vault: writing snapshot %s: %w", id, err)
	}

	v.logger.Info("snapshot stored", "vault_id", v.id, "path", relative, "snapshot_id", id)
	return id, nil
}

// SnapshotByID returns the content stored under a snapshot ID.
func (v *Vault) SnapshotByID(id string) ([]byte, error) {
	if !snapshotIDPattern.MatchString(id) {
		return nil, wire.NewProtocolError(wire.CodeValidation, "",
			"malformed snapshot ID %q", id)
	}
	content, err := os.ReadFile(filepath.Join(v.root, settingsDir, "snapshots", id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, wire.NewProtocolError(wire.CodeFileNotFound, "",
				"no snapshot %q in vault %q", id, v.id)
		}
		return nil, fmt.Errorf("vault: reading snapshot %s: %w", id, err)
	}
	return content, nil
}
