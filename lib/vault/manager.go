// Copyright 2026 The Vellum Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/vellum-notes/vellum/lib/wire"
)

// Manager maps configured vault IDs to open Vault instances.
type Manager struct {
	vaults map[string]*Vault
}

// NewManager opens every configured vault. Roots maps vault ID to
// root directory; an unreachable root fails startup rather than
// surfacing later as a per-request error.
func NewManager(roots map[string]string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	vaults := make(map[string]*Vault, len(roots))
	for id, root := range roots {
		vault, err := New(id, root, logger)
		if err != nil {
			return nil, fmt.Errorf("vault: opening %q: %w", id, err)
		}
		vaults[id] = vault
		logger.Info("vault opened", "vault_id", id, "root", vault.Root())
	}
	return &Manager{vaults: vaults}, nil
}

// Get returns the vault for an ID, or VAULT_NOT_FOUND.
func (m *Manager) Get(id string) (*Vault, error) {
	vault, exists := m.vaults[id]
	if !exists {
		return nil, wire.NewProtocolError(wire.CodeVaultNotFound, "",
			"no vault %q", id)
	}
	return vault, nil
}

// IDs returns the configured vault IDs, sorted.
func (m *Manager) IDs() []string {
	ids := make([]string, 0, len(m.vaults))
	for id := range m.vaults {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
