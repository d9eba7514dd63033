// Copyright 2026 The Vellum Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/vellum-notes/vellum/lib/vault"
	"github.com/vellum-notes/vellum/lib/wire"
)

// Setup steps, in the order the client walks them. Each step is
// idempotent; the client may repeat or re-enter any of them.
const (
	SetupStepWelcome  = "welcome"
	SetupStepScan     = "scan"
	SetupStepComplete = "complete"
)

// setupStep advances the guided setup flow by one step and returns
// the step's payload. Unknown steps are a VALIDATION_ERROR.
func setupStep(vlt *vault.Vault, step string) (json.RawMessage, error) {
	switch step {
	case SetupStepWelcome:
		return marshalSetup(map[string]any{
			"vault_id": vlt.ID(),
			"next":     SetupStepScan,
		})

	case SetupStepScan:
		paths, err := vlt.List(".")
		if err != nil {
			return nil, err
		}
		notes := 0
		folderSet := make(map[string]struct{})
		for _, p := range paths {
			if strings.HasSuffix(p, ".md") {
				notes++
			}
			if dir := path.Dir(p); dir != "." {
				folderSet[dir] = struct{}{}
			}
		}
		folders := make([]string, 0, len(folderSet))
		for folder := range folderSet {
			folders = append(folders, folder)
		}
		sort.Strings(folders)
		return marshalSetup(map[string]any{
			"notes":   notes,
			"folders": folders,
			"next":    SetupStepComplete,
		})

	case SetupStepComplete:
		// Rebuild the index so the first search after setup is warm.
		if err := vlt.Sync(); err != nil {
			return nil, err
		}
		return marshalSetup(map[string]any{"done": true})

	default:
		return nil, wire.NewProtocolError(wire.CodeValidation, "",
			"unknown setup step %q", step)
	}
}

func marshalSetup(payload any) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("gateway: encoding setup payload: %w", err)
	}
	return data, nil
}
