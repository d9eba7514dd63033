// Copyright 2026 The Vellum Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/jsonc"

	"github.com/vellum-notes/vellum/lib/wire"
)

// Settings is the per-vault configuration read from
// .vellum/settings.json. The file is JSONC: comments and trailing
// commas are tolerated, since users edit it by hand.
type Settings struct {
	// Commands lists the slash-command affordances advertised with
	// session_ready.
	Commands []wire.SlashCommand `json:"commands"`
}

// Settings loads the vault settings. A missing settings file yields
// the zero settings; a malformed one is an error the caller surfaces
// as a health issue rather than a hard failure.
func (v *Vault) Settings() (Settings, error) {
	raw, err := os.ReadFile(filepath.Join(v.root, settingsDir, "settings.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return Settings{}, nil
		}
		return Settings{}, fmt.Errorf("vault: reading settings for %q: %w", v.id, err)
	}

	var settings Settings
	if err := json.Unmarshal(jsonc.ToJSON(raw), &settings); err != nil {
		return Settings{}, fmt.Errorf("vault: parsing settings for %q: %w", v.id, err)
	}
	return settings, nil
}
