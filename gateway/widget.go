// Copyright 2026 The Vellum Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vellum-notes/vellum/lib/vault"
	"github.com/vellum-notes/vellum/lib/wire"
)

// Widget IDs the engine can recompute. The payload shape is specific
// to each widget and opaque to the protocol.
const (
	WidgetNoteCount   = "note_count"
	WidgetRecentNotes = "recent_notes"
	WidgetOpenTasks   = "open_tasks"
)

const recentNotesLimit = 10

// computeWidget recomputes one dashboard widget from the live vault.
// Unknown widget IDs are a VALIDATION_ERROR.
func computeWidget(vlt *vault.Vault, widgetID string) (json.RawMessage, error) {
	switch widgetID {
	case WidgetNoteCount:
		return noteCountWidget(vlt)
	case WidgetRecentNotes:
		return recentNotesWidget(vlt)
	case WidgetOpenTasks:
		return openTasksWidget(vlt)
	default:
		return nil, wire.NewProtocolError(wire.CodeValidation, "",
			"unknown widget %q", widgetID)
	}
}

func notePathsOf(vlt *vault.Vault) ([]string, error) {
	paths, err := vlt.List(".")
	if err != nil {
		return nil, err
	}
	notes := paths[:0]
	for _, path := range paths {
		if strings.HasSuffix(path, ".md") {
			notes = append(notes, path)
		}
	}
	return notes, nil
}

func noteCountWidget(vlt *vault.Vault) (json.RawMessage, error) {
	notes, err := notePathsOf(vlt)
	if err != nil {
		return nil, err
	}
	return marshalWidget(map[string]any{"count": len(notes)})
}

func recentNotesWidget(vlt *vault.Vault) (json.RawMessage, error) {
	notes, err := notePathsOf(vlt)
	if err != nil {
		return nil, err
	}

	type recentNote struct {
		Path     string `json:"path"`
		Modified string `json:"modified"`
	}
	entries := make([]recentNote, 0, len(notes))
	for _, path := range notes {
		info, err := os.Stat(filepath.Join(vlt.Root(), filepath.FromSlash(path)))
		if err != nil {
			continue
		}
		entries = append(entries, recentNote{
			Path:     path,
			Modified: info.ModTime().UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Modified != entries[j].Modified {
			return entries[i].Modified > entries[j].Modified
		}
		return entries[i].Path < entries[j].Path
	})
	if len(entries) > recentNotesLimit {
		entries = entries[:recentNotesLimit]
	}
	return marshalWidget(map[string]any{"notes": entries})
}

func openTasksWidget(vlt *vault.Vault) (json.RawMessage, error) {
	notes, err := notePathsOf(vlt)
	if err != nil {
		return nil, err
	}

	type openTask struct {
		Path string `json:"path"`
		Line int    `json:"line"`
		Text string `json:"text"`
	}
	tasks := []openTask{}
	for _, path := range notes {
		content, err := vlt.Read(path)
		if err != nil {
			continue
		}
		for i, line := range strings.Split(string(content), "\n") {
			trimmed := strings.TrimLeft(line, " \t")
			if strings.HasPrefix(trimmed, "- [ ] ") || strings.HasPrefix(trimmed, "* [ ] ") {
				tasks = append(tasks, openTask{
					Path: path,
					Line: i + 1,
					Text: strings.TrimSpace(trimmed[len("- [ ] "):]),
				})
			}
		}
	}
	return marshalWidget(map[string]any{"tasks": tasks, "count": len(tasks)})
}

func marshalWidget(payload any) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("gateway: encoding widget payload: %w", err)
	}
	return data, nil
}
