// Copyright 2026 The Vellum Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/vellum-notes/vellum/lib/wire"
)

// writableExtensions is the allowlist for note writes. Reads are not
// restricted by extension; the path guard alone scopes them.
var writableExtensions = map[string]bool{
	".md":     true,
	".txt":    true,
	".canvas": true,
}

// settingsDir is the vault-local directory holding settings and
// snapshots. It is excluded from listings and search.
const settingsDir = ".vellum"

// Vault is the store for one notes vault. Safe for concurrent use;
// the search index carries its own lock.
type Vault struct {
	id     string
	root   string
	logger *slog.Logger

	searchMu sync.Mutex
	index    *searchIndex
}

// New opens a vault rooted at root. The root must exist and be a
// directory; a missing root is a VAULT_ACCESS_DENIED error since the
// vault is configured but unreachable.
func New(id, root string, logger *slog.Logger) (*Vault, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	absolute, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("vault: resolving root %s: %w", root, err)
	}
	info, err := os.Stat(absolute)
	if err != nil || !info.IsDir() {
		return nil, wire.NewProtocolError(wire.CodeVaultAccessDenied, "",
			"vault %q root %s is not an accessible directory", id, root)
	}
	return &Vault{id: id, root: absolute, logger: logger}, nil
}

// ID returns the vault identifier.
func (v *Vault) ID() string { return v.id }

// Root returns the absolute vault root.
func (v *Vault) Root() string { return v.root }

// resolve cleans a vault-relative path and verifies it stays under
// the root.
func (v *Vault) resolve(relative string) (string, error) {
	if relative == "" {
		return "", wire.NewProtocolError(wire.CodeValidation, "", "empty path")
	}
	if filepath.IsAbs(relative) {
		return "", wire.NewProtocolError(wire.CodePathTraversal, "",
			"path %q is absolute", relative)
	}
	cleaned := filepath.Clean(filepath.FromSlash(relative))
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", wire.NewProtocolError(wire.CodePathTraversal, "",
			"path %q escapes the vault", relative)
	}
	return filepath.Join(v.root, cleaned), nil
}

// Read returns the content of one note.
func (v *Vault) Read(relative string) ([]byte, error) {
	absolute, err := v.resolve(relative)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(absolute)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, wire.NewProtocolError(wire.CodeFileNotFound, "",
				"no file %q in vault %q", relative, v.id)
		}
		return nil, fmt.Errorf("vault: reading %s: %w", relative, err)
	}
	return content, nil
}

// Write replaces the content of one note, creating parent directories
// as needed. Only note extensions may be written.
func (v *Vault) Write(relative string, content []byte) error {
	absolute, err := v.resolve(relative)
	if err != nil {
		return err
	}
	if !writableExtensions[strings.ToLower(filepath.Ext(absolute))] {
		return wire.NewProtocolError(wire.CodeInvalidFileType, "",
			"%q is not a writable note type", relative)
	}
	if err := os.MkdirAll(filepath.Dir(absolute), 0o755); err != nil {
		return fmt.Errorf("vault: creating directory for %s: %w", relative, err)
	}
	if err := os.WriteFile(absolute, content, 0o644); err != nil {
		return fmt.Errorf("vault: writing %s: %w", relative, err)
	}
	v.invalidateIndex()
	return nil
}

// List returns the vault-relative paths under a directory, sorted.
// Pass "." for the vault root. The settings directory and dotfiles
// are skipped.
func (v *Vault) List(relative string) ([]string, error) {
	absolute, err := v.resolve(relative)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(absolute)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, wire.NewProtocolError(wire.CodeDirectoryNotFound, "",
				"no directory %q in vault %q", relative, v.id)
		}
		return nil, fmt.Errorf("vault: listing %s: %w", relative, err)
	}
	if !info.IsDir() {
		return nil, wire.NewProtocolError(wire.CodeDirectoryNotFound, "",
			"%q is not a directory", relative)
	}

	var paths []string
	err = filepath.WalkDir(absolute, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := entry.Name()
		if entry.IsDir() {
			if strings.HasPrefix(name, ".") && path != absolute {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		vaultRelative, err := filepath.Rel(v.root, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(vaultRelative))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("vault: walking %s: %w", relative, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// ToggleTask flips the markdown task checkbox on one line of a note
// and returns the new checked state. The line number is 1-based.
func (v *Vault) ToggleTask(relative string, line int) (bool, error) {
	content, err := v.Read(relative)
	if err != nil {
		return false, err
	}
	lines := strings.Split(string(content), "\n")
	if line < 1 || line > len(lines) {
		return false, wire.NewProtocolError(wire.CodeValidation, "",
			"line %d is out of range for %q (%d lines)", line, relative, len(lines))
	}

	toggled, checked, ok := toggleTaskLine(lines[line-1])
	if !ok {
		return false, wire.NewProtocolError(wire.CodeValidation, "",
			"line %d of %q is not a task", line, relative)
	}
	lines[line-1] = toggled

	if err := v.Write(relative, []byte(strings.Join(lines, "\n"))); err != nil {
		return false, err
	}
	return checked, nil
}

// toggleTaskLine flips "- [ ]" to "- [x]" and back, preserving
// indentation and list marker. Returns ok=false when the line is not
// a task item.
func toggleTaskLine(line string) (toggled string, checked bool, ok bool) {
	trimmed := strings.TrimLeft(line, " \t")
	indent := line[:len(line)-len(trimmed)]

	var marker string
	switch {
	case strings.HasPrefix(trimmed, "- "):
		marker = "- "
	case strings.HasPrefix(trimmed, "* "):
		marker = "* "
	default:
		return "", false, false
	}
	rest := trimmed[len(marker):]

	switch {
	case strings.HasPrefix(rest, "[ ]"):
		return indent + marker + "[x]" + rest[3:], true, true
	case strings.HasPrefix(rest, "[x]"), strings.HasPrefix(rest, "[X]"):
		return indent + marker + "[ ]" + rest[3:], false, true
	default:
		return "", false, false
	}
}

// notePaths returns every markdown note in the vault, for search
// indexing.
func (v *Vault) notePaths() ([]string, error) {
	all, err := v.List(".")
	if err != nil {
		return nil, err
	}
	notes := all[:0]
	for _, path := range all {
		if strings.EqualFold(filepath.Ext(path), ".md") {
			notes = append(notes, path)
		}
	}
	return notes, nil
}
