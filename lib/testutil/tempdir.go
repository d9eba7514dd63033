// Copyright 2026 The Vellum Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// TempVault materializes a vault directory from a path→content map and
// returns its root. Parent directories are created as needed. The
// directory is removed when the test completes.
//
//	root := testutil.TempVault(t, map[string]string{
//	    "notes/alpha.md":          "# Alpha\n\ntext\n",
//	    ".vellum/settings.json":   `{"commands": []}`,
//	})
func TempVault(t *testing.T, files map[string]string) string {
	t.Helper()

	root := t.TempDir()
	for path, content := range files {
		absolute := filepath.Join(root, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(absolute), 0o755); err != nil {
			t.Fatalf("creating %s: %v", filepath.Dir(absolute), err)
		}
		if err := os.WriteFile(absolute, []byte(content), 0o644); err != nil {
			t.Fatalf("writing %s: %v", path, err)
		}
	}
	return root
}
