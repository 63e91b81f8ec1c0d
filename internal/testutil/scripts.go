// Package testutil holds helpers shared by tests that spawn stub tool scripts.
package testutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// RequireUnix skips tests that rely on /bin/sh stub scripts.
func RequireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("skip on windows: stub tools are shell scripts")
	}
}

// WriteScript writes an executable /bin/sh script at root/rel and returns
// its absolute path.
func WriteScript(t *testing.T, root, rel, body string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
