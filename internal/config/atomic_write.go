package config

import (
	"os"
	"path/filepath"
)

// AtomicWrite writes data to a file atomically: the content lands under the
// target path completely or not at all, preserving existing permissions.
func AtomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}

	perm := os.FileMode(0o600)
	if info, err := os.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}

	return atomicWrite(path, data, perm)
}
