package utils

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetSessionStoragePath returns the on-disk directory for a single
// session's artifacts under storages, creating it if absent.
func GetSessionStoragePath(storagesRoot, sessionID string) string {
	path := filepath.Join(storagesRoot, "sessions", sessionID)
	_ = os.MkdirAll(path, 0755)
	return path
}

// CreateFolder ensures every given directory exists under root,
// creating parents as needed.
func CreateFolder(root string, dirs ...string) error {
	if err := os.MkdirAll(root, 0755); err != nil {
		return fmt.Errorf("utils: create %s: %w", root, err)
	}
	for _, d := range dirs {
		path := filepath.Join(root, d)
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("utils: create %s: %w", path, err)
		}
	}
	return nil
}
