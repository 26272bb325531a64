package authstore

import (
	"context"
	"os"
	"path/filepath"
)

// FileStore is the on-disk adapter selected by STORAGE_MODE=file with a
// plain directory root: ./{baseDir}/session_{id}/{filename}, the literal
// layout spec.md §6 describes. It trades the gorm table's indexed
// lookups for direct filesystem access, which is cheaper when the
// deployment has no relational store configured at all.
type FileStore struct {
	baseDir string
}

func NewFileStore(baseDir string) *FileStore {
	return &FileStore{baseDir: baseDir}
}

func (s *FileStore) sessionDir(sessionID string) string {
	return filepath.Join(s.baseDir, "session_"+sessionID)
}

func (s *FileStore) Get(ctx context.Context, sessionID, filename string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.sessionDir(sessionID), filename))
	if os.IsNotExist(err) {
		return nil, nil
	}
	return data, err
}

func (s *FileStore) Put(ctx context.Context, sessionID, filename string, data []byte) error {
	dir := s.sessionDir(sessionID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, filename), data, 0o600)
}

func (s *FileStore) Delete(ctx context.Context, sessionID, filename string) error {
	err := os.Remove(filepath.Join(s.sessionDir(sessionID), filename))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *FileStore) DeleteBySession(ctx context.Context, sessionID string) error {
	return os.RemoveAll(s.sessionDir(sessionID))
}

func (s *FileStore) DeleteBySessionExcept(ctx context.Context, sessionID, keepFilename string) error {
	dir := s.sessionDir(sessionID)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || e.Name() == keepFilename {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileStore) ListSessionIDs(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		const prefix = "session_"
		if len(name) > len(prefix) && name[:len(prefix)] == prefix {
			ids = append(ids, name[len(prefix):])
		}
	}
	return ids, nil
}
