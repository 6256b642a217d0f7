// internal/store/file_store.go
package store

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// DefaultDir is where port files are kept when no directory is configured
const DefaultDir = "config"

// FileStore keeps one value per text file. A key maps to <dir>/<key>.txt
// unless it already names a .txt file.
type FileStore struct {
	dir    string
	logger *zap.Logger
}

// NewFileStore creates a file store rooted at dir
func NewFileStore(dir string, logger *zap.Logger) *FileStore {
	if dir == "" {
		dir = DefaultDir
	}
	return &FileStore{dir: dir, logger: logger.With(zap.String("component", "file_store"))}
}

// Path returns the file backing key
func (s *FileStore) Path(key string) string {
	if filepath.IsAbs(key) {
		return key
	}
	if !strings.HasSuffix(key, ".txt") {
		key += ".txt"
	}
	return filepath.Join(s.dir, key)
}

// Load returns the trimmed first line of the key's file
func (s *FileStore) Load(ctx context.Context, key string) (string, bool) {
	f, err := os.Open(s.Path(key))
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Debug("Cannot read stored value", zap.String("key", key), zap.Error(err))
		}
		return "", false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return "", false
	}
	value := strings.TrimSpace(scanner.Text())
	if value == "" {
		return "", false
	}
	return value, true
}

// Store writes value as a single line, creating parent directories
func (s *FileStore) Store(ctx context.Context, key, value string) bool {
	path := s.Path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		s.logger.Warn("Cannot create store directory", zap.String("path", path), zap.Error(err))
		return false
	}
	if err := os.WriteFile(path, []byte(value+"\n"), 0o644); err != nil {
		s.logger.Warn("Cannot write stored value", zap.String("path", path), zap.Error(err))
		return false
	}
	return true
}
