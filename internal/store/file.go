// internal/store/file.go
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/fitbridge/api/schemas"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// File persists the session as a JSON document on disk, surviving process
// restarts. The file is written with 0600 permissions since it holds bearer
// material, and replaced atomically via rename so a crash mid-write can
// never leave a torn session behind.
type File struct {
	mu     sync.Mutex
	path   string
	logger *zap.Logger
}

// NewFile creates a file-backed store rooted at path.
func NewFile(path string, logger *zap.Logger) *File {
	return &File{
		path:   path,
		logger: logger.Named("session-file"),
	}
}

// Path returns the session file location.
func (f *File) Path() string {
	return f.path
}

// Get retrieves the current session.
func (f *File) Get(_ context.Context) (schemas.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return schemas.Session{}, schemas.ErrNoSession
		}
		return schemas.Session{}, fmt.Errorf("reading session file: %w", err)
	}

	var session schemas.Session
	if err := jsonAPI.Unmarshal(data, &session); err != nil {
		return schemas.Session{}, fmt.Errorf("parsing session file %s: %w", f.path, err)
	}
	return session, nil
}

// Set replaces the current session. The parent directory is created on first
// use with owner-only permissions.
func (f *File) Set(_ context.Context, s schemas.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := jsonAPI.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*.json")
	if err != nil {
		return fmt.Errorf("creating temp session file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("restricting session file permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing session file: %w", err)
	}

	if err := os.Rename(tmpPath, f.path); err != nil {
		return fmt.Errorf("replacing session file: %w", err)
	}
	f.logger.Debug("Session persisted.", zap.String("path", f.path))
	return nil
}

// Clear removes the current session. Clearing an empty store is not an error.
func (f *File) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing session file: %w", err)
	}
	return nil
}
