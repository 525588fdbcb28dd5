// ABOUTME: File backend storing one JSON document per session in a directory
// ABOUTME: Writes go to a temp file first and are renamed into place

package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileBackend keeps session records as {dir}/{session_id}.json.
type FileBackend struct {
	dir string
}

// NewFileBackend returns a backend rooted at dir. The directory is created on first save.
func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{dir: dir}
}

func (f *FileBackend) path(sessionID string) (string, error) {
	if sessionID == "." || sessionID == ".." ||
		strings.ContainsAny(sessionID, `/\`) {
		return "", fmt.Errorf("%w: %q cannot be used as a file name", ErrInvalidSessionID, sessionID)
	}
	return filepath.Join(f.dir, sessionID+".json"), nil
}

// Put writes data atomically.
func (f *FileBackend) Put(_ context.Context, sessionID string, data []byte) error {
	path, err := f.path(sessionID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(f.dir, 0755); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}

	tmp, err := os.CreateTemp(f.dir, "."+sessionID+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing session file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming session file: %w", err)
	}
	return nil
}

// Get reads the record for sessionID.
func (f *FileBackend) Get(_ context.Context, sessionID string) ([]byte, error) {
	path, err := f.path(sessionID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading session file: %w", err)
	}
	return data, nil
}

// Exists reports whether the record file is present.
func (f *FileBackend) Exists(_ context.Context, sessionID string) (bool, error) {
	path, err := f.path(sessionID)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking session file: %w", err)
	}
	return true, nil
}

// Delete removes the record file.
func (f *FileBackend) Delete(_ context.Context, sessionID string) error {
	path, err := f.path(sessionID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing session file: %w", err)
	}
	return nil
}

// Close is a no-op for the file backend.
func (f *FileBackend) Close() error {
	return nil
}
