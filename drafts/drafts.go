// Package drafts is the local durable cache for an anonymous in-progress
// drawing: a single named slot written when a guest tries to save, read once
// on the next load of a fresh board, and cleared after the first successful
// backend save.
package drafts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// ErrNoDraft is returned by Load when the slot is empty.
var ErrNoDraft = errors.New("no draft cached")

type (
	// Cache holds at most one snapshot envelope.
	Cache interface {
		Load() ([]byte, error)
		Store(snapshot []byte) error
		Clear() error
	}

	// FileCache keeps the draft in a single file.
	FileCache struct {
		path string
	}
)

// NewFileCache creates a file-backed cache at path, creating parent
// directories as needed.
func NewFileCache(path string) (*FileCache, error) {
	if path == "" {
		return nil, fmt.Errorf("draft cache path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create draft cache directory: %w", err)
	}
	return &FileCache{path: path}, nil
}

func (c *FileCache) Load() ([]byte, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoDraft
		}
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrNoDraft
	}
	return data, nil
}

func (c *FileCache) Store(snapshot []byte) error {
	// Write-then-rename so a crash mid-write never corrupts the only copy
	// of an unsaved drawing.
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, snapshot, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"path":        c.path,
		"data_length": len(snapshot),
	}).Debug("Draft cached")
	return nil
}

func (c *FileCache) Clear() error {
	err := os.Remove(c.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
