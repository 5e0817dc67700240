package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// LocalStorage stores files under a directory. Writes go to a temp file in the same
// directory which is synced and renamed over the target.
type LocalStorage struct {
	fs  afero.Fs
	dir string
}

// Ensure LocalStorage implements StorageInterface
var _ StorageInterface = (*LocalStorage)(nil)

// NewLocalStorage creates the directory if needed and returns a storage rooted at it
func NewLocalStorage(fsys afero.Fs, dir string) (*LocalStorage, error) {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if dir == "" {
		return nil, fmt.Errorf("storage directory is required")
	}
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory %s: %w", dir, err)
	}
	return &LocalStorage{fs: fsys, dir: dir}, nil
}

func (s *LocalStorage) path(filename string) (string, error) {
	clean := filepath.Clean(filename)
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid file name %q", filename)
	}
	return filepath.Join(s.dir, clean), nil
}

// Store writes data atomically
func (s *LocalStorage) Store(filename string, data []byte) error {
	target, err := s.path(filename)
	if err != nil {
		return err
	}

	tmp, err := afero.TempFile(s.fs, filepath.Dir(target), "."+filepath.Base(target)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		if rmErr := s.fs.Remove(tmpName); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			logrus.Warnf("Failed to remove temp file %s: %v", tmpName, rmErr)
		}
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	if err := s.fs.Rename(tmpName, target); err != nil {
		cleanup()
		return fmt.Errorf("failed to replace %s: %w", target, err)
	}

	logrus.Debugf("Stored %s (%d bytes)", target, len(data))
	return nil
}

// Retrieve reads a stored file
func (s *LocalStorage) Retrieve(filename string) ([]byte, error) {
	target, err := s.path(filename)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("file %s: %w", target, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read %s: %w", target, err)
	}
	return data, nil
}

// List returns stored file names starting with prefix, skipping in-progress temp files
func (s *LocalStorage) List(prefix string) ([]string, error) {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if strings.HasPrefix(e.Name(), prefix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes a stored file; deleting a missing file is not an error
func (s *LocalStorage) Delete(filename string) error {
	target, err := s.path(filename)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", target, err)
	}
	return nil
}
