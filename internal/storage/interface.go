package storage

import "errors"

// ErrNotFound is returned by Retrieve when the named object does not exist
var ErrNotFound = errors.New("object not found")

// StorageInterface defines the contract for storage operations.
// Store must replace the named object atomically: a concurrent or later Retrieve
// sees either the previous content or the new content, never a partial write.
type StorageInterface interface {
	Store(filename string, data []byte) error
	Retrieve(filename string) ([]byte, error)
	List(prefix string) ([]string, error)
	Delete(filename string) error
}
