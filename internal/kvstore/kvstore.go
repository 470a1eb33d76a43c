// Package kvstore implements the process-wide durable key-value store backing
// the on-device history snapshot and model bookkeeping. Values survive app
// restarts; writes are staged to a temporary file and swapped into place so a
// reader never observes a partial value.
package kvstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/maizeguard/leafscan-go/internal/errors"
)

// ErrKeyNotFound is returned by Get when the key has never been written.
var ErrKeyNotFound = errors.NewStd("kvstore: key not found")

// Store is the durable key-value contract used by the history store and the
// model manager.
type Store interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Delete(key string) error
}

// FileStore persists each key as one file under a base directory.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates the base directory if needed and returns a store over it.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.New(fmt.Errorf("creating kvstore directory: %w", err)).
			Component("kvstore").
			Category(errors.CategoryFileIO).
			Context("dir", dir).
			Build()
	}
	return &FileStore{dir: dir}, nil
}

// keyPath maps a key to its file, rejecting keys that would escape the base
// directory.
func (s *FileStore) keyPath(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || strings.Contains(key, "..") {
		return "", errors.Newf("invalid key %q", key).
			Component("kvstore").
			Category(errors.CategoryValidation).
			Build()
	}
	return filepath.Join(s.dir, key+".json"), nil
}

// Get returns the value last committed for key, or ErrKeyNotFound.
func (s *FileStore) Get(key string) ([]byte, error) {
	path, err := s.keyPath(key)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrKeyNotFound
		}
		return nil, errors.New(fmt.Errorf("reading key %s: %w", key, err)).
			Component("kvstore").
			Category(errors.CategoryFileIO).
			Build()
	}
	return data, nil
}

// Put commits value under key. The value is written to a staging file first
// and renamed over the committed file, so a crash mid-write leaves the
// previous value intact.
func (s *FileStore) Put(key string, value []byte) error {
	path, err := s.keyPath(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	staging := path + ".tmp"
	if err := os.WriteFile(staging, value, 0o644); err != nil {
		return errors.New(fmt.Errorf("staging key %s: %w", key, err)).
			Component("kvstore").
			Category(errors.CategoryFileIO).
			Build()
	}
	if err := os.Rename(staging, path); err != nil {
		// Leave the committed value untouched, drop the staging file
		_ = os.Remove(staging)
		return errors.New(fmt.Errorf("committing key %s: %w", key, err)).
			Component("kvstore").
			Category(errors.CategoryFileIO).
			Build()
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *FileStore) Delete(key string) error {
	path, err := s.keyPath(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.New(fmt.Errorf("deleting key %s: %w", key, err)).
			Component("kvstore").
			Category(errors.CategoryFileIO).
			Build()
	}
	return nil
}
