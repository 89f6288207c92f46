// Package secrets retrieves and stores credentials (e.g. a GitHub API
// token), preferring the OS credential manager and falling back to a
// local permission-600 file keyed by hashed names (spec.md §4.2, §6).
package secrets

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/blake2b"

	"github.com/zalando/go-keyring"
)

const keyringService = "fetch"

// Store retrieves and stores secrets by name.
type Store struct {
	filePath string
}

// Open returns a Store whose fallback file lives at filePath (a single
// JSON document, mode 0600, per spec.md §6's "store file (permission
// 600) for fallback secret storage").
func Open(filePath string) *Store {
	return &Store{filePath: filePath}
}

// Get retrieves the secret named name, trying the OS credential manager
// first and falling back to the local file.
func (s *Store) Get(name string) (string, bool, error) {
	if v, err := keyring.Get(keyringService, name); err == nil {
		return v, true, nil
	} else if err != keyring.ErrNotFound {
		// OS credential manager unavailable (headless/CI); fall through.
		_ = err
	}

	entries, err := s.load()
	if err != nil {
		return "", false, err
	}
	v, ok := entries[hashName(name)]
	return v, ok, nil
}

// Set stores the secret named name, preferring the OS credential manager
// and falling back to the local file on any error.
func (s *Store) Set(name, value string) error {
	if err := keyring.Set(keyringService, name, value); err == nil {
		return nil
	}

	entries, err := s.load()
	if err != nil {
		return err
	}
	entries[hashName(name)] = value
	return s.save(entries)
}

// Delete removes the secret named name from whichever backend holds it.
func (s *Store) Delete(name string) error {
	_ = keyring.Delete(keyringService, name)

	entries, err := s.load()
	if err != nil {
		return err
	}
	delete(entries, hashName(name))
	return s.save(entries)
}

func hashName(name string) string {
	sum := blake2b.Sum256([]byte(name))
	return fmt.Sprintf("%x", sum)
}

func (s *Store) load() (map[string]string, error) {
	data, err := os.ReadFile(s.filePath)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read secrets file %q: %w", s.filePath, err)
	}
	var entries map[string]string
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse secrets file %q: %w", s.filePath, err)
	}
	return entries, nil
}

func (s *Store) save(entries map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o700); err != nil {
		return fmt.Errorf("create secrets directory: %w", err)
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode secrets file: %w", err)
	}
	return os.WriteFile(s.filePath, data, 0o600)
}
