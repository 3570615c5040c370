// Package filestore persists key/value namespaces to a single YAML file.
// It backs the sensor registry's configuration persistence on nodes with
// local flash or disk.
package filestore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Store is a file-backed namespace/key/value map. Every mutation rewrites
// the whole file; the data sets involved are tiny (tens of sensor entries).
type Store struct {
	mu   sync.Mutex
	path string
	data map[string]map[string]string
}

// Open loads the store file, creating parent directories if needed. A
// missing file yields an empty store.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("filestore: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create directory: %w", err)
	}
	store := &Store{path: path, data: make(map[string]map[string]string)}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return store, nil
		}
		return nil, fmt.Errorf("filestore: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &store.data); err != nil {
		return nil, fmt.Errorf("filestore: decode %s: %w", path, err)
	}
	if store.data == nil {
		store.data = make(map[string]map[string]string)
	}
	return store, nil
}

// Load returns the value stored under a namespace and key.
func (s *Store) Load(namespace, key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.data[namespace]
	if !ok {
		return "", false
	}
	value, ok := ns[key]
	return value, ok
}

// Save writes a value and flushes the file.
func (s *Store) Save(namespace, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.data[namespace]
	if !ok {
		ns = make(map[string]string)
		s.data[namespace] = ns
	}
	ns[key] = value
	return s.flushLocked()
}

// Delete removes a key and flushes the file. Deleting an absent key is not
// an error.
func (s *Store) Delete(namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.data[namespace]
	if !ok {
		return nil
	}
	if _, ok := ns[key]; !ok {
		return nil
	}
	delete(ns, key)
	if len(ns) == 0 {
		delete(s.data, namespace)
	}
	return s.flushLocked()
}

// flushLocked rewrites the backing file via a temp file and rename so a
// power loss mid-write cannot truncate the previous contents.
func (s *Store) flushLocked() error {
	encoded, err := yaml.Marshal(s.data)
	if err != nil {
		return fmt.Errorf("filestore: encode: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0o644); err != nil {
		return fmt.Errorf("filestore: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("filestore: replace %s: %w", s.path, err)
	}
	return nil
}
