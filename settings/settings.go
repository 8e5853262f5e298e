// Copyright (c) 2025 the homewatt authors
// Licensed under the MIT License

// Package settings provides a file-backed key-value store standing in for
// the host platform's settings collaborator. It persists the access token
// and per-home consumption watermarks.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/homewatt/homewatt/pkg/logger"
	"github.com/homewatt/homewatt/pkg/util"
)

const storeFileName = "settings.json"

// Store is a durable string key-value store backed by a single JSON file.
// Writes go through a temp file and rename so a crash mid-write never
// corrupts the store.
type Store struct {
	mu     sync.RWMutex
	path   string
	values map[string]string
}

// Open loads or creates the settings store under dir.
func Open(dir string) (*Store, error) {
	if dir == "" {
		dir = "data"
	}
	if err := util.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("failed to create settings directory: %w", err)
	}

	s := &Store{
		path:   filepath.Join(dir, storeFileName),
		values: make(map[string]string),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns the value for key and whether it was present.
func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Set stores the value for key and persists the store.
func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return s.save()
}

// Delete removes key from the store and persists it.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return s.save()
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read settings file: %w", err)
	}

	var values map[string]string
	if err := json.Unmarshal(data, &values); err != nil {
		// Keep an empty store if the file is corrupt; a bad settings file
		// must not prevent startup.
		logger.Warn().Err(err).Str("path", s.path).Msg("Settings file corrupt, starting empty")
		return nil
	}

	s.values = values
	return nil
}

// save writes the store atomically. Callers must hold mu.
func (s *Store) save() error {
	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace settings file: %w", err)
	}
	return nil
}
