// Copyright (c) 2025 the homewatt authors
// Licensed under the MIT License

// Package util holds small filesystem helpers shared by the config and
// settings layers.
package util

import (
	"fmt"
	"os"
	"path/filepath"
)

// ReadFileSafely reads a file after resolving the path to an absolute
// one, so relative paths from flags behave the same regardless of the
// working directory the daemon was started from.
func ReadFileSafely(path string) ([]byte, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("could not get absolute path for %s: %w", path, err)
	}
	return os.ReadFile(absPath) // #nosec G304
}

// EnsureDir creates dir (and parents) if it does not exist yet.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("could not create directory %s: %w", dir, err)
	}
	return nil
}
