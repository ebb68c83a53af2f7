// Package output persists the consolidated scan result and renders it for
// the terminal.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/anstrom/nemesis/internal/errors"
	"github.com/anstrom/nemesis/internal/scanning"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks github.com/anstrom/nemesis/internal/output Store

const (
	// DefaultPath is where results land when nothing else is configured.
	DefaultPath = "nmap_top_ports.json"

	indent   = "  "
	dirPerm  = 0750
	filePerm = 0644
)

// Store is the single finalization point of a run.
type Store interface {
	Persist(result scanning.ScanResult) error
}

// FileStore writes the result as one pretty-printed JSON document.
type FileStore struct {
	path string
}

// NewFileStore creates a store writing to path, or DefaultPath when empty.
func NewFileStore(path string) *FileStore {
	if path == "" {
		path = DefaultPath
	}
	return &FileStore{path: path}
}

// Path returns the output location.
func (s *FileStore) Path() string {
	return s.path
}

// Persist overwrites the artifact with result. Map keys are emitted in sorted
// order so the same result always produces the same bytes.
func (s *FileStore) Persist(result scanning.ScanResult) error {
	if result == nil {
		return errors.ErrPersistence(s.path, fmt.Errorf("cannot save nil result"))
	}
	if err := validateFilePath(s.path); err != nil {
		return errors.ErrPersistence(s.path, err)
	}

	data, err := Marshal(result)
	if err != nil {
		return errors.ErrPersistence(s.path, err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return errors.ErrPersistence(s.path, err)
		}
	}
	if err := os.WriteFile(s.path, data, filePerm); err != nil {
		return errors.ErrPersistence(s.path, err)
	}
	return nil
}

// Marshal renders result exactly as Persist writes it.
func Marshal(result scanning.ScanResult) ([]byte, error) {
	data, err := json.MarshalIndent(result, "", indent)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Load reads a previously persisted artifact. Script payloads come back as
// generic JSON values.
func Load(path string) (scanning.ScanResult, error) {
	if err := validateFilePath(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path) //nolint:gosec // path is validated by validateFilePath
	if err != nil {
		return nil, fmt.Errorf("failed to read results: %w", err)
	}

	var result scanning.ScanResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode results: %w", err)
	}
	return result, nil
}

// validateFilePath validates that the file path is safe to use.
func validateFilePath(path string) error {
	cleanPath := filepath.Clean(path)

	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path contains directory traversal")
	}
	return nil
}
