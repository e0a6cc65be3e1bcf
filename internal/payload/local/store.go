// Package local implements a payload store on the local filesystem.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fcdockets/imm-crawler/internal/caseid"
)

// Config captures the parameters for the local filesystem payload store.
type Config struct {
	// BaseDir is the root directory where case payloads are stored.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// Store writes fetched case content to the local filesystem.
type Store struct {
	baseDir string
}

// New creates a local filesystem-backed payload store.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	info, err := os.Stat(cfg.BaseDir)
	switch {
	case err == nil:
		if !info.IsDir() {
			return nil, fmt.Errorf("base directory path is not a directory")
		}
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	default:
		return nil, fmt.Errorf("stat base directory: %w", err)
	}
	return &Store{baseDir: cfg.BaseDir}, nil
}

// Persist writes the payload under <base>/<year>/<case_id>.html atomically
// and returns a file:// reference.
func (s *Store) Persist(_ context.Context, id caseid.ID, payload []byte) (string, error) {
	dir := filepath.Join(s.baseDir, id.Year)

	// Clean and verify the target stays inside the base directory.
	cleanBase := filepath.Clean(s.baseDir)
	fullPath := filepath.Clean(filepath.Join(dir, id.String()+".html"))
	if !strings.HasPrefix(fullPath, cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create year directory: %w", err)
	}

	tmp := fullPath + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return "", fmt.Errorf("write payload: %w", err)
	}
	if err := os.Rename(tmp, fullPath); err != nil {
		return "", fmt.Errorf("publish payload: %w", err)
	}
	return fmt.Sprintf("file://%s", fullPath), nil
}
