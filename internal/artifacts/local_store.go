package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/parley/internal/config"
)

// LocalStore writes artifacts to a local directory served by some web server
// at BaseURL.
type LocalStore struct {
	dir     string
	baseURL string
}

// NewLocalStore creates a local disk store.
func NewLocalStore(cfg config.LocalArtifactsConfig) (*LocalStore, error) {
	dir := cfg.Dir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "parley-artifacts")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}
	return &LocalStore{
		dir:     dir,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}, nil
}

// Share writes the text to a dated file and returns its URL.
func (s *LocalStore) Share(ctx context.Context, text string) (string, error) {
	now := time.Now()
	dir := filepath.Join(s.dir,
		fmt.Sprintf("%04d", now.Year()),
		fmt.Sprintf("%02d", now.Month()),
		fmt.Sprintf("%02d", now.Day()))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}

	name := uuid.NewString() + ".txt"
	path := filepath.Join(dir, name)

	// Write to temp file first, then atomic rename.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("finalize artifact: %w", err)
	}

	rel, err := filepath.Rel(s.dir, path)
	if err != nil {
		return "", err
	}
	if s.baseURL == "" {
		return "file://" + path, nil
	}
	return s.baseURL + "/" + filepath.ToSlash(rel), nil
}
