package artifacts

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/haasonsaas/parley/internal/config"
)

func TestLocalStoreShare(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(config.LocalArtifactsConfig{
		Dir:     dir,
		BaseURL: "https://paste.example.com/",
	})
	if err != nil {
		t.Fatal(err)
	}

	url, err := s.Share(context.Background(), "the full response text")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(url, "https://paste.example.com/") {
		t.Errorf("url = %q", url)
	}
	if !strings.HasSuffix(url, ".txt") {
		t.Errorf("url = %q, want .txt suffix", url)
	}

	// The file exists under the store dir with the shared content.
	rel := strings.TrimPrefix(url, "https://paste.example.com/")
	data, err := os.ReadFile(dir + "/" + rel)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "the full response text" {
		t.Errorf("content = %q", data)
	}
}

func TestLocalStoreFileURLWithoutBase(t *testing.T) {
	s, err := NewLocalStore(config.LocalArtifactsConfig{Dir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	url, err := s.Share(context.Background(), "text")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(url, "file://") {
		t.Errorf("url = %q", url)
	}
}

func TestNewSelectsBackend(t *testing.T) {
	store, err := New(context.Background(), config.ArtifactsConfig{
		Backend: "local",
		Local:   config.LocalArtifactsConfig{Dir: t.TempDir()},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := store.(*LocalStore); !ok {
		t.Errorf("store = %T, want *LocalStore", store)
	}

	if _, err := New(context.Background(), config.ArtifactsConfig{Backend: "ftp"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}
