// Package artifacts publishes long bot responses as shareable artifacts and
// returns a URL for the truncated in-channel reply to point at.
package artifacts

import (
	"context"
	"fmt"

	"github.com/haasonsaas/parley/internal/config"
)

// Store publishes response text and returns a public URL.
type Store interface {
	Share(ctx context.Context, text string) (string, error)
}

// New builds the store selected by configuration.
func New(ctx context.Context, cfg config.ArtifactsConfig) (Store, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocalStore(cfg.Local)
	case "s3":
		return NewS3Store(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown artifacts backend %q", cfg.Backend)
	}
}
