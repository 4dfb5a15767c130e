package objectstore

import (
	"context"
	"fmt"

	"memoryhub/internal/config"
)

// New constructs the ObjectStore backend named by cfg.StorageBackend.
func New(ctx context.Context, cfg config.AttachmentConfig) (ObjectStore, error) {
	switch cfg.StorageBackend {
	case "s3":
		return NewS3Store(ctx, cfg)
	case "local", "":
		return NewLocalStore(cfg.LocalRoot)
	default:
		return nil, fmt.Errorf("objectstore: unknown storage backend %q", cfg.StorageBackend)
	}
}
