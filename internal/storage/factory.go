package storage

import (
	"context"

	appconfig "github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/config"
)

func NewStorage(ctx context.Context, cfg appconfig.Config) (Storage, error) {
	switch cfg.StorageMode {
	case "s3", "aws", "localstack":
		return NewS3Storage(ctx, cfg)
	default:
		return NewLocalStorage(cfg.LocalStorageDir, cfg.LocalStorageURL)
	}
}

// Describe names the backend selected by cfg, for startup logs.
func Describe(cfg appconfig.Config) string {
	switch cfg.StorageMode {
	case "s3", "aws", "localstack":
		if isLocalStack(cfg.S3Endpoint) {
			return "LocalStack S3"
		}
		return "AWS S3"
	default:
		return "Local Filesystem"
	}
}
