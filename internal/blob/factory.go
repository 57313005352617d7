package blob

import (
	"context"
	"fmt"

	"github.com/kiranshivaraju/tryon/internal/config"
)

// New constructs the blob store selected by cfg.Driver.
// Called once at server startup.
func New(ctx context.Context, cfg config.BlobConfig, publicBaseURL string) (Store, error) {
	switch cfg.Driver {
	case "filesystem":
		return NewFileStore(cfg.FSPath, publicBaseURL)
	case "s3":
		return NewS3Store(cfg.S3Bucket, cfg.S3Region, cfg.S3Endpoint)
	case "gcs":
		return NewGCSStore(ctx, cfg.GCSBucket)
	default:
		return nil, fmt.Errorf("unknown blob driver %q: must be one of filesystem, s3, gcs", cfg.Driver)
	}
}
