package destination

import (
	"context"
	"fmt"
	"io"

	"github.com/HelderFSFerreira/synapse-s3-storage-provider/config"
	"github.com/HelderFSFerreira/synapse-s3-storage-provider/model"
)

// ObjectStore is the remote bucket media is offloaded to
type ObjectStore interface {
	// Exists reports whether key is present in bucket. A missing object is (false, nil);
	// any other failure is an error and the caller must not assume either answer.
	Exists(ctx context.Context, bucket, key string) (bool, error)
	// Put uploads size bytes read from body. body is rewound before every attempt.
	Put(ctx context.Context, bucket, key string, body io.ReadSeeker, size int64, class model.StorageClass) error
	Close() error
}

// CreateDestination creates an object store based on configuration
func CreateDestination(ctx context.Context, cfg *config.DestinationConfig) (ObjectStore, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid destination configuration: %w", err)
	}

	switch cfg.DestinationType {
	case config.DestinationTypeS3:
		return NewS3Destination(ctx, cfg.S3, &cfg.Common)
	case config.DestinationTypeMinIO:
		return NewMinIODestination(cfg.MinIO, &cfg.Common)
	case config.DestinationTypeFTP:
		return NewFTPDestination(cfg.FTP, &cfg.Common)
	default:
		return nil, fmt.Errorf("unsupported destination type: %s", cfg.DestinationType)
	}
}
