package destination

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/HelderFSFerreira/synapse-s3-storage-provider/config"
	"github.com/HelderFSFerreira/synapse-s3-storage-provider/model"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var _ ObjectStore = (*MinIODestination)(nil)

// MinIODestination talks to MinIO and other S3 compatible servers through minio-go
type MinIODestination struct {
	client *minio.Client
	retry  *retrier
}

func NewMinIODestination(cfg *config.MinIOConfig, common *config.CommonDestinationConfig) (*MinIODestination, error) {
	common.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid minio config: %w", err)
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &MinIODestination{
		client: client,
		retry:  newRetrier(common),
	}, nil
}

func isMinIONotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NotFound" || resp.StatusCode == http.StatusNotFound
}

func (d *MinIODestination) Exists(ctx context.Context, bucket, key string) (bool, error) {
	exists, err := withRetry(ctx, d.retry, func(ctx context.Context) (bool, error) {
		_, err := d.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
		if err != nil {
			if isMinIONotFound(err) {
				return false, nil
			}
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to check object existence %s/%s: %w", bucket, key, err)
	}
	return exists, nil
}

func (d *MinIODestination) Put(ctx context.Context, bucket, key string, body io.ReadSeeker, size int64, class model.StorageClass) error {
	_, err := withRetry(ctx, d.retry, func(ctx context.Context) (minio.UploadInfo, error) {
		if _, err := body.Seek(0, io.SeekStart); err != nil {
			return minio.UploadInfo{}, permanent(fmt.Errorf("failed to rewind body: %w", err))
		}
		return d.client.PutObject(ctx, bucket, key, body, size, minio.PutObjectOptions{
			StorageClass: string(class),
		})
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (d *MinIODestination) Close() error {
	return nil
}
