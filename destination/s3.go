package destination

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/HelderFSFerreira/synapse-s3-storage-provider/config"
	"github.com/HelderFSFerreira/synapse-s3-storage-provider/model"
	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	s3config "github.com/aws/aws-sdk-go-v2/config"
)

var _ ObjectStore = (*S3Destination)(nil)

// S3API is the subset of the S3 client used here, so tests can provide their own implementation.
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Destination struct {
	client S3API
	config *config.S3Config
	retry  *retrier

	// SSE-C parameters, sent with every request when set
	sseAlgo   *string
	sseKey    *string
	sseKeyMD5 *string
}

func NewS3Destination(ctx context.Context, cfg *config.S3Config, common *config.CommonDestinationConfig) (*S3Destination, error) {
	cfg.ApplyDefaults()
	common.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid s3 config: %w", err)
	}

	opts := []func(*s3config.LoadOptions) error{
		// Suppress AWS SDK logging warnings about missing checksums
		s3config.WithClientLogMode(0),
	}
	if cfg.Region != "" {
		opts = append(opts, s3config.WithRegion(cfg.Region))
	}
	// Without static keys the default credential chain applies
	if cfg.AccessKeyID != "" {
		opts = append(opts, s3config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := s3config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	// For S3-compatible storage, region is often just a placeholder
	if awsCfg.Region == "" {
		awsCfg.Region = "us-east-1"
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return newS3DestinationWithClient(client, cfg, common)
}

func newS3DestinationWithClient(client S3API, cfg *config.S3Config, common *config.CommonDestinationConfig) (*S3Destination, error) {
	d := &S3Destination{
		client: client,
		config: cfg,
		retry:  newRetrier(common),
	}

	if cfg.SSECustomerKey != "" {
		key, err := base64.StdEncoding.DecodeString(cfg.SSECustomerKey)
		if err != nil {
			return nil, fmt.Errorf("sse_customer_key must be base64 encoded: %w", err)
		}
		sum := md5.Sum(key)
		d.sseAlgo = aws.String(cfg.SSECustomerAlgo)
		d.sseKey = aws.String(cfg.SSECustomerKey)
		d.sseKeyMD5 = aws.String(base64.StdEncoding.EncodeToString(sum[:]))
	}

	return d, nil
}

// isS3NotFound reports whether err means the object does not exist.
// HeadObject has no body, so a missing key can surface as NotFound, NoSuchKey or a bare 404.
func isS3NotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound {
		return true
	}
	return false
}

func (d *S3Destination) Exists(ctx context.Context, bucket, key string) (bool, error) {
	exists, err := withRetry(ctx, d.retry, func(ctx context.Context) (bool, error) {
		_, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket:               aws.String(bucket),
			Key:                  aws.String(key),
			SSECustomerAlgorithm: d.sseAlgo,
			SSECustomerKey:       d.sseKey,
			SSECustomerKeyMD5:    d.sseKeyMD5,
		})
		if err != nil {
			if isS3NotFound(err) {
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

func (d *S3Destination) Put(ctx context.Context, bucket, key string, body io.ReadSeeker, size int64, class model.StorageClass) error {
	if class == "" {
		class = model.StorageClassStandard
	}

	_, err := withRetry(ctx, d.retry, func(ctx context.Context) (struct{}, error) {
		if _, err := body.Seek(0, io.SeekStart); err != nil {
			return struct{}{}, permanent(fmt.Errorf("failed to rewind body: %w", err))
		}
		_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:               aws.String(bucket),
			Key:                  aws.String(key),
			Body:                 body,
			ContentLength:        aws.Int64(size),
			StorageClass:         types.StorageClass(class),
			SSECustomerAlgorithm: d.sseAlgo,
			SSECustomerKey:       d.sseKey,
			SSECustomerKeyMD5:    d.sseKeyMD5,
		})
		return struct{}{}, err
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Close is a no-op; the SDK client holds no resources that need releasing
func (d *S3Destination) Close() error {
	return nil
}
