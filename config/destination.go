package config

import (
	"fmt"

	"github.com/HelderFSFerreira/synapse-s3-storage-provider/model"
)

// DestinationType represents the type of object store backend
type DestinationType string

const (
	DestinationTypeS3    DestinationType = "s3"
	DestinationTypeMinIO DestinationType = "minio"
	DestinationTypeFTP   DestinationType = "ftp"
)

// DestinationConfig holds the configuration for the object store media is offloaded to
type DestinationConfig struct {
	DestinationType DestinationType `mapstructure:"type" yaml:"type" validate:"omitempty,oneof=s3 minio ftp"`

	// Common options for all destinations
	Common CommonDestinationConfig `mapstructure:"common" yaml:"common,omitempty"`

	// Type-specific configurations
	S3    *S3Config    `mapstructure:"s3" yaml:"s3,omitempty"`
	MinIO *MinIOConfig `mapstructure:"minio" yaml:"minio,omitempty"`
	FTP   *FTPConfig   `mapstructure:"ftp" yaml:"ftp,omitempty"`
}

// CommonDestinationConfig contains general settings applicable to all destinations
type CommonDestinationConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds" yaml:"timeout_seconds,omitempty" validate:"gte=0"` // optional: per request timeout in seconds
	MaxRetries     int `mapstructure:"max_retries" yaml:"max_retries,omitempty" validate:"gte=0"`         // optional: attempts per request before the record is skipped
	MaxRPS         int `mapstructure:"max_rps" yaml:"max_rps,omitempty" validate:"gte=0"`                 // optional: maximum requests per second (0 means no limit)
}

// S3Config holds S3-specific configuration
type S3Config struct {
	Region          string `mapstructure:"region" yaml:"region"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint,omitempty" validate:"omitempty,url"` // For S3-compatible services
	UsePathStyle    bool   `mapstructure:"use_path_style" yaml:"use_path_style,omitempty"`
	SSECustomerKey  string `mapstructure:"sse_customer_key" yaml:"sse_customer_key,omitempty"` // base64 encoded SSE-C key
	SSECustomerAlgo string `mapstructure:"sse_customer_algo" yaml:"sse_customer_algo,omitempty"`
}

// MinIOConfig holds minio-go specific configuration
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint"` // host:port, no scheme
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key"`
	Region          string `mapstructure:"region" yaml:"region,omitempty"`
	UseSSL          bool   `mapstructure:"use_ssl" yaml:"use_ssl,omitempty"`
}

// FTPConfig holds FTP-specific configuration
type FTPConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`                   // FTP server host
	Port     int    `mapstructure:"port" yaml:"port"`                   // FTP server port (default: 21)
	Username string `mapstructure:"username" yaml:"username"`           // FTP username
	Password string `mapstructure:"password" yaml:"password,omitempty"` // FTP password
	BasePath string `mapstructure:"base_path" yaml:"base_path"`         // Directory the bucket directories live in
	UseTLS   bool   `mapstructure:"use_tls" yaml:"use_tls,omitempty"`   // Use FTPS (FTP over TLS)
}

// Validate ensures the configuration is valid for the specified destination type
func (dc *DestinationConfig) Validate() error {
	if err := dc.Common.Validate(); err != nil {
		return err
	}

	switch dc.DestinationType {
	case DestinationTypeS3:
		if dc.S3 == nil {
			return fmt.Errorf("s3 configuration is required when type is 's3'")
		}
		return dc.S3.Validate()
	case DestinationTypeMinIO:
		if dc.MinIO == nil {
			return fmt.Errorf("minio configuration is required when type is 'minio'")
		}
		return dc.MinIO.Validate()
	case DestinationTypeFTP:
		if dc.FTP == nil {
			return fmt.Errorf("ftp configuration is required when type is 'ftp'")
		}
		return dc.FTP.Validate()
	default:
		return fmt.Errorf("unsupported destination type: %s", dc.DestinationType)
	}
}

// GetActiveConfig returns the active configuration based on the destination type
func (dc *DestinationConfig) GetActiveConfig() interface{} {
	switch dc.DestinationType {
	case DestinationTypeS3:
		return dc.S3
	case DestinationTypeMinIO:
		return dc.MinIO
	case DestinationTypeFTP:
		return dc.FTP
	default:
		return nil
	}
}

// ApplyDefaults sets default values for the destination and its active backend
func (dc *DestinationConfig) ApplyDefaults() {
	if dc.DestinationType == "" {
		dc.DestinationType = DestinationTypeS3
	}
	dc.Common.ApplyDefaults()
	switch dc.DestinationType {
	case DestinationTypeS3:
		if dc.S3 == nil {
			dc.S3 = &S3Config{}
		}
		dc.S3.ApplyDefaults()
	case DestinationTypeFTP:
		if dc.FTP != nil {
			dc.FTP.ApplyDefaults()
		}
	}
}

// Validate validates S3 configuration. Credentials are optional: without them
// the default AWS credential chain is used.
func (s3c *S3Config) Validate() error {
	if (s3c.AccessKeyID == "") != (s3c.SecretAccessKey == "") {
		return fmt.Errorf("s3 access key and secret key must be set together")
	}
	if s3c.SSECustomerKey != "" && s3c.SSECustomerAlgo == "" {
		return fmt.Errorf("s3 sse_customer_algo is required when sse_customer_key is set")
	}
	return nil
}

func (s3c *S3Config) ApplyDefaults() {
	if s3c.SSECustomerKey != "" && s3c.SSECustomerAlgo == "" {
		s3c.SSECustomerAlgo = "AES256"
	}
}

func (mc *MinIOConfig) Validate() error {
	if mc.Endpoint == "" {
		return fmt.Errorf("minio endpoint is required")
	}
	if mc.AccessKeyID == "" {
		return fmt.Errorf("minio access key is required")
	}
	if mc.SecretAccessKey == "" {
		return fmt.Errorf("minio secret key is required")
	}
	return nil
}

// Validate validates FTP configuration
func (fc *FTPConfig) Validate() error {
	if fc.Host == "" {
		return fmt.Errorf("ftp host is required")
	}
	if fc.Port <= 0 || fc.Port > 65535 {
		return fmt.Errorf("ftp port must be between 1 and 65535")
	}
	if fc.Username == "" {
		return fmt.Errorf("ftp username is required")
	}
	// Password can be empty for anonymous FTP
	return nil
}

// ApplyDefaults sets default values for FTP configuration
func (fc *FTPConfig) ApplyDefaults() {
	if fc.Port == 0 {
		fc.Port = 21 // Default FTP port
	}
	if fc.BasePath == "" {
		fc.BasePath = "/" // Default to root
	}
}

// ApplyDefaults sets default values for destination configuration
func (c *CommonDestinationConfig) ApplyDefaults() {
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 60
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	// MaxRPS leave 0 (means no limit)
}

// Validate validates common destination configuration
func (c *CommonDestinationConfig) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	if c.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout_seconds cannot be negative")
	}
	if c.MaxRPS < 0 {
		return fmt.Errorf("max_rps cannot be negative")
	}
	return nil
}

// UploadConfig holds the options of the upload command that may also come from configuration
type UploadConfig struct {
	StorageClass model.StorageClass `mapstructure:"storage_class" yaml:"storage_class,omitempty"`
	Delete       bool               `mapstructure:"delete" yaml:"delete,omitempty"`
	DryRun       bool               `mapstructure:"dry_run" yaml:"dry_run,omitempty"`
}

func (uc *UploadConfig) ApplyDefaults() {
	// Accept lower case names from config files and flags
	if c, err := model.ParseStorageClass(string(uc.StorageClass)); err == nil {
		uc.StorageClass = c
	}
}

func (uc *UploadConfig) Validate() error {
	return uc.StorageClass.Validate()
}
