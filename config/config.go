package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load, e.g. MEDIA_INDEX_TYPE
const EnvPrefix = "MEDIA"

var validate = validator.New()

// AppConfig represents the complete application configuration
type AppConfig struct {
	Index       IndexConfig       `mapstructure:"index" yaml:"index"`
	Metadata    MetadataConfig    `mapstructure:"metadata" yaml:"metadata"`
	Destination DestinationConfig `mapstructure:"destination" yaml:"destination"`
	Upload      UploadConfig      `mapstructure:"upload" yaml:"upload"`
	Logger      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	Metrics     MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
}

// MetricsConfig controls the prometheus textfile written at the end of a run
type MetricsConfig struct {
	TextfilePath string `mapstructure:"textfile_path" yaml:"textfile_path,omitempty"`
}

// Validate validates the whole configuration. Struct tags are checked first,
// then the per section rules.
func (ac *AppConfig) Validate() error {
	if err := validate.Struct(ac); err != nil {
		return formatValidationError(err)
	}
	if err := ac.Index.Validate(); err != nil {
		return fmt.Errorf("index config error: %w", err)
	}
	if err := ac.Upload.Validate(); err != nil {
		return fmt.Errorf("upload config error: %w", err)
	}
	if err := ac.Logger.Validate(); err != nil {
		return fmt.Errorf("logger config error: %w", err)
	}
	return nil
}

// ValidateMetadata is checked only by commands that read the homeserver database.
// A referenced database file is loaded first.
func (ac *AppConfig) ValidateMetadata() error {
	if err := ac.Metadata.Resolve(); err != nil {
		return fmt.Errorf("metadata config error: %w", err)
	}
	ac.Metadata.ApplyDefaults()
	if err := ac.Metadata.Validate(); err != nil {
		return fmt.Errorf("metadata config error: %w", err)
	}
	return nil
}

// ValidateDestination is checked only by commands that talk to the object store
func (ac *AppConfig) ValidateDestination() error {
	if err := ac.Destination.Validate(); err != nil {
		return fmt.Errorf("destination config error: %w", err)
	}
	return nil
}

// ApplyDefaults applies default values to all components
func (ac *AppConfig) ApplyDefaults() {
	ac.Index.ApplyDefaults()
	ac.Metadata.ApplyDefaults()
	ac.Destination.ApplyDefaults()
	ac.Upload.ApplyDefaults()
	ac.Logger.ApplyDefaults()
}

// Load reads configuration from defaults, an optional YAML file and MEDIA_* environment
// variables, in increasing order of precedence. CLI flags are applied by the caller.
func Load(path string) (*AppConfig, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

// setDefaults registers every key so that AutomaticEnv can override it and
// the type-specific sections are always allocated on Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("index.type", string(IndexTypeSQLite))
	v.SetDefault("index.sqlite.path", "./cache.db")
	v.SetDefault("index.sqlite.busy_timeout_ms", 5000)
	v.SetDefault("index.bbolt.path", "./cache.bolt")
	v.SetDefault("index.bbolt.mode", 0600)
	v.SetDefault("index.bbolt.no_sync", false)

	v.SetDefault("metadata.type", string(MetadataTypePostgres))
	v.SetDefault("metadata.database_file", "")
	v.SetDefault("metadata.postgres.dsn", "")
	v.SetDefault("metadata.postgres.host", "localhost")
	v.SetDefault("metadata.postgres.port", 5432)
	v.SetDefault("metadata.postgres.user", "")
	v.SetDefault("metadata.postgres.password", "")
	v.SetDefault("metadata.postgres.database", "")
	v.SetDefault("metadata.postgres.sslmode", "")
	v.SetDefault("metadata.sqlite.path", "")

	v.SetDefault("destination.type", string(DestinationTypeS3))
	v.SetDefault("destination.common.timeout_seconds", 60)
	v.SetDefault("destination.common.max_retries", 3)
	v.SetDefault("destination.common.max_rps", 0)
	v.SetDefault("destination.s3.region", "")
	v.SetDefault("destination.s3.access_key_id", "")
	v.SetDefault("destination.s3.secret_access_key", "")
	v.SetDefault("destination.s3.endpoint", "")
	v.SetDefault("destination.s3.use_path_style", false)
	v.SetDefault("destination.s3.sse_customer_key", "")
	v.SetDefault("destination.s3.sse_customer_algo", "")
	v.SetDefault("destination.minio.endpoint", "")
	v.SetDefault("destination.minio.access_key_id", "")
	v.SetDefault("destination.minio.secret_access_key", "")
	v.SetDefault("destination.minio.region", "")
	v.SetDefault("destination.minio.use_ssl", true)
	v.SetDefault("destination.ftp.host", "")
	v.SetDefault("destination.ftp.port", 21)
	v.SetDefault("destination.ftp.username", "")
	v.SetDefault("destination.ftp.password", "")
	v.SetDefault("destination.ftp.base_path", "/")
	v.SetDefault("destination.ftp.use_tls", false)

	v.SetDefault("upload.storage_class", "STANDARD")
	v.SetDefault("upload.delete", false)
	v.SetDefault("upload.dry_run", false)

	v.SetDefault("logger.level", string(LogLevelInfo))
	v.SetDefault("logger.format", string(LogFormatConsole))
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.time_format", "2006-01-02 15:04:05")

	v.SetDefault("metrics.textfile_path", "")
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)", e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
