// The metadata configuration describes how to reach the homeserver database.
// Both database engines supported by Synapse are accepted.
package config

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/viper"
)

// MetadataType represents the homeserver database engine
type MetadataType string

const (
	MetadataTypePostgres MetadataType = "postgres"
	MetadataTypeSQLite   MetadataType = "sqlite"
)

// MetadataConfig holds the configuration for the upstream media metadata source
type MetadataConfig struct {
	MetadataType MetadataType `mapstructure:"type" yaml:"type" validate:"omitempty,oneof=postgres sqlite"`

	// DatabaseFile is a Synapse style database.yaml. When set it replaces the inline settings below.
	DatabaseFile string `mapstructure:"database_file" yaml:"database_file,omitempty"`

	Postgres *PostgresConfig       `mapstructure:"postgres" yaml:"postgres,omitempty"`
	SQLite   *SQLiteMetadataConfig `mapstructure:"sqlite" yaml:"sqlite,omitempty"`
}

// PostgresConfig holds the connection settings of a Synapse postgres database
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn" yaml:"dsn,omitempty"` // Full connection string, wins over the discrete fields
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port" validate:"gte=0,lte=65535"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`
	Database string `mapstructure:"database" yaml:"database"`
	SSLMode  string `mapstructure:"sslmode" yaml:"sslmode,omitempty" validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`
}

// SQLiteMetadataConfig points at a Synapse sqlite database (homeserver.db)
type SQLiteMetadataConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// Validate validates the metadata configuration
func (mc *MetadataConfig) Validate() error {
	switch mc.MetadataType {
	case MetadataTypePostgres:
		if mc.Postgres == nil {
			return fmt.Errorf("postgres configuration is required when type is 'postgres'")
		}
		return mc.Postgres.Validate()
	case MetadataTypeSQLite:
		if mc.SQLite == nil {
			return fmt.Errorf("sqlite configuration is required when type is 'sqlite'")
		}
		return mc.SQLite.Validate()
	default:
		return fmt.Errorf("unsupported metadata type: %s", mc.MetadataType)
	}
}

func (mc *MetadataConfig) GetActiveConfig() interface{} {
	switch mc.MetadataType {
	case MetadataTypePostgres:
		return mc.Postgres
	case MetadataTypeSQLite:
		return mc.SQLite
	default:
		return nil
	}
}

// ApplyDefaults sets default values for the metadata source
func (mc *MetadataConfig) ApplyDefaults() {
	if mc.MetadataType == "" {
		mc.MetadataType = MetadataTypePostgres
	}
	if mc.MetadataType == MetadataTypePostgres && mc.Postgres != nil {
		mc.Postgres.ApplyDefaults()
	}
}

// Resolve loads DatabaseFile, if set, over the inline settings.
func (mc *MetadataConfig) Resolve() error {
	if mc.DatabaseFile == "" {
		return nil
	}
	loaded, err := LoadDatabaseFile(mc.DatabaseFile)
	if err != nil {
		return err
	}
	mc.MetadataType = loaded.MetadataType
	mc.Postgres = loaded.Postgres
	mc.SQLite = loaded.SQLite
	return nil
}

func (pc *PostgresConfig) Validate() error {
	if pc.DSN != "" {
		return nil
	}
	if pc.Database == "" {
		return fmt.Errorf("postgres database is required")
	}
	if pc.User == "" {
		return fmt.Errorf("postgres user is required")
	}
	if pc.Port < 0 || pc.Port > 65535 {
		return fmt.Errorf("postgres port must be between 1 and 65535")
	}
	return nil
}

func (pc *PostgresConfig) ApplyDefaults() {
	if pc.DSN != "" {
		return
	}
	if pc.Host == "" {
		pc.Host = "localhost"
	}
	if pc.Port == 0 {
		pc.Port = 5432
	}
}

// ConnString returns a postgres URL usable by pgx
func (pc *PostgresConfig) ConnString() string {
	if pc.DSN != "" {
		return pc.DSN
	}
	u := &url.URL{
		Scheme: "postgres",
		Host:   pc.Host + ":" + strconv.Itoa(pc.Port),
		Path:   "/" + pc.Database,
	}
	if pc.Password != "" {
		u.User = url.UserPassword(pc.User, pc.Password)
	} else {
		u.User = url.User(pc.User)
	}
	if pc.SSLMode != "" {
		q := url.Values{}
		q.Set("sslmode", pc.SSLMode)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// DSN returns a read-only modernc sqlite data source name for the homeserver database
func (sc *SQLiteMetadataConfig) DSN() (string, error) {
	return sqliteURI(sc.Path, "mode=ro&_pragma=busy_timeout(5000)")
}

func (sc *SQLiteMetadataConfig) Validate() error {
	if sc.Path == "" {
		return fmt.Errorf("sqlite path is required")
	}
	return nil
}

// LoadDatabaseFile reads a database.yaml holding either a "postgres" section with
// psycopg2 style keys (user, password, database or dbname, host, port, sslmode)
// or a "sqlite" section with a "database" key.
func LoadDatabaseFile(path string) (*MetadataConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read database config %s: %w", path, err)
	}

	switch {
	case v.IsSet("postgres"):
		pg := v.Sub("postgres")
		cfg := &PostgresConfig{
			Host:     pg.GetString("host"),
			Port:     pg.GetInt("port"),
			User:     pg.GetString("user"),
			Password: pg.GetString("password"),
			Database: pg.GetString("database"),
			SSLMode:  pg.GetString("sslmode"),
		}
		if cfg.Database == "" {
			cfg.Database = pg.GetString("dbname")
		}
		cfg.ApplyDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("database config %s: %w", path, err)
		}
		return &MetadataConfig{MetadataType: MetadataTypePostgres, Postgres: cfg}, nil
	case v.IsSet("sqlite"):
		cfg := &SQLiteMetadataConfig{Path: v.GetString("sqlite.database")}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("database config %s: %w", path, err)
		}
		return &MetadataConfig{MetadataType: MetadataTypeSQLite, SQLite: cfg}, nil
	default:
		return nil, fmt.Errorf("database config %s: expected a 'postgres' or 'sqlite' section", path)
	}
}
