package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// IndexType represents the storage engine of the local media index
type IndexType string

const (
	IndexTypeSQLite IndexType = "sqlite"
	IndexTypeBbolt  IndexType = "bbolt"
)

// IndexConfig holds the configuration for the local media index
type IndexConfig struct {
	IndexType IndexType `mapstructure:"type" yaml:"type" validate:"omitempty,oneof=sqlite bbolt"`

	// Type-specific configs
	SQLite *SQLiteIndexConfig `mapstructure:"sqlite" yaml:"sqlite,omitempty"`
	Bbolt  *BboltConfig       `mapstructure:"bbolt" yaml:"bbolt,omitempty"`
}

// SQLiteIndexConfig holds sqlite-specific configuration
type SQLiteIndexConfig struct {
	Path          string `mapstructure:"path" yaml:"path"`                       // Path to the sqlite file, created if missing
	BusyTimeoutMS int    `mapstructure:"busy_timeout_ms" yaml:"busy_timeout_ms"` // How long to wait on a locked database
}

// BboltConfig holds bbolt-specific configuration
type BboltConfig struct {
	Path   string      `mapstructure:"path" yaml:"path"`       // Path to bbolt DB file
	Mode   os.FileMode `mapstructure:"mode" yaml:"mode"`       // File open mode: "0600", "0644"
	NoSync bool        `mapstructure:"no_sync" yaml:"no_sync"` // Disable fsync. Breaks the durability guarantee of every index write.
}

// Validate validates the index configuration
func (ic *IndexConfig) Validate() error {
	switch ic.IndexType {
	case IndexTypeSQLite:
		if ic.SQLite == nil {
			return fmt.Errorf("sqlite configuration is required when type is 'sqlite'")
		}
		return ic.SQLite.Validate()
	case IndexTypeBbolt:
		if ic.Bbolt == nil {
			return fmt.Errorf("bbolt configuration is required when type is 'bbolt'")
		}
		return ic.Bbolt.Validate()
	default:
		return fmt.Errorf("unsupported index type: %s", ic.IndexType)
	}
}

func (ic *IndexConfig) GetActiveConfig() interface{} {
	switch ic.IndexType {
	case IndexTypeSQLite:
		return ic.SQLite
	case IndexTypeBbolt:
		return ic.Bbolt
	default:
		return nil
	}
}

// ApplyDefaults fills the type and the active backend's defaults
func (ic *IndexConfig) ApplyDefaults() {
	if ic.IndexType == "" {
		ic.IndexType = IndexTypeSQLite
	}
	switch ic.IndexType {
	case IndexTypeSQLite:
		if ic.SQLite == nil {
			ic.SQLite = &SQLiteIndexConfig{}
		}
		ic.SQLite.ApplyDefaults()
	case IndexTypeBbolt:
		if ic.Bbolt == nil {
			ic.Bbolt = &BboltConfig{}
		}
		ic.Bbolt.ApplyDefaults()
	}
}

func (sc *SQLiteIndexConfig) Validate() error {
	if sc.Path == "" {
		return fmt.Errorf("sqlite path is required")
	}
	if sc.BusyTimeoutMS < 0 {
		return fmt.Errorf("busy_timeout_ms cannot be negative")
	}
	return nil
}

func (sc *SQLiteIndexConfig) ApplyDefaults() {
	if sc.Path == "" {
		sc.Path = "./cache.db"
	}
	if sc.BusyTimeoutMS == 0 {
		sc.BusyTimeoutMS = 5000
	}
}

func (bc *BboltConfig) Validate() error {
	if bc.Path == "" {
		return fmt.Errorf("bbolt path is required")
	}
	return nil
}

// ApplyDefaults sets default values if not provided for bbolt
func (bc *BboltConfig) ApplyDefaults() {
	if bc.Path == "" {
		bc.Path = "./cache.bolt"
	}
	if bc.Mode == 0 {
		bc.Mode = 0600
	}
	// NoSync remains false by default for data safety
}

// DSN returns the modernc sqlite data source name for the index
func (sc *SQLiteIndexConfig) DSN() (string, error) {
	return sqliteURI(sc.Path, fmt.Sprintf("_pragma=busy_timeout(%d)&_pragma=synchronous(FULL)", sc.BusyTimeoutMS))
}

// sqliteURI builds a file: URI, escaping characters such as '?' and '#' in
// path so they are not read as the start of the parameters
func sqliteURI(path, query string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	p := filepath.ToSlash(abs)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p // C:/x on windows
	}
	u := url.URL{Scheme: "file", Path: p, RawQuery: query}
	return u.String(), nil
}
