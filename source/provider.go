package source

import (
	"context"
	"fmt"
	"time"

	"github.com/HelderFSFerreira/synapse-s3-storage-provider/config"
	"github.com/HelderFSFerreira/synapse-s3-storage-provider/model"
	"github.com/jmoiron/sqlx"
)

// MetadataSource reads media metadata from the homeserver database
type MetadataSource interface {
	// FetchStale returns every local and remote media item whose last access
	// (or creation, if never accessed) is older than before. Local media used
	// as URL preview cache is excluded. All rows are read before returning.
	FetchStale(ctx context.Context, before time.Time) ([]model.MediaRecord, error)
	Close() error
}

// Written with '?' placeholders and rebound per driver.
// filesystem_id of local media is its media_id.
const (
	localStaleQuery = `SELECT '' AS origin, media_id, media_id AS filesystem_id
		FROM local_media_repository
		WHERE COALESCE(last_access_ts, created_ts) < ? AND url_cache IS NULL`

	remoteStaleQuery = `SELECT media_origin AS origin, media_id, filesystem_id
		FROM remote_media_cache
		WHERE COALESCE(last_access_ts, created_ts) < ?`
)

type staleQuery struct {
	kind  model.MediaKind
	query string
}

func staleQueries(bindType int) []staleQuery {
	return []staleQuery{
		{kind: model.KindLocal, query: sqlx.Rebind(bindType, localStaleQuery)},
		{kind: model.KindRemote, query: sqlx.Rebind(bindType, remoteStaleQuery)},
	}
}

func CreateSource(ctx context.Context, cfg *config.MetadataConfig) (MetadataSource, error) {
	if err := cfg.Resolve(); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid metadata configuration: %w", err)
	}

	switch cfg.MetadataType {
	case config.MetadataTypePostgres:
		return NewPostgresSource(ctx, cfg.Postgres)
	case config.MetadataTypeSQLite:
		return NewSQLiteSource(ctx, cfg.SQLite)
	default:
		return nil, fmt.Errorf("unsupported metadata type: %s", cfg.MetadataType)
	}
}
