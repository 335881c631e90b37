package source

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/HelderFSFerreira/synapse-s3-storage-provider/config"
	"github.com/HelderFSFerreira/synapse-s3-storage-provider/cutoff"
	"github.com/HelderFSFerreira/synapse-s3-storage-provider/model"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

var _ MetadataSource = (*SQLiteSource)(nil)

// SQLiteSource reads a Synapse sqlite database (homeserver.db) without writing to it
type SQLiteSource struct {
	db *sqlx.DB
}

func NewSQLiteSource(ctx context.Context, cfg *config.SQLiteMetadataConfig) (*SQLiteSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sqlite config: %w", err)
	}

	// sqlite would silently create a missing file
	if _, err := os.Stat(cfg.Path); err != nil {
		return nil, fmt.Errorf("homeserver database %s: %w", cfg.Path, err)
	}

	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open homeserver database %s: %w", cfg.Path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open homeserver database %s: %w", cfg.Path, err)
	}

	return &SQLiteSource{db: db}, nil
}

func (s *SQLiteSource) Close() error {
	return s.db.Close()
}

func (s *SQLiteSource) FetchStale(ctx context.Context, before time.Time) ([]model.MediaRecord, error) {
	cutoffMS := cutoff.ToMillis(before)

	var out []model.MediaRecord
	for _, q := range staleQueries(sqlx.QUESTION) {
		var recs []model.MediaRecord
		if err := s.db.SelectContext(ctx, &recs, q.query, cutoffMS); err != nil {
			return nil, fmt.Errorf("failed to query %s media: %w", q.kind, err)
		}
		for i := range recs {
			recs[i].Kind = q.kind
		}
		out = append(out, recs...)
	}

	return out, nil
}
