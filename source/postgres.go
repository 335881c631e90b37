package source

import (
	"context"
	"fmt"
	"time"

	"github.com/HelderFSFerreira/synapse-s3-storage-provider/config"
	"github.com/HelderFSFerreira/synapse-s3-storage-provider/cutoff"
	"github.com/HelderFSFerreira/synapse-s3-storage-provider/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
)

var _ MetadataSource = (*PostgresSource)(nil)

// PostgresSource reads a Synapse postgres database
type PostgresSource struct {
	pool *pgxpool.Pool
}

func NewPostgresSource(ctx context.Context, cfg *config.PostgresConfig) (*PostgresSource, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid postgres config: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres connection string: %w", err)
	}
	// Queries run one after the other
	poolCfg.MaxConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres %s: %w", poolCfg.ConnConfig.Host, err)
	}

	return &PostgresSource{pool: pool}, nil
}

func (s *PostgresSource) Close() error {
	s.pool.Close()
	return nil
}

// FetchStale runs both queries in one read-only transaction so they see the same snapshot
func (s *PostgresSource) FetchStale(ctx context.Context, before time.Time) ([]model.MediaRecord, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly, IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	cutoffMS := cutoff.ToMillis(before)

	var out []model.MediaRecord
	for _, q := range staleQueries(sqlx.DOLLAR) {
		rows, err := tx.Query(ctx, q.query, cutoffMS)
		if err != nil {
			return nil, fmt.Errorf("failed to query %s media: %w", q.kind, err)
		}

		kind := q.kind
		recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.MediaRecord, error) {
			rec := model.MediaRecord{Kind: kind}
			err := row.Scan(&rec.Origin, &rec.MediaID, &rec.FilesystemID)
			return rec, err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to read %s media rows: %w", q.kind, err)
		}
		out = append(out, recs...)
	}

	return out, nil
}
