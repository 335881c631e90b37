package cache

import (
	"context"
	"fmt"
	"iter"

	"github.com/HelderFSFerreira/synapse-s3-storage-provider/config"
	"github.com/HelderFSFerreira/synapse-s3-storage-provider/model"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

var _ IndexProvider = (*SQLiteIndex)(nil)

// The schema is compatible with cache.db files written by the original upload script.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS media (
	origin TEXT NOT NULL,
	media_id TEXT NOT NULL,
	filesystem_id TEXT NOT NULL,
	type TEXT NOT NULL,
	known_deleted BOOLEAN NOT NULL DEFAULT 0,
	UNIQUE (origin, media_id)
);

CREATE INDEX IF NOT EXISTS deleted_idx ON media(known_deleted);
`

const selectColumns = `SELECT origin, media_id, filesystem_id, type, known_deleted FROM media`

// SQLiteIndex stores the index in a single sqlite table
type SQLiteIndex struct {
	db *sqlx.DB
}

// NewSQLiteIndex opens (and creates if needed) the sqlite index at cfg.Path
func NewSQLiteIndex(cfg *config.SQLiteIndexConfig) (*SQLiteIndex, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sqlite config: %w", err)
	}

	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open index %s: %w", cfg.Path, err)
	}

	// Single writer process; one connection also serializes reads with writes
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create index schema in %s: %w", cfg.Path, err)
	}

	return &SQLiteIndex{db: db}, nil
}

func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}

func (s *SQLiteIndex) UpsertIfAbsent(ctx context.Context, rec model.MediaRecord) (bool, error) {
	if err := rec.Kind.Validate(); err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO media (origin, media_id, filesystem_id, type, known_deleted) VALUES (?, ?, ?, ?, 0)`,
		rec.Origin, rec.MediaID, rec.FilesystemID, string(rec.Kind),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert %s: %w", rec.Key(), err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLiteIndex) MarkDeleted(ctx context.Context, origin, mediaID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE media SET known_deleted = 1 WHERE origin = ? AND media_id = ?`,
		origin, mediaID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark %s deleted: %w", model.MediaKey{Origin: origin, MediaID: mediaID}, err)
	}
	return nil
}

func (s *SQLiteIndex) MarkDeletedBatch(ctx context.Context, keys []model.MediaKey) error {
	if len(keys) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op after Commit

	stmt, err := tx.PreparexContext(ctx, `UPDATE media SET known_deleted = 1 WHERE origin = ? AND media_id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, k := range keys {
		if _, err := stmt.ExecContext(ctx, k.Origin, k.MediaID); err != nil {
			return fmt.Errorf("failed to mark %s deleted: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteIndex) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM media`)
	return n, err
}

func (s *SQLiteIndex) CountNotDeleted(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM media WHERE known_deleted = 0`)
	return n, err
}

func (s *SQLiteIndex) IterateNotDeleted(ctx context.Context, batchSize int) iter.Seq2[model.MediaRecord, error] {
	return iterateBatches(ctx, batchSize, s.readOneBatch)
}

// readOneBatch reads a single page. The query completes before returning, so no
// statement stays open while the caller writes.
func (s *SQLiteIndex) readOneBatch(ctx context.Context, after *model.MediaKey, limit int) ([]model.MediaRecord, error) {
	batch := make([]model.MediaRecord, 0, limit)

	var err error
	if after == nil {
		err = s.db.SelectContext(ctx, &batch,
			selectColumns+` WHERE known_deleted = 0 ORDER BY origin, media_id LIMIT ?`,
			limit,
		)
	} else {
		err = s.db.SelectContext(ctx, &batch,
			selectColumns+` WHERE known_deleted = 0 AND (origin > ? OR (origin = ? AND media_id > ?)) ORDER BY origin, media_id LIMIT ?`,
			after.Origin, after.Origin, after.MediaID, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read index batch: %w", err)
	}
	return batch, nil
}
