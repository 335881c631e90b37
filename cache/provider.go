package cache

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/HelderFSFerreira/synapse-s3-storage-provider/config"
	"github.com/HelderFSFerreira/synapse-s3-storage-provider/model"
)

// DefaultBatchSize is the number of records read per short-lived read transaction
const DefaultBatchSize = 1000

// IndexProvider is the local index of media known to be cold. Records are only
// ever added or flagged; nothing is removed. Every mutation is committed before
// the call returns.
type IndexProvider interface {
	// UpsertIfAbsent inserts rec unless (origin, media_id) is already present and
	// reports whether a row was added. An existing row, including its
	// known_deleted flag, is left untouched.
	UpsertIfAbsent(ctx context.Context, rec model.MediaRecord) (bool, error)
	// MarkDeleted flags a record as confirmed absent from local disk. Unknown keys are ignored.
	MarkDeleted(ctx context.Context, origin, mediaID string) error
	// MarkDeletedBatch flags all keys in a single commit.
	MarkDeletedBatch(ctx context.Context, keys []model.MediaKey) error
	Count(ctx context.Context) (int64, error)
	CountNotDeleted(ctx context.Context) (int64, error)
	// IterateNotDeleted lazily yields records not flagged deleted, ordered by
	// (origin, media_id). Each batch is read in its own transaction so the caller
	// may update the index while iterating. A read failure is yielded once as the
	// error and ends the sequence.
	IterateNotDeleted(ctx context.Context, batchSize int) iter.Seq2[model.MediaRecord, error]
	Close() error
}

var (
	ErrBucketNotFound error = errors.New("bucket not found")
)

// CreateIndex opens the index backend selected by cfg
func CreateIndex(cfg *config.IndexConfig) (IndexProvider, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid index configuration: %w", err)
	}

	switch cfg.IndexType {
	case config.IndexTypeSQLite:
		return NewSQLiteIndex(cfg.SQLite)
	case config.IndexTypeBbolt:
		return NewBboltIndex(cfg.Bbolt)
	default:
		return nil, fmt.Errorf("unsupported index type: %s", cfg.IndexType)
	}
}

// batchReader reads up to limit not-deleted records ordered by key, strictly after the given key (nil for the start)
type batchReader func(ctx context.Context, after *model.MediaKey, limit int) ([]model.MediaRecord, error)

// iterateBatches turns a keyset paginated reader into a lazy sequence.
// No read transaction is held while the consumer runs.
func iterateBatches(ctx context.Context, batchSize int, read batchReader) iter.Seq2[model.MediaRecord, error] {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	return func(yield func(model.MediaRecord, error) bool) {
		var after *model.MediaKey // Position tracker for resuming iteration

		for {
			if err := ctx.Err(); err != nil {
				yield(model.MediaRecord{}, err)
				return
			}

			batch, err := read(ctx, after, batchSize)
			if err != nil {
				yield(model.MediaRecord{}, err)
				return
			}

			for _, rec := range batch {
				if !yield(rec, nil) {
					return
				}
			}

			// A short batch means the end was reached
			if len(batch) < batchSize {
				return
			}
			last := batch[len(batch)-1].Key()
			after = &last
		}
	}
}
