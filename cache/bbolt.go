package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/HelderFSFerreira/synapse-s3-storage-provider/config"
	"github.com/HelderFSFerreira/synapse-s3-storage-provider/model"
	"go.etcd.io/bbolt"
)

var _ IndexProvider = (*BboltIndex)(nil)

const (
	mediaBucket      = "media"
	notDeletedBucket = "not_deleted"

	// keySeparator sorts before any printable byte, so encoded keys order by (origin, media_id)
	keySeparator = "\x00"
)

// BboltIndex keeps records in the media bucket and a copy of the key of every
// not-deleted record in the not_deleted bucket, so iteration never scans
// flagged rows.
type BboltIndex struct {
	db *bbolt.DB
}

// NewBboltIndex opens (and creates if needed) the bbolt index at cfg.Path
func NewBboltIndex(cfg *config.BboltConfig) (*BboltIndex, error) {
	// Apply defaults to ensure required values are set
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bbolt config: %w", err)
	}

	// Another process holding the file lock fails fast instead of hanging
	db, err := bbolt.Open(cfg.Path, cfg.Mode, &bbolt.Options{Timeout: time.Second, NoSync: cfg.NoSync})
	if err != nil {
		return nil, fmt.Errorf("failed to open index %s: %w", cfg.Path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{mediaBucket, notDeletedBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &BboltIndex{db: db}, nil
}

func (c *BboltIndex) Close() error {
	return c.db.Close()
}

func encodeKey(origin, mediaID string) []byte {
	return []byte(origin + keySeparator + mediaID)
}

func buckets(tx *bbolt.Tx) (media, notDeleted *bbolt.Bucket, err error) {
	media = tx.Bucket([]byte(mediaBucket))
	notDeleted = tx.Bucket([]byte(notDeletedBucket))
	if media == nil || notDeleted == nil {
		return nil, nil, ErrBucketNotFound
	}
	return media, notDeleted, nil
}

func (c *BboltIndex) UpsertIfAbsent(ctx context.Context, rec model.MediaRecord) (bool, error) {
	if err := rec.Kind.Validate(); err != nil {
		return false, err
	}
	if strings.Contains(rec.Origin, keySeparator) {
		return false, fmt.Errorf("%w: origin contains NUL byte", model.ErrInvalidIdentifier)
	}

	added := false
	err := c.db.Update(func(tx *bbolt.Tx) error {
		media, notDeleted, err := buckets(tx)
		if err != nil {
			return err
		}

		key := encodeKey(rec.Origin, rec.MediaID)
		if media.Get(key) != nil {
			return nil
		}

		rec.KnownDeleted = false
		val, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := media.Put(key, val); err != nil {
			return err
		}
		added = true
		return notDeleted.Put(key, nil)
	})
	if err != nil {
		return false, fmt.Errorf("failed to insert %s: %w", rec.Key(), err)
	}
	return added, nil
}

// markDeleted flags one key inside an open write transaction
func markDeleted(media, notDeleted *bbolt.Bucket, key []byte) error {
	val := media.Get(key)
	if val == nil {
		return nil
	}

	var rec model.MediaRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return fmt.Errorf("unmarshal error for key %q: %w", key, err)
	}
	if rec.KnownDeleted {
		return nil
	}

	rec.KnownDeleted = true
	updated, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := media.Put(key, updated); err != nil {
		return err
	}
	return notDeleted.Delete(key)
}

func (c *BboltIndex) MarkDeleted(ctx context.Context, origin, mediaID string) error {
	err := c.db.Update(func(tx *bbolt.Tx) error {
		media, notDeleted, err := buckets(tx)
		if err != nil {
			return err
		}
		return markDeleted(media, notDeleted, encodeKey(origin, mediaID))
	})
	if err != nil {
		return fmt.Errorf("failed to mark %s deleted: %w", model.MediaKey{Origin: origin, MediaID: mediaID}, err)
	}
	return nil
}

func (c *BboltIndex) MarkDeletedBatch(ctx context.Context, keys []model.MediaKey) error {
	if len(keys) == 0 {
		return nil
	}

	return c.db.Update(func(tx *bbolt.Tx) error {
		media, notDeleted, err := buckets(tx)
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := markDeleted(media, notDeleted, encodeKey(k.Origin, k.MediaID)); err != nil {
				return fmt.Errorf("failed to mark %s deleted: %w", k, err)
			}
		}
		return nil
	})
}

func (c *BboltIndex) Count(ctx context.Context) (int64, error) {
	return c.countBucket(mediaBucket)
}

func (c *BboltIndex) CountNotDeleted(ctx context.Context) (int64, error) {
	return c.countBucket(notDeletedBucket)
}

func (c *BboltIndex) countBucket(name string) (int64, error) {
	var count int64
	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(name))
		if b == nil {
			return ErrBucketNotFound
		}
		count = int64(b.Stats().KeyN)
		return nil
	})
	return count, err
}

func (c *BboltIndex) IterateNotDeleted(ctx context.Context, batchSize int) iter.Seq2[model.MediaRecord, error] {
	return iterateBatches(ctx, batchSize, c.readOneBatch)
}

// readOneBatch reads a single batch of entries in a short-lived transaction.
// Records are decoded inside the transaction; nothing returned references bbolt memory.
func (c *BboltIndex) readOneBatch(ctx context.Context, after *model.MediaKey, limit int) ([]model.MediaRecord, error) {
	batch := make([]model.MediaRecord, 0, limit)

	err := c.db.View(func(tx *bbolt.Tx) error {
		media, notDeleted, err := buckets(tx)
		if err != nil {
			return err
		}

		cursor := notDeleted.Cursor()

		// Position cursor just past the last key of the previous batch
		var k []byte
		if after == nil {
			k, _ = cursor.First()
		} else {
			afterKey := encodeKey(after.Origin, after.MediaID)
			k, _ = cursor.Seek(afterKey)
			if k != nil && bytes.Equal(k, afterKey) {
				k, _ = cursor.Next()
			}
		}

		for ; k != nil && len(batch) < limit; k, _ = cursor.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			val := media.Get(k)
			if val == nil {
				return fmt.Errorf("index inconsistency: %q listed as not deleted but missing", k)
			}

			var rec model.MediaRecord
			if err := json.Unmarshal(val, &rec); err != nil {
				return fmt.Errorf("unmarshal error for key %q: %w", k, err)
			}
			batch = append(batch, rec)
		}

		return nil
	}) // Transaction closes here - read lock is released!

	if err != nil {
		return nil, fmt.Errorf("failed to read index batch: %w", err)
	}
	return batch, nil
}
