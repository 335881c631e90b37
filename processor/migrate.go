package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/HelderFSFerreira/synapse-s3-storage-provider/layout"
	"github.com/HelderFSFerreira/synapse-s3-storage-provider/model"
	"github.com/dustin/go-humanize"
)

// MigrateOptions selects where media is uploaded and whether local copies are removed
type MigrateOptions struct {
	BasePath     string // Media store root holding local_content/ and remote_content/
	Bucket       string
	Delete       bool // Remove local files once the object is in the bucket
	StorageClass model.StorageClass
	DryRun       bool // Check only; nothing is uploaded, removed or flagged
}

func (o *MigrateOptions) validate() error {
	if err := checkBasePath(o.BasePath); err != nil {
		return err
	}
	if o.Bucket == "" {
		return errors.New("bucket is required")
	}
	class, err := model.ParseStorageClass(string(o.StorageClass))
	if err != nil {
		return err
	}
	o.StorageClass = class
	return nil
}

// Migrate uploads every not-deleted record's file that the bucket lacks and,
// with Delete, removes the local copy and flags the record. Records are handled
// one at a time. A failing record is logged and skipped so it is retried on the
// next run; an invalid record or a failed index write aborts the run.
func (r *Runner) Migrate(ctx context.Context, opts MigrateOptions) (*MigrationStats, error) {
	stats := &MigrationStats{DryRun: opts.DryRun}
	if r.destination == nil {
		return stats, errors.New("no object store configured")
	}
	if err := opts.validate(); err != nil {
		return stats, err
	}

	total, err := r.index.CountNotDeleted(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to count index: %w", err)
	}
	if opts.DryRun {
		r.logger.Info("Dry-run mode: checking %d records against bucket %s", total, opts.Bucket)
	} else {
		r.logger.Info("Migrating %d records to bucket %s (storage class %s, delete=%t)", total, opts.Bucket, opts.StorageClass, opts.Delete)
	}

	p := r.newProgress("Migration", total)

	for rec, err := range r.index.IterateNotDeleted(ctx, r.batchSize) {
		if err != nil {
			return stats, fmt.Errorf("failed to read index: %w", err)
		}
		// Cancellation is honored between records only
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		stats.Scanned++
		if err := r.migrateOne(ctx, rec, &opts, stats); err != nil {
			return stats, err
		}
		p.tick()
	}

	return stats, nil
}

// migrateOne processes a single record. It returns an error only for failures that must abort the run.
func (r *Runner) migrateOne(ctx context.Context, rec model.MediaRecord, opts *MigrateOptions, stats *MigrationStats) error {
	rel, err := layout.Record(rec)
	if err != nil {
		return fmt.Errorf("record %s: %w", rec.Key(), err)
	}
	log := r.logger.With("key", rel)
	localPath := layout.LocalPath(opts.BasePath, rel)

	// 1. Local presence; a missing file is flagged so the index converges on disk state
	info, exists, err := fileExists(localPath)
	if err != nil {
		log.Warn("Failed to stat %s, skipping: %v", localPath, err)
		stats.Failed++
		return nil
	}
	if !exists {
		stats.MissingLocally++
		if opts.DryRun {
			log.Verbose("Would flag as deleted: file missing locally")
			return nil
		}
		log.Verbose("File missing locally, flagging as deleted")
		return r.markDeleted(ctx, rec)
	}
	if !info.Mode().IsRegular() {
		log.Warn("%s is not a regular file, skipping", localPath)
		stats.Failed++
		return nil
	}
	size := info.Size()

	// 2. Remote presence, by key only
	present, err := r.destination.Exists(ctx, opts.Bucket, rel)
	if err != nil {
		log.Error("Failed to check bucket, skipping: %v", err)
		stats.Failed++
		return nil
	}

	// 3. Upload what the bucket lacks
	if present {
		stats.AlreadyPresent++
		log.Verbose("Already in bucket")
	} else if opts.DryRun {
		log.Verbose("Would upload %s", humanize.IBytes(uint64(size)))
		stats.UploadedCount++
		stats.UploadedBytes += size
	} else {
		if err := r.upload(ctx, localPath, rel, size, opts); err != nil {
			log.Error("Upload failed, keeping local file: %v", err)
			stats.Failed++
			return nil
		}
		log.Debug("Uploaded %s", humanize.IBytes(uint64(size)))
		stats.UploadedCount++
		stats.UploadedBytes += size
	}

	if !opts.Delete {
		return nil
	}

	// 4. The object is confirmed in the bucket: remove the local copy, then flag
	if opts.DryRun {
		log.Verbose("Would delete local file")
		stats.DeletedCount++
		stats.DeletedBytes += size
		return nil
	}
	if err := os.Remove(localPath); err != nil {
		log.Warn("Failed to delete local file, skipping: %v", err)
		stats.Failed++
		return nil
	}
	r.pruneEmptyParents(filepath.Dir(localPath), opts.BasePath)

	if err := r.markDeleted(ctx, rec); err != nil {
		return err
	}
	log.Debug("Deleted local file")
	stats.DeletedCount++
	stats.DeletedBytes += size
	return nil
}

func (r *Runner) upload(ctx context.Context, localPath, key string, size int64, opts *MigrateOptions) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	return r.destination.Put(ctx, opts.Bucket, key, f, size, opts.StorageClass)
}

// markDeleted flags a record. The index is the system of record, so failing to write it is fatal.
func (r *Runner) markDeleted(ctx context.Context, rec model.MediaRecord) error {
	if err := r.index.MarkDeleted(ctx, rec.Origin, rec.MediaID); err != nil {
		return fmt.Errorf("failed to flag %s as deleted: %w", rec.Key(), err)
	}
	return nil
}

// pruneEmptyParents removes dir and its parents while they are empty, never
// removing basePath itself or anything outside it. Failures end the walk and are only logged.
func (r *Runner) pruneEmptyParents(dir, basePath string) {
	base := filepath.Clean(basePath)
	dir = filepath.Clean(dir)

	for isStrictlyWithin(base, dir) {
		if err := os.Remove(dir); err != nil {
			r.logger.Debug("Stopped pruning at %s: %v", dir, err)
			return
		}
		r.logger.Verbose("Removed empty directory %s", dir)
		dir = filepath.Dir(dir)
	}
}

func isStrictlyWithin(base, dir string) bool {
	rel, err := filepath.Rel(base, dir)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
