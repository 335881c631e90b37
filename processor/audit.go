package processor

import (
	"context"
	"fmt"

	"github.com/HelderFSFerreira/synapse-s3-storage-provider/layout"
	"github.com/HelderFSFerreira/synapse-s3-storage-provider/model"
)

// Audit flags every not-deleted record whose file is missing under basePath.
// All flags are committed in one batch after the scan; an interrupted audit
// leaves the index unchanged.
func (r *Runner) Audit(ctx context.Context, basePath string) (*AuditStats, error) {
	stats := &AuditStats{}
	if err := checkBasePath(basePath); err != nil {
		return stats, err
	}

	total, err := r.index.CountNotDeleted(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to count index: %w", err)
	}
	r.logger.Info("Checking %d media files under %s", total, basePath)

	var missing []model.MediaKey
	p := r.newProgress("Audit", total)

	for rec, err := range r.index.IterateNotDeleted(ctx, r.batchSize) {
		if err != nil {
			return stats, fmt.Errorf("failed to read index: %w", err)
		}
		stats.Scanned++

		rel, err := layout.Record(rec)
		if err != nil {
			return stats, fmt.Errorf("record %s: %w", rec.Key(), err)
		}

		_, exists, err := fileExists(layout.LocalPath(basePath, rel))
		if err != nil {
			return stats, fmt.Errorf("failed to check %s: %w", rel, err)
		}
		if exists {
			stats.Present++
		} else {
			r.logger.Verbose("Missing locally: %s", rel)
			missing = append(missing, rec.Key())
		}
		p.tick()
	}

	if len(missing) > 0 {
		if err := r.index.MarkDeletedBatch(ctx, missing); err != nil {
			return stats, fmt.Errorf("failed to flag missing media: %w", err)
		}
	}
	stats.Flagged = int64(len(missing))

	return stats, nil
}
