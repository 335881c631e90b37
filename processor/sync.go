package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/HelderFSFerreira/synapse-s3-storage-provider/model"
)

// SyncMetadata copies media not accessed since before from the homeserver
// database into the index. Every row is fetched before the first write, and
// rows already known keep their known_deleted flag.
func (r *Runner) SyncMetadata(ctx context.Context, before time.Time) (*SyncStats, error) {
	stats := &SyncStats{}
	if r.source == nil {
		return stats, errors.New("no metadata source configured")
	}

	r.logger.Info("Fetching media last accessed before %s", before.UTC().Format(time.RFC3339))
	records, err := r.source.FetchStale(ctx, before)
	if err != nil {
		return stats, fmt.Errorf("failed to fetch media metadata: %w", err)
	}
	stats.Fetched = int64(len(records))
	r.logger.Debug("Fetched %d rows from homeserver database", len(records))

	p := r.newProgress("Sync", stats.Fetched)
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		switch rec.Kind {
		case model.KindLocal:
			stats.LocalRows++
		case model.KindRemote:
			stats.RemoteRows++
		}

		added, err := r.index.UpsertIfAbsent(ctx, rec)
		if err != nil {
			return stats, fmt.Errorf("failed to update index: %w", err)
		}
		if added {
			stats.Added++
			r.logger.Verbose("Added %s", rec.Key())
		}
		p.tick()
	}

	return stats, nil
}

// Update runs SyncMetadata followed by Audit. The media store is checked before
// anything is written.
func (r *Runner) Update(ctx context.Context, before time.Time, basePath string) (*SyncStats, *AuditStats, error) {
	if err := checkBasePath(basePath); err != nil {
		return nil, nil, err
	}

	syncStats, err := r.SyncMetadata(ctx, before)
	if err != nil {
		return syncStats, nil, err
	}
	r.logger.Info(syncStats.String())

	auditStats, err := r.Audit(ctx, basePath)
	return syncStats, auditStats, err
}
