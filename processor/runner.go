package processor

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"

	"github.com/HelderFSFerreira/synapse-s3-storage-provider/cache"
	"github.com/HelderFSFerreira/synapse-s3-storage-provider/destination"
	"github.com/HelderFSFerreira/synapse-s3-storage-provider/logger"
	"github.com/HelderFSFerreira/synapse-s3-storage-provider/source"
	"github.com/dustin/go-humanize"
)

const (
	defaultBatchSize        = cache.DefaultBatchSize
	defaultProgressInterval = 1000
)

// Runner executes the media operations. Each operation runs sequentially to
// completion; dependencies an operation does not use may be nil.
type Runner struct {
	index       cache.IndexProvider
	source      source.MetadataSource
	destination destination.ObjectStore
	logger      logger.Logger

	batchSize        int
	progressInterval int64
}

type Option func(*Runner)

// WithBatchSize sets how many index records are read per read transaction
func WithBatchSize(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithProgressInterval sets after how many records progress is logged. 0 disables progress logging.
func WithProgressInterval(n int64) Option {
	return func(r *Runner) {
		if n >= 0 {
			r.progressInterval = n
		}
	}
}

// NewRunner creates a new Runner with the provided dependencies
func NewRunner(index cache.IndexProvider, src source.MetadataSource, dest destination.ObjectStore, log logger.Logger, opts ...Option) *Runner {
	// Use NoOpLogger if none provided
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	r := &Runner{
		index:            index,
		source:           src,
		destination:      dest,
		logger:           log,
		batchSize:        defaultBatchSize,
		progressInterval: defaultProgressInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SyncStats contains statistics from the SyncMetadata operation
type SyncStats struct {
	Fetched    int64 // Rows returned by the homeserver database
	LocalRows  int64 // Of which local media
	RemoteRows int64 // Of which remote media
	Added      int64 // Rows new to the index
}

func (s *SyncStats) String() string {
	return fmt.Sprintf("SyncMetadata: fetched=%d (local=%d, remote=%d), added=%d, already_known=%d",
		s.Fetched, s.LocalRows, s.RemoteRows, s.Added, s.Fetched-s.Added)
}

// AuditStats contains statistics from the Audit operation
type AuditStats struct {
	Scanned int64 // Not-deleted records checked
	Present int64 // Records whose file exists
	Flagged int64 // Records flagged deleted because their file is gone
}

func (s *AuditStats) String() string {
	return fmt.Sprintf("Audit: scanned=%d, present=%d, flagged_deleted=%d", s.Scanned, s.Present, s.Flagged)
}

// MigrationStats contains statistics from the Migrate operation.
// In dry-run mode the upload and delete counters hold what would have been done.
type MigrationStats struct {
	Scanned        int64 // Not-deleted records processed
	UploadedCount  int64 // Files uploaded
	UploadedBytes  int64 // Bytes uploaded
	DeletedCount   int64 // Local files removed after being confirmed in the bucket
	DeletedBytes   int64 // Bytes freed on local disk
	AlreadyPresent int64 // Objects found in the bucket, no upload needed
	MissingLocally int64 // Records flagged deleted because their file is gone
	Failed         int64 // Records skipped after a per-record error; retried next run
	DryRun         bool
}

func (s *MigrationStats) String() string {
	if s.DryRun {
		return fmt.Sprintf("Migrate (dry-run): scanned=%d, would_upload=%d (%s), would_delete=%d (%s), already_present=%d, missing_locally=%d, failed=%d",
			s.Scanned, s.UploadedCount, humanize.IBytes(uint64(s.UploadedBytes)), s.DeletedCount, humanize.IBytes(uint64(s.DeletedBytes)),
			s.AlreadyPresent, s.MissingLocally, s.Failed)
	}
	return fmt.Sprintf("Migrate: scanned=%d, uploaded=%d (%s), deleted=%d (%s), already_present=%d, missing_locally=%d, failed=%d",
		s.Scanned, s.UploadedCount, humanize.IBytes(uint64(s.UploadedBytes)), s.DeletedCount, humanize.IBytes(uint64(s.DeletedBytes)),
		s.AlreadyPresent, s.MissingLocally, s.Failed)
}

// progress logs every interval records against an optional total
type progress struct {
	logger   logger.Logger
	label    string
	total    int64
	interval int64
	done     int64
}

func (r *Runner) newProgress(label string, total int64) *progress {
	return &progress{logger: r.logger, label: label, total: total, interval: r.progressInterval}
}

func (p *progress) tick() {
	p.done++
	if p.interval <= 0 || p.done%p.interval != 0 {
		return
	}
	if p.total > 0 {
		percentage := float64(p.done) / float64(p.total) * 100
		p.logger.Info("%s progress: %d/%d records (%.1f%%)", p.label, p.done, p.total, percentage)
		return
	}
	p.logger.Info("%s progress: %d records", p.label, p.done)
}

// fileExists reports whether a media file exists at path. A directory there is
// not a media file and answers false. Stat failures other than "does not exist"
// are returned because presence cannot be established.
func fileExists(path string) (os.FileInfo, bool, error) {
	info, err := os.Stat(path)
	if err == nil {
		if info.IsDir() {
			return nil, false, nil
		}
		return info, true, nil
	}
	// A regular file where a shard directory is expected means the file is absent too
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
		return nil, false, nil
	}
	return nil, false, err
}

// checkBasePath rejects a media store root that is missing, so a wrong path
// never flags the whole index as deleted
func checkBasePath(basePath string) error {
	if basePath == "" {
		return fmt.Errorf("base path is required")
	}
	info, err := os.Stat(basePath)
	if err != nil {
		return fmt.Errorf("media store %s: %w", basePath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("media store %s is not a directory", basePath)
	}
	return nil
}
