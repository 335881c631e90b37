package processor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/HelderFSFerreira/synapse-s3-storage-provider/layout"
	"github.com/HelderFSFerreira/synapse-s3-storage-provider/model"
	"github.com/stretchr/testify/require"
)

func TestAudit(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	idx := newTestIndex(t)

	gone := model.MediaRecord{Origin: "example.org", MediaID: "gone", FilesystemID: "fsid0001", Kind: model.KindRemote}
	seedIndex(t, idx, localRec, remoteRec, gone)
	writeMedia(t, base, localRel, "hello")
	writeMedia(t, base, remoteRel, "remote")

	spy := &spyIndex{IndexProvider: idx}
	r := NewRunner(spy, nil, nil, nil, WithBatchSize(1))
	stats, err := r.Audit(ctx, base)
	require.NoError(t, err)

	require.Equal(t, int64(3), stats.Scanned)
	require.Equal(t, int64(2), stats.Present)
	require.Equal(t, int64(1), stats.Flagged)
	require.Equal(t, 1, spy.batchCalls, "flags are committed in one batch")
	require.Zero(t, spy.markCalls)

	// Every surviving record has its file
	for rec, err := range idx.IterateNotDeleted(ctx, 10) {
		require.NoError(t, err)
		rel, err := layout.Record(rec)
		require.NoError(t, err)
		_, err = os.Stat(layout.LocalPath(base, rel))
		require.NoError(t, err)
	}
	require.ElementsMatch(t, []string{localRec.Key().String(), remoteRec.Key().String()}, notDeletedKeys(t, idx))

	// A second audit finds nothing new
	stats, err = r.Audit(ctx, base)
	require.NoError(t, err)
	require.Equal(t, int64(0), stats.Flagged)
	require.Equal(t, 1, spy.batchCalls, "no batch write when nothing is missing")
}

func TestAudit_FileInPlaceOfShardDirectory(t *testing.T) {
	base := t.TempDir()
	idx := newTestIndex(t)
	seedIndex(t, idx, localRec)
	// local_content/ab/c1 is a file, so local_content/ab/c1/23ff cannot exist
	writeMedia(t, base, "local_content/ab/c1", "not a directory")

	r := NewRunner(idx, nil, nil, nil)
	stats, err := r.Audit(context.Background(), base)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Flagged)
}

func TestAudit_ShardDirectoryIsNotAFile(t *testing.T) {
	base := t.TempDir()
	idx := newTestIndex(t)
	// A four character id resolves to its shard directory, local_content/ab/cd/
	short := model.MediaRecord{MediaID: "abcd", FilesystemID: "abcd", Kind: model.KindLocal}
	seedIndex(t, idx, short)
	writeMedia(t, base, "local_content/ab/cd/ef01", "a sibling")

	r := NewRunner(idx, nil, nil, nil)
	stats, err := r.Audit(context.Background(), base)
	require.NoError(t, err)
	require.Equal(t, int64(0), stats.Present)
	require.Equal(t, int64(1), stats.Flagged)
	require.Empty(t, notDeletedKeys(t, idx))
}

func TestAudit_InvalidRecordIsFatal(t *testing.T) {
	inner := newTestIndex(t)
	seedIndex(t, inner, localRec)
	spy := &spyIndex{
		IndexProvider: inner,
		records: []model.MediaRecord{
			localRec,
			{MediaID: "bad", FilesystemID: "abcdef", Kind: "thumbnail"},
		},
	}

	r := NewRunner(spy, nil, nil, nil)
	_, err := r.Audit(context.Background(), t.TempDir())
	require.ErrorIs(t, err, model.ErrInvalidKind)
	require.Zero(t, spy.batchCalls, "nothing is flagged when the scan aborts")
	require.Len(t, notDeletedKeys(t, inner), 1)
}

func TestAudit_MissingBasePath(t *testing.T) {
	idx := newTestIndex(t)
	seedIndex(t, idx, localRec, remoteRec)

	r := NewRunner(idx, nil, nil, nil)
	_, err := r.Audit(context.Background(), filepath.Join(t.TempDir(), "not-mounted"))
	require.Error(t, err)
	require.Len(t, notDeletedKeys(t, idx), 2, "a wrong base path must not flag the index")
}

func TestAudit_BatchWriteFailure(t *testing.T) {
	inner := newTestIndex(t)
	seedIndex(t, inner, localRec)
	boom := errors.New("database is locked")

	r := NewRunner(&spyIndex{IndexProvider: inner, markErr: boom}, nil, nil, nil)
	_, err := r.Audit(context.Background(), t.TempDir())
	require.ErrorIs(t, err, boom)
}
