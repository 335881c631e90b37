package cache

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/HelderFSFerreira/synapse-s3-storage-provider/model"
	"github.com/stretchr/testify/require"
)

// indexFactory opens an index at path; calling it twice with the same path reopens the same store.
// Implementations close the index on test cleanup.
type indexFactory func(t *testing.T, path string) IndexProvider

func newIndexPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "index.db")
}

func localRec(id string) model.MediaRecord {
	return model.MediaRecord{MediaID: id, FilesystemID: id, Kind: model.KindLocal}
}

func remoteRec(origin, id, fsID string) model.MediaRecord {
	return model.MediaRecord{Origin: origin, MediaID: id, FilesystemID: fsID, Kind: model.KindRemote}
}

func collect(t *testing.T, idx IndexProvider, batchSize int) []model.MediaRecord {
	t.Helper()
	var out []model.MediaRecord
	for rec, err := range idx.IterateNotDeleted(context.Background(), batchSize) {
		require.NoError(t, err)
		out = append(out, rec)
	}
	return out
}

func runIndexSuite(t *testing.T, open indexFactory) {
	ctx := context.Background()

	t.Run("UpsertIfAbsent", func(t *testing.T) {
		idx := open(t, newIndexPath(t))

		added, err := idx.UpsertIfAbsent(ctx, localRec("abc123ff"))
		require.NoError(t, err)
		require.True(t, added)

		added, err = idx.UpsertIfAbsent(ctx, localRec("abc123ff"))
		require.NoError(t, err)
		require.False(t, added)

		// Same media id from another origin is a different record
		added, err = idx.UpsertIfAbsent(ctx, remoteRec("matrix.org", "abc123ff", "fsid0001"))
		require.NoError(t, err)
		require.True(t, added)

		n, err := idx.Count(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(2), n)
	})

	t.Run("UpsertKeepsExistingRow", func(t *testing.T) {
		idx := open(t, newIndexPath(t))

		_, err := idx.UpsertIfAbsent(ctx, remoteRec("example.org", "media1", "fsid-old"))
		require.NoError(t, err)
		require.NoError(t, idx.MarkDeleted(ctx, "example.org", "media1"))

		added, err := idx.UpsertIfAbsent(ctx, remoteRec("example.org", "media1", "fsid-new"))
		require.NoError(t, err)
		require.False(t, added)

		n, err := idx.CountNotDeleted(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(0), n, "re-inserting must not clear known_deleted")

		n, err = idx.Count(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(1), n)
	})

	t.Run("UpsertRejectsInvalidKind", func(t *testing.T) {
		idx := open(t, newIndexPath(t))

		_, err := idx.UpsertIfAbsent(ctx, model.MediaRecord{MediaID: "x", FilesystemID: "xxxx", Kind: "thumbnail"})
		require.Error(t, err)
		require.True(t, errors.Is(err, model.ErrInvalidKind))
	})

	t.Run("MarkDeleted", func(t *testing.T) {
		idx := open(t, newIndexPath(t))

		for _, id := range []string{"aaaa1", "bbbb2", "cccc3"} {
			_, err := idx.UpsertIfAbsent(ctx, localRec(id))
			require.NoError(t, err)
		}

		require.NoError(t, idx.MarkDeleted(ctx, "", "bbbb2"))
		// Idempotent
		require.NoError(t, idx.MarkDeleted(ctx, "", "bbbb2"))
		// Unknown key is a no-op
		require.NoError(t, idx.MarkDeleted(ctx, "nowhere.org", "missing"))

		got := collect(t, idx, 10)
		require.Len(t, got, 2)
		require.Equal(t, "aaaa1", got[0].MediaID)
		require.Equal(t, "cccc3", got[1].MediaID)
		for _, rec := range got {
			require.False(t, rec.KnownDeleted)
		}

		n, err := idx.Count(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(3), n)
	})

	t.Run("MarkDeletedBatch", func(t *testing.T) {
		idx := open(t, newIndexPath(t))

		for i := 0; i < 6; i++ {
			_, err := idx.UpsertIfAbsent(ctx, localRec(fmt.Sprintf("media%02d", i)))
			require.NoError(t, err)
		}

		err := idx.MarkDeletedBatch(ctx, []model.MediaKey{
			{MediaID: "media01"},
			{MediaID: "media03"},
			{MediaID: "media05"},
			{Origin: "unknown.org", MediaID: "media05"},
		})
		require.NoError(t, err)
		require.NoError(t, idx.MarkDeletedBatch(ctx, nil))

		n, err := idx.CountNotDeleted(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(3), n)

		var ids []string
		for _, rec := range collect(t, idx, 2) {
			ids = append(ids, rec.MediaID)
		}
		require.Equal(t, []string{"media00", "media02", "media04"}, ids)
	})

	t.Run("IterateOrderAndFields", func(t *testing.T) {
		idx := open(t, newIndexPath(t))

		recs := []model.MediaRecord{
			remoteRec("matrix.org", "zzz", "GerZNDnDZVjsOtardLuwfIBg"),
			localRec("abc123ff"),
			remoteRec("example.org", "m1", "fsid0001"),
			remoteRec("example.org", "a1", "fsid0002"),
			localRec("000000aa"),
		}
		for _, r := range recs {
			_, err := idx.UpsertIfAbsent(ctx, r)
			require.NoError(t, err)
		}

		for _, batchSize := range []int{1, 2, 3, 5, 100, 0} {
			got := collect(t, idx, batchSize)
			require.Len(t, got, len(recs), "batch size %d", batchSize)

			var keys []string
			for _, r := range got {
				keys = append(keys, r.Origin+"|"+r.MediaID)
			}
			require.Equal(t, []string{
				"|000000aa",
				"|abc123ff",
				"example.org|a1",
				"example.org|m1",
				"matrix.org|zzz",
			}, keys, "batch size %d", batchSize)
		}

		got := collect(t, idx, 10)
		require.Equal(t, remoteRec("matrix.org", "zzz", "GerZNDnDZVjsOtardLuwfIBg"), got[4])
		require.Equal(t, localRec("abc123ff"), got[1])
	})

	t.Run("IterateEmpty", func(t *testing.T) {
		idx := open(t, newIndexPath(t))
		require.Empty(t, collect(t, idx, 10))
	})

	t.Run("MutateDuringIteration", func(t *testing.T) {
		idx := open(t, newIndexPath(t))

		const total = 25
		for i := 0; i < total; i++ {
			_, err := idx.UpsertIfAbsent(ctx, localRec(fmt.Sprintf("media%03d", i)))
			require.NoError(t, err)
		}

		seen := make(map[string]int)
		for rec, err := range idx.IterateNotDeleted(ctx, 4) {
			require.NoError(t, err)
			seen[rec.MediaID]++
			// Flag every other record while the sequence is live
			if len(seen)%2 == 0 {
				require.NoError(t, idx.MarkDeleted(ctx, rec.Origin, rec.MediaID))
			}
		}

		require.Len(t, seen, total)
		for id, n := range seen {
			require.Equal(t, 1, n, "record %s yielded more than once", id)
		}

		n, err := idx.CountNotDeleted(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(total-total/2), n)
	})

	t.Run("IterateIsRestartable", func(t *testing.T) {
		idx := open(t, newIndexPath(t))
		for i := 0; i < 7; i++ {
			_, err := idx.UpsertIfAbsent(ctx, localRec(fmt.Sprintf("r%d", i)))
			require.NoError(t, err)
		}

		seq := idx.IterateNotDeleted(ctx, 3)

		count := 0
		for _, err := range seq {
			require.NoError(t, err)
			count++
			if count == 4 {
				break
			}
		}
		require.Equal(t, 4, count)

		count = 0
		for _, err := range seq {
			require.NoError(t, err)
			count++
		}
		require.Equal(t, 7, count)
	})

	t.Run("IterateCanceledContext", func(t *testing.T) {
		idx := open(t, newIndexPath(t))
		_, err := idx.UpsertIfAbsent(ctx, localRec("abcdef"))
		require.NoError(t, err)

		cctx, cancel := context.WithCancel(ctx)
		cancel()

		var gotErr error
		for _, err := range idx.IterateNotDeleted(cctx, 10) {
			gotErr = err
		}
		require.ErrorIs(t, gotErr, context.Canceled)
	})

	t.Run("Durability", func(t *testing.T) {
		path := newIndexPath(t)
		idx := open(t, path)
		_, err := idx.UpsertIfAbsent(ctx, localRec("persist1"))
		require.NoError(t, err)
		_, err = idx.UpsertIfAbsent(ctx, localRec("persist2"))
		require.NoError(t, err)
		require.NoError(t, idx.MarkDeleted(ctx, "", "persist1"))
		require.NoError(t, idx.Close())

		reopened := open(t, path)
		n, err := reopened.Count(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(2), n)

		got := collect(t, reopened, 10)
		require.Len(t, got, 1)
		require.Equal(t, "persist2", got[0].MediaID)
	})
}
