package processor

import (
	"context"
	"io"
	"iter"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/HelderFSFerreira/synapse-s3-storage-provider/cache"
	"github.com/HelderFSFerreira/synapse-s3-storage-provider/config"
	"github.com/HelderFSFerreira/synapse-s3-storage-provider/model"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory ObjectStore
type memStore struct {
	objects   map[string][]byte
	classes   map[string]model.StorageClass
	existsErr map[string]error
	putErr    map[string]error

	existsCalls int
	putCalls    int
}

func newMemStore() *memStore {
	return &memStore{
		objects:   make(map[string][]byte),
		classes:   make(map[string]model.StorageClass),
		existsErr: make(map[string]error),
		putErr:    make(map[string]error),
	}
}

func (s *memStore) Exists(ctx context.Context, bucket, key string) (bool, error) {
	s.existsCalls++
	if err := s.existsErr[key]; err != nil {
		return false, err
	}
	_, ok := s.objects[bucket+"/"+key]
	return ok, nil
}

func (s *memStore) Put(ctx context.Context, bucket, key string, body io.ReadSeeker, size int64, class model.StorageClass) error {
	s.putCalls++
	if err := s.putErr[key]; err != nil {
		return err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.objects[bucket+"/"+key] = data
	s.classes[bucket+"/"+key] = class
	return nil
}

func (s *memStore) Close() error { return nil }

// staticSource returns fixed rows and remembers the cutoff it was asked for
type staticSource struct {
	records []model.MediaRecord
	err     error
	before  time.Time
	calls   int
}

func (s *staticSource) FetchStale(ctx context.Context, before time.Time) ([]model.MediaRecord, error) {
	s.calls++
	s.before = before
	if s.err != nil {
		return nil, s.err
	}
	return append([]model.MediaRecord(nil), s.records...), nil
}

func (s *staticSource) Close() error { return nil }

// spyIndex wraps a real index to inject records or failures and count flag calls
type spyIndex struct {
	cache.IndexProvider

	records   []model.MediaRecord // when set, iteration yields exactly these
	markErr   error
	upsertErr error

	markCalls  int
	batchCalls int
}

func (s *spyIndex) IterateNotDeleted(ctx context.Context, batchSize int) iter.Seq2[model.MediaRecord, error] {
	if s.records == nil {
		return s.IndexProvider.IterateNotDeleted(ctx, batchSize)
	}
	return func(yield func(model.MediaRecord, error) bool) {
		for _, rec := range s.records {
			if !yield(rec, nil) {
				return
			}
		}
	}
}

func (s *spyIndex) UpsertIfAbsent(ctx context.Context, rec model.MediaRecord) (bool, error) {
	if s.upsertErr != nil {
		return false, s.upsertErr
	}
	return s.IndexProvider.UpsertIfAbsent(ctx, rec)
}

func (s *spyIndex) MarkDeleted(ctx context.Context, origin, mediaID string) error {
	s.markCalls++
	if s.markErr != nil {
		return s.markErr
	}
	return s.IndexProvider.MarkDeleted(ctx, origin, mediaID)
}

func (s *spyIndex) MarkDeletedBatch(ctx context.Context, keys []model.MediaKey) error {
	s.batchCalls++
	if s.markErr != nil {
		return s.markErr
	}
	return s.IndexProvider.MarkDeletedBatch(ctx, keys)
}

func newTestIndex(t *testing.T) cache.IndexProvider {
	t.Helper()
	idx, err := cache.NewSQLiteIndex(&config.SQLiteIndexConfig{Path: filepath.Join(t.TempDir(), "cache.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func seedIndex(t *testing.T, idx cache.IndexProvider, recs ...model.MediaRecord) {
	t.Helper()
	for _, rec := range recs {
		_, err := idx.UpsertIfAbsent(context.Background(), rec)
		require.NoError(t, err)
	}
}

// writeMedia creates a file under base at the slash separated relative path
func writeMedia(t *testing.T, base, rel, content string) string {
	t.Helper()
	p := filepath.Join(base, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func notDeletedKeys(t *testing.T, idx cache.IndexProvider) []string {
	t.Helper()
	var keys []string
	for rec, err := range idx.IterateNotDeleted(context.Background(), 100) {
		require.NoError(t, err)
		keys = append(keys, rec.Key().String())
	}
	return keys
}

var (
	localRec  = model.MediaRecord{Origin: "", MediaID: "abc123", FilesystemID: "abc123ff", Kind: model.KindLocal}
	remoteRec = model.MediaRecord{Origin: "matrix.org", MediaID: "remote1", FilesystemID: "GerZNDnDZVjsOtardLuwfIBg", Kind: model.KindRemote}

	localRel  = "local_content/ab/c1/23ff"
	remoteRel = "remote_content/matrix.org/Ge/rZ/NDnDZVjsOtardLuwfIBg"
)
