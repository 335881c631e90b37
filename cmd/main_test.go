package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/HelderFSFerreira/synapse-s3-storage-provider/cache"
	"github.com/HelderFSFerreira/synapse-s3-storage-provider/config"
	"github.com/HelderFSFerreira/synapse-s3-storage-provider/layout"
	"github.com/HelderFSFerreira/synapse-s3-storage-provider/model"
	"github.com/HelderFSFerreira/synapse-s3-storage-provider/testutils"
	"github.com/stretchr/testify/require"
)

var (
	localRec  = model.MediaRecord{MediaID: "abc123", FilesystemID: "abc123ff", Kind: model.KindLocal}
	remoteRec = model.MediaRecord{Origin: "matrix.org", MediaID: "remote1", FilesystemID: "GerZNDnDZVjsOtardLuwfIBg", Kind: model.KindRemote}
)

// runApp runs the CLI with the given arguments and returns stdout and stderr
func runApp(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := newApp()
	app.Writer = &stdout
	app.ErrWriter = &stderr
	err := app.RunContext(context.Background(), append([]string{"s3-media-upload"}, args...))
	return stdout.String(), stderr.String(), err
}

func seedIndex(t *testing.T, path string, recs ...model.MediaRecord) {
	t.Helper()
	index, err := cache.NewSQLiteIndex(&config.SQLiteIndexConfig{Path: path, BusyTimeoutMS: 1000})
	require.NoError(t, err)
	defer index.Close()
	for _, rec := range recs {
		_, err := index.UpsertIfAbsent(context.Background(), rec)
		require.NoError(t, err)
	}
}

func relPath(t *testing.T, rec model.MediaRecord) string {
	t.Helper()
	rel, err := layout.Record(rec)
	require.NoError(t, err)
	return rel
}

func TestWriteCommand(t *testing.T) {
	dir := t.TempDir()
	indexPath := filepath.Join(dir, "cache.db")
	seedIndex(t, indexPath, remoteRec, localRec)

	t.Run("ToFile", func(t *testing.T) {
		out := filepath.Join(dir, "survivors.txt")
		_, _, err := runApp(t, "--cache-db", indexPath, "--log-level", "silent", "write", out)
		require.NoError(t, err)

		data, err := os.ReadFile(out)
		require.NoError(t, err)
		require.Equal(t, relPath(t, localRec)+"\n"+relPath(t, remoteRec)+"\n", string(data))
	})

	t.Run("ToStdout", func(t *testing.T) {
		stdout, _, err := runApp(t, "--cache-db", indexPath, "write", "-")
		require.NoError(t, err)
		require.Equal(t, relPath(t, localRec)+"\n"+relPath(t, remoteRec)+"\n", stdout)
	})

	t.Run("TooManyArgs", func(t *testing.T) {
		_, _, err := runApp(t, "--cache-db", indexPath, "--log-level", "silent", "write", "a", "b")
		require.Error(t, err)
	})
}

func TestCheckDeletedCommand(t *testing.T) {
	dir := t.TempDir()
	indexPath := filepath.Join(dir, "cache.db")
	metricsPath := filepath.Join(dir, "media.prom")
	base := filepath.Join(dir, "media_store")
	seedIndex(t, indexPath, localRec, remoteRec)

	// Only the local file exists
	local := layout.LocalPath(base, relPath(t, localRec))
	require.NoError(t, os.MkdirAll(filepath.Dir(local), 0755))
	require.NoError(t, os.WriteFile(local, []byte("data"), 0644))

	stdout, _, err := runApp(t, "--cache-db", indexPath, "--log-level", "silent", "--metrics-file", metricsPath, "check-deleted", base)
	require.NoError(t, err)
	require.Contains(t, stdout, "scanned=2, present=1, flagged_deleted=1")

	data, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	require.Contains(t, string(data), `synapse_media_audit_records{result="flagged"} 1`)
	require.Contains(t, string(data), `synapse_media_last_run_success{command="check-deleted"} 1`)

	stdout, _, err = runApp(t, "--cache-db", indexPath, "write")
	require.NoError(t, err)
	require.Equal(t, relPath(t, localRec)+"\n", stdout)
}

func TestCheckDeletedMissingBasePath(t *testing.T) {
	dir := t.TempDir()
	indexPath := filepath.Join(dir, "cache.db")
	seedIndex(t, indexPath, localRec)

	_, stderr, err := runApp(t, "--cache-db", indexPath, "check-deleted", filepath.Join(dir, "nope"))
	require.Error(t, err)
	require.Contains(t, stderr, "check-deleted failed")

	// Nothing was flagged
	stdout, _, err := runApp(t, "--cache-db", indexPath, "--log-level", "silent", "write")
	require.NoError(t, err)
	require.Equal(t, relPath(t, localRec)+"\n", stdout)
}

func TestUpdateDBCommand(t *testing.T) {
	dir := t.TempDir()
	indexPath := filepath.Join(dir, "cache.db")

	old := time.Now().Add(-60 * 24 * time.Hour).UnixMilli()
	fresh := time.Now().Add(-time.Hour).UnixMilli()
	homeserver := testutils.NewHomeserverDB(t,
		[]testutils.LocalMedia{
			{MediaID: "abc123", CreatedTS: old, LastAccessTS: old},
			{MediaID: "fresh1", CreatedTS: old, LastAccessTS: fresh},
		},
		[]testutils.RemoteMedia{
			{Origin: "matrix.org", MediaID: "remote1", FilesystemID: "GerZNDnDZVjsOtardLuwfIBg", CreatedTS: old},
		},
	)

	dbConfig := filepath.Join(dir, "database.yaml")
	require.NoError(t, os.WriteFile(dbConfig, []byte("sqlite:\n  database: "+homeserver+"\n"), 0644))

	stdout, _, err := runApp(t, "--cache-db", indexPath, "--database-config", dbConfig, "--log-level", "silent", "update-db", "30d")
	require.NoError(t, err)
	require.Contains(t, stdout, "fetched=2 (local=1, remote=1), added=2")

	// Rerunning adds nothing
	stdout, _, err = runApp(t, "--cache-db", indexPath, "--database-config", dbConfig, "--log-level", "silent", "update-db", "30d")
	require.NoError(t, err)
	require.Contains(t, stdout, "added=0, already_known=2")

	// Local media is stored under its media id
	synced := model.MediaRecord{MediaID: "abc123", FilesystemID: "abc123", Kind: model.KindLocal}
	stdout, _, err = runApp(t, "--cache-db", indexPath, "--log-level", "silent", "write")
	require.NoError(t, err)
	require.Equal(t, relPath(t, synced)+"\n"+relPath(t, remoteRec)+"\n", stdout)
}

func TestArgumentErrors(t *testing.T) {
	indexPath := filepath.Join(t.TempDir(), "cache.db")

	tests := []struct {
		name string
		args []string
	}{
		{"update-db without duration", []string{"update-db"}},
		{"update-db bad duration", []string{"update-db", "30w"}},
		{"update-db negative duration", []string{"update-db", "-1d"}},
		{"check-deleted without path", []string{"check-deleted"}},
		{"update missing duration", []string{"update", "/tmp"}},
		{"upload missing bucket", []string{"upload", "/tmp"}},
		{"upload bad storage class", []string{"upload", "--storage-class", "GLACIER", "/tmp", "bucket"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"--cache-db", indexPath, "--log-level", "silent"}, tt.args...)
			_, _, err := runApp(t, args...)
			require.Error(t, err)
		})
	}
}

func TestInvalidGlobalFlags(t *testing.T) {
	indexPath := filepath.Join(t.TempDir(), "cache.db")

	_, _, err := runApp(t, "--cache-db", indexPath, "--index-type", "redis", "write")
	require.Error(t, err)
	require.Contains(t, strings.ToLower(err.Error()), "index")

	_, _, err = runApp(t, "--cache-db", indexPath, "--log-level", "loud", "write")
	require.Error(t, err)
}

func TestBboltIndexFlag(t *testing.T) {
	indexPath := filepath.Join(t.TempDir(), "cache.bolt")

	stdout, _, err := runApp(t, "--index-type", "bbolt", "--cache-db", indexPath, "--log-level", "silent", "write")
	require.NoError(t, err)
	require.Empty(t, stdout)

	_, err = os.Stat(indexPath)
	require.NoError(t, err)
}

func TestApplyEndpoint(t *testing.T) {
	t.Run("S3", func(t *testing.T) {
		dc := &config.DestinationConfig{DestinationType: config.DestinationTypeS3}
		require.NoError(t, applyEndpoint(dc, "http://localhost:9000"))
		require.Equal(t, "http://localhost:9000", dc.S3.Endpoint)
	})

	t.Run("MinIO", func(t *testing.T) {
		dc := &config.DestinationConfig{DestinationType: config.DestinationTypeMinIO}
		require.NoError(t, applyEndpoint(dc, "https://minio.example.com:9000"))
		require.Equal(t, "minio.example.com:9000", dc.MinIO.Endpoint)
		require.True(t, dc.MinIO.UseSSL)

		require.Error(t, applyEndpoint(dc, "minio.example.com"))
	})

	t.Run("FTP", func(t *testing.T) {
		dc := &config.DestinationConfig{DestinationType: config.DestinationTypeFTP}
		require.Error(t, applyEndpoint(dc, "ftp://example.com"))
	})
}
