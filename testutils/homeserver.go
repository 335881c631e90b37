// Package testutils holds fixtures shared by the tests of several packages.
package testutils

import (
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

// HomeserverSchema is the subset of the Synapse media tables the tool reads
const HomeserverSchema = `
CREATE TABLE local_media_repository (
	media_id TEXT,
	media_type TEXT,
	media_length INTEGER,
	created_ts BIGINT,
	upload_name TEXT,
	user_id TEXT,
	quarantined_by TEXT,
	url_cache TEXT,
	last_access_ts BIGINT,
	UNIQUE (media_id)
);

CREATE TABLE remote_media_cache (
	media_origin TEXT,
	media_id TEXT,
	media_type TEXT,
	created_ts BIGINT,
	upload_name TEXT,
	media_length INTEGER,
	filesystem_id TEXT,
	last_access_ts BIGINT,
	quarantined_by TEXT,
	UNIQUE (media_origin, media_id)
);
`

// LocalMedia is a local_media_repository row. A zero LastAccessTS or an empty
// URLCache is stored as NULL.
type LocalMedia struct {
	MediaID      string
	CreatedTS    int64
	LastAccessTS int64
	URLCache     string
}

// RemoteMedia is a remote_media_cache row. A zero LastAccessTS is stored as NULL.
type RemoteMedia struct {
	Origin       string
	MediaID      string
	FilesystemID string
	CreatedTS    int64
	LastAccessTS int64
}

// NewHomeserverDB creates a SQLite homeserver database in a temp dir holding
// the given rows and returns its path.
func NewHomeserverDB(t testing.TB, local []LocalMedia, remote []RemoteMedia) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "homeserver.db")

	db, err := sqlx.Connect("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	db.MustExec(HomeserverSchema)
	for _, m := range local {
		db.MustExec(
			`INSERT INTO local_media_repository (media_id, media_type, created_ts, last_access_ts, url_cache) VALUES (?, 'image/png', ?, ?, ?)`,
			m.MediaID, m.CreatedTS, nullInt(m.LastAccessTS), nullString(m.URLCache),
		)
	}
	for _, m := range remote {
		db.MustExec(
			`INSERT INTO remote_media_cache (media_origin, media_id, media_type, created_ts, filesystem_id, last_access_ts) VALUES (?, ?, 'image/png', ?, ?, ?)`,
			m.Origin, m.MediaID, m.CreatedTS, m.FilesystemID, nullInt(m.LastAccessTS),
		)
	}
	return path
}

func nullInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
