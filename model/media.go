package model

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidKind         = errors.New("invalid media kind")
	ErrInvalidIdentifier   = errors.New("invalid media identifier")
	ErrInvalidDuration     = errors.New("invalid duration")
	ErrInvalidStorageClass = errors.New("invalid storage class")
)

// MediaKind tells which upstream table a record came from and which
// directory tree its file lives in.
type MediaKind string

const (
	KindLocal  MediaKind = "local"
	KindRemote MediaKind = "remote"
)

func (k MediaKind) Validate() error {
	switch k {
	case KindLocal, KindRemote:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidKind, string(k))
	}
}

// MediaRecord is one media item known to the homeserver.
// Origin is empty for locally uploaded media.
type MediaRecord struct {
	Origin       string    `json:"origin" db:"origin"`
	MediaID      string    `json:"media_id" db:"media_id"`
	FilesystemID string    `json:"filesystem_id" db:"filesystem_id"`
	Kind         MediaKind `json:"type" db:"type"`
	KnownDeleted bool      `json:"known_deleted" db:"known_deleted"`
}

func (r MediaRecord) Key() MediaKey {
	return MediaKey{Origin: r.Origin, MediaID: r.MediaID}
}

// MediaKey is the unique key of a MediaRecord.
type MediaKey struct {
	Origin  string
	MediaID string
}

func (k MediaKey) String() string {
	if k.Origin == "" {
		return k.MediaID
	}
	return k.Origin + "/" + k.MediaID
}
