// Package layout maps media records to their relative location inside a
// Synapse media store. The same relative path is used as the object key.
package layout

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/HelderFSFerreira/synapse-s3-storage-provider/model"
)

const (
	LocalContentDir  = "local_content"
	RemoteContentDir = "remote_content"
)

// Resolve returns the slash separated relative path of a media file.
//
//	local:  local_content/ab/cd/efgh...
//	remote: remote_content/{origin}/ab/cd/efgh...
func Resolve(origin, filesystemID string, kind model.MediaKind) (string, error) {
	if err := kind.Validate(); err != nil {
		return "", err
	}
	if err := validateID(filesystemID); err != nil {
		return "", err
	}

	shard := filesystemID[0:2] + "/" + filesystemID[2:4] + "/" + filesystemID[4:]

	switch kind {
	case model.KindLocal:
		return LocalContentDir + "/" + shard, nil
	default:
		if err := validateOrigin(origin); err != nil {
			return "", err
		}
		return RemoteContentDir + "/" + origin + "/" + shard, nil
	}
}

// Record resolves the relative path of r.
func Record(r model.MediaRecord) (string, error) {
	return Resolve(r.Origin, r.FilesystemID, r.Kind)
}

// LocalPath turns a relative path returned by Resolve into a filesystem path under base.
func LocalPath(base, rel string) string {
	return filepath.Join(base, filepath.FromSlash(rel))
}

func validateID(id string) error {
	// the fan-out needs two full two character segments
	if len(id) < 4 {
		return fmt.Errorf("%w: filesystem id %q is shorter than 4 characters", model.ErrInvalidIdentifier, id)
	}
	if strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: filesystem id %q contains path separators", model.ErrInvalidIdentifier, id)
	}
	return nil
}

func validateOrigin(origin string) error {
	if origin == "" {
		return fmt.Errorf("%w: remote media without origin", model.ErrInvalidIdentifier)
	}
	if strings.ContainsAny(origin, `/\`) || origin == "." || origin == ".." {
		return fmt.Errorf("%w: origin %q is not a single path segment", model.ErrInvalidIdentifier, origin)
	}
	return nil
}
