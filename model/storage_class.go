package model

import (
	"fmt"
	"strings"
)

// StorageClass selects the object store tier an upload lands in.
type StorageClass string

const (
	StorageClassStandard          StorageClass = "STANDARD"
	StorageClassReducedRedundancy StorageClass = "REDUCED_REDUNDANCY"
	StorageClassStandardIA        StorageClass = "STANDARD_IA"
	StorageClassOneZoneIA         StorageClass = "ONEZONE_IA"
)

// StorageClasses lists every accepted storage class.
var StorageClasses = []StorageClass{
	StorageClassStandard,
	StorageClassReducedRedundancy,
	StorageClassStandardIA,
	StorageClassOneZoneIA,
}

func (c StorageClass) Validate() error {
	for _, known := range StorageClasses {
		if c == known {
			return nil
		}
	}
	return fmt.Errorf("%w: %q (must be one of: STANDARD, REDUCED_REDUNDANCY, STANDARD_IA, ONEZONE_IA)", ErrInvalidStorageClass, string(c))
}

// ParseStorageClass accepts a storage class name in any case.
// An empty string yields STANDARD.
func ParseStorageClass(s string) (StorageClass, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return StorageClassStandard, nil
	}
	c := StorageClass(strings.ToUpper(s))
	if err := c.Validate(); err != nil {
		return "", err
	}
	return c, nil
}
