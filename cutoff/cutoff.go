// Package cutoff parses relative ages such as "30d", "2m" or "1y" into an
// absolute point in time.
package cutoff

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/HelderFSFerreira/synapse-s3-storage-provider/model"
)

const day = 24 * time.Hour

var units = map[byte]time.Duration{
	'd': day,
	'm': 30 * day,
	'y': 365 * day,
}

// Parse returns now minus the age described by value.
// value is a non-negative integer followed by d (days), m (30 day months) or y (365 day years).
func Parse(value string, now time.Time) (time.Time, error) {
	if len(value) < 2 {
		return time.Time{}, fmt.Errorf("%w: %q", model.ErrInvalidDuration, value)
	}

	unit, ok := units[value[len(value)-1]]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %q has unknown suffix %q (must be d, m or y)", model.ErrInvalidDuration, value, value[len(value)-1:])
	}

	n, err := strconv.ParseUint(value[:len(value)-1], 10, 32)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", model.ErrInvalidDuration, value, err)
	}

	// time.Duration tops out around 292 years; a wrapped product would land in the future
	if n > uint64(math.MaxInt64/int64(unit)) {
		return time.Time{}, fmt.Errorf("%w: %q is too large", model.ErrInvalidDuration, value)
	}

	return now.Add(-time.Duration(n) * unit), nil
}

// ToMillis converts t to a millisecond unix timestamp, the unit Synapse stores access times in.
func ToMillis(t time.Time) int64 {
	return t.UnixMilli()
}
