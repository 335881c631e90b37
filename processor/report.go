package processor

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/HelderFSFerreira/synapse-s3-storage-provider/layout"
)

// WriteSurvivors writes the relative path of every not-deleted record to w,
// one per line in index order, and returns the number of lines written.
func (r *Runner) WriteSurvivors(ctx context.Context, w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var written int64

	for rec, err := range r.index.IterateNotDeleted(ctx, r.batchSize) {
		if err != nil {
			return written, fmt.Errorf("failed to read index: %w", err)
		}

		rel, err := layout.Record(rec)
		if err != nil {
			return written, fmt.Errorf("record %s: %w", rec.Key(), err)
		}

		if _, err := fmt.Fprintln(bw, rel); err != nil {
			return written, fmt.Errorf("failed to write report: %w", err)
		}
		written++
	}

	if err := bw.Flush(); err != nil {
		return written, fmt.Errorf("failed to write report: %w", err)
	}
	return written, nil
}
