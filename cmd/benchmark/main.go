// Command benchmark compares the sqlite and bbolt index backends on a
// synthetic media set: upsert, count, full iteration and batch flagging.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/HelderFSFerreira/synapse-s3-storage-provider/cache"
	"github.com/HelderFSFerreira/synapse-s3-storage-provider/config"
	"github.com/HelderFSFerreira/synapse-s3-storage-provider/model"
	"github.com/dustin/go-humanize"
)

func main() {
	ctx := context.Background()

	records := mustGetEnvInt("BENCH_RECORDS", 100000)
	batchSize := mustGetEnvInt("BENCH_BATCH_SIZE", cache.DefaultBatchSize)
	noSync := os.Getenv("BENCH_NO_SYNC") == "true"

	dir, err := os.MkdirTemp("", "media-index-bench")
	if err != nil {
		log.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	backends := []*config.IndexConfig{
		{
			IndexType: config.IndexTypeSQLite,
			SQLite:    &config.SQLiteIndexConfig{Path: filepath.Join(dir, "cache.db")},
		},
		{
			IndexType: config.IndexTypeBbolt,
			Bbolt:     &config.BboltConfig{Path: filepath.Join(dir, "cache.bolt"), NoSync: noSync},
		},
	}

	fmt.Printf("Records: %s, batch size: %d, bbolt no_sync: %v\n", humanize.Comma(int64(records)), batchSize, noSync)
	for _, cfg := range backends {
		if err := bench(ctx, cfg, records, batchSize); err != nil {
			log.Fatalf("%s: %v", cfg.IndexType, err)
		}
	}
}

func bench(ctx context.Context, cfg *config.IndexConfig, records, batchSize int) error {
	index, err := cache.CreateIndex(cfg)
	if err != nil {
		return err
	}
	defer index.Close()

	start := time.Now()
	for i := 0; i < records; i++ {
		if _, err := index.UpsertIfAbsent(ctx, syntheticRecord(i)); err != nil {
			return err
		}
	}
	report(cfg.IndexType, "upsert", records, time.Since(start))

	start = time.Now()
	n, err := index.CountNotDeleted(ctx)
	if err != nil {
		return err
	}
	report(cfg.IndexType, "count", int(n), time.Since(start))

	// Flag every other record, as an audit over a half pruned store would
	start = time.Now()
	var flagged []model.MediaKey
	seen := 0
	for rec, err := range index.IterateNotDeleted(ctx, batchSize) {
		if err != nil {
			return err
		}
		if seen%2 == 0 {
			flagged = append(flagged, rec.Key())
		}
		seen++
	}
	report(cfg.IndexType, "iterate", seen, time.Since(start))

	start = time.Now()
	if err := index.MarkDeletedBatch(ctx, flagged); err != nil {
		return err
	}
	report(cfg.IndexType, "mark deleted", len(flagged), time.Since(start))
	return nil
}

// syntheticRecord spreads records over local media and a handful of remote origins
func syntheticRecord(i int) model.MediaRecord {
	id := fmt.Sprintf("media%019d", i)
	if i%3 == 0 {
		return model.MediaRecord{MediaID: id, FilesystemID: id, Kind: model.KindLocal}
	}
	return model.MediaRecord{
		Origin:       fmt.Sprintf("server%d.example.org", i%7),
		MediaID:      id,
		FilesystemID: fmt.Sprintf("fs%022d", i),
		Kind:         model.KindRemote,
	}
}

func report(backend config.IndexType, op string, n int, d time.Duration) {
	rate := float64(n) / d.Seconds()
	fmt.Printf("%-7s %-13s %10s records in %-12s (%s/s)\n", backend, op, humanize.Comma(int64(n)), d.Round(time.Millisecond), humanize.Comma(int64(rate)))
}

// mustGetEnvInt tries to parse an environment variable as int, returns default if not set or invalid
func mustGetEnvInt(key string, def int) int {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		log.Printf("Invalid int value for %s: %v. Using default: %d", key, err, def)
		return def
	}
	return i
}
