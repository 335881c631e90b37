package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

func main() {
	// A missing .env is the common case
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: could not load .env file: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "s3-media-upload",
		Usage: "Offload a Synapse media store to an S3 compatible bucket",
		Description: "Tracks media not accessed within a duration in a local index, then uploads it\n" +
			"and optionally removes the local copy. Configuration comes from an optional YAML\n" +
			"file and MEDIA_* environment variables; flags take precedence.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML configuration file",
				EnvVars: []string{"MEDIA_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "cache-db",
				Usage: "Path to the local index (default ./cache.db, or ./cache.bolt for bbolt)",
			},
			&cli.StringFlag{
				Name:  "index-type",
				Usage: "Index backend: sqlite or bbolt",
			},
			&cli.StringFlag{
				Name:  "database-config",
				Usage: "Synapse database.yaml holding the homeserver connection settings",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: silent, error, info, debug, verbose",
			},
			&cli.StringFlag{
				Name:  "metrics-file",
				Usage: "Write run statistics in the Prometheus text format to this file",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "update-db",
				Usage:     "Record media not accessed within <duration> in the index",
				ArgsUsage: "<duration>  e.g. 30d, 2m, 1y",
				Action:    run("update-db", updateDB),
			},
			{
				Name:      "check-deleted",
				Usage:     "Flag indexed media whose local file is gone",
				ArgsUsage: "<base_path>",
				Action:    run("check-deleted", checkDeleted),
			},
			{
				Name:      "update",
				Usage:     "Run update-db then check-deleted",
				ArgsUsage: "<base_path> <duration>",
				Action:    run("update", update),
			},
			{
				Name:      "upload",
				Usage:     "Upload indexed media the bucket lacks",
				ArgsUsage: "<base_path> <bucket>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "storage-class",
						Usage: "STANDARD, REDUCED_REDUNDANCY, STANDARD_IA or ONEZONE_IA",
					},
					&cli.BoolFlag{
						Name:  "delete",
						Usage: "Remove local files once they are in the bucket",
					},
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "Report what would be uploaded or removed without doing it",
					},
					&cli.StringFlag{
						Name:  "endpoint-url",
						Usage: "Object store endpoint, for S3 compatible services",
					},
				},
				Action: run("upload", upload),
			},
			{
				Name:      "write",
				Usage:     "Write the relative paths of indexed media still present locally",
				ArgsUsage: "[output]  file to write, '-' or absent for stdout",
				Action:    run("write", write),
			},
		},
	}
}
