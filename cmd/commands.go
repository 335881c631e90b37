package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/HelderFSFerreira/synapse-s3-storage-provider/cache"
	"github.com/HelderFSFerreira/synapse-s3-storage-provider/config"
	"github.com/HelderFSFerreira/synapse-s3-storage-provider/cutoff"
	"github.com/HelderFSFerreira/synapse-s3-storage-provider/destination"
	"github.com/HelderFSFerreira/synapse-s3-storage-provider/logger"
	"github.com/HelderFSFerreira/synapse-s3-storage-provider/metrics"
	"github.com/HelderFSFerreira/synapse-s3-storage-provider/model"
	"github.com/HelderFSFerreira/synapse-s3-storage-provider/processor"
	"github.com/HelderFSFerreira/synapse-s3-storage-provider/source"
	"github.com/urfave/cli/v2"
)

// session carries what every command needs once configuration is loaded.
// Logs go to the error writer so that write can stream paths to stdout.
type session struct {
	cfg     *config.AppConfig
	log     logger.Logger
	metrics *metrics.Recorder
	out     io.Writer
}

type commandFunc func(ctx context.Context, c *cli.Context, s *session) error

// run wraps a command with configuration loading and metrics recording
func run(name string, fn commandFunc) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}

		s := &session{
			cfg:     cfg,
			log:     logger.NewLoggerWithWriter(&cfg.Logger, c.App.ErrWriter).With("command", name),
			metrics: metrics.New(cfg.Metrics.TextfilePath),
			out:     c.App.Writer,
		}

		start := time.Now()
		err = fn(c.Context, c, s)
		s.metrics.ObserveRun(name, start, err)
		if werr := s.metrics.Write(); werr != nil {
			s.log.Warn("%v", werr)
		}
		if err != nil {
			s.log.Error("%s failed after %s: %v", name, time.Since(start).Round(time.Millisecond), err)
			return err
		}
		s.log.Info("%s finished in %s", name, time.Since(start).Round(time.Millisecond))
		return nil
	}
}

// loadConfig reads the configuration and applies the global flags over it
func loadConfig(c *cli.Context) (*config.AppConfig, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}

	if v := c.String("index-type"); v != "" {
		cfg.Index.IndexType = config.IndexType(v)
	}
	cfg.Index.ApplyDefaults()
	if v := c.String("cache-db"); v != "" {
		switch cfg.Index.IndexType {
		case config.IndexTypeSQLite:
			cfg.Index.SQLite.Path = v
		case config.IndexTypeBbolt:
			cfg.Index.Bbolt.Path = v
		}
	}
	if v := c.String("database-config"); v != "" {
		cfg.Metadata.DatabaseFile = v
	}
	if v := c.String("log-level"); v != "" {
		cfg.Logger.Level = config.LogLevel(v)
	}
	if v := c.String("metrics-file"); v != "" {
		cfg.Metrics.TextfilePath = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation error: %w", err)
	}
	return cfg, nil
}

func (s *session) openIndex() (cache.IndexProvider, error) {
	index, err := cache.CreateIndex(&s.cfg.Index)
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	s.log.Debug("Index opened: type=%s", s.cfg.Index.IndexType)
	return index, nil
}

func (s *session) openSource(ctx context.Context) (source.MetadataSource, error) {
	if err := s.cfg.ValidateMetadata(); err != nil {
		return nil, err
	}
	src, err := source.CreateSource(ctx, &s.cfg.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to homeserver database: %w", err)
	}
	s.log.Debug("Homeserver database connected: type=%s", s.cfg.Metadata.MetadataType)
	return src, nil
}

func (s *session) openDestination(ctx context.Context) (destination.ObjectStore, error) {
	if err := s.cfg.ValidateDestination(); err != nil {
		return nil, err
	}
	dest, err := destination.CreateDestination(ctx, &s.cfg.Destination)
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}
	s.log.Debug("Object store ready: type=%s", s.cfg.Destination.DestinationType)
	return dest, nil
}

func (s *session) closeAll(closers ...io.Closer) {
	for _, cl := range closers {
		if cl == nil {
			continue
		}
		if err := cl.Close(); err != nil {
			s.log.Error("Error closing %T: %v", cl, err)
		}
	}
}

// args returns exactly n positional arguments or a usage error
func args(c *cli.Context, n int) ([]string, error) {
	if c.NArg() != n {
		return nil, fmt.Errorf("%s: expected %d argument(s) %s, got %d", c.Command.Name, n, c.Command.ArgsUsage, c.NArg())
	}
	return c.Args().Slice(), nil
}

func updateDB(ctx context.Context, c *cli.Context, s *session) error {
	a, err := args(c, 1)
	if err != nil {
		return err
	}
	before, err := cutoff.Parse(a[0], time.Now())
	if err != nil {
		return err
	}

	index, err := s.openIndex()
	if err != nil {
		return err
	}
	defer s.closeAll(index)
	src, err := s.openSource(ctx)
	if err != nil {
		return err
	}
	defer s.closeAll(src)

	s.log.Info("Syncing media not accessed since %s", before.Format(time.RFC3339))
	stats, err := processor.NewRunner(index, src, nil, s.log).SyncMetadata(ctx, before)
	if err != nil {
		return err
	}
	s.metrics.ObserveSync(stats)
	fmt.Fprintln(s.out, stats)
	return nil
}

func checkDeleted(ctx context.Context, c *cli.Context, s *session) error {
	a, err := args(c, 1)
	if err != nil {
		return err
	}

	index, err := s.openIndex()
	if err != nil {
		return err
	}
	defer s.closeAll(index)

	stats, err := processor.NewRunner(index, nil, nil, s.log).Audit(ctx, a[0])
	if err != nil {
		return err
	}
	s.metrics.ObserveAudit(stats)
	fmt.Fprintln(s.out, stats)
	return nil
}

func update(ctx context.Context, c *cli.Context, s *session) error {
	a, err := args(c, 2)
	if err != nil {
		return err
	}
	basePath := a[0]
	before, err := cutoff.Parse(a[1], time.Now())
	if err != nil {
		return err
	}

	index, err := s.openIndex()
	if err != nil {
		return err
	}
	defer s.closeAll(index)
	src, err := s.openSource(ctx)
	if err != nil {
		return err
	}
	defer s.closeAll(src)

	syncStats, auditStats, err := processor.NewRunner(index, src, nil, s.log).Update(ctx, before, basePath)
	s.metrics.ObserveSync(syncStats)
	s.metrics.ObserveAudit(auditStats)
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, syncStats)
	fmt.Fprintln(s.out, auditStats)
	return nil
}

func upload(ctx context.Context, c *cli.Context, s *session) error {
	a, err := args(c, 2)
	if err != nil {
		return err
	}

	opts := processor.MigrateOptions{
		BasePath:     a[0],
		Bucket:       a[1],
		Delete:       c.Bool("delete") || s.cfg.Upload.Delete,
		DryRun:       c.Bool("dry-run") || s.cfg.Upload.DryRun,
		StorageClass: s.cfg.Upload.StorageClass,
	}
	if v := c.String("storage-class"); v != "" {
		class, err := model.ParseStorageClass(v)
		if err != nil {
			return err
		}
		opts.StorageClass = class
	}
	if v := c.String("endpoint-url"); v != "" {
		if err := applyEndpoint(&s.cfg.Destination, v); err != nil {
			return err
		}
	}

	index, err := s.openIndex()
	if err != nil {
		return err
	}
	defer s.closeAll(index)
	dest, err := s.openDestination(ctx)
	if err != nil {
		return err
	}
	defer s.closeAll(dest)

	if opts.DryRun {
		s.log.Info("Running in DRY-RUN mode - nothing will be uploaded, removed or flagged")
	}
	stats, err := processor.NewRunner(index, nil, dest, s.log).Migrate(ctx, opts)
	s.metrics.ObserveMigration(stats)
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, stats)
	return nil
}

// applyEndpoint points the active object store at endpoint. MinIO takes a bare
// host:port, so the scheme only selects TLS there.
func applyEndpoint(dc *config.DestinationConfig, endpoint string) error {
	switch dc.DestinationType {
	case config.DestinationTypeS3:
		if dc.S3 == nil {
			dc.S3 = &config.S3Config{}
		}
		dc.S3.Endpoint = endpoint
	case config.DestinationTypeMinIO:
		u, err := url.Parse(endpoint)
		if err != nil || u.Host == "" {
			return fmt.Errorf("invalid endpoint url %q", endpoint)
		}
		if dc.MinIO == nil {
			dc.MinIO = &config.MinIOConfig{}
		}
		dc.MinIO.Endpoint = u.Host
		dc.MinIO.UseSSL = u.Scheme == "https"
	default:
		return fmt.Errorf("--endpoint-url is not supported for destination type %s", dc.DestinationType)
	}
	return nil
}

func write(ctx context.Context, c *cli.Context, s *session) error {
	if c.NArg() > 1 {
		return fmt.Errorf("write: expected at most 1 argument %s, got %d", c.Command.ArgsUsage, c.NArg())
	}

	index, err := s.openIndex()
	if err != nil {
		return err
	}
	defer s.closeAll(index)

	w := s.out
	var file *os.File
	if name := c.Args().First(); name != "" && name != "-" {
		file, err = os.Create(name)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		w = file
	}

	n, err := processor.NewRunner(index, nil, nil, s.log).WriteSurvivors(ctx, w)
	if file != nil {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close output file: %w", cerr)
		}
	}
	if err != nil {
		return err
	}
	s.log.Info("Wrote %d paths", n)
	return nil
}
