// Package metrics exports the statistics of one run in the Prometheus text
// format, for node_exporter's textfile collector. There is no HTTP endpoint:
// every invocation is a short batch job.
//
// A nil *Recorder is valid and records nothing, so callers do not need to
// check whether metrics are enabled.
package metrics

import (
	"fmt"
	"time"

	"github.com/HelderFSFerreira/synapse-s3-storage-provider/processor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "synapse_media"

type Recorder struct {
	registry *prometheus.Registry
	path     string

	syncRows       *prometheus.GaugeVec
	auditRecords   *prometheus.GaugeVec
	migrateRecords *prometheus.GaugeVec
	migrateBytes   *prometheus.GaugeVec
	duration       *prometheus.GaugeVec
	lastSuccess    *prometheus.GaugeVec
	lastRunOK      *prometheus.GaugeVec
}

// New returns a Recorder writing to path, or nil when path is empty
func New(path string) *Recorder {
	if path == "" {
		return nil
	}

	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		path:     path,
		syncRows: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_rows",
			Help:      "Rows handled by the last metadata sync, by result",
		}, []string{"result"}),
		auditRecords: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "audit_records",
			Help:      "Records handled by the last existence audit, by result",
		}, []string{"result"}),
		migrateRecords: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "migrate_records",
			Help:      "Records handled by the last migration, by result",
		}, []string{"result"}),
		migrateBytes: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "migrate_bytes",
			Help:      "Bytes uploaded or freed locally by the last migration",
		}, []string{"result"}),
		duration: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of the last run of each command",
		}, []string{"command"}),
		lastSuccess: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run of each command",
		}, []string{"command"}),
		lastRunOK: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_success",
			Help:      "1 if the last run of each command succeeded, 0 otherwise",
		}, []string{"command"}),
	}
}

func (r *Recorder) ObserveSync(s *processor.SyncStats) {
	if r == nil || s == nil {
		return
	}
	r.syncRows.WithLabelValues("fetched").Set(float64(s.Fetched))
	r.syncRows.WithLabelValues("added").Set(float64(s.Added))
	r.syncRows.WithLabelValues("local").Set(float64(s.LocalRows))
	r.syncRows.WithLabelValues("remote").Set(float64(s.RemoteRows))
}

func (r *Recorder) ObserveAudit(s *processor.AuditStats) {
	if r == nil || s == nil {
		return
	}
	r.auditRecords.WithLabelValues("scanned").Set(float64(s.Scanned))
	r.auditRecords.WithLabelValues("present").Set(float64(s.Present))
	r.auditRecords.WithLabelValues("flagged").Set(float64(s.Flagged))
}

// ObserveMigration records migration stats. Dry runs are not recorded.
func (r *Recorder) ObserveMigration(s *processor.MigrationStats) {
	if r == nil || s == nil || s.DryRun {
		return
	}
	r.migrateRecords.WithLabelValues("scanned").Set(float64(s.Scanned))
	r.migrateRecords.WithLabelValues("uploaded").Set(float64(s.UploadedCount))
	r.migrateRecords.WithLabelValues("deleted").Set(float64(s.DeletedCount))
	r.migrateRecords.WithLabelValues("already_present").Set(float64(s.AlreadyPresent))
	r.migrateRecords.WithLabelValues("missing_locally").Set(float64(s.MissingLocally))
	r.migrateRecords.WithLabelValues("failed").Set(float64(s.Failed))
	r.migrateBytes.WithLabelValues("uploaded").Set(float64(s.UploadedBytes))
	r.migrateBytes.WithLabelValues("deleted").Set(float64(s.DeletedBytes))
}

// ObserveRun records the outcome of a command that started at start
func (r *Recorder) ObserveRun(command string, start time.Time, err error) {
	if r == nil {
		return
	}
	end := time.Now()
	r.duration.WithLabelValues(command).Set(end.Sub(start).Seconds())
	if err != nil {
		r.lastRunOK.WithLabelValues(command).Set(0)
		return
	}
	r.lastRunOK.WithLabelValues(command).Set(1)
	r.lastSuccess.WithLabelValues(command).Set(float64(end.Unix()))
}

// Write atomically replaces the textfile with the current values
func (r *Recorder) Write() error {
	if r == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(r.path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", r.path, err)
	}
	return nil
}
