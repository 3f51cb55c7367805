// Package metrics exposes the Prometheus collectors the dashboard
// collaborator serves on /metrics, grounded one-to-one on the original
// tool's omniscan_pkg/metrics.py counters and gauges.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ScannedFilesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "omniscan_scanned_files_total",
		Help: "Total number of files scanned",
	})
	MissingFilesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "omniscan_missing_files_total",
		Help: "Total number of missing files detected",
	})
	TriggeredScansTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "omniscan_triggered_scans_total",
		Help: "Total number of media server scans triggered",
	})
	ScanErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "omniscan_scan_errors_total",
		Help: "Total number of scan errors",
	})
	WatchedDirectories = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "omniscan_watched_directories",
		Help: "Number of directories currently being watched",
	})
	PendingScans = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "omniscan_pending_scans",
		Help: "Number of scans currently pending (debouncing)",
	})
	HealthChecksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "omniscan_health_checks_total",
		Help: "Total number of file health checks performed",
	})
	HealthCheckFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "omniscan_health_check_failures",
		Help: "Total number of failed health checks",
	})
	ScanDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "omniscan_scan_duration_seconds",
		Help: "Time spent scanning directories",
	})
)

// Registry is the collector registry the dashboard serves. A dedicated
// registry (rather than the global default) keeps metrics registration
// deterministic across repeated engine construction in tests.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		ScannedFilesTotal,
		MissingFilesTotal,
		TriggeredScansTotal,
		ScanErrorsTotal,
		WatchedDirectories,
		PendingScans,
		HealthChecksTotal,
		HealthCheckFailures,
		ScanDurationSeconds,
	)
}
