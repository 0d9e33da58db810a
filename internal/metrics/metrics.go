// Package metrics is the backend-neutral metrics facade used by the workflow
// and the WFS client. Code records through the package-level functions; the
// binary selects a backend (Datadog, Prometheus Pushgateway) once at startup.
// Until then every call is a no-op.
package metrics

import "sync"

// Labels are metric dimensions. Keys must be stable per metric name.
type Labels map[string]string

// Backend receives observations.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

// Metric names recorded by this module.
const (
	// LayersTotal counts processed layers by status (done|fetch_failed|export_failed|skipped).
	LayersTotal = "wfs_layers_total"
	// TargetsTotal counts target exports by kind (file|table|style|metadata) and outcome.
	TargetsTotal = "wfs_targets_total"
	// RowsLoadedTotal counts committed feature rows.
	RowsLoadedTotal = "wfs_rows_loaded_total"
	// LayerDurationSeconds observes fetch+export time per layer by status.
	LayerDurationSeconds = "wfs_layer_duration_seconds"

	// HTTPRequestsTotal counts upstream requests by op and status.
	HTTPRequestsTotal = "wfs_http_requests_total"
	// HTTPRequestDurationSeconds observes upstream latency by op.
	HTTPRequestDurationSeconds = "wfs_http_request_duration_seconds"
	// HTTPDownloadBytes observes response sizes by op.
	HTTPDownloadBytes = "wfs_http_download_bytes"
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b. A nil b restores the no-op backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush flushes the installed backend.
func Flush() error {
	return current().Flush()
}
