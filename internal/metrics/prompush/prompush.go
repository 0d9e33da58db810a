// Package prompush implements a metrics.Backend that keeps a private
// Prometheus registry and pushes it to a Pushgateway on Flush.
//
// A run is a batch job, so scraping is not an option; the gateway holds the
// last pushed values for the job until the next run replaces them.
package prompush

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"wfsetl/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Histogram buckets per metric. Anything not listed uses prometheus.DefBuckets.
var buckets = map[string][]float64{
	metrics.LayerDurationSeconds:       {0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	metrics.HTTPRequestDurationSeconds: {0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	metrics.HTTPDownloadBytes:          prometheus.ExponentialBuckets(1024, 4, 10),
}

// Backend implements metrics.Backend.
type Backend struct {
	reg    *prometheus.Registry
	pusher *push.Pusher

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

// NewBackend returns a backend pushing to gatewayURL under the given job.
func NewBackend(job, gatewayURL string) (*Backend, error) {
	if strings.TrimSpace(job) == "" {
		return nil, fmt.Errorf("prompush: empty job name")
	}
	if strings.TrimSpace(gatewayURL) == "" {
		return nil, fmt.Errorf("prompush: empty gateway url")
	}
	reg := prometheus.NewRegistry()
	return &Backend{
		reg:        reg,
		pusher:     push.New(gatewayURL, job).Gatherer(reg),
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}, nil
}

// IncCounter implements metrics.Backend. The first observation of a name
// fixes its label keys; later observations with other keys are dropped.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	vec, ok := b.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: name}, labelKeys(labels))
		if err := b.reg.Register(vec); err != nil {
			return
		}
		b.counters[name] = vec
	}
	c, err := vec.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		return
	}
	c.Add(delta)
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	b.mu.Lock()
	defer b.mu.Unlock()

	vec, ok := b.histograms[name]
	if !ok {
		bk := buckets[name]
		if bk == nil {
			bk = prometheus.DefBuckets
		}
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: name, Buckets: bk}, labelKeys(labels))
		if err := b.reg.Register(vec); err != nil {
			return
		}
		b.histograms[name] = vec
	}
	h, err := vec.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		return
	}
	h.Observe(value)
}

// Flush pushes the registry, replacing the job's previous group on the gateway.
func (b *Backend) Flush() error {
	if err := b.pusher.Push(); err != nil {
		return fmt.Errorf("prompush: push: %w", err)
	}
	return nil
}

func labelKeys(l metrics.Labels) []string {
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var _ metrics.Backend = (*Backend)(nil)
