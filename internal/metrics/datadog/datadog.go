// Package datadog submits metrics recorded through internal/metrics to the
// Datadog v2 intake API.
//
// Observations are buffered under a mutex and submitted by Flush, which a
// background loop calls every FlushEvery and Close calls once more. Counters
// go out as COUNT series; histograms are summarized per flush into
// .p50/.p90/.p95/.p99/.max/.samples gauges. A SIGKILL loses whatever the
// last flush did not submit.
package datadog

import (
	"cmp"
	"context"
	"net/http"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"wfsetl/internal/metrics"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

const defaultJob = "wfsload"

// Options configures NewBackend.
type Options struct {
	// JobName is sent as tag "job:<name>". Defaults to "wfsload".
	JobName string
	// Tags are added to every series, e.g. {"env:prod", "team:gis"}.
	Tags []string
	// FlushEvery is the submission period. <= 0 means one minute.
	FlushEvery time.Duration

	// Test seams.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the part of *datadogV2.MetricsApi the backend uses.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// seriesNames maps facade metric names to Datadog metric names. Metrics not
// listed here are ignored.
var seriesNames = map[string]string{
	metrics.LayersTotal:                "wfs.layers.total",
	metrics.TargetsTotal:               "wfs.targets.total",
	metrics.RowsLoadedTotal:            "wfs.rows_loaded.total",
	metrics.LayerDurationSeconds:       "wfs.layer.duration_seconds",
	metrics.HTTPRequestsTotal:          "wfs.http.requests.total",
	metrics.HTTPRequestDurationSeconds: "wfs.http.request_duration_seconds",
	metrics.HTTPDownloadBytes:          "wfs.http.download_bytes",
}

// quantiles are the gauges emitted for every histogram series.
var quantiles = []struct {
	suffix string
	q      float64
}{
	{".p50", 0.50},
	{".p90", 0.90},
	{".p95", 0.95},
	{".p99", 0.99},
}

// seriesID identifies one buffered series: the Datadog metric name and its
// label tags, sorted and comma-joined.
type seriesID struct {
	metric string
	tags   string
}

func newSeriesID(metric string, labels metrics.Labels) seriesID {
	tags := make([]string, 0, len(labels))
	for k, v := range labels {
		if v == "" {
			v = "unknown"
		}
		tags = append(tags, k+":"+v)
	}
	sort.Strings(tags)
	return seriesID{metric: metric, tags: strings.Join(tags, ",")}
}

func (id seriesID) tagList() []string {
	if id.tags == "" {
		return nil
	}
	return strings.Split(id.tags, ",")
}

func compareIDs(a, b seriesID) int {
	if c := cmp.Compare(a.metric, b.metric); c != 0 {
		return c
	}
	return cmp.Compare(a.tags, b.tags)
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api metricsSubmitter
	ctx context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}

	baseTags []string

	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu      sync.Mutex
	counts  map[seriesID]float64
	samples map[seriesID][]float64
}

// envTag prefers ENV over DD_ENV.
func envTag() string {
	for _, k := range []string{"ENV", "DD_ENV"} {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return "env:" + v
		}
	}
	return "env:unknown"
}

// NewBackend starts a backend and its flush loop. The API key and site come
// from DD_API_KEY and DD_SITE through the client's default context; network
// errors surface from Flush, never from construction.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	job := opts.JobName
	if job == "" {
		job = defaultJob
	}
	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = time.Minute
	}

	b := &Backend{
		api:        opts.submitter,
		ctx:        dd.NewDefaultContext(parent),
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		baseTags:   append([]string{envTag(), "job:" + job}, opts.Tags...),
		now:        opts.now,
		newTicker:  opts.newTicker,
		counts:     make(map[seriesID]float64),
		samples:    make(map[seriesID][]float64),
	}
	if b.api == nil {
		b.api = datadogV2.NewMetricsApi(dd.NewAPIClient(dd.NewConfiguration()))
	}
	if b.now == nil {
		b.now = time.Now
	}
	if b.newTicker == nil {
		b.newTicker = time.NewTicker
	}

	go b.loop()
	return b, nil
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	t := b.newTicker(b.flushEvery)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the flush loop and submits what is left. Call it once.
func (b *Backend) Close() error {
	close(b.stopCh)
	<-b.doneCh
	return b.Flush()
}

// IncCounter implements metrics.Backend. Non-positive deltas are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	metric, ok := seriesNames[name]
	if !ok || delta <= 0 {
		return
	}
	id := newSeriesID(metric, labels)

	b.mu.Lock()
	b.counts[id] += delta
	b.mu.Unlock()
}

// ObserveHistogram implements metrics.Backend. Negative values are ignored.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	metric, ok := seriesNames[name]
	if !ok || value < 0 {
		return
	}
	id := newSeriesID(metric, labels)

	b.mu.Lock()
	b.samples[id] = append(b.samples[id], value)
	b.mu.Unlock()
}

// Flush submits and clears the buffers. The buffers are cleared even when
// the submission fails.
func (b *Backend) Flush() error {
	b.mu.Lock()
	counts, samples := b.counts, b.samples
	b.counts = make(map[seriesID]float64)
	b.samples = make(map[seriesID][]float64)
	b.mu.Unlock()

	if len(counts) == 0 && len(samples) == 0 {
		return nil
	}
	payload := datadogV2.MetricPayload{Series: b.buildSeries(counts, samples, b.now().Unix())}
	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	return err
}

// buildSeries renders one flush. Output is ordered by metric, then tags.
func (b *Backend) buildSeries(counts map[seriesID]float64, samples map[seriesID][]float64, ts int64) []datadogV2.MetricSeries {
	var out []datadogV2.MetricSeries

	ids := make([]seriesID, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, compareIDs)
	for _, id := range ids {
		out = append(out, point(id.metric, datadogV2.METRICINTAKETYPE_COUNT, counts[id], b.tagsFor(id), ts))
	}

	ids = ids[:0]
	for id := range samples {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, compareIDs)
	for _, id := range ids {
		out = append(out, summarySeries(id.metric, samples[id], b.tagsFor(id), ts)...)
	}
	return out
}

// tagsFor returns a fresh slice: the base tags followed by id's tags.
func (b *Backend) tagsFor(id seriesID) []string {
	extra := id.tagList()
	out := make([]string, 0, len(b.baseTags)+len(extra))
	out = append(out, b.baseTags...)
	return append(out, extra...)
}

func point(metric string, typ datadogV2.MetricIntakeType, value float64, tags []string, ts int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   typ.Ptr(),
		Points: []datadogV2.MetricPoint{{Timestamp: dd.PtrInt64(ts), Value: dd.PtrFloat64(value)}},
		Tags:   tags,
	}
}

// summarySeries returns the quantile, max and sample-count gauges for
// samples, or nothing for an empty set. samples is not modified.
func summarySeries(metric string, samples []float64, tags []string, ts int64) []datadogV2.MetricSeries {
	if len(samples) == 0 {
		return nil
	}
	sorted := slices.Clone(samples)
	slices.Sort(sorted)

	out := make([]datadogV2.MetricSeries, 0, len(quantiles)+2)
	for _, q := range quantiles {
		out = append(out, point(metric+q.suffix, datadogV2.METRICINTAKETYPE_GAUGE, nearestRank(sorted, q.q), tags, ts))
	}
	out = append(out,
		point(metric+".max", datadogV2.METRICINTAKETYPE_GAUGE, sorted[len(sorted)-1], tags, ts),
		point(metric+".samples", datadogV2.METRICINTAKETYPE_GAUGE, float64(len(sorted)), tags, ts),
	)
	return out
}

// nearestRank picks the q-quantile of sorted by rounding q*(n-1).
func nearestRank(sorted []float64, q float64) float64 {
	n := len(sorted)
	switch {
	case n == 0:
		return 0
	case q <= 0:
		return sorted[0]
	case q >= 1:
		return sorted[n-1]
	}
	return sorted[int(q*float64(n-1)+0.5)]
}

var _ metrics.Backend = (*Backend)(nil)

// ParseTagsCSV splits "env:prod, team:gis" into tags, skipping blanks.
func ParseTagsCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
