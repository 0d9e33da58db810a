package main

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"wfsetl/internal/storage"

	"go.uber.org/zap"
)

const capabilities = `<?xml version="1.0" encoding="UTF-8"?>
<wfs:WFS_Capabilities version="1.1.0" xmlns:wfs="http://www.opengis.net/wfs" xmlns:ows="http://www.opengis.net/ows">
  <ows:ServiceIdentification><ows:Title>Test Service</ows:Title></ows:ServiceIdentification>
  <FeatureTypeList>
    <FeatureType><Name>topp:places</Name><Title>Places</Title></FeatureType>
    <FeatureType><Name>topp:roads</Name><Title>Roads</Title></FeatureType>
  </FeatureTypeList>
</wfs:WFS_Capabilities>`

const places = `{"type":"FeatureCollection","features":[
 {"type":"Feature","geometry":{"type":"Point","coordinates":[1,2]},"properties":{"count":1,"rate":0.5,"active":true,"name":"a"}},
 {"type":"Feature","geometry":{"type":"Point","coordinates":[3,4]},"properties":{"count":2,"rate":1.5,"active":false,"name":"b"}},
 {"type":"Feature","geometry":null,"properties":{"count":3,"rate":2.5,"active":true,"name":"c"}}
]}`

// newWFS serves capabilities and the places payload for every layer.
// Layers listed in failing answer GetFeature with 500.
func newWFS(t *testing.T, failing ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch q.Get("request") {
		case "GetCapabilities":
			w.Header().Set("Content-Type", "text/xml")
			fmt.Fprint(w, capabilities)
		case "GetFeature":
			for _, f := range failing {
				if q.Get("typeName") == f {
					http.Error(w, "boom", http.StatusInternalServerError)
					return
				}
			}
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, places)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func writePlan(t *testing.T, dir, serviceURL, layers string) string {
	t.Helper()
	return writeFile(t, dir, "plan.json", fmt.Sprintf(`{
  "bbox": [-10, -10, 10, 10],
  "output_folder": %q,
  "group": [{"url": %q, "version": "1.1.0", "layers": [%s]}]
}`, dir, serviceURL+"/geoserver/wfs", layers))
}

type sleepLog struct {
	mu    sync.Mutex
	calls []time.Duration
}

func (s *sleepLog) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, d)
	return nil
}

type result struct {
	code   int
	stdout string
	stderr string
}

func runWith(t *testing.T, ctx context.Context, d deps, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	d.Stdout, d.Stderr = &stdout, &stderr
	if d.Sleep == nil {
		d.Sleep = (&sleepLog{}).sleep
	}
	code := run(ctx, args, d)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func noDB(dir string) string { return "--db-config=" + filepath.Join(dir, "missing.ini") }

func TestParseFlags_Defaults(t *testing.T) {
	t.Parallel()
	cfg, err := parseFlags([]string{"plan.json"}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if cfg.PlanName != "plan.json" || cfg.DBConfig != "database.ini" || cfg.DBEnv != "dev" ||
		cfg.SchemaDrift != "coerce" || cfg.Metrics != "none" || cfg.LogFormat != "console" ||
		cfg.Timeout != time.Minute || cfg.SleepSet || cfg.MetricsSet {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestParseFlags_Overrides(t *testing.T) {
	t.Parallel()
	cfg, err := parseFlags([]string{
		"--overwrite", "--drop", "--styles", "--metadata", "--sleep=0.5",
		"--db-env=prod", "--db-config=conf/db.ini", "--schema-drift=reject",
		"--max-rps=2", "--timeout=5s", "--metrics=datadog", "--log-format=json", "-v",
		"plans/roads",
	}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	want := runConfig{
		PlanName:    "plans/roads",
		Overwrite:   true,
		Drop:        true,
		Styles:      true,
		Metadata:    true,
		Sleep:       0.5,
		SleepSet:    true,
		DBConfig:    "conf/db.ini",
		DBEnv:       "prod",
		SchemaDrift: "reject",
		MaxRPS:      2,
		Timeout:     5 * time.Second,
		Metrics:     "datadog",
		MetricsSet:  true,
		LogFormat:   "json",
		Verbose:     true,
	}
	if cfg != want {
		t.Fatalf("got %+v\nwant %+v", cfg, want)
	}
}

func TestRun_UsageErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no plan", nil, "accepts 1 arg"},
		{"two plans", []string{"a", "b"}, "accepts 1 arg"},
		{"unknown flag", []string{"--bogus", "a"}, "unknown flag"},
		{"negative sleep", []string{"--sleep=-1", "a"}, "--sleep"},
		{"metrics backend", []string{"--metrics=statsd", "a"}, "--metrics"},
		{"log format", []string{"--log-format=xml", "a"}, "--log-format"},
		{"drift mode", []string{"--schema-drift=strict", "a"}, "--schema-drift"},
		{"timeout", []string{"--timeout=0s", "a"}, "--timeout"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res := runWith(t, context.Background(), deps{}, tt.args...)
			if res.code != 2 {
				t.Fatalf("code = %d, want 2", res.code)
			}
			if !strings.Contains(res.stderr, tt.want) {
				t.Fatalf("stderr %q does not mention %q", res.stderr, tt.want)
			}
		})
	}
}

func TestRun_Help(t *testing.T) {
	t.Parallel()
	res := runWith(t, context.Background(), deps{}, "--help")
	if res.code != 0 || !strings.Contains(res.stdout, "wfsload <plan>") || !strings.Contains(res.stdout, "--overwrite") {
		t.Fatalf("code=%d stdout=%q", res.code, res.stdout)
	}
}

func TestRun_PlanErrors(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	bad := writeFile(t, dir, "bad.json", `{"bbox":[1,2,3],"group":[]}`)

	for _, name := range []string{bad, filepath.Join(dir, "absent")} {
		res := runWith(t, context.Background(), deps{}, noDB(dir), name)
		if res.code != 2 || !strings.Contains(res.stderr, "plan") {
			t.Fatalf("%s: code=%d stderr=%q", name, res.code, res.stderr)
		}
	}
}

func TestRun_ValidateOnly(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writePlan(t, dir, "http://unused.example", `"topp:places", "topp:roads"`)

	opened := false
	res := runWith(t, context.Background(), deps{
		OpenDB: func(context.Context, string, string, *zap.Logger) (storage.Conn, error) {
			opened = true
			return nil, nil
		},
	}, "--validate", strings.TrimSuffix(p, ".json"))
	if res.code != 0 || !strings.Contains(res.stdout, "1 groups, 2 layers") {
		t.Fatalf("code=%d stdout=%q", res.code, res.stdout)
	}
	if opened {
		t.Fatalf("--validate must not open the database")
	}
}

func TestRun_WritesFileWithoutDatabase(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	srv := newWFS(t)
	p := writePlan(t, dir, srv.URL, `{"name": "topp:places", "target": [{"file": "places.geojson"}]}`)

	res := runWith(t, context.Background(), deps{}, noDB(dir), p)
	if res.code != 0 {
		t.Fatalf("code=%d stderr=%s", res.code, res.stderr)
	}
	got, err := os.ReadFile(filepath.Join(dir, "places.geojson"))
	if err != nil || string(got) != places {
		t.Fatalf("export = %q, %v", got, err)
	}
	if !strings.Contains(res.stdout, "layers: 1 done, 0 failed, 0 skipped") {
		t.Fatalf("summary missing: %q", res.stdout)
	}
	if !strings.Contains(res.stderr, "database configuration does not exist") {
		t.Fatalf("missing config warning not logged: %s", res.stderr)
	}
}

func TestRun_KeepsExistingFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	srv := newWFS(t)
	existing := writeFile(t, dir, "places.geojson", "keep me")
	p := writePlan(t, dir, srv.URL, `{"name": "topp:places", "target": [{"file": "places.geojson"}]}`)

	res := runWith(t, context.Background(), deps{}, noDB(dir), p)
	if res.code != 0 {
		t.Fatalf("code=%d stderr=%s", res.code, res.stderr)
	}
	if got, _ := os.ReadFile(existing); string(got) != "keep me" {
		t.Fatalf("file replaced: %q", got)
	}
	if !strings.Contains(res.stderr, "skipping existing file") {
		t.Fatalf("skip not logged: %s", res.stderr)
	}
}

func TestRun_LoadsSQLiteTable(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	srv := newWFS(t)
	dbPath := filepath.Join(dir, "gis.db")
	ini := writeFile(t, dir, "database.ini", "[local]\nkind = sqlite\ndbname = "+dbPath+"\n")
	p := writePlan(t, dir, srv.URL, `{"name": "topp:places", "target": [{"table": "Places"}]}`)

	res := runWith(t, context.Background(), deps{}, "--db-config="+ini, "--db-env=local", "--log-format=json", p)
	if res.code != 0 {
		t.Fatalf("code=%d stderr=%s", res.code, res.stderr)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM "places"`).Scan(&n); err != nil || n != 3 {
		t.Fatalf("rows = %d, %v", n, err)
	}
	if !strings.Contains(res.stderr, `"msg":"table loaded"`) {
		t.Fatalf("json log missing load entry: %s", res.stderr)
	}
}

func TestRun_DatabaseOpenFailureIsFatal(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writePlan(t, dir, "http://unused.example", `"topp:places"`)

	res := runWith(t, context.Background(), deps{
		OpenDB: func(context.Context, string, string, *zap.Logger) (storage.Conn, error) {
			return nil, errors.New("connection refused")
		},
	}, p)
	if res.code != 1 || !strings.Contains(res.stderr, "database open failed") {
		t.Fatalf("code=%d stderr=%s", res.code, res.stderr)
	}
}

func TestRun_LayerFailuresDoNotChangeExitCode(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	srv := newWFS(t, "topp:roads")
	p := writePlan(t, dir, srv.URL, `"topp:roads", {"name": "topp:places", "target": [{"file": "places.geojson"}]}`)

	res := runWith(t, context.Background(), deps{}, noDB(dir), p)
	if res.code != 0 {
		t.Fatalf("code=%d stderr=%s", res.code, res.stderr)
	}
	if !strings.Contains(res.stdout, "layers: 1 done, 1 failed, 0 skipped") || !strings.Contains(res.stdout, "layer topp:roads") {
		t.Fatalf("summary = %q", res.stdout)
	}
}

func TestRun_CancelledIsFatal(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writePlan(t, dir, "http://unused.example", `"topp:places"`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := runWith(t, ctx, deps{}, noDB(dir), p)
	if res.code != 1 || !strings.Contains(res.stdout, "CANCELLED") {
		t.Fatalf("code=%d stdout=%q", res.code, res.stdout)
	}
}

func TestRun_Throttle(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	srv := newWFS(t)
	p := writeFile(t, dir, "plan.yaml", fmt.Sprintf(`
bbox: [-10, -10, 10, 10]
sleep: 5
group:
  - url: %s/geoserver/wfs
    version: 2.0.0
    layers: ["topp:places", "topp:roads"]
`, srv.URL))

	tests := []struct {
		name string
		args []string
		want time.Duration
	}{
		{"plan value", nil, 5 * time.Second},
		{"flag overrides", []string{"--sleep=0.25"}, 250 * time.Millisecond},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sl := &sleepLog{}
			args := append([]string{noDB(dir)}, tt.args...)
			res := runWith(t, context.Background(), deps{Sleep: sl.sleep}, append(args, p)...)
			if res.code != 0 {
				t.Fatalf("code=%d stderr=%s", res.code, res.stderr)
			}
			if len(sl.calls) != 1 || sl.calls[0] != tt.want {
				t.Fatalf("sleeps = %v, want [%s]", sl.calls, tt.want)
			}
		})
	}
}

func TestRun_MetricsInitFailureFallsBackToNop(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	srv := newWFS(t)
	p := writePlan(t, dir, srv.URL, `{"name": "topp:places", "target": [{"file": "places.geojson"}]}`)

	res := runWith(t, context.Background(), deps{
		NewMetrics: func(context.Context, runConfig, *zap.Logger) (backendCloser, error) {
			return nil, errors.New("no gateway")
		},
	}, noDB(dir), "--metrics=pushgateway", p)
	if res.code != 0 {
		t.Fatalf("code=%d stderr=%s", res.code, res.stderr)
	}
	if !strings.Contains(res.stderr, "metrics: init failed; using nop") {
		t.Fatalf("fallback not logged: %s", res.stderr)
	}
}

func TestNewMetrics_Pushgateway(t *testing.T) {
	var mu sync.Mutex
	var pushed []string
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		pushed = append(pushed, r.Method+" "+r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer gateway.Close()

	b, err := newMetrics(context.Background(), runConfig{Metrics: "pushgateway", MetricsSet: true, PushgatewayURL: gateway.URL}, zap.NewNop())
	if err != nil || b == nil {
		t.Fatalf("newMetrics: %v, %v", b, err)
	}
	b.IncCounter("wfs_layers_total", 1, map[string]string{"status": "done"})
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(pushed) != 1 || pushed[0] != "PUT /metrics/job/wfsload" {
		t.Fatalf("pushes = %v", pushed)
	}
}

func TestNewMetrics_DisabledAndEnvFallback(t *testing.T) {
	t.Setenv("METRICS_BACKEND", "")
	b, err := newMetrics(context.Background(), runConfig{Metrics: "none"}, zap.NewNop())
	if err != nil || b != nil {
		t.Fatalf("none: %v, %v", b, err)
	}

	t.Setenv("METRICS_BACKEND", "carbon")
	if _, err := newMetrics(context.Background(), runConfig{Metrics: "none"}, zap.NewNop()); err == nil {
		t.Fatalf("expected unknown backend error")
	}

	// An explicit --metrics=none overrides the environment.
	b, err = newMetrics(context.Background(), runConfig{Metrics: "none", MetricsSet: true}, zap.NewNop())
	if err != nil || b != nil {
		t.Fatalf("explicit none: %v, %v", b, err)
	}
}

func TestParseFlags_ExplicitMetricsNone(t *testing.T) {
	t.Parallel()
	cfg, err := parseFlags([]string{"--metrics=none", "plan.json"}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if cfg.Metrics != "none" || !cfg.MetricsSet {
		t.Fatalf("metrics = %q set=%v", cfg.Metrics, cfg.MetricsSet)
	}
}
