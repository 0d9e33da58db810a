package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"wfsetl/internal/storage"
	"wfsetl/internal/wfs"
)

// fakeService serves sessions by URL. URLs listed in failConnect refuse to connect.
type fakeService struct {
	sessions    map[string]*fakeSession
	failConnect map[string]error
	connects    []string
}

func (s *fakeService) Connect(_ context.Context, url, version string) (Session, error) {
	s.connects = append(s.connects, url)
	if err := s.failConnect[url]; err != nil {
		return nil, &wfs.ConnectError{URL: url, Err: err}
	}
	sess, ok := s.sessions[url]
	if !ok {
		return nil, &wfs.ConnectError{URL: url, Err: errors.New("no such service")}
	}
	return sess, nil
}

type fakeSession struct {
	title    string
	bodies   map[string][]byte
	fetchErr map[string]error
	styles   map[string][]byte
	meta     map[string]wfs.LayerMetadata

	fetched []string
}

func (s *fakeSession) Title() string { return s.title }

func (s *fakeSession) LayerNames() []string {
	names := make([]string, 0, len(s.bodies))
	for n := range s.bodies {
		names = append(names, n)
	}
	return names
}

func (s *fakeSession) GetFeature(_ context.Context, layer, _ string, _ [4]float64, _ string) ([]byte, error) {
	s.fetched = append(s.fetched, layer)
	if err := s.fetchErr[layer]; err != nil {
		return nil, &wfs.FetchError{Layer: layer, Op: "GetFeature", Err: err}
	}
	b, ok := s.bodies[layer]
	if !ok {
		return nil, &wfs.FetchError{Layer: layer, Op: "GetFeature", Err: errors.New("unknown layer")}
	}
	return b, nil
}

func (s *fakeSession) GetStyle(_ context.Context, layer string) ([]byte, error) {
	if b, ok := s.styles[layer]; ok {
		return b, nil
	}
	return nil, &wfs.FetchError{Layer: layer, Op: "GetStyles", Status: 404, Err: errors.New("no style")}
}

func (s *fakeSession) Metadata(layer string) (wfs.LayerMetadata, bool) {
	md, ok := s.meta[layer]
	if !ok {
		return wfs.LayerMetadata{Name: layer}, false
	}
	return md, true
}

// sleepRecorder records requested pauses without waiting.
type sleepRecorder struct {
	mu    sync.Mutex
	calls []time.Duration
	err   error
}

func (r *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, d)
	return r.err
}

func (r *sleepRecorder) total() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	var t time.Duration
	for _, d := range r.calls {
		t += d
	}
	return t
}

// recordingConn wraps a real connection and keeps every statement text.
type recordingConn struct {
	storage.Conn
	stmts []string
}

func (c *recordingConn) Exec(ctx context.Context, sql string, args ...any) error {
	c.stmts = append(c.stmts, sql)
	return c.Conn.Exec(ctx, sql, args...)
}

func (c *recordingConn) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := c.Conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &recordingTx{Tx: tx, conn: c}, nil
}

func (c *recordingConn) count(prefix string) int {
	n := 0
	for _, s := range c.stmts {
		if strings.HasPrefix(s, prefix) {
			n++
		}
	}
	return n
}

type recordingTx struct {
	storage.Tx
	conn *recordingConn
}

func (t *recordingTx) Exec(ctx context.Context, sql string, args ...any) error {
	t.conn.stmts = append(t.conn.stmts, sql)
	return t.Tx.Exec(ctx, sql, args...)
}

// geojson builds a FeatureCollection of n point features with the
// count/rate/active/name property set.
func geojson(n int) []byte {
	var b strings.Builder
	b.WriteString(`{"type":"FeatureCollection","features":[`)
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, `{"type":"Feature","geometry":{"type":"Point","coordinates":[%d,%d]},`+
			`"properties":{"count":%d,"rate":%d.5,"active":%t,"name":"f%d"}}`, i, i, i, i, i%2 == 0, i)
	}
	b.WriteString(`]}`)
	return []byte(b.String())
}
