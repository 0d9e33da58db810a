// Package wfs is a small OGC Web Feature Service client: it performs the
// GetCapabilities handshake, downloads layers with GetFeature and fetches
// SLD styles from the sibling WMS endpoint.
package wfs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"wfsetl/internal/metrics"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const defaultUserAgent = "wfsload/1.0"

// Options configures a Client. The zero value is usable.
type Options struct {
	// Timeout bounds each request. <= 0 means 60s.
	Timeout time.Duration
	// MaxRPS limits outgoing requests per second. <= 0 disables limiting.
	MaxRPS    float64
	UserAgent string

	// HTTPClient overrides the transport (tests). Timeout is ignored when set.
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client issues WFS/WMS requests. It is safe for sequential reuse across groups.
type Client struct {
	http      *http.Client
	limiter   *rate.Limiter
	userAgent string
	logger    *zap.Logger
}

// NewClient builds a Client from opts.
func NewClient(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		hc = newHTTPClient(timeout)
	}
	var lim *rate.Limiter
	if opts.MaxRPS > 0 {
		lim = rate.NewLimiter(rate.Limit(opts.MaxRPS), 1)
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{http: hc, limiter: lim, userAgent: ua, logger: logger}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		IdleConnTimeout:     90 * time.Second,
		MaxIdleConns:        16,
		MaxIdleConnsPerHost: 4,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// response is a fully read HTTP response.
type response struct {
	Status      int
	ContentType string
	Body        []byte
}

func (r response) ok() bool { return r.Status >= 200 && r.Status < 300 }

// get sends one GET to base with params merged over its existing query.
// op names the request in logs and metrics.
func (c *Client) get(ctx context.Context, op, base string, params url.Values) (response, error) {
	u, err := withQuery(base, params)
	if err != nil {
		return response{}, err
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return response{}, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return response{}, err
	}
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.IncCounter(metrics.HTTPRequestsTotal, 1, metrics.Labels{"op": op, "status": "error"})
		c.logger.Debug("request failed", zap.String("op", op), zap.String("url", u), zap.Error(err))
		return response{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	elapsed := time.Since(start)

	status := strconv.Itoa(resp.StatusCode)
	metrics.IncCounter(metrics.HTTPRequestsTotal, 1, metrics.Labels{"op": op, "status": status})
	metrics.ObserveHistogram(metrics.HTTPRequestDurationSeconds, elapsed.Seconds(), metrics.Labels{"op": op})
	metrics.ObserveHistogram(metrics.HTTPDownloadBytes, float64(len(body)), metrics.Labels{"op": op})

	c.logger.Debug("request",
		zap.String("op", op),
		zap.String("url", u),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
		zap.Duration("duration", elapsed),
	)
	if err != nil {
		return response{}, fmt.Errorf("read body: %w", err)
	}
	return response{Status: resp.StatusCode, ContentType: resp.Header.Get("Content-Type"), Body: body}, nil
}

// withQuery sets params on base's query string, keeping unrelated keys
// (e.g. a MapServer "map=" parameter). Parameter names are case-insensitive
// in OGC services, so an existing key differing only in case is replaced.
func withQuery(base string, params url.Values) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, vs := range params {
		for existing := range q {
			if strings.EqualFold(existing, k) {
				q.Del(existing)
			}
		}
		q[k] = vs
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
