package wfs

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Supported protocol versions.
const (
	Version100 = "1.0.0"
	Version110 = "1.1.0"
	Version200 = "2.0.0"
)

// SupportedVersion reports whether v is a WFS version this client speaks.
func SupportedVersion(v string) bool {
	switch v {
	case Version100, Version110, Version200:
		return true
	}
	return false
}

// Service is a connected WFS endpoint.
type Service struct {
	client  *Client
	url     string
	version string
	caps    *Capabilities
	byName  map[string]LayerMetadata
}

// Connect performs GetCapabilities against rawURL. Any failure is a *ConnectError.
func (c *Client) Connect(ctx context.Context, rawURL, version string) (*Service, error) {
	fail := func(err error) (*Service, error) {
		return nil, &ConnectError{URL: rawURL, Err: err}
	}
	if !SupportedVersion(version) {
		return fail(fmt.Errorf("unsupported version %q", version))
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fail(err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fail(fmt.Errorf("not an absolute http(s) url"))
	}

	resp, err := c.get(ctx, "GetCapabilities", rawURL, url.Values{
		"service": {"WFS"},
		"request": {"GetCapabilities"},
		"version": {version},
	})
	if err != nil {
		return fail(err)
	}
	if !resp.ok() {
		return fail(&StatusError{Status: resp.Status, Summary: summarize(resp.ContentType, resp.Body)})
	}
	caps, err := ParseCapabilities(resp.Body)
	if err != nil {
		return fail(err)
	}

	s := &Service{
		client:  c,
		url:     rawURL,
		version: version,
		caps:    caps,
		byName:  make(map[string]LayerMetadata, len(caps.Layers)),
	}
	for _, l := range caps.Layers {
		s.byName[l.Name] = l
	}
	return s, nil
}

// URL returns the endpoint the service was connected with.
func (s *Service) URL() string { return s.url }

// Version returns the negotiated protocol version.
func (s *Service) Version() string { return s.version }

// Title returns the advertised service title.
func (s *Service) Title() string { return s.caps.Title }

// LayerNames returns the advertised feature type names.
func (s *Service) LayerNames() []string { return s.caps.LayerNames() }

// Metadata returns what the capabilities advertise for layer. Unknown
// layers yield a value holding only the name and ok=false.
func (s *Service) Metadata(layer string) (LayerMetadata, bool) {
	if md, ok := s.byName[layer]; ok {
		return md, true
	}
	// Some servers advertise unprefixed names.
	if i := strings.IndexByte(layer, ':'); i >= 0 {
		if md, ok := s.byName[layer[i+1:]]; ok {
			return md, true
		}
	}
	return LayerMetadata{Name: layer}, false
}

// GetFeature downloads layer within bbox (minx, miny, maxx, maxy) in srs.
// The returned bytes are the raw response in outputFormat.
func (s *Service) GetFeature(ctx context.Context, layer, outputFormat string, bbox [4]float64, srs string) ([]byte, error) {
	params := url.Values{
		"service": {"WFS"},
		"request": {"GetFeature"},
		"version": {s.version},
	}
	if s.version == Version200 {
		params.Set("typeNames", layer)
	} else {
		params.Set("typeName", layer)
	}
	if outputFormat != "" {
		params.Set("outputFormat", outputFormat)
	}
	if srs != "" {
		params.Set("srsName", srs)
	}
	params.Set("bbox", formatBBox(bbox, srs, s.version))

	return s.fetch(ctx, "GetFeature", layer, s.url, params)
}

// GetStyle downloads the SLD of layer from the WMS endpoint next to the
// WFS one (".../wfs" becomes ".../wms").
func (s *Service) GetStyle(ctx context.Context, layer string) ([]byte, error) {
	return s.fetch(ctx, "GetStyles", layer, wmsURL(s.url), url.Values{
		"service": {"WMS"},
		"request": {"GetStyles"},
		"version": {"1.1.1"},
		"layers":  {layer},
	})
}

func (s *Service) fetch(ctx context.Context, op, layer, base string, params url.Values) ([]byte, error) {
	resp, err := s.client.get(ctx, op, base, params)
	if err != nil {
		return nil, &FetchError{Layer: layer, Op: op, Err: err}
	}
	if !resp.ok() {
		return nil, &FetchError{
			Layer:  layer,
			Op:     op,
			Status: resp.Status,
			Err:    &StatusError{Status: resp.Status, Summary: summarize(resp.ContentType, resp.Body)},
		}
	}
	if se, ok := detectException(resp.Body); ok {
		return nil, &FetchError{Layer: layer, Op: op, Status: resp.Status, Err: se}
	}
	if len(resp.Body) == 0 {
		return nil, &FetchError{Layer: layer, Op: op, Status: resp.Status, Err: errEmptyBody}
	}
	return resp.Body, nil
}

var errEmptyBody = errors.New("empty response body")

// formatBBox renders the bbox parameter. WFS 1.0 has no CRS suffix.
func formatBBox(b [4]float64, srs, version string) string {
	parts := make([]string, 0, 5)
	for _, v := range b {
		parts = append(parts, strconv.FormatFloat(v, 'f', -1, 64))
	}
	if srs != "" && version != Version100 {
		parts = append(parts, srs)
	}
	return strings.Join(parts, ",")
}

func wmsURL(wfs string) string {
	u, err := url.Parse(wfs)
	if err != nil {
		return wfs
	}
	// Anything else (e.g. a GeoServer "/ows") is assumed to serve WMS too.
	p := strings.TrimSuffix(u.Path, "/")
	if strings.HasSuffix(strings.ToLower(p), "/wfs") {
		u.Path = p[:len(p)-len("wfs")] + "wms"
	}
	return u.String()
}
