package export

import (
	"context"
	"strings"
	"sync"
)

// SinkFactory builds a sink on first use of its scheme.
type SinkFactory func(ctx context.Context) (Sink, error)

// Router dispatches by URI scheme. Paths without a registered scheme go to
// the local filesystem. Cloud sinks are built lazily so runs that only write
// local files never need cloud credentials.
type Router struct {
	Local     Sink
	Factories map[string]SinkFactory

	mu    sync.Mutex
	sinks map[string]Sink
}

// NewRouter registers the s3, gs and az schemes.
func NewRouter() *Router {
	return &Router{
		Local: LocalSink{},
		Factories: map[string]SinkFactory{
			"s3": func(context.Context) (Sink, error) { return NewS3Sink(S3OptionsFromEnv()) },
			"gs": func(ctx context.Context) (Sink, error) { return NewGCSSink(ctx) },
			"az": func(context.Context) (Sink, error) { return NewAzureSink() },
		},
	}
}

// Scheme returns the URI scheme of path, or "" for a local path.
func Scheme(path string) string {
	scheme, _, ok := strings.Cut(path, "://")
	if !ok || scheme == "" || strings.ContainsAny(scheme, `/\`) {
		return ""
	}
	return strings.ToLower(scheme)
}

// IsRemote reports whether path names an object-storage location.
func IsRemote(path string) bool { return Scheme(path) != "" }

func (r *Router) sinkFor(ctx context.Context, path string) (Sink, error) {
	scheme := Scheme(path)
	f, ok := r.Factories[scheme]
	if scheme == "" || !ok {
		if r.Local == nil {
			return LocalSink{}, nil
		}
		return r.Local, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sinks[scheme]; ok {
		return s, nil
	}
	s, err := f(ctx)
	if err != nil {
		return nil, err
	}
	if r.sinks == nil {
		r.sinks = map[string]Sink{}
	}
	r.sinks[scheme] = s
	return s, nil
}

// Prepare forwards to the selected sink when it needs preparation.
func (r *Router) Prepare(ctx context.Context, path string) error {
	s, err := r.sinkFor(ctx, path)
	if err != nil {
		return err
	}
	if p, ok := s.(preparer); ok {
		return p.Prepare(ctx, path)
	}
	return nil
}

func (r *Router) Exists(ctx context.Context, path string) (bool, error) {
	s, err := r.sinkFor(ctx, path)
	if err != nil {
		return false, err
	}
	return s.Exists(ctx, path)
}

func (r *Router) Write(ctx context.Context, path string, data []byte) error {
	s, err := r.sinkFor(ctx, path)
	if err != nil {
		return err
	}
	return s.Write(ctx, path, data)
}
