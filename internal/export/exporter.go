// Package export writes byte payloads (feature collections, styles, metadata
// documents) to local paths or object storage with overwrite semantics.
package export

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Sink stores payloads under a path. Paths are local filesystem paths or
// URIs understood by the sink (s3://, gs://, az://).
type Sink interface {
	// Exists reports whether path already has content. An empty object or
	// file counts as absent.
	Exists(ctx context.Context, path string) (bool, error)
	Write(ctx context.Context, path string, data []byte) error
}

// preparer is implemented by sinks that need setup before the existence
// check, such as creating the parent directory.
type preparer interface {
	Prepare(ctx context.Context, path string) error
}

// Outcome is the result of one export.
type Outcome string

const (
	OutcomeWritten     Outcome = "written"
	OutcomeOverwritten Outcome = "overwritten"
	OutcomeSkipped     Outcome = "skipped"
)

// WriteError reports a failed export. It only affects that one file.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string { return fmt.Sprintf("write %s: %v", e.Path, e.Err) }
func (e *WriteError) Unwrap() error { return e.Err }

// Exporter applies the overwrite policy on top of a Sink.
type Exporter struct {
	Sink   Sink
	Logger *zap.Logger
}

// NewExporter returns an Exporter routing paths by scheme.
func NewExporter(logger *zap.Logger) *Exporter {
	return &Exporter{Sink: NewRouter(), Logger: logger}
}

// Export writes data to path.
//
// If the path already has content it is overwritten when overwrite is set
// and skipped otherwise (an informational outcome, not an error).
func (e *Exporter) Export(ctx context.Context, path string, data []byte, overwrite bool) (Outcome, error) {
	log := e.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if path == "" {
		return "", &WriteError{Path: path, Err: fmt.Errorf("empty path")}
	}

	if p, ok := e.Sink.(preparer); ok {
		if err := p.Prepare(ctx, path); err != nil {
			return "", &WriteError{Path: path, Err: err}
		}
	}

	exists, err := e.Sink.Exists(ctx, path)
	if err != nil {
		return "", &WriteError{Path: path, Err: err}
	}

	outcome := OutcomeWritten
	switch {
	case exists && !overwrite:
		log.Info("skipping existing file", zap.String("path", path), zap.Bool("skipped", true))
		return OutcomeSkipped, nil
	case exists:
		log.Info("overwriting file", zap.String("path", path))
		outcome = OutcomeOverwritten
	default:
		log.Info("exporting to file", zap.String("path", path))
	}

	if err := e.Sink.Write(ctx, path, data); err != nil {
		return "", &WriteError{Path: path, Err: err}
	}
	return outcome, nil
}
