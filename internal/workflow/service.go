package workflow

import (
	"context"

	"wfsetl/internal/export"
	"wfsetl/internal/feature"
	"wfsetl/internal/materialize"
	"wfsetl/internal/storage"
	"wfsetl/internal/wfs"
)

// Session is a connected feature service.
type Session interface {
	Title() string
	LayerNames() []string
	GetFeature(ctx context.Context, layer, outputFormat string, bbox [4]float64, srs string) ([]byte, error)
	GetStyle(ctx context.Context, layer string) ([]byte, error)
	Metadata(layer string) (wfs.LayerMetadata, bool)
}

// FeatureService opens sessions, one per service group.
type FeatureService interface {
	Connect(ctx context.Context, url, version string) (Session, error)
}

// FileExporter writes payloads with overwrite semantics.
type FileExporter interface {
	Export(ctx context.Context, path string, data []byte, overwrite bool) (export.Outcome, error)
}

// TableLoader prepares and loads one destination table.
type TableLoader interface {
	Materialize(ctx context.Context, conn storage.Conn, schemaName, table string, fc *feature.Collection, p materialize.Policy) (materialize.Result, error)
}

// WFS adapts a wfs.Client to FeatureService.
func WFS(c *wfs.Client) FeatureService { return wfsService{c: c} }

type wfsService struct{ c *wfs.Client }

func (s wfsService) Connect(ctx context.Context, url, version string) (Session, error) {
	svc, err := s.c.Connect(ctx, url, version)
	if err != nil {
		return nil, err
	}
	return svc, nil
}

var (
	_ FileExporter = (*export.Exporter)(nil)
	_ TableLoader  = (*materialize.Materializer)(nil)
	_ Session      = (*wfs.Service)(nil)
)
