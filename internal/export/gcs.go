package export

import (
	"context"
	"errors"
	"fmt"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSSink writes gs://bucket/object paths.
type GCSSink struct {
	client *storage.Client
}

// NewGCSSink uses the service account key file named by
// GOOGLE_APPLICATION_CREDENTIALS when set, otherwise the default credentials.
func NewGCSSink(ctx context.Context) (*GCSSink, error) {
	var opts []option.ClientOption
	if path := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); path != "" {
		opts = append(opts, option.WithAuthCredentialsFile(option.ServiceAccount, path))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs: create client: %w", err)
	}
	return &GCSSink{client: client}, nil
}

func (s *GCSSink) Exists(ctx context.Context, path string) (bool, error) {
	bucket, object, err := splitObjectURI(path, "gs")
	if err != nil {
		return false, err
	}
	attrs, err := s.client.Bucket(bucket).Object(object).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("gcs: attrs %s: %w", path, err)
	}
	return attrs.Size > 0, nil
}

func (s *GCSSink) Write(ctx context.Context, path string, data []byte) error {
	bucket, object, err := splitObjectURI(path, "gs")
	if err != nil {
		return err
	}
	w := s.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentTypeFor(object)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs: write %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs: close %s: %w", path, err)
	}
	return nil
}

// Close releases the underlying client.
func (s *GCSSink) Close() error { return s.client.Close() }
