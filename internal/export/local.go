package export

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// LocalSink writes to the local filesystem.
type LocalSink struct{}

// Prepare creates the parent directory. It is idempotent.
func (LocalSink) Prepare(_ context.Context, path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func (LocalSink) Exists(_ context.Context, path string) (bool, error) {
	st, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if st.IsDir() {
		return false, &fs.PathError{Op: "export", Path: path, Err: errors.New("is a directory")}
	}
	return st.Size() > 0, nil
}

func (s LocalSink) Write(ctx context.Context, path string, data []byte) error {
	if err := s.Prepare(ctx, path); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
