package build

import (
	"context"
	"io/fs"
	"os"

	"github.com/conneroisu/breach/internal/errors"
)

// Source provides the current content of the source document.
type Source interface {
	Read(ctx context.Context) ([]byte, error)
}

// FileSource reads the source document from disk on every call.
type FileSource struct {
	Path string
}

// Read implements Source. A missing or unreadable file is a WatchError.
func (f FileSource) Read(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(f.Path)
	if err == nil {
		return data, nil
	}

	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, errors.NewWatchError("source file "+f.Path+" does not exist", err)
	case errors.Is(err, fs.ErrPermission):
		return nil, errors.NewWatchError("source file "+f.Path+" is not readable", err)
	default:
		return nil, errors.NewIOError("reading "+f.Path, err)
	}
}

// StaticSource is a fixed in-memory source.
type StaticSource []byte

// Read implements Source.
func (s StaticSource) Read(context.Context) ([]byte, error) {
	return s, nil
}
