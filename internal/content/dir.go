package content

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/dukerupert/pickletv/internal/model"
)

// DirStore serves the regular files directly inside a directory.
type DirStore struct {
	dir string
}

func NewDirStore(dir string) *DirStore {
	return &DirStore{dir: dir}
}

func (s *DirStore) openRoot() (*os.Root, error) {
	if info, err := os.Stat(s.dir); err != nil || !info.IsDir() {
		return nil, ErrRootMissing
	}
	root, err := os.OpenRoot(s.dir)
	if err != nil {
		return nil, fmt.Errorf("open assets dir: %w", err)
	}
	return root, nil
}

// List returns the directory's regular files sorted by name.
func (s *DirStore) List(ctx context.Context) ([]model.Asset, error) {
	root, err := s.openRoot()
	if err != nil {
		return nil, err
	}
	defer root.Close()

	entries, err := fs.ReadDir(root.FS(), ".")
	if err != nil {
		return nil, fmt.Errorf("read assets dir: %w", err)
	}

	assets := make([]model.Asset, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue // removed since ReadDir
		}
		assets = append(assets, model.Asset{
			Name:         e.Name(),
			SizeBytes:    info.Size(),
			Modified:     info.ModTime().UTC().Truncate(time.Second),
			DownloadPath: DownloadPath(e.Name()),
		})
	}
	return assets, nil
}

// Open opens name for reading. Names with path components and anything that
// is not a regular file report ErrNotFound.
func (s *DirStore) Open(ctx context.Context, name string) (*Object, error) {
	if !ValidName(name) {
		return nil, ErrNotFound
	}
	root, err := s.openRoot()
	if err != nil {
		return nil, err
	}
	defer root.Close()

	f, err := root.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open asset: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat asset: %w", err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, ErrNotFound
	}
	return &Object{
		Name:     name,
		Size:     info.Size(),
		Modified: info.ModTime().UTC(),
		Body:     f,
	}, nil
}
