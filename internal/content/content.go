// Package content lists and serves downloadable assets from a local
// directory or an S3-compatible bucket.
package content

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/dukerupert/pickletv/internal/model"
)

var (
	// ErrNotFound is returned for missing files and rejected names.
	ErrNotFound = errors.New("file not found")
	// ErrRootMissing is returned when the assets directory or bucket is absent.
	ErrRootMissing = errors.New("assets directory not found")
)

// Store is a flat namespace of downloadable files.
type Store interface {
	List(ctx context.Context) ([]model.Asset, error)
	Open(ctx context.Context, name string) (*Object, error)
}

// Object is an open asset. Callers must close Body.
type Object struct {
	Name     string
	Size     int64
	Modified time.Time
	Body     io.ReadCloser
}

// DownloadPath is the URL path an asset is served from.
func DownloadPath(name string) string {
	return "/content/" + name
}

// ValidName reports whether name is a plain file name with no path
// components.
func ValidName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && !strings.ContainsRune(name, 0)
}
