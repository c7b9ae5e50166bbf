// Package storage copies finished run output to a blob store. Concrete
// stores live in the local and gcs subpackages.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// BlobStore writes one object and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Export uploads each file under prefix, keyed by its base name, and returns
// the URIs in order. Files that do not exist are skipped; an error file is
// only created once something fails.
func Export(ctx context.Context, store BlobStore, prefix string, paths ...string) ([]string, error) {
	if store == nil {
		return nil, errors.New("blob store is required")
	}
	uris := make([]string, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return uris, err
		}
		uri, err := exportFile(ctx, store, prefix, p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return uris, err
		}
		uris = append(uris, uri)
	}
	return uris, nil
}

func exportFile(ctx context.Context, store BlobStore, prefix, p string) (string, error) {
	// #nosec G304 -- paths are the crawler's own output files.
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close() //nolint:errcheck // read-only

	key := path.Join(strings.Trim(prefix, "/"), filepath.Base(p))
	uri, err := store.PutObject(ctx, key, contentType(p), f)
	if err != nil {
		return "", fmt.Errorf("export %s: %w", p, err)
	}
	return uri, nil
}

func contentType(p string) string {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".csv":
		return "text/csv; charset=utf-8"
	case ".txt":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
