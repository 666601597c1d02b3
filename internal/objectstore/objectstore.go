// Package objectstore persists media blobs and hands out publicly readable URLs.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/KevenMor/repensare-sub001/internal/config"
	"github.com/KevenMor/repensare-sub001/internal/logging"
)

// ErrInvalidName is returned for object names that escape the store root.
var ErrInvalidName = errors.New("objectstore: invalid object name")

// Store is a blob store addressed by slash-separated object names.
type Store interface {
	// Put uploads data under name.
	Put(ctx context.Context, name, contentType string, data []byte) error
	// URL returns a publicly readable URL for name.
	URL(ctx context.Context, name string) (string, error)
	// Owns reports whether url already points into this store.
	Owns(url string) bool
}

// Open builds the store selected by cfg. mediaDir is the local driver's root
// when cfg does not name one.
func Open(ctx context.Context, cfg config.ObjectStoreConfig, mediaDir string, log *logging.Logger) (Store, error) {
	switch cfg.Driver {
	case "", "local":
		dir := cfg.Local.Dir
		if dir == "" {
			dir = mediaDir
		}
		return NewLocal(dir, cfg.Local.BaseURL, log)
	case "gcs":
		return NewGCS(ctx, cfg.GCS, log)
	default:
		return nil, fmt.Errorf("objectstore: unknown driver %q", cfg.Driver)
	}
}

// cleanName validates an object name and returns its canonical form.
func cleanName(name string) (string, error) {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, `\`) {
		return "", ErrInvalidName
	}
	cleaned := path.Clean(name)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidName
	}
	return cleaned, nil
}
