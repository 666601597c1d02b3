package objectstore

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/KevenMor/repensare-sub001/internal/logging"
)

// Local stores objects on the filesystem. The gateway serves the directory
// under /media/, so object names are expected to start with "media/".
type Local struct {
	dir     string
	baseURL string
	log     *logging.Logger
}

// NewLocal creates a filesystem store rooted at dir. baseURL is the public
// origin of the gateway (e.g. "https://crm.example.com").
func NewLocal(dir, baseURL string, log *logging.Logger) (*Local, error) {
	if dir == "" {
		return nil, fmt.Errorf("objectstore: local dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating media dir: %w", err)
	}
	return &Local{
		dir:     dir,
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     log.Sub("objectstore"),
	}, nil
}

// Put writes data to dir/name, creating parent directories.
func (l *Local) Put(ctx context.Context, name, contentType string, data []byte) error {
	cleaned, err := cleanName(name)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	full := filepath.Join(l.dir, filepath.FromSlash(cleaned))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("creating object dir: %w", err)
	}

	tmp := full + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing object: %w", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("finalizing object: %w", err)
	}

	l.log.Debug().Str("name", cleaned).Str("contentType", contentType).Int("bytes", len(data)).Msg("object stored")
	return nil
}

// URL returns baseURL/name.
func (l *Local) URL(_ context.Context, name string) (string, error) {
	cleaned, err := cleanName(name)
	if err != nil {
		return "", err
	}
	return l.baseURL + "/" + cleaned, nil
}

// Owns reports whether url was produced by this store.
func (l *Local) Owns(url string) bool {
	if l.baseURL == "" {
		return strings.HasPrefix(url, "/media/")
	}
	return strings.HasPrefix(url, l.baseURL+"/media/")
}

// Handler serves stored objects. Mount it at "/media/".
func (l *Local) Handler() http.Handler {
	fs := http.FileServer(http.Dir(l.dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Directory listings are not part of the public surface.
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		fs.ServeHTTP(w, r)
	})
}
