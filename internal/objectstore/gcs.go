package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	storage "google.golang.org/api/storage/v1"

	"github.com/KevenMor/repensare-sub001/internal/config"
	"github.com/KevenMor/repensare-sub001/internal/logging"
)

// downloadTokenKey is the object metadata key Firebase reads download tokens from.
const downloadTokenKey = "firebaseStorageDownloadTokens"

const firebaseDownloadBase = "https://firebasestorage.googleapis.com/v0/b/"

// GCS stores objects in a Cloud Storage bucket and returns Firebase-style
// download URLs.
type GCS struct {
	bucket  string
	service *storage.Service
	log     *logging.Logger
}

// NewGCS creates a bucket store. Credentials come from cfg.CredentialsFile or,
// when empty, from Application Default Credentials.
func NewGCS(ctx context.Context, cfg config.GCSObjectStore, log *logging.Logger, opts ...option.ClientOption) (*GCS, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("objectstore: gcs bucket is required")
	}

	if len(opts) == 0 {
		var creds *google.Credentials
		var err error
		if cfg.CredentialsFile != "" {
			b, rerr := os.ReadFile(cfg.CredentialsFile)
			if rerr != nil {
				return nil, fmt.Errorf("unable to read credentials file: %w", rerr)
			}
			creds, err = google.CredentialsFromJSON(ctx, b, storage.DevstorageReadWriteScope)
		} else {
			creds, err = google.FindDefaultCredentials(ctx, storage.DevstorageReadWriteScope)
		}
		if err != nil {
			return nil, fmt.Errorf("unable to load credentials: %w", err)
		}
		opts = append(opts, option.WithHTTPClient(oauth2.NewClient(ctx, creds.TokenSource)))
	}

	svc, err := storage.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create storage service: %w", err)
	}

	return &GCS{bucket: cfg.Bucket, service: svc, log: log.Sub("objectstore")}, nil
}

// Put uploads data with a fresh download token.
func (g *GCS) Put(ctx context.Context, name, contentType string, data []byte) error {
	cleaned, err := cleanName(name)
	if err != nil {
		return err
	}
	obj := &storage.Object{
		Name:        cleaned,
		ContentType: contentType,
		Metadata:    map[string]string{downloadTokenKey: uuid.NewString()},
	}
	if _, err := g.service.Objects.Insert(g.bucket, obj).
		Media(bytes.NewReader(data)).
		Context(ctx).
		Do(); err != nil {
		return fmt.Errorf("uploading %s: %w", cleaned, err)
	}
	g.log.Debug().Str("bucket", g.bucket).Str("name", cleaned).Int("bytes", len(data)).Msg("object uploaded")
	return nil
}

// URL reads the object's download token, minting one if the object has none.
func (g *GCS) URL(ctx context.Context, name string) (string, error) {
	cleaned, err := cleanName(name)
	if err != nil {
		return "", err
	}

	obj, err := g.service.Objects.Get(g.bucket, cleaned).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("reading %s metadata: %w", cleaned, err)
	}

	token := firstToken(obj.Metadata[downloadTokenKey])
	if token == "" {
		token = uuid.NewString()
		patch := &storage.Object{Metadata: map[string]string{downloadTokenKey: token}}
		if _, err := g.service.Objects.Patch(g.bucket, cleaned, patch).Context(ctx).Do(); err != nil {
			return "", fmt.Errorf("minting download token for %s: %w", cleaned, err)
		}
	}

	return g.downloadURL(cleaned, token), nil
}

// Owns reports whether url points into this bucket.
func (g *GCS) Owns(u string) bool {
	return strings.HasPrefix(u, firebaseDownloadBase+g.bucket+"/") ||
		strings.HasPrefix(u, "https://storage.googleapis.com/"+g.bucket+"/")
}

func (g *GCS) downloadURL(name, token string) string {
	return firebaseDownloadBase + g.bucket + "/o/" + url.PathEscape(name) +
		"?alt=media&token=" + url.QueryEscape(token)
}

// firstToken returns the first of a comma-separated token list.
func firstToken(s string) string {
	if i := strings.IndexByte(s, ','); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
