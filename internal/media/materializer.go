// Package media copies gateway-hosted attachments into the object store.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/KevenMor/repensare-sub001/internal/domain"
	"github.com/KevenMor/repensare-sub001/internal/logging"
	"github.com/KevenMor/repensare-sub001/internal/objectstore"
)

// ErrTooLarge is returned when a download exceeds the configured cap.
var ErrTooLarge = errors.New("media: file exceeds size limit")

// Result is the outcome of materializing one attachment.
type Result struct {
	URL string
	// Fallback is true when URL is still the origin URL.
	Fallback bool
}

// Options tunes a Materializer.
type Options struct {
	Timeout  time.Duration
	MaxBytes int64
	Client   *http.Client
	Now      func() time.Time
}

// Materializer downloads remote media and re-hosts it.
type Materializer struct {
	store    objectstore.Store
	client   *http.Client
	maxBytes int64
	timeout  time.Duration
	now      func() time.Time
	log      *logging.Logger
}

// New creates a Materializer writing to store.
func New(store objectstore.Store, opts Options, log *logging.Logger) *Materializer {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Materializer{
		store:    store,
		client:   opts.Client,
		maxBytes: opts.MaxBytes,
		timeout:  opts.Timeout,
		now:      opts.Now,
		log:      log.Sub("media"),
	}
}

// Materialize re-hosts src and returns the durable URL. It never fails: on
// any error the origin URL is returned with Fallback set.
func (m *Materializer) Materialize(ctx context.Context, src string, mediaType domain.MediaType, name string) Result {
	if src == "" {
		return Result{Fallback: true}
	}
	if m.store.Owns(src) {
		return Result{URL: src}
	}

	u, err := m.materialize(ctx, src, mediaType, name)
	if err != nil {
		m.log.Warn().Err(err).Str("src", src).Str("type", string(mediaType)).Msg("media materialization failed, keeping origin url")
		return Result{URL: src, Fallback: true}
	}
	return Result{URL: u}
}

func (m *Materializer) materialize(ctx context.Context, src string, mediaType domain.MediaType, name string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download error (%d)", resp.StatusCode)
	}
	if m.maxBytes > 0 && resp.ContentLength > m.maxBytes {
		return "", ErrTooLarge
	}

	body := io.Reader(resp.Body)
	if m.maxBytes > 0 {
		body = io.LimitReader(resp.Body, m.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("reading body: %w", err)
	}
	if m.maxBytes > 0 && int64(len(data)) > m.maxBytes {
		return "", ErrTooLarge
	}

	// Extension: response header, then the URL path, then the sniffed type.
	contentType := baseContentType(resp.Header.Get("Content-Type"))
	ext := ExtensionFor(contentType, src)
	if contentType == "" {
		contentType = http.DetectContentType(data)
		if ext == "" {
			ext = ExtensionFor(contentType, "")
		}
	}
	object := m.ObjectName(mediaType, name, ext)

	if err := m.store.Put(ctx, object, contentType, data); err != nil {
		return "", fmt.Errorf("storing %s: %w", object, err)
	}
	u, err := m.store.URL(ctx, object)
	if err != nil {
		return "", fmt.Errorf("resolving url of %s: %w", object, err)
	}

	m.log.Debug().Str("object", object).Int("bytes", len(data)).Msg("media materialized")
	return u, nil
}

// ObjectName builds media/<type>/<yyyy>/<mm>/<name>-<uuid><ext>.
func (m *Materializer) ObjectName(mediaType domain.MediaType, name, ext string) string {
	t := m.now().UTC()
	kind := string(mediaType)
	if kind == "" {
		kind = "file"
	}
	return fmt.Sprintf("media/%s/%04d/%02d/%s-%s%s",
		kind, t.Year(), int(t.Month()), safeName(name), uuid.NewString(), ext)
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func safeName(name string) string {
	name = strings.TrimSuffix(name, path.Ext(name))
	name = strings.Trim(unsafeChars.ReplaceAllString(name, "_"), "_.")
	if len(name) > 64 {
		name = name[:64]
	}
	if name == "" {
		return "file"
	}
	return name
}

// baseContentType strips parameters such as "; codecs=opus".
func baseContentType(ct string) string {
	if ct == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return mt
	}
	return strings.TrimSpace(strings.SplitN(ct, ";", 2)[0])
}

// knownExtensions pins the extension for types whose system mime tables
// disagree across platforms.
var knownExtensions = map[string]string{
	"image/jpeg":         ".jpg",
	"image/png":          ".png",
	"image/webp":         ".webp",
	"image/gif":          ".gif",
	"audio/ogg":          ".ogg",
	"audio/mpeg":         ".mp3",
	"audio/mp4":          ".m4a",
	"audio/aac":          ".aac",
	"video/mp4":          ".mp4",
	"video/3gpp":         ".3gp",
	"application/pdf":    ".pdf",
	"text/plain":         ".txt",
	"application/msword": ".doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": ".docx",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       ".xlsx",
}

// ExtensionFor picks a file extension from the content type, falling back to
// the extension of the source URL path.
func ExtensionFor(contentType, src string) string {
	ct := baseContentType(contentType)
	if ext, ok := knownExtensions[ct]; ok {
		return ext
	}
	if ct != "" && ct != "application/octet-stream" {
		if exts, err := mime.ExtensionsByType(ct); err == nil && len(exts) > 0 {
			return exts[0]
		}
	}
	if u, err := url.Parse(src); err == nil {
		if ext := path.Ext(u.Path); ext != "" && len(ext) <= 6 {
			return strings.ToLower(ext)
		}
	}
	return ""
}
