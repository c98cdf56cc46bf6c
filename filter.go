// Copyright 2026 The imagefilter authors.
// SPDX-License-Identifier: Apache-2.0

package imagefilter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/uuid/v5"
	"github.com/gregjones/httpcache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// defaultMaxSourceBytes limits the size of remote images that are fetched.
const defaultMaxSourceBytes = 20 << 20

// A Filter fetches the image at imageURL and writes a filtered copy of it to
// a local temporary file, returning its path.  Paths are unique for every
// call.  When an error is returned no file is left behind.  The caller owns
// the returned file and is responsible for deleting it.
type Filter interface {
	Filter(ctx context.Context, imageURL string) (string, error)
}

// URLFilter is a Filter for images hosted on http and https servers.
type URLFilter struct {
	Client *http.Client // client used to fetch remote URLs
	Cache  Cache        // cache used to cache remote source images

	// Options is the filter applied to every image.
	Options Options

	// TempDir is the directory filtered images are written to.  If empty,
	// os.TempDir is used.
	TempDir string

	// ContentTypes specifies a list of remote content types that are
	// allowed to be filtered.  Each entry may be a shell pattern.  An empty
	// list means all image types are allowed.
	ContentTypes []string

	// MaxSourceBytes limits the size of fetched images.  If zero, a
	// default of 20MB is used.
	MaxSourceBytes int64

	// UserAgent is sent to remote servers when fetching images.
	UserAgent string
}

// NewURLFilter constructs a new filter.  The provided http RoundTripper will
// be used to fetch remote URLs.  If nil is provided, http.DefaultTransport
// will be used.  Responses are cached in cache; if nil, nothing is cached.
func NewURLFilter(transport http.RoundTripper, cache Cache) *URLFilter {
	if transport == nil {
		transport = http.DefaultTransport
	}
	if cache == nil {
		cache = NopCache
	}

	client := new(http.Client)
	client.Transport = &httpcache.Transport{
		Transport:           transport,
		Cache:               cache,
		MarkCachedResponses: true,
	}

	return &URLFilter{
		Client:  client,
		Cache:   cache,
		Options: DefaultOptions,
	}
}

// Filter implements Filter.
func (f *URLFilter) Filter(ctx context.Context, imageURL string) (string, error) {
	u, err := parseImageURL(imageURL)
	if err != nil {
		return "", err
	}

	b, err := f.fetch(ctx, u)
	if err != nil {
		return "", err
	}

	timer := prometheus.NewTimer(imageFilterSummary)
	img, err := Transform(b, f.Options)
	timer.ObserveDuration()
	if err != nil {
		return "", fmt.Errorf("error transforming image: %w", err)
	}

	return f.writeArtifact(img)
}

// parseImageURL parses s as an absolute http or https URL.
func parseImageURL(s string) (*url.URL, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, URLError{fmt.Sprintf("unable to parse remote URL: %v", err), s}
	}
	if !u.IsAbs() {
		return nil, URLError{"must provide absolute remote URL", s}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, URLError{"remote URL must have http or https URL", s}
	}
	return u, nil
}

// fetch retrieves the raw bytes of the remote image at u.
func (f *URLFilter) fetch(ctx context.Context, u *url.URL) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		remoteImageFetchErrors.Inc()
		return nil, fmt.Errorf("error fetching remote image: %w", err)
	}
	defer resp.Body.Close()

	cached := resp.Header.Get(httpcache.XFromCache) == "1"
	if cached {
		requestServedFromCacheCount.Inc()
	}
	log.Debug().Str("url", u.String()).Bool("cached", cached).Msg("fetched remote image")

	if resp.StatusCode != http.StatusOK {
		remoteImageFetchErrors.Inc()
		return nil, RemoteError{URL: u.String(), Status: resp.Status, StatusCode: resp.StatusCode}
	}

	limit := f.MaxSourceBytes
	if limit <= 0 {
		limit = defaultMaxSourceBytes
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		remoteImageFetchErrors.Inc()
		return nil, fmt.Errorf("error reading remote image: %w", err)
	}
	if int64(len(b)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrImageTooLarge, limit)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(b)
	}
	if f.allowedContentType(contentType) == "" {
		return nil, fmt.Errorf("%w: %q", ErrNotImage, contentType)
	}

	return b, nil
}

// allowedContentType returns the media type of contentType if it is allowed
// to be filtered, or an empty string otherwise.
func (f *URLFilter) allowedContentType(contentType string) string {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "" {
		return ""
	}

	if len(f.ContentTypes) == 0 {
		if strings.HasPrefix(mediaType, "image/") {
			return mediaType
		}
		return ""
	}

	for _, pattern := range f.ContentTypes {
		if ok, _ := filepath.Match(pattern, mediaType); ok {
			return mediaType
		}
	}
	return ""
}

// writeArtifact writes img to a new uniquely named file and returns its
// path.  File system errors are logged and reported as ErrArtifactStore.
func (f *URLFilter) writeArtifact(img []byte) (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		log.Error().Err(err).Msg("error generating artifact name")
		return "", ErrArtifactStore
	}

	dir := f.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, "filtered."+id.String()+".jpg")

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		log.Error().Err(err).Msg("error creating temp file")
		return "", ErrArtifactStore
	}

	_, err = file.Write(img)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		log.Error().Err(err).Msg("error writing temp file")
		DeleteLocalFiles(path)
		return "", ErrArtifactStore
	}

	log.Debug().Str("path", path).Int("bytes", len(img)).Msg("created file")
	return path, nil
}

// isPathError reports whether err carries a local file system path.
func isPathError(err error) bool {
	var pathErr *os.PathError
	return errors.As(err, &pathErr)
}
