// Package text downloads and caches the plain-text bodies of catalog
// texts. Bodies are fetched from a Gutenberg mirror once, persisted as
// per-text gzip files, and served from an in-memory cache on repeat
// access.
package text

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/gutengo/gutengo/internal/observability"
)

// DefaultMirror serves the raw text files.
const DefaultMirror = "http://aleph.gutenberg.org"

const (
	hotCacheSize = 64
	hotCacheTTL  = 30 * time.Minute
)

var (
	// ErrUnknownDownloadURI reports that no download location could be
	// found for a text on the selected mirror.
	ErrUnknownDownloadURI = errors.New("no download location found")

	// ErrInvalidEtext reports a non-positive text identifier.
	ErrInvalidEtext = errors.New("invalid text identifier")
)

// Candidate file extensions on a mirror, in preference order.
var uriExtensions = []string{".txt", "-8.txt", "-0.txt"}

// Fetcher is the raw-download primitive the loader drives: probe a URL
// for existence, and fetch one returning its body and whether the
// request succeeded.
type Fetcher interface {
	Probe(ctx context.Context, url string) bool
	Fetch(ctx context.Context, url string) ([]byte, bool)
}

type httpFetcher struct {
	client *http.Client
}

func (f *httpFetcher) Probe(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 400
}

func (f *httpFetcher) Fetch(ctx context.Context, url string) ([]byte, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, false
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false
	}
	return body, true
}

// Options tune one LoadEtext call.
type Options struct {
	// Refresh discards any cached copy before loading.
	Refresh bool
	// Mirror overrides the loader's default mirror for this call.
	Mirror string
}

// Loader fetches and caches text bodies under one cache directory.
type Loader struct {
	dir     string
	mirror  string
	fetcher Fetcher
	log     *observability.Logger
	metrics *observability.MetricsCollector
	hot     *expirable.LRU[int, string]

	mu      sync.Mutex
	reached map[string]bool // mirror roots confirmed reachable
}

// NewLoader returns a loader caching gzip'd texts under dir and
// downloading from mirror (DefaultMirror when empty). A nil fetcher
// uses plain HTTP; a nil logger discards output.
func NewLoader(dir, mirror string, fetcher Fetcher, log *observability.Logger, metrics *observability.MetricsCollector) *Loader {
	if mirror == "" {
		mirror = DefaultMirror
	}
	if fetcher == nil {
		fetcher = &httpFetcher{client: &http.Client{Timeout: 2 * time.Minute}}
	}
	if log == nil {
		log = observability.NewLogger("text", io.Discard)
	}
	if metrics == nil {
		metrics = observability.NewMetricsCollector(0)
	}
	return &Loader{
		dir:     dir,
		mirror:  mirror,
		fetcher: fetcher,
		log:     log,
		metrics: metrics,
		hot:     expirable.NewLRU[int, string](hotCacheSize, nil, hotCacheTTL),
		reached: make(map[string]bool),
	}
}

// LoadEtext returns the full body of a text. The first access downloads
// it from the mirror and persists it; later accesses are served from
// the in-memory cache or the gzip file.
func (l *Loader) LoadEtext(ctx context.Context, etext int, opts Options) (string, error) {
	if etext <= 0 {
		return "", fmt.Errorf("%w: %d", ErrInvalidEtext, etext)
	}

	cached := l.cachePath(etext)
	if opts.Refresh {
		l.hot.Remove(etext)
		if err := os.Remove(cached); err != nil && !os.IsNotExist(err) {
			return "", fmt.Errorf("refresh text %d: %w", etext, err)
		}
	}

	if body, ok := l.hot.Get(etext); ok {
		return body, nil
	}

	if _, err := os.Stat(cached); err != nil {
		if err := l.download(ctx, etext, opts.Mirror, cached); err != nil {
			return "", err
		}
	}

	body, err := readGzip(cached)
	if err != nil {
		return "", err
	}
	l.hot.Add(etext, body)
	return body, nil
}

// CachePath returns where a text's gzip'd body lives on disk.
func (l *Loader) CachePath(etext int) string { return l.cachePath(etext) }

func (l *Loader) cachePath(etext int) string {
	return filepath.Join(l.dir, strconv.Itoa(etext)+".txt.gz")
}

func (l *Loader) download(ctx context.Context, etext int, mirror, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("download text %d: %w", etext, err)
	}

	root := mirror
	if root == "" {
		root = l.mirror
	}
	root = strings.TrimRight(strings.TrimSpace(root), "/")
	if err := l.checkMirror(ctx, root); err != nil {
		return err
	}

	uri, err := l.downloadURI(ctx, etext, root)
	if err != nil {
		return err
	}
	body, ok := l.fetcher.Fetch(ctx, uri)
	if !ok {
		return fmt.Errorf("%w: fetching %s failed", ErrUnknownDownloadURI, uri)
	}
	if err := writeGzip(dest, body); err != nil {
		return fmt.Errorf("cache text %d: %w", etext, err)
	}

	l.metrics.Record(observability.MetricTextFetches, 1,
		observability.Labels{"mirror": root})
	l.log.Info("downloaded text", "etext", etext, "uri", uri, "bytes", len(body))
	return nil
}

// checkMirror confirms the mirror root answers at all, once per root.
func (l *Loader) checkMirror(ctx context.Context, root string) error {
	l.mu.Lock()
	reached := l.reached[root]
	l.mu.Unlock()
	if reached {
		return nil
	}

	if !l.fetcher.Probe(ctx, root) {
		return fmt.Errorf("%w: could not reach mirror %q, try a different mirror "+
			"(https://www.gutenberg.org/MIRRORS.ALL) via the mirror flag or GUTENBERG_MIRROR",
			ErrUnknownDownloadURI, root)
	}

	l.mu.Lock()
	l.reached[root] = true
	l.mu.Unlock()
	return nil
}

// downloadURI finds the text's file on the mirror by probing the
// candidate extensions in order.
func (l *Loader) downloadURI(ctx context.Context, etext int, root string) (string, error) {
	subdir := mirrorSubdirectory(etext)
	for _, ext := range uriExtensions {
		uri := fmt.Sprintf("%s/%s/%d%s", root, subdir, etext, ext)
		if l.fetcher.Probe(ctx, uri) {
			return uri, nil
		}
	}
	return "", fmt.Errorf("%w: text %d not found on %s", ErrUnknownDownloadURI, etext, root)
}

// mirrorSubdirectory returns the directory a text lives under on a
// mirror: every digit of the number except the last becomes a path
// segment, then the number itself. Single-digit numbers are padded to
// two digits first, so 1 maps to 0/1, 19 to 1/19 and 15453 to
// 1/5/4/5/15453.
func mirrorSubdirectory(etext int) string {
	padded := strconv.Itoa(etext)
	if len(padded) < 2 {
		padded = "0" + padded
	}
	var sb strings.Builder
	for _, digit := range padded[:len(padded)-1] {
		sb.WriteRune(digit)
		sb.WriteByte('/')
	}
	sb.WriteString(strconv.Itoa(etext))
	return sb.String()
}

func writeGzip(path string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	zw := gzip.NewWriter(f)
	if _, err := zw.Write(data); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return f.Close()
}

func readGzip(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return "", fmt.Errorf("read cached text %q: %w", path, err)
	}
	defer zr.Close()

	body, err := io.ReadAll(zr)
	if err != nil {
		return "", fmt.Errorf("read cached text %q: %w", path, err)
	}
	return string(body), nil
}
