// Package fetcher pulls catalog snapshots and BOQ sheets from http(s) and
// ftp sources into local files that the row reader can open.
package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Fetcher downloads remote data.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to the given path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// Config configures remote sources.
type Config struct {
	CacheDir      string        `yaml:"cache_dir" mapstructure:"cache_dir"`
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxRetries    int           `yaml:"max_retries" mapstructure:"max_retries"`
	RatePerSecond float64       `yaml:"rate_per_second" mapstructure:"rate_per_second"`
}

// DefaultCacheDir holds downloaded sources when no cache dir is set.
const DefaultCacheDir = ".boq-cache"

// IsRemote reports whether src is an http, https or ftp URL.
func IsRemote(src string) bool {
	u, err := url.Parse(src)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "ftp":
		return u.Host != ""
	default:
		return false
	}
}

// Source resolves file arguments that may be URLs.
type Source struct {
	http     *HTTPFetcher
	ftp      *FTPFetcher
	cacheDir string
}

// New creates a Source.
func New(cfg Config) *Source {
	dir := cfg.CacheDir
	if dir == "" {
		dir = DefaultCacheDir
	}
	return &Source{
		http: NewHTTPFetcher(HTTPOptions{
			Timeout:       cfg.Timeout,
			MaxRetries:    cfg.MaxRetries,
			RatePerSecond: cfg.RatePerSecond,
		}),
		ftp:      NewFTPFetcher(FTPOptions{Timeout: cfg.Timeout}),
		cacheDir: dir,
	}
}

// Localize returns a local path for src. Local paths come back unchanged.
// Remote files land in the cache dir under a name derived from the URL
// that keeps the extension; http sources are revalidated with the ETag of
// the cached copy.
func (s *Source) Localize(ctx context.Context, src string) (string, error) {
	if !IsRemote(src) {
		return src, nil
	}
	if err := os.MkdirAll(s.cacheDir, 0o755); err != nil {
		return "", eris.Wrap(err, "fetcher: create cache dir")
	}
	dest := filepath.Join(s.cacheDir, cacheName(src))

	if strings.HasPrefix(strings.ToLower(src), "ftp://") {
		n, err := s.downloadAtomic(ctx, s.ftp, src, dest)
		if err != nil {
			return "", err
		}
		zap.L().Info("fetcher: downloaded", zap.String("url", src), zap.Int64("bytes", n))
		return dest, nil
	}
	return s.refreshHTTP(ctx, src, dest)
}

func (s *Source) refreshHTTP(ctx context.Context, src, dest string) (string, error) {
	etagPath := dest + ".etag"
	etag := ""
	if _, err := os.Stat(dest); err == nil {
		if raw, err := os.ReadFile(etagPath); err == nil {
			etag = strings.TrimSpace(string(raw))
		}
	}

	body, newETag, changed, err := s.http.DownloadIfChanged(ctx, src, etag)
	if err != nil {
		return "", err
	}
	if !changed {
		zap.L().Debug("fetcher: cached copy is current", zap.String("url", src))
		return dest, nil
	}
	defer body.Close() //nolint:errcheck

	n, err := writeAtomic(dest, body)
	if err != nil {
		return "", err
	}
	if newETag != "" {
		_ = os.WriteFile(etagPath, []byte(newETag), 0o644)
	} else {
		_ = os.Remove(etagPath)
	}
	zap.L().Info("fetcher: downloaded", zap.String("url", src), zap.Int64("bytes", n))
	return dest, nil
}

func (s *Source) downloadAtomic(ctx context.Context, f Fetcher, src, dest string) (int64, error) {
	body, err := f.Download(ctx, src)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck
	return writeAtomic(dest, body)
}

// writeAtomic writes r to a temp file beside dest and renames it into place,
// so a failed download never leaves a truncated cache entry.
func writeAtomic(dest string, r io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.part")
	if err != nil {
		return 0, eris.Wrap(err, "fetcher: create temp file")
	}
	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return n, eris.Wrap(err, "fetcher: write file")
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		_ = os.Remove(tmp.Name())
		return n, eris.Wrap(err, "fetcher: rename file")
	}
	return n, nil
}

func cacheName(src string) string {
	sum := sha256.Sum256([]byte(src))
	name := hex.EncodeToString(sum[:8])
	if u, err := url.Parse(src); err == nil {
		if ext := strings.ToLower(path.Ext(u.Path)); ext != "" {
			name += ext
		}
	}
	return name
}
