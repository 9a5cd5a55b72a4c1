package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSource(t *testing.T) *Source {
	t.Helper()
	s := New(Config{CacheDir: filepath.Join(t.TempDir(), "cache"), Timeout: 5 * time.Second})
	s.http.opts.BackoffBase = time.Millisecond
	return s
}

func TestIsRemote(t *testing.T) {
	assert.True(t, IsRemote("https://example.com/catalog.csv"))
	assert.True(t, IsRemote("HTTP://example.com/catalog.csv"))
	assert.True(t, IsRemote("ftp://files.example.com/boq.xlsx"))
	assert.False(t, IsRemote("catalog.csv"))
	assert.False(t, IsRemote("/var/data/catalog.csv"))
	assert.False(t, IsRemote(`C:\data\catalog.csv`))
	assert.False(t, IsRemote("file:///tmp/catalog.csv"))
	assert.False(t, IsRemote("https:///no-host.csv"))
}

func TestLocalize_LocalPathUnchanged(t *testing.T) {
	s := newTestSource(t)

	got, err := s.Localize(context.Background(), "sheets/boq.xlsx")
	require.NoError(t, err)
	assert.Equal(t, "sheets/boq.xlsx", got)

	_, err = os.Stat(s.cacheDir)
	assert.True(t, os.IsNotExist(err), "local paths should not create the cache dir")
}

func TestLocalize_HTTPKeepsExtensionAndRevalidates(t *testing.T) {
	var full, notModified atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"rev-1"` {
			notModified.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		full.Add(1)
		w.Header().Set("ETag", `"rev-1"`)
		w.Write([]byte("code,name\n1,Beton\n")) //nolint:errcheck
	}))
	defer srv.Close()

	s := newTestSource(t)
	src := srv.URL + "/exports/catalog.CSV?token=abc"

	first, err := s.Localize(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(first, ".csv"), first)
	data, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Equal(t, "code,name\n1,Beton\n", string(data))

	second, err := s.Localize(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), full.Load())
	assert.Equal(t, int32(1), notModified.Load())
}

func TestLocalize_HTTPFailureKeepsNoPartialFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s := newTestSource(t)
	_, err := s.Localize(context.Background(), srv.URL+"/missing.csv")
	require.Error(t, err)

	entries, err := os.ReadDir(s.cacheDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCacheName(t *testing.T) {
	a := cacheName("https://example.com/a/catalog.xlsx")
	b := cacheName("https://example.com/b/catalog.xlsx")

	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasSuffix(a, ".xlsx"))
	assert.Equal(t, a, cacheName("https://example.com/a/catalog.xlsx"))
	assert.False(t, strings.Contains(cacheName("https://example.com/export"), "."))
}

func TestNew_DefaultCacheDir(t *testing.T) {
	s := New(Config{})
	assert.Equal(t, DefaultCacheDir, s.cacheDir)
}
