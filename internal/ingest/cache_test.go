package ingest

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/ttshub/internal/apperr"
	"github.com/jmylchreest/ttshub/internal/execx"
	"github.com/jmylchreest/ttshub/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestCache(t *testing.T) (*Cache, *storage.Layout) {
	t.Helper()
	layout, err := storage.NewLayout(t.TempDir())
	require.NoError(t, err)
	return NewCache(layout, "youtube", 14*24*time.Hour, time.Hour, testLogger()), layout
}

// fetcherFunc adapts a function to the Fetcher interface.
type fetcherFunc func(ctx context.Context, url, outTemplate string) error

func (f fetcherFunc) Fetch(ctx context.Context, url, outTemplate string) error {
	return f(ctx, url, outTemplate)
}

func writeCacheFile(t *testing.T, layout *storage.Layout, name, content string) string {
	t.Helper()
	rel := layout.CacheRel("youtube", name)
	require.NoError(t, layout.Sandbox().MkdirAll(filepath.Dir(rel)))
	require.NoError(t, layout.Sandbox().WriteFile(rel, []byte(content)))
	abs, err := layout.Sandbox().ResolvePath(rel)
	require.NoError(t, err)
	return abs
}

func TestResolveOrDownload_CacheHitPicksLargest(t *testing.T) {
	cache, layout := newTestCache(t)

	writeCacheFile(t, layout, "dQw4w9WgXcQ.m4a", "tiny")
	large := writeCacheFile(t, layout, "dQw4w9WgXcQ.webm", "much larger content here")

	fetchCalled := false
	path, err := cache.ResolveOrDownload(context.Background(),
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		fetcherFunc(func(context.Context, string, string) error {
			fetchCalled = true
			return nil
		}))
	require.NoError(t, err)

	assert.False(t, fetchCalled, "cache hit must not fetch")
	assert.Equal(t, large, path)
}

func TestResolveOrDownload_MissInvokesFetcherAndPrefersM4A(t *testing.T) {
	cache, layout := newTestCache(t)

	var gotTemplate string
	path, err := cache.ResolveOrDownload(context.Background(),
		"https://youtu.be/dQw4w9WgXcQ",
		fetcherFunc(func(_ context.Context, _ string, outTemplate string) error {
			gotTemplate = outTemplate
			// Simulate yt-dlp leaving two tracks behind.
			writeCacheFile(t, layout, "dQw4w9WgXcQ.webm", "webm-data-is-bigger")
			writeCacheFile(t, layout, "dQw4w9WgXcQ.m4a", "m4a")
			return nil
		}))
	require.NoError(t, err)

	assert.Contains(t, gotTemplate, "dQw4w9WgXcQ.%(ext)s")
	assert.Equal(t, ".m4a", filepath.Ext(path), "preferred extension wins for fresh downloads")
}

func TestResolveOrDownload_FetcherProducedNothing(t *testing.T) {
	cache, _ := newTestCache(t)

	_, err := cache.ResolveOrDownload(context.Background(),
		"https://youtu.be/dQw4w9WgXcQ",
		fetcherFunc(func(context.Context, string, string) error { return nil }))
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindIOFailure))
}

func TestResolveOrDownload_FetcherErrorPropagates(t *testing.T) {
	cache, _ := newTestCache(t)

	wantErr := apperr.Unavailable("yt-dlp missing")
	_, err := cache.ResolveOrDownload(context.Background(),
		"https://youtu.be/dQw4w9WgXcQ",
		fetcherFunc(func(context.Context, string, string) error { return wantErr }))
	assert.ErrorIs(t, err, wantErr)
}

func TestResolveOrDownload_SidecarsAreNotMedia(t *testing.T) {
	cache, layout := newTestCache(t)

	writeCacheFile(t, layout, "dQw4w9WgXcQ.info.json", `{"title":"x"}`)
	writeCacheFile(t, layout, "dQw4w9WgXcQ.m4a.part", "partial")

	fetchCalled := false
	_, err := cache.ResolveOrDownload(context.Background(),
		"https://youtu.be/dQw4w9WgXcQ",
		fetcherFunc(func(context.Context, string, string) error {
			fetchCalled = true
			writeCacheFile(t, layout, "dQw4w9WgXcQ.m4a", "audio")
			return nil
		}))
	require.NoError(t, err)
	assert.True(t, fetchCalled, "sidecar files must not satisfy a lookup")
}

func TestMetadataRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t)

	_, ok := cache.LoadMetadata("abc123")
	assert.False(t, ok)

	require.NoError(t, cache.SaveMetadata("abc123", []byte(`{"duration":61.5}`)))

	blob, ok := cache.LoadMetadata("abc123")
	require.True(t, ok)
	assert.JSONEq(t, `{"duration":61.5}`, string(blob))
}

func TestReap_RemovesStaleFilesAndJobDirs(t *testing.T) {
	cache, layout := newTestCache(t)
	sandbox := layout.Sandbox()

	stale := writeCacheFile(t, layout, "old.m4a", "old")
	fresh := writeCacheFile(t, layout, "new.m4a", "new")

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	// Stale job dir with one old file; fresh job dir with a recent file.
	require.NoError(t, sandbox.MkdirAll(filepath.Join(storage.MediaEditsDir, "job-old")))
	require.NoError(t, sandbox.WriteFile(filepath.Join(storage.MediaEditsDir, "job-old", "source.wav"), []byte("x")))
	oldJobFile, err := sandbox.ResolvePath(filepath.Join(storage.MediaEditsDir, "job-old", "source.wav"))
	require.NoError(t, err)
	require.NoError(t, os.Chtimes(oldJobFile, old, old))
	oldJobDir, err := sandbox.ResolvePath(filepath.Join(storage.MediaEditsDir, "job-old"))
	require.NoError(t, err)
	require.NoError(t, os.Chtimes(oldJobDir, old, old))

	require.NoError(t, sandbox.MkdirAll(filepath.Join(storage.MediaEditsDir, "job-new")))
	require.NoError(t, sandbox.WriteFile(filepath.Join(storage.MediaEditsDir, "job-new", "source.wav"), []byte("x")))

	cache.Reap(24 * time.Hour)

	assert.NoFileExists(t, stale)
	assert.FileExists(t, fresh)

	exists, err := sandbox.Exists(filepath.Join(storage.MediaEditsDir, "job-old"))
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = sandbox.Exists(filepath.Join(storage.MediaEditsDir, "job-new"))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestReap_ZeroTTLDisabled(t *testing.T) {
	cache, layout := newTestCache(t)
	f := writeCacheFile(t, layout, "keep.m4a", "data")
	old := time.Now().Add(-1000 * time.Hour)
	require.NoError(t, os.Chtimes(f, old, old))

	cache.Reap(0)
	assert.FileExists(t, f)
}

func TestMaybeReap_GatedByInterval(t *testing.T) {
	layout, err := storage.NewLayout(t.TempDir())
	require.NoError(t, err)
	cache := NewCache(layout, "youtube", time.Nanosecond, time.Hour, testLogger())

	stale := writeCacheFile(t, layout, "victim.m4a", "x")
	old := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(stale, old, old))

	cache.MaybeReap()
	assert.NoFileExists(t, stale)

	// Second stale file inside the same interval survives.
	second := writeCacheFile(t, layout, "victim2.m4a", "x")
	require.NoError(t, os.Chtimes(second, old, old))
	cache.MaybeReap()
	assert.FileExists(t, second)
}

func TestVideoID(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{"watch", "https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"short link", "https://youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"shorts", "https://youtube.com/shorts/AbCd1234xyz", "AbCd1234xyz"},
		{"embed", "https://www.youtube.com/embed/AbCd1234xyz", "AbCd1234xyz"},
		{"music", "https://music.youtube.com/watch?v=AbCd1234xyz&list=x", "AbCd1234xyz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VideoID(tt.url))
		})
	}

	// Non-YouTube URLs hash deterministically.
	a := VideoID("https://example.com/media/file.mp4")
	b := VideoID("https://example.com/media/file.mp4")
	c := VideoID("https://example.com/media/other.mp4")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 16)

	assert.Empty(t, VideoID(""))
	assert.Empty(t, VideoID("   "))
}

func TestYtdlpFetcher_Unavailable(t *testing.T) {
	f := NewYtdlpFetcher("", testLogger())
	assert.False(t, f.Available())

	err := f.Fetch(context.Background(), "https://youtu.be/x", "/tmp/x.%(ext)s")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindUnavailable))
}

func TestYtdlpFetcher_ArgsAndFailure(t *testing.T) {
	var got execx.Command
	f := NewYtdlpFetcher("/usr/bin/yt-dlp", testLogger()).
		WithRunner(execx.RunFunc(func(_ context.Context, cmd execx.Command) (*execx.Result, error) {
			got = cmd
			return &execx.Result{ExitCode: 0}, nil
		}))
	assert.True(t, f.Available())

	require.NoError(t, f.Fetch(context.Background(), "https://youtu.be/abc", "/cache/abc.%(ext)s"))
	assert.Equal(t, "/usr/bin/yt-dlp", got.Path)
	assert.Equal(t, []string{"-f", "bestaudio/best", "-o", "/cache/abc.%(ext)s", "https://youtu.be/abc"}, got.Args)

	failing := NewYtdlpFetcher("/usr/bin/yt-dlp", testLogger()).
		WithRunner(execx.RunFunc(func(context.Context, execx.Command) (*execx.Result, error) {
			return &execx.Result{ExitCode: 1, Stderr: "ERROR: Video unavailable"}, nil
		}))
	err := failing.Fetch(context.Background(), "https://youtu.be/abc", "/cache/abc.%(ext)s")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindIOFailure))
	assert.Contains(t, apperr.MessageOf(err), "Video unavailable")
}
