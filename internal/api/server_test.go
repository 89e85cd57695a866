package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClippyCDN/clippy/internal/cache"
	"github.com/ClippyCDN/clippy/internal/files"
	"github.com/ClippyCDN/clippy/internal/queue"
	"github.com/ClippyCDN/clippy/internal/storage"
	"github.com/ClippyCDN/clippy/internal/storage/local"
)

type fakeFiles struct {
	mu    sync.Mutex
	files map[string]files.File
	err   error
	calls int
}

func (f *fakeFiles) GetFile(_ context.Context, id string) (*files.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	file, ok := f.files[id]
	if !ok {
		return nil, nil
	}
	return &file, nil
}

func (f *fakeFiles) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeFiles) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeFiles) update(id string, fn func(*files.File)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file := f.files[id]
	fn(&file)
	f.files[id] = file
}

type fixedQueue struct{ stats queue.Stats }

func (q fixedQueue) Stats() queue.Stats { return q.stats }

const videoBytes = "0123456789abcdefghijklmnopqrstuvwxyz"

type fixture struct {
	srv     *httptest.Server
	files   *fakeFiles
	cache   *cache.Cache[*files.File]
	objects *storage.Storage
}

func newFixture(t *testing.T, live bool) *fixture {
	t.Helper()
	ctx := context.Background()

	lb, err := local.New(local.Config{RootPath: t.TempDir(), CreateDirs: true})
	require.NoError(t, err)
	objects := storage.NewStorage(lb)

	video := files.File{ID: "v1", OwnerID: "u1", Extension: "mp4", MimeType: "video/mp4", HasThumbnail: true}
	empty := files.File{ID: "e1", OwnerID: "u1", Extension: "txt", MimeType: "text/plain"}
	lost := files.File{ID: "l1", OwnerID: "u1", Extension: "png", MimeType: "image/png"}
	require.True(t, objects.Save(ctx, "u1/v1.mp4", []byte(videoBytes)))
	require.True(t, objects.Save(ctx, "u1/thumbnails/v1.jpg", []byte("jpeg")))
	require.True(t, objects.Save(ctx, "u1/e1.txt", []byte{}))

	ff := &fakeFiles{files: map[string]files.File{"v1": video, "e1": empty, "l1": lost}}
	fc := cache.New[*files.File](cache.Options{Name: "files", Live: live})
	t.Cleanup(fc.Close)

	s := NewServer(Deps{
		Files:     ff,
		Objects:   objects,
		FileCache: fc,
		Queues:    []QueueStats{fixedQueue{queue.Stats{Name: "thumbnails", Pending: 3}}},
		Caches:    []CacheStats{fc},
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, files: ff, cache: fc, objects: objects}
}

func (f *fixture) get(t *testing.T, path, rangeHeader string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, f.srv.URL+path, nil)
	require.NoError(t, err)
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, false)
	resp, body := f.get(t, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, body)
}

func TestContentFull(t *testing.T) {
	f := newFixture(t, false)
	resp, body := f.get(t, "/api/v1/files/v1/content", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, videoBytes, body)
	assert.Equal(t, "video/mp4", resp.Header.Get("Content-Type"))
	assert.Equal(t, "bytes", resp.Header.Get("Accept-Ranges"))
}

func TestContentRanges(t *testing.T) {
	f := newFixture(t, false)
	cases := []struct {
		header       string
		body         string
		contentRange string
	}{
		{"bytes=0-4", "01234", "bytes 0-4/36"},
		{"bytes=10-", videoBytes[10:], "bytes 10-35/36"},
		{"bytes=-6", "uvwxyz", "bytes 30-35/36"},
		{"bytes=30-999", "uvwxyz", "bytes 30-35/36"},
	}
	for _, c := range cases {
		resp, body := f.get(t, "/api/v1/files/v1/content", c.header)
		assert.Equal(t, http.StatusPartialContent, resp.StatusCode, c.header)
		assert.Equal(t, c.body, body, c.header)
		assert.Equal(t, c.contentRange, resp.Header.Get("Content-Range"), c.header)
	}
}

func TestContentUnsatisfiableRange(t *testing.T) {
	f := newFixture(t, false)
	resp, _ := f.get(t, "/api/v1/files/v1/content", "bytes=36-40")
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, resp.StatusCode)
	assert.Equal(t, "bytes */36", resp.Header.Get("Content-Range"))

	resp, _ = f.get(t, "/api/v1/files/e1/content", "bytes=-5")
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, resp.StatusCode)
}

func TestContentEmptyFile(t *testing.T) {
	f := newFixture(t, false)
	resp, body := f.get(t, "/api/v1/files/e1/content", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body)
}

func TestContentNotFound(t *testing.T) {
	f := newFixture(t, false)

	resp, _ := f.get(t, "/api/v1/files/nope/content", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Metadata exists but the object is gone.
	resp, _ = f.get(t, "/api/v1/files/l1/content", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestThumbnail(t *testing.T) {
	f := newFixture(t, false)

	resp, body := f.get(t, "/api/v1/files/v1/thumbnail", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "jpeg", body)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))

	resp, _ = f.get(t, "/api/v1/files/e1/thumbnail", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestThumbnailAfterCachedLookup(t *testing.T) {
	f := newFixture(t, true)

	resp, _ := f.get(t, "/api/v1/files/l1/thumbnail", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// The worker stores the thumbnail and flags the file while the cached
	// descriptor still says it has none.
	require.True(t, f.objects.Save(context.Background(), "u1/thumbnails/l1.jpg", []byte("thumb")))
	f.files.update("l1", func(file *files.File) { file.HasThumbnail = true })

	resp, body := f.get(t, "/api/v1/files/l1/thumbnail", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "thumb", body)
	assert.Equal(t, 1, f.files.callCount())
}

func TestFileMetadata(t *testing.T) {
	f := newFixture(t, false)
	resp, body := f.get(t, "/api/v1/files/v1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got files.File
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	assert.Equal(t, "video/mp4", got.MimeType)
	assert.True(t, got.HasThumbnail)
}

func TestLookupUsesCacheWhenLive(t *testing.T) {
	f := newFixture(t, true)
	for i := 0; i < 3; i++ {
		resp, _ := f.get(t, "/api/v1/files/v1", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
	assert.Equal(t, 1, f.files.callCount())

	// Missing files are never cached.
	for i := 0; i < 2; i++ {
		f.get(t, "/api/v1/files/nope", "")
	}
	assert.Equal(t, 3, f.files.callCount())
}

func TestLookupWithoutLiveCacheAlwaysFetches(t *testing.T) {
	f := newFixture(t, false)
	f.get(t, "/api/v1/files/v1", "")
	f.get(t, "/api/v1/files/v1", "")
	assert.Equal(t, 2, f.files.callCount())
}

func TestLookupError(t *testing.T) {
	f := newFixture(t, false)
	f.files.fail(errors.New("db down"))
	resp, _ := f.get(t, "/api/v1/files/v1", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestStats(t *testing.T) {
	f := newFixture(t, true)
	f.get(t, "/api/v1/files/v1", "")
	f.get(t, "/api/v1/files/v1", "")

	resp, body := f.get(t, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats StatsResponse
	require.NoError(t, json.Unmarshal([]byte(body), &stats))
	require.Contains(t, stats.Caches, "files")
	assert.Equal(t, 1, stats.Caches["files"].Keys)
	assert.Equal(t, int64(1), stats.Caches["files"].Hits)
	require.Len(t, stats.Queues, 1)
	assert.Equal(t, "thumbnails", stats.Queues[0].Name)
	assert.Equal(t, 3, stats.Queues[0].Pending)
}
