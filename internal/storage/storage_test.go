package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClippyCDN/clippy/internal/storage/local"
)

// memDriver is an in-memory Driver without atomic rename, standing in for an
// object store. Setting fail makes the named operation return an error.
type memDriver struct {
	mu      sync.Mutex
	objects map[string][]byte
	fail    map[string]error
}

func newMemDriver() *memDriver {
	return &memDriver{objects: make(map[string][]byte), fail: make(map[string]error)}
}

func (m *memDriver) GetObject(_ context.Context, key string, offset, length int64) (io.ReadCloser, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail["get"]; err != nil {
		return nil, 0, err
	}
	data, ok := m.objects[key]
	if !ok {
		return nil, 0, fmt.Errorf("get %s: %w", key, ErrNotFound)
	}
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	data = data[offset:]
	if length > 0 && length < int64(len(data)) {
		data = data[:length]
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (m *memDriver) PutObject(_ context.Context, key string, body io.Reader, size int64) error {
	if err := m.fail["put"]; err != nil {
		return err
	}
	data, err := io.ReadAll(io.LimitReader(body, size))
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.objects[key] = data
	m.mu.Unlock()
	return nil
}

func (m *memDriver) DeleteObject(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail["delete"]; err != nil {
		return err
	}
	delete(m.objects, key)
	return nil
}

func (m *memDriver) CopyObject(_ context.Context, srcKey, dstKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail["copy"]; err != nil {
		return err
	}
	data, ok := m.objects[srcKey]
	if !ok {
		return fmt.Errorf("copy %s: %w", srcKey, ErrNotFound)
	}
	m.objects[dstKey] = append([]byte(nil), data...)
	return nil
}

func (m *memDriver) StatObject(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return 0, ErrNotFound
	}
	return int64(len(data)), nil
}

func (m *memDriver) Type() string { return "mem" }
func (m *memDriver) Close() error { return nil }

func backends(t *testing.T) map[string]*Storage {
	t.Helper()
	lb, err := local.New(local.Config{RootPath: t.TempDir(), CreateDirs: true})
	require.NoError(t, err)
	return map[string]*Storage{
		"local":       NewStorage(lb),
		"objectstore": NewStorage(newMemDriver()),
	}
}

func TestSaveThenGetBuffer(t *testing.T) {
	ctx := context.Background()
	payloads := [][]byte{
		[]byte("hello world"),
		{},
		bytes.Repeat([]byte{0x00, 0xff, 0x7f}, 4096),
	}

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for i, data := range payloads {
				key := fmt.Sprintf("owner1/file%d.bin", i)
				require.True(t, s.Save(ctx, key, data))

				got := s.GetBuffer(ctx, key)
				require.NotNil(t, got, "empty objects must not look missing")
				assert.True(t, bytes.Equal(data, got), "payload %d differs", i)
			}
		})
	}
}

func TestSaveStreamRequiresSize(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			assert.False(t, s.SaveStream(ctx, "o/a.txt", bytes.NewReader([]byte("abc")), -1))
			assert.Nil(t, s.GetBuffer(ctx, "o/a.txt"))

			assert.True(t, s.SaveStream(ctx, "o/a.txt", bytes.NewReader([]byte("abc")), 3))
			assert.Equal(t, []byte("abc"), s.GetBuffer(ctx, "o/a.txt"))
		})
	}
}

func TestGetRangeStream(t *testing.T) {
	ctx := context.Background()
	data := []byte("0123456789abcdefghij")
	L := int64(len(data))

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.True(t, s.Save(ctx, "o/video.mp4", data))

			cases := []struct{ start, end int64 }{
				{0, 0}, {0, 4}, {3, 9}, {L - 1, L - 1}, {0, L - 1}, {10, 15},
			}
			for _, c := range cases {
				rc := s.GetRangeStream(ctx, "o/video.mp4", c.start, c.end)
				require.NotNil(t, rc, "range %d-%d", c.start, c.end)
				got, err := io.ReadAll(rc)
				rc.Close()
				require.NoError(t, err)
				assert.Len(t, got, int(c.end-c.start+1))
				assert.Equal(t, data[c.start:c.end+1], got)
			}

			// An end past the object is clamped to its length.
			rc := s.GetRangeStream(ctx, "o/video.mp4", 15, 1000)
			require.NotNil(t, rc)
			got, _ := io.ReadAll(rc)
			rc.Close()
			assert.Equal(t, data[15:], got)

			assert.Nil(t, s.GetRangeStream(ctx, "o/video.mp4", 5, 4))
			assert.Nil(t, s.GetRangeStream(ctx, "o/video.mp4", -1, 4))
			assert.Nil(t, s.GetRangeStream(ctx, "o/missing.mp4", 0, 4))
		})
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.True(t, s.Save(ctx, "o/gone.png", []byte("png")))

			assert.True(t, s.Delete(ctx, "o/gone.png"))
			assert.Nil(t, s.GetBuffer(ctx, "o/gone.png"))
			assert.Nil(t, s.GetStream(ctx, "o/gone.png"))
			assert.False(t, s.Exists(ctx, "o/gone.png"))

			assert.True(t, s.Delete(ctx, "o/gone.png"))
		})
	}
}

func TestGetStream(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.True(t, s.Save(ctx, "o/doc.txt", []byte("streamed")))
			rc := s.GetStream(ctx, "o/doc.txt")
			require.NotNil(t, rc)
			defer rc.Close()
			got, err := io.ReadAll(rc)
			require.NoError(t, err)
			assert.Equal(t, "streamed", string(got))

			size, ok := s.Size(ctx, "o/doc.txt")
			assert.True(t, ok)
			assert.Equal(t, int64(8), size)
		})
	}
}

func TestRename(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.True(t, s.Save(ctx, "o/old.gif", []byte("gif")))

			require.True(t, s.Rename(ctx, "o/old.gif", "o/new.gif"))
			assert.Nil(t, s.GetBuffer(ctx, "o/old.gif"))
			assert.Equal(t, []byte("gif"), s.GetBuffer(ctx, "o/new.gif"))

			assert.False(t, s.Rename(ctx, "o/missing.gif", "o/other.gif"))
			assert.False(t, s.Exists(ctx, "o/other.gif"))
		})
	}
}

func TestRenameCopyThenDeleteFailures(t *testing.T) {
	ctx := context.Background()
	m := newMemDriver()
	s := NewStorage(m)
	require.True(t, s.Save(ctx, "o/a.jpg", []byte("jpg")))

	// Copy fails: only the old object remains.
	m.fail["copy"] = errors.New("network down")
	assert.False(t, s.Rename(ctx, "o/a.jpg", "o/b.jpg"))
	assert.True(t, s.Exists(ctx, "o/a.jpg"))
	assert.False(t, s.Exists(ctx, "o/b.jpg"))
	delete(m.fail, "copy")

	// Delete fails after copy: both objects are present.
	m.fail["delete"] = errors.New("network down")
	assert.False(t, s.Rename(ctx, "o/a.jpg", "o/b.jpg"))
	assert.True(t, s.Exists(ctx, "o/a.jpg"))
	assert.True(t, s.Exists(ctx, "o/b.jpg"))
}

func TestFaultsBecomeSentinels(t *testing.T) {
	ctx := context.Background()
	m := newMemDriver()
	s := NewStorage(m)

	m.fail["put"] = errors.New("timeout")
	m.fail["get"] = errors.New("timeout")
	m.fail["delete"] = errors.New("timeout")

	assert.False(t, s.Save(ctx, "o/x", []byte("x")))
	assert.Nil(t, s.GetBuffer(ctx, "o/x"))
	assert.Nil(t, s.GetStream(ctx, "o/x"))
	assert.Nil(t, s.GetRangeStream(ctx, "o/x", 0, 1))
	assert.False(t, s.Delete(ctx, "o/x"))
}

func TestNewDriverUnknownKind(t *testing.T) {
	_, err := NewDriver(context.Background(), Config{Kind: "tape"})
	assert.Error(t, err)

	_, err = NewDriver(context.Background(), Config{
		Kind:        KindObjectStore,
		ObjectStore: ObjectStoreConfig{Driver: "ftp"},
	})
	assert.Error(t, err)
}

func TestNewLocal(t *testing.T) {
	s, err := New(context.Background(), Config{Kind: KindLocal, LocalPath: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "local", s.Type())
	assert.NoError(t, s.Close())
}
