package local

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBackend(t *testing.T) (*LocalBackend, string) {
	t.Helper()
	root := t.TempDir()
	b, err := New(Config{RootPath: root, CreateDirs: true})
	require.NoError(t, err)
	return b, root
}

func TestNewRequiresRoot(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
	_, err = New(Config{RootPath: file})
	assert.Error(t, err)
}

func TestNewFromJSON(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "root")
	b, err := NewFromJSON([]byte(`{"root_path":"` + filepath.ToSlash(root) + `","create_dirs":true}`))
	require.NoError(t, err)
	assert.Equal(t, "local", b.Type())

	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestKeysStayInsideRoot(t *testing.T) {
	b, root := newBackend(t)
	ctx := context.Background()

	for _, key := range []string{"../escape.txt", "a/../../escape.txt", "/etc/../escape.txt"} {
		err := b.PutObject(ctx, key, strings.NewReader("x"), 1)
		require.NoError(t, err, key)
	}

	_, err := os.Stat(filepath.Join(filepath.Dir(root), "escape.txt"))
	assert.True(t, errors.Is(err, fs.ErrNotExist), "write escaped the root")

	_, err = os.Stat(filepath.Join(root, "escape.txt"))
	assert.NoError(t, err)

	for _, key := range []string{"", "/", ".."} {
		assert.Error(t, b.PutObject(ctx, key, strings.NewReader("x"), 1), "key %q", key)
	}
}

func TestPutObjectShortBody(t *testing.T) {
	b, root := newBackend(t)
	err := b.PutObject(context.Background(), "o/short.bin", strings.NewReader("abc"), 10)
	assert.Error(t, err)

	_, statErr := os.Stat(filepath.Join(root, "o", "short.bin"))
	assert.True(t, errors.Is(statErr, fs.ErrNotExist))

	entries, _ := os.ReadDir(filepath.Join(root, "o"))
	assert.Empty(t, entries, "temp file left behind")
}

func TestGetObjectRange(t *testing.T) {
	b, _ := newBackend(t)
	ctx := context.Background()
	data := []byte("abcdefghij")
	require.NoError(t, b.PutObject(ctx, "o/f.txt", bytes.NewReader(data), int64(len(data))))

	rc, n, err := b.GetObject(ctx, "o/f.txt", 2, 3)
	require.NoError(t, err)
	got, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, int64(3), n)
	assert.Equal(t, "cde", string(got))

	rc, n, err = b.GetObject(ctx, "o/f.txt", 8, 100)
	require.NoError(t, err)
	got, _ = io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, int64(2), n)
	assert.Equal(t, "ij", string(got))
}

func TestMissingObjects(t *testing.T) {
	b, _ := newBackend(t)
	ctx := context.Background()

	_, _, err := b.GetObject(ctx, "o/none", 0, 0)
	assert.ErrorIs(t, err, fs.ErrNotExist)

	_, err = b.StatObject(ctx, "o/none")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	assert.NoError(t, b.DeleteObject(ctx, "o/none"))

	err = b.RenameObject(ctx, "o/none", "o/other")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	// Directories are not objects.
	require.NoError(t, b.PutObject(ctx, "dir/child", strings.NewReader("x"), 1))
	_, _, err = b.GetObject(ctx, "dir", 0, 0)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestRenameCreatesParents(t *testing.T) {
	b, root := newBackend(t)
	ctx := context.Background()
	require.NoError(t, b.PutObject(ctx, "o/a.png", strings.NewReader("png"), 3))

	require.NoError(t, b.RenameObject(ctx, "o/a.png", "o/thumbnails/a.png"))

	data, err := os.ReadFile(filepath.Join(root, "o", "thumbnails", "a.png"))
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))
}
