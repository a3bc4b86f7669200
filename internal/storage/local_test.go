package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/arkilian/compactor/internal/errors"
)

func TestLocalStorage_UploadStatDownload(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "src.db")
	require.NoError(t, os.WriteFile(src, []byte("hello world"), 0644))
	require.NoError(t, store.Upload(ctx, src, "data/part-0.db"))

	info, err := store.Stat(ctx, "data/part-0.db")
	require.NoError(t, err)
	assert.Equal(t, "data/part-0.db", info.Path)
	assert.Equal(t, int64(11), info.Size)

	dst := filepath.Join(t.TempDir(), "nested", "out.db")
	require.NoError(t, store.Download(ctx, "data/part-0.db", dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestLocalStorage_NotFound(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Stat(ctx, "missing.db")
	assert.True(t, IsNotFound(err))

	err = store.Download(ctx, "missing.db", filepath.Join(t.TempDir(), "x"))
	assert.True(t, IsNotFound(err))
	assert.False(t, cerrors.IsRetryable(err))

	// Directories are not objects.
	require.NoError(t, os.MkdirAll(filepath.Join(store.Root(), "dir"), 0755))
	_, err = store.Stat(ctx, "dir")
	assert.True(t, IsNotFound(err))
}

func TestLocalStorage_RejectsEscapingPaths(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = store.Stat(context.Background(), "../outside.db")
	require.Error(t, err)
	assert.Equal(t, cerrors.CodeInvalidJob, cerrors.GetCode(err))
}

func TestLocalStorage_CanceledContext(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = store.Stat(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, store.Upload(ctx, "src", "x"), context.Canceled)
}
