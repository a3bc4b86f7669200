package executor

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSQLiteFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec("CREATE TABLE data (id INTEGER); INSERT INTO data VALUES (1), (2)")
	require.NoError(t, err)
	return path
}

func TestConnectionPoolReusesHandles(t *testing.T) {
	dir := t.TempDir()
	path := writeSQLiteFile(t, dir, "a.db")

	pool := NewConnectionPool(PoolConfig{})
	defer pool.Close()

	ctx := context.Background()
	db1, err := pool.Get(ctx, path)
	require.NoError(t, err)
	db2, err := pool.Get(ctx, path)
	require.NoError(t, err)
	assert.Same(t, db1, db2)

	var n int
	require.NoError(t, db1.QueryRowContext(ctx, "SELECT COUNT(*) FROM data").Scan(&n))
	assert.Equal(t, 2, n)

	// Handles are read-only.
	_, err = db1.ExecContext(ctx, "INSERT INTO data VALUES (3)")
	assert.Error(t, err)

	assert.Equal(t, PoolStats{OpenFiles: 1, ActiveFiles: 1}, pool.Stats())
	assert.Error(t, pool.Evict(path))

	pool.Release(path)
	pool.Release(path)
	assert.Equal(t, PoolStats{OpenFiles: 1, IdleFiles: 1}, pool.Stats())
	require.NoError(t, pool.Evict(path))
	assert.Equal(t, PoolStats{}, pool.Stats())
}

func TestConnectionPoolEvictsIdleWhenFull(t *testing.T) {
	dir := t.TempDir()
	a := writeSQLiteFile(t, dir, "a.db")
	b := writeSQLiteFile(t, dir, "b.db")

	pool := NewConnectionPool(PoolConfig{MaxFiles: 1})
	defer pool.Close()

	ctx := context.Background()
	_, err := pool.Get(ctx, a)
	require.NoError(t, err)

	_, err = pool.Get(ctx, b)
	assert.Error(t, err, "a is still referenced")

	pool.Release(a)
	_, err = pool.Get(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, 1, pool.Stats().OpenFiles)
}

func TestConnectionPoolMissingFile(t *testing.T) {
	pool := NewConnectionPool(PoolConfig{})
	defer pool.Close()

	_, err := pool.Get(context.Background(), filepath.Join(t.TempDir(), "missing.db"))
	assert.Error(t, err)
	assert.Equal(t, 0, pool.Stats().OpenFiles)
}

func TestConnectionPoolClosed(t *testing.T) {
	pool := NewConnectionPool(PoolConfig{})
	require.NoError(t, pool.Close())
	require.NoError(t, pool.Close())

	_, err := pool.Get(context.Background(), "x.db")
	assert.Error(t, err)
}

func TestConnectionPoolReapsIdleHandles(t *testing.T) {
	dir := t.TempDir()
	a := writeSQLiteFile(t, dir, "a.db")
	b := writeSQLiteFile(t, dir, "b.db")

	pool := NewConnectionPool(PoolConfig{IdleTimeout: time.Minute})
	defer pool.Close()

	ctx := context.Background()
	_, err := pool.Get(ctx, a)
	require.NoError(t, err)
	_, err = pool.Get(ctx, b)
	require.NoError(t, err)
	pool.Release(a)

	pool.reap(time.Now().Add(2 * time.Minute))
	assert.Equal(t, PoolStats{OpenFiles: 1, ActiveFiles: 1}, pool.Stats(), "only the idle handle is reaped")

	pool.Release(b)
	pool.reap(time.Now())
	assert.Equal(t, PoolStats{OpenFiles: 1, IdleFiles: 1}, pool.Stats(), "recently released handles survive")
}
