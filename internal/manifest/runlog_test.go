package manifest

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkilian/compactor/internal/compaction"
)

func newTestRunLog(t *testing.T) *RunLog {
	t.Helper()
	l, err := NewRunLog(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	base := time.Unix(1_700_000_000, 0)
	tick := 0
	l.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return l
}

func TestRunLog_Succeeded(t *testing.T) {
	l := newTestRunLog(t)
	ctx := context.Background()

	runID, err := l.Begin(ctx, "orders", "SELECT id FROM data_file_table")
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	rec, err := l.Get(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, RunRunning, rec.Status)
	assert.Nil(t, rec.FinishedAt)
	assert.Nil(t, rec.Summary)

	summary := &compaction.OutputSummary{
		Partitions: []compaction.PartitionSummary{
			{Partition: 0, Rows: 3, Batches: 1},
			{Partition: 1, Rows: 2, Batches: 2},
		},
		TotalRows: 5,
	}
	require.NoError(t, l.Finish(ctx, runID, summary, nil))

	rec, err = l.Get(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, RunSucceeded, rec.Status)
	assert.Equal(t, "orders", rec.JobName)
	assert.Equal(t, "SELECT id FROM data_file_table", rec.SQL)
	assert.Equal(t, 2, rec.Partitions)
	assert.Equal(t, int64(5), rec.TotalRows)
	assert.Empty(t, rec.Error)
	require.NotNil(t, rec.FinishedAt)
	assert.True(t, rec.FinishedAt.After(rec.StartedAt))
	assert.Equal(t, summary, rec.Summary)
}

func TestRunLog_Failed(t *testing.T) {
	l := newTestRunLog(t)
	ctx := context.Background()

	runID, err := l.Begin(ctx, "orders", "q")
	require.NoError(t, err)
	require.NoError(t, l.Finish(ctx, runID, nil, errors.New("scan failed")))

	rec, err := l.Get(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, RunFailed, rec.Status)
	assert.Equal(t, "scan failed", rec.Error)
	assert.Zero(t, rec.TotalRows)

	// A finished run cannot be finished again.
	err = l.Finish(ctx, runID, nil, nil)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestRunLog_NotFound(t *testing.T) {
	l := newTestRunLog(t)
	ctx := context.Background()

	_, err := l.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)

	err = l.Finish(ctx, "missing", nil, nil)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestRunLog_List(t *testing.T) {
	l := newTestRunLog(t)
	ctx := context.Background()

	var ids []string
	for _, name := range []string{"a", "b", "c"} {
		id, err := l.Begin(ctx, name, "q")
		require.NoError(t, err)
		ids = append(ids, id)
	}

	all, err := l.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].RunID)
	assert.Equal(t, ids[0], all[2].RunID)

	latest, err := l.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "c", latest[0].JobName)
	assert.Equal(t, "b", latest[1].JobName)
}

func TestRunLog_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	ctx := context.Background()

	l, err := NewRunLog(path)
	require.NoError(t, err)
	runID, err := l.Begin(ctx, "orders", "q")
	require.NoError(t, err)
	require.NoError(t, l.Close())

	l, err = NewRunLog(path)
	require.NoError(t, err)
	defer l.Close()

	rec, err := l.Get(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, "orders", rec.JobName)
}
