package executor

import (
	"context"
	"sort"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/arkilian/compactor/internal/errors"
)

func mergeOnReadSession(t *testing.T, batchSize int) *SessionContext {
	t.Helper()
	s := NewSessionContext(SessionConfig{BatchSize: batchSize})

	data := &memTable{
		schema: arrow.NewSchema([]arrow.Field{
			{Name: "id", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
			{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
			{Name: "sys_hidden_seq_num", Type: arrow.PrimitiveTypes.Int64},
			{Name: "sys_hidden_file_path", Type: arrow.BinaryTypes.String},
			{Name: "sys_hidden_pos", Type: arrow.PrimitiveTypes.Int64},
		}, nil),
		rows: [][]interface{}{
			{int64(1), "a", int64(1), "f1", int64(0)},
			{int64(2), "b", int64(1), "f1", int64(1)},
			{int64(3), "c", int64(1), "f1", int64(2)},
			{int64(4), "d", int64(3), "f2", int64(0)},
			{nil, "e", int64(1), "f2", int64(1)},
		},
	}
	posDeletes := &memTable{
		schema: arrow.NewSchema([]arrow.Field{
			{Name: "sys_hidden_file_path", Type: arrow.BinaryTypes.String, Nullable: true},
			{Name: "sys_hidden_pos", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		}, nil),
		rows: [][]interface{}{{"f1", int64(1)}},
	}
	eqDeletes := &memTable{
		schema: arrow.NewSchema([]arrow.Field{
			{Name: "id", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
			{Name: "sys_hidden_seq_num", Type: arrow.PrimitiveTypes.Int64},
		}, nil),
		rows: [][]interface{}{
			{int64(3), int64(2)}, // deletes id 3 written at seq 1
			{int64(4), int64(2)}, // id 4 was rewritten at seq 3 and survives
			{nil, int64(9)},      // NULL keys never match
		},
	}

	require.NoError(t, s.RegisterTable("data_file_table", data))
	require.NoError(t, s.RegisterTable("position_delete_table", posDeletes))
	require.NoError(t, s.RegisterTable("equality_delete_table_0", eqDeletes))
	return s
}

const mergeOnReadSQL = "SELECT id,name FROM data_file_table" +
	" LEFT ANTI JOIN position_delete_table ON data_file_table.sys_hidden_file_path = position_delete_table.sys_hidden_file_path AND data_file_table.sys_hidden_pos = position_delete_table.sys_hidden_pos" +
	" LEFT ANTI JOIN equality_delete_table_0 ON data_file_table.id = equality_delete_table_0.id AND data_file_table.sys_hidden_seq_num < equality_delete_table_0.sys_hidden_seq_num"

func TestSessionMergeOnRead(t *testing.T) {
	ctx := context.Background()
	s := mergeOnReadSession(t, 0)

	plan, err := s.PhysicalPlan(ctx, mergeOnReadSQL)
	require.NoError(t, err)
	assert.Equal(t, 1, plan.OutputPartitioning().PartitionCount())
	assert.Contains(t, DisplayPlan(plan), "SQLiteExec")

	stream, err := plan.Execute(ctx, 0, s.TaskContext())
	require.NoError(t, err)
	recs, err := Collect(ctx, stream)
	require.NoError(t, err)
	defer releaseAll(recs)

	rows := rowsOf(t, recs)
	sort.Slice(rows, func(i, j int) bool { return rows[i][1].(string) < rows[j][1].(string) })
	assert.Equal(t, [][]interface{}{
		{int64(1), "a"},
		{int64(4), "d"},
		{nil, "e"},
	}, rows)
}

func TestSessionBatchesRespectBatchSize(t *testing.T) {
	ctx := context.Background()
	s := mergeOnReadSession(t, 2)

	plan, err := s.PhysicalPlan(ctx, "SELECT id FROM data_file_table")
	require.NoError(t, err)
	stream, err := plan.Execute(ctx, 0, s.TaskContext())
	require.NoError(t, err)
	recs, err := Collect(ctx, stream)
	require.NoError(t, err)
	defer releaseAll(recs)

	require.Len(t, recs, 3)
	for _, r := range recs {
		assert.LessOrEqual(t, r.NumRows(), int64(2))
	}
}

func TestSessionRegisterTable(t *testing.T) {
	s := NewSessionContext(SessionConfig{})
	tbl := &memTable{schema: int64Schema("v")}

	require.NoError(t, s.RegisterTable("t", tbl))
	err := s.RegisterTable("t", tbl)
	require.Error(t, err)
	assert.Equal(t, cerrors.CodeRegistrationFailed, cerrors.GetCode(err))

	assert.Error(t, s.RegisterTable("", tbl))
	assert.Error(t, s.RegisterTable("u", nil))
	assert.Equal(t, []string{"t"}, s.TableNames())

	schema, ok := s.TableSchema("t")
	require.True(t, ok)
	assert.Equal(t, "v", schema.Field(0).Name)
	_, ok = s.TableSchema("missing")
	assert.False(t, ok)
}

func TestSessionPlanningErrors(t *testing.T) {
	ctx := context.Background()
	s := mergeOnReadSession(t, 0)

	for _, q := range []string{
		"SELECT id FROM missing_table",
		"SELECT nope FROM data_file_table",
		"SELEC id FROM data_file_table",
	} {
		_, err := s.PhysicalPlan(ctx, q)
		require.Error(t, err, q)
		assert.Equal(t, cerrors.CodePlanningFailed, cerrors.GetCode(err), q)
	}
}

func TestSQLiteExecRejectsBadPartition(t *testing.T) {
	ctx := context.Background()
	s := mergeOnReadSession(t, 0)
	plan, err := s.PhysicalPlan(ctx, "SELECT id FROM data_file_table")
	require.NoError(t, err)

	_, err = plan.Execute(ctx, 1, s.TaskContext())
	assert.Error(t, err)
}

func TestExecuteStreamPartitionedClosesOnFailure(t *testing.T) {
	schema := int64Schema("v")
	plan := &fixedPlan{
		schema:     schema,
		partitions: [][]arrow.Record{nil, nil, nil},
		failAt:     2,
		err:        cerrors.NewEngineError(cerrors.CodeExecutionFailed, "boom", nil),
	}

	_, err := ExecuteStreamPartitioned(context.Background(), plan, nil)
	require.Error(t, err)

	plan.err = nil
	streams, err := ExecuteStreamPartitioned(context.Background(), plan, nil)
	require.NoError(t, err)
	assert.Len(t, streams, 3)
	for _, s := range streams {
		require.NoError(t, s.Close())
	}
}
