package compaction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/arkilian/compactor/internal/errors"
	"github.com/arkilian/compactor/pkg/types"
)

func equalityGroup(t *testing.T, name string, fields ...types.Field) *EqualityDeleteGroup {
	t.Helper()
	s, err := types.NewSchemaBuilder().WithFields(fields...).Build()
	require.NoError(t, err)
	return &EqualityDeleteGroup{Schema: s, TableName: name}
}

func TestBuildMergeOnReadSQLNoDeletes(t *testing.T) {
	sql, err := buildMergeOnReadSQL([]string{"id", "name"}, PositionDeleteTable, DataFileTable, nil, false)
	require.NoError(t, err)
	assert.Equal(t, "SELECT id,name FROM data_file_table", sql)
}

func TestBuildMergeOnReadSQLPositionDeletes(t *testing.T) {
	sql, err := buildMergeOnReadSQL([]string{"id", "name"}, PositionDeleteTable, DataFileTable, nil, true)
	require.NoError(t, err)
	assert.Equal(t, "SELECT id,name FROM data_file_table"+
		" LEFT ANTI JOIN position_delete_table ON data_file_table.sys_hidden_file_path = position_delete_table.sys_hidden_file_path"+
		" AND data_file_table.sys_hidden_pos = position_delete_table.sys_hidden_pos", sql)
	assert.NotContains(t, sql, types.SysHiddenSeqNum)
}

func TestBuildMergeOnReadSQLEqualityDeletes(t *testing.T) {
	g := equalityGroup(t, "equality_delete_table_0",
		types.NewRequiredField(1, "id", types.TypeLong),
		types.NewRequiredField(3, types.SysHiddenSeqNum, types.TypeLong),
	)
	sql, err := buildMergeOnReadSQL([]string{"id", "name"}, PositionDeleteTable, DataFileTable, []*EqualityDeleteGroup{g}, false)
	require.NoError(t, err)
	assert.Equal(t, "SELECT id,name FROM data_file_table"+
		" LEFT ANTI JOIN equality_delete_table_0 ON data_file_table.id = equality_delete_table_0.id"+
		" AND data_file_table.sys_hidden_seq_num < equality_delete_table_0.sys_hidden_seq_num", sql)
}

func TestBuildMergeOnReadSQLAllDeletes(t *testing.T) {
	g0 := equalityGroup(t, "equality_delete_table_0",
		types.NewRequiredField(1, "id", types.TypeLong),
		types.NewOptionalField(2, "name", types.TypeString),
		types.NewRequiredField(3, types.SysHiddenSeqNum, types.TypeLong),
	)
	g1 := equalityGroup(t, "equality_delete_table_1",
		types.NewOptionalField(2, "name", types.TypeString),
		types.NewRequiredField(4, types.SysHiddenSeqNum, types.TypeLong),
	)

	sql, err := buildMergeOnReadSQL([]string{"id", "name"}, PositionDeleteTable, DataFileTable, []*EqualityDeleteGroup{g0, g1}, true)
	require.NoError(t, err)

	want := "SELECT id,name FROM data_file_table" +
		" LEFT ANTI JOIN position_delete_table ON data_file_table.sys_hidden_file_path = position_delete_table.sys_hidden_file_path AND data_file_table.sys_hidden_pos = position_delete_table.sys_hidden_pos" +
		" LEFT ANTI JOIN equality_delete_table_0 ON data_file_table.id = equality_delete_table_0.id AND data_file_table.name = equality_delete_table_0.name AND data_file_table.sys_hidden_seq_num < equality_delete_table_0.sys_hidden_seq_num" +
		" LEFT ANTI JOIN equality_delete_table_1 ON data_file_table.name = equality_delete_table_1.name AND data_file_table.sys_hidden_seq_num < equality_delete_table_1.sys_hidden_seq_num"
	assert.Equal(t, want, sql)
}

func TestBuildMergeOnReadSQLMissingNames(t *testing.T) {
	_, err := buildMergeOnReadSQL([]string{"id"}, PositionDeleteTable, "", nil, false)
	require.Error(t, err)
	assert.Equal(t, cerrors.CodeMissingTableName, cerrors.GetCode(err))
	assert.Equal(t, cerrors.ErrCategoryConfiguration, cerrors.GetCategory(err))

	_, err = buildMergeOnReadSQL([]string{"id"}, "", DataFileTable, nil, true)
	require.Error(t, err)
	assert.Equal(t, cerrors.CodeMissingTableName, cerrors.GetCode(err))

	// Without position deletes the position table name is not needed.
	sql, err := buildMergeOnReadSQL([]string{"id"}, "", DataFileTable, nil, false)
	require.NoError(t, err)
	assert.Equal(t, "SELECT id FROM data_file_table", sql)
}
