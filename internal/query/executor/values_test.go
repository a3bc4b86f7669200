package executor

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteType(t *testing.T) {
	cases := []struct {
		dt   arrow.DataType
		want string
	}{
		{arrow.FixedWidthTypes.Boolean, "INTEGER"},
		{arrow.PrimitiveTypes.Int32, "INTEGER"},
		{arrow.PrimitiveTypes.Int64, "INTEGER"},
		{arrow.FixedWidthTypes.Date32, "INTEGER"},
		{arrow.FixedWidthTypes.Timestamp_us, "INTEGER"},
		{arrow.PrimitiveTypes.Float32, "REAL"},
		{arrow.PrimitiveTypes.Float64, "REAL"},
		{arrow.BinaryTypes.String, "TEXT"},
		{arrow.BinaryTypes.Binary, "BLOB"},
	}
	for _, c := range cases {
		got, err := SQLiteType(c.dt)
		require.NoError(t, err, c.dt.String())
		assert.Equal(t, c.want, got, c.dt.String())
	}

	_, err := SQLiteType(arrow.ListOf(arrow.PrimitiveTypes.Int64))
	assert.Error(t, err)
}

func TestValueRoundTrip(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "b", Type: arrow.FixedWidthTypes.Boolean, Nullable: true},
		{Name: "i", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
		{Name: "l", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "f", Type: arrow.PrimitiveTypes.Float32, Nullable: true},
		{Name: "d", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "dt", Type: arrow.FixedWidthTypes.Date32, Nullable: true},
		{Name: "ts", Type: arrow.FixedWidthTypes.Timestamp_us, Nullable: true},
		{Name: "s", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "bin", Type: arrow.BinaryTypes.Binary, Nullable: true},
	}, nil)

	rows := [][]interface{}{
		{true, int64(7), int64(-3), 1.5, 2.25, int64(19000), int64(1700000000000000), "x", []byte{1, 2}},
		{nil, nil, nil, nil, nil, nil, nil, nil, nil},
		{int64(0), int64(1), int64(2), int64(3), int64(4), int64(5), int64(6), []byte("y"), "z"},
	}
	rec := mustRecord(t, schema, rows...)
	defer rec.Release()

	got := rowsOf(t, []arrow.Record{rec})
	assert.Equal(t, []interface{}{int64(1), int64(7), int64(-3), 1.5, 2.25, int64(19000), int64(1700000000000000), "x", []byte{1, 2}}, got[0])
	assert.Equal(t, []interface{}{nil, nil, nil, nil, nil, nil, nil, nil, nil}, got[1])
	assert.Equal(t, []interface{}{int64(0), int64(1), int64(2), 3.0, 4.0, int64(5), int64(6), "y", []byte("z")}, got[2])
}

func TestAppendValueRejectsMismatch(t *testing.T) {
	b := array.NewInt64Builder(memory.DefaultAllocator)
	defer b.Release()
	assert.Error(t, AppendValue(b, "nope"))

	sb := array.NewStringBuilder(memory.DefaultAllocator)
	defer sb.Release()
	assert.Error(t, AppendValue(sb, int64(1)))
}
