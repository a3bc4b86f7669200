package compaction

import (
	"context"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/arkilian/compactor/internal/errors"
	"github.com/arkilian/compactor/internal/query/executor"
)

func idNameRecord(t *testing.T, schema *arrow.Schema, ids ...int64) arrow.Record {
	t.Helper()
	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()
	for _, id := range ids {
		b.Field(0).(*array.Int64Builder).Append(id)
		b.Field(1).(*array.StringBuilder).Append("n")
	}
	return b.NewRecord()
}

var idNameSchema = arrow.NewSchema([]arrow.Field{
	{Name: "id", Type: arrow.PrimitiveTypes.Int64},
	{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
}, nil)

func TestDrainCountsRows(t *testing.T) {
	streams := []executor.RecordBatchStream{
		executor.NewMemoryStream(idNameSchema, idNameRecord(t, idNameSchema, 1, 2), idNameRecord(t, idNameSchema, 3)),
		executor.NewMemoryStream(idNameSchema),
		executor.NewMemoryStream(idNameSchema, idNameRecord(t, idNameSchema, 4)),
	}

	summary, err := Drain(context.Background(), streams, baseSchema(t))
	require.NoError(t, err)
	assert.Equal(t, int64(4), summary.TotalRows)
	assert.Equal(t, []PartitionSummary{
		{Partition: 0, Rows: 3, Batches: 2},
		{Partition: 1},
		{Partition: 2, Rows: 1, Batches: 1},
	}, summary.Partitions)
}

func TestForEachBatchVisitsRows(t *testing.T) {
	streams := []executor.RecordBatchStream{
		executor.NewMemoryStream(idNameSchema, idNameRecord(t, idNameSchema, 7)),
	}

	var seen []int64
	_, err := ForEachBatch(context.Background(), streams, baseSchema(t), func(partition int, rec arrow.Record) error {
		ids := rec.Column(0).(*array.Int64)
		for i := 0; i < ids.Len(); i++ {
			seen = append(seen, ids.Value(i))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, seen)
}

func TestDrainRejectsHiddenColumns(t *testing.T) {
	leaky := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "sys_hidden_seq_num", Type: arrow.BinaryTypes.String},
	}, nil)
	streams := []executor.RecordBatchStream{
		executor.NewMemoryStream(leaky, idNameRecord(t, leaky, 1)),
		executor.NewMemoryStream(idNameSchema, idNameRecord(t, idNameSchema, 2)),
	}

	_, err := Drain(context.Background(), streams, baseSchema(t))
	require.Error(t, err)
	assert.Equal(t, cerrors.ErrCategoryInternal, cerrors.GetCategory(err))
}
