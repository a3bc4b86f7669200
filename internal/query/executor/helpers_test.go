package executor

import (
	"context"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/require"
)

// memTable serves fixed rows, one batch per Scan.
type memTable struct {
	schema *arrow.Schema
	rows   [][]interface{}
	scans  int
}

func (m *memTable) Schema() *arrow.Schema {
	return m.schema
}

func (m *memTable) Scan(ctx context.Context, taskCtx *TaskContext) (RecordBatchStream, error) {
	m.scans++
	rec, err := buildRecord(m.schema, m.rows)
	if err != nil {
		return nil, err
	}
	return NewMemoryStream(m.schema, rec), nil
}

func buildRecord(schema *arrow.Schema, rows [][]interface{}) (arrow.Record, error) {
	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()
	for _, row := range rows {
		for i, v := range row {
			if err := AppendValue(b.Field(i), v); err != nil {
				return nil, err
			}
		}
	}
	return b.NewRecord(), nil
}

func mustRecord(t *testing.T, schema *arrow.Schema, rows ...[]interface{}) arrow.Record {
	t.Helper()
	rec, err := buildRecord(schema, rows)
	require.NoError(t, err)
	return rec
}

// rowsOf flattens records into rows of ValueAt values.
func rowsOf(t *testing.T, recs []arrow.Record) [][]interface{} {
	t.Helper()
	var out [][]interface{}
	for _, rec := range recs {
		for r := 0; r < int(rec.NumRows()); r++ {
			row := make([]interface{}, rec.NumCols())
			for c := range row {
				v, err := ValueAt(rec.Column(c), r)
				require.NoError(t, err)
				row[c] = v
			}
			out = append(out, row)
		}
	}
	return out
}

func releaseAll(recs []arrow.Record) {
	for _, r := range recs {
		r.Release()
	}
}

func int64Schema(names ...string) *arrow.Schema {
	fields := make([]arrow.Field, len(names))
	for i, n := range names {
		fields[i] = arrow.Field{Name: n, Type: arrow.PrimitiveTypes.Int64, Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}

// fixedPlan is a leaf plan with one memory stream per partition.
type fixedPlan struct {
	schema     *arrow.Schema
	partitions [][]arrow.Record
	failAt     int
	err        error
}

func (p *fixedPlan) Schema() *arrow.Schema { return p.schema }

func (p *fixedPlan) OutputPartitioning() Partitioning {
	return UnknownPartitioning(len(p.partitions))
}

func (p *fixedPlan) Execute(ctx context.Context, partition int, taskCtx *TaskContext) (RecordBatchStream, error) {
	if p.err != nil && partition == p.failAt {
		return nil, p.err
	}
	recs := p.partitions[partition]
	for _, r := range recs {
		r.Retain()
	}
	return NewMemoryStream(p.schema, recs...), nil
}

func (p *fixedPlan) Children() []ExecutionPlan { return nil }

func (p *fixedPlan) String() string { return "FixedPlan" }
