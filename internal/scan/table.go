package scan

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"golang.org/x/sync/errgroup"

	cerrors "github.com/arkilian/compactor/internal/errors"
	"github.com/arkilian/compactor/internal/query/executor"
	"github.com/arkilian/compactor/internal/query/planner"
	"github.com/arkilian/compactor/pkg/types"
)

// DataTable is the table every scan file stores its rows in.
const DataTable = "data"

// Physical column names of position delete files.
const (
	PositionDeleteFilePathColumn = "file_path"
	PositionDeletePosColumn      = "pos"
)

// FileOpener resolves a task's file location to a local sqlite file. The
// file must stay in place until release is called.
type FileOpener interface {
	Open(ctx context.Context, location string) (localPath string, release func(), err error)
}

// Prefetcher is implemented by openers that can warm many locations at once.
type Prefetcher interface {
	Prefetch(ctx context.Context, locations []string, concurrency int) error
}

// Options controls how a FileScanTaskTable fills hidden columns.
type Options struct {
	// Name is used in log lines only.
	Name string

	// NeedSeqNum requires the schema to carry sys_hidden_seq_num.
	NeedSeqNum bool

	// NeedFilePathAndPos synthesizes sys_hidden_file_path and
	// sys_hidden_pos from the task. When false, fields with those names are
	// read from the file_path and pos columns of the file.
	NeedFilePathAndPos bool

	// BatchParallelism bounds the number of tasks scanned at once.
	BatchParallelism int
}

// columnSource says where a schema field's values come from.
type columnSource int

const (
	sourcePhysical columnSource = iota
	sourceSeqNum
	sourceFilePath
	sourcePos
)

// FileScanTaskTable is a table whose rows are the union of the rows covered
// by a list of file scan tasks.
type FileScanTaskTable struct {
	schema  *arrow.Schema
	tasks   []types.FileScanTask
	opener  FileOpener
	pool    *executor.ConnectionPool
	opts    Options
	sources []columnSource
	columns []string // physical columns in select order
	colIdx  []int    // field index -> position in columns, -1 if synthesized
}

// NewFileScanTaskTable creates a table over tasks with the given logical
// schema.
func NewFileScanTaskTable(schema *types.Schema, tasks []types.FileScanTask, opener FileOpener, pool *executor.ConnectionPool, opts Options) (*FileScanTaskTable, error) {
	arrowSchema, err := ToArrowSchema(schema)
	if err != nil {
		return nil, err
	}
	if opts.BatchParallelism <= 0 {
		opts.BatchParallelism = 1
	}

	t := &FileScanTaskTable{
		schema:  arrowSchema,
		tasks:   tasks,
		opener:  opener,
		pool:    pool,
		opts:    opts,
		sources: make([]columnSource, schema.Len()),
		colIdx:  make([]int, schema.Len()),
	}

	for i, f := range schema.Fields() {
		t.colIdx[i] = -1
		switch {
		case f.Name == types.SysHiddenSeqNum:
			t.sources[i] = sourceSeqNum
		case f.Name == types.SysHiddenFilePath && opts.NeedFilePathAndPos:
			t.sources[i] = sourceFilePath
		case f.Name == types.SysHiddenPos && opts.NeedFilePathAndPos:
			t.sources[i] = sourcePos
		default:
			t.sources[i] = sourcePhysical
			t.colIdx[i] = len(t.columns)
			t.columns = append(t.columns, physicalName(f.Name))
		}
	}

	if opts.NeedSeqNum {
		if _, ok := schema.FieldByName(types.SysHiddenSeqNum); !ok {
			return nil, cerrors.NewSchemaError(cerrors.CodeInvalidField,
				fmt.Sprintf("table %s needs %s", opts.Name, types.SysHiddenSeqNum), nil)
		}
	}
	if opts.NeedFilePathAndPos {
		_, hasPath := schema.FieldByName(types.SysHiddenFilePath)
		_, hasPos := schema.FieldByName(types.SysHiddenPos)
		if !hasPath || !hasPos {
			return nil, cerrors.NewSchemaError(cerrors.CodeInvalidField,
				fmt.Sprintf("table %s needs %s and %s", opts.Name, types.SysHiddenFilePath, types.SysHiddenPos), nil)
		}
	}

	return t, nil
}

// physicalName maps a field to the column that stores it in a file.
func physicalName(field string) string {
	switch field {
	case types.SysHiddenFilePath:
		return PositionDeleteFilePathColumn
	case types.SysHiddenPos:
		return PositionDeletePosColumn
	default:
		return field
	}
}

// Schema implements executor.TableProvider.
func (t *FileScanTaskTable) Schema() *arrow.Schema {
	return t.schema
}

// Tasks returns the tasks the table covers.
func (t *FileScanTaskTable) Tasks() []types.FileScanTask {
	return t.tasks
}

// Scan implements executor.TableProvider. Tasks are read concurrently, so
// batches of different tasks interleave.
func (t *FileScanTaskTable) Scan(ctx context.Context, taskCtx *executor.TaskContext) (executor.RecordBatchStream, error) {
	produce := func(ctx context.Context, emit func(arrow.Record) error) error {
		if p, ok := t.opener.(Prefetcher); ok && len(t.tasks) > 1 {
			locations := make([]string, len(t.tasks))
			for i, task := range t.tasks {
				locations[i] = task.DataFilePath
			}
			if err := p.Prefetch(ctx, locations, t.opts.BatchParallelism); err != nil {
				return err
			}
		}

		var rows atomic.Int64
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(t.opts.BatchParallelism)
		for _, task := range t.tasks {
			task := task
			g.Go(func() error {
				n, err := t.scanTask(gctx, task, taskCtx, emit)
				rows.Add(n)
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		log.Printf("scan: table=%s tasks=%d rows=%d", t.opts.Name, len(t.tasks), rows.Load())
		return nil
	}

	return executor.NewChannelStream(ctx, t.schema, t.opts.BatchParallelism, produce), nil
}

// scanTask reads the rows of one task split and emits them in batches.
func (t *FileScanTaskTable) scanTask(ctx context.Context, task types.FileScanTask, taskCtx *executor.TaskContext, emit func(arrow.Record) error) (int64, error) {
	local, release, err := t.opener.Open(ctx, task.DataFilePath)
	if err != nil {
		return 0, err
	}
	defer release()

	db, err := t.pool.Get(ctx, local)
	if err != nil {
		return 0, cerrors.NewEngineError(cerrors.CodeExecutionFailed,
			fmt.Sprintf("failed to open %s", task.DataFilePath), err)
	}
	defer t.pool.Release(local)

	selectList := make([]string, 0, len(t.columns)+1)
	selectList = append(selectList, "rowid")
	for _, c := range t.columns {
		selectList = append(selectList, planner.QuoteIdent(c))
	}

	limit := int64(-1)
	if task.Length > 0 {
		limit = task.Length
	}
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY rowid LIMIT ? OFFSET ?",
		strings.Join(selectList, ", "), planner.QuoteIdent(DataTable))

	rows, err := db.QueryContext(ctx, query, limit, task.Start)
	if err != nil {
		return 0, cerrors.NewEngineError(cerrors.CodeExecutionFailed,
			fmt.Sprintf("failed to scan %s", task.DataFilePath), err)
	}
	defer rows.Close()

	builder := array.NewRecordBuilder(taskCtx.AllocatorOrDefault(), t.schema)
	defer builder.Release()

	values := make([]interface{}, len(selectList))
	ptrs := make([]interface{}, len(values))
	for i := range values {
		ptrs[i] = &values[i]
	}

	batchSize := taskCtx.BatchSizeOrDefault()
	var ordinal int64
	n := 0
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return ordinal, cerrors.NewEngineError(cerrors.CodeExecutionFailed,
				fmt.Sprintf("failed to read %s", task.DataFilePath), err)
		}
		if err := t.appendRow(builder, task, ordinal, values[1:]); err != nil {
			return ordinal, err
		}
		ordinal++
		n++
		if n == batchSize {
			if err := emit(builder.NewRecord()); err != nil {
				return ordinal, err
			}
			n = 0
		}
	}
	if err := rows.Err(); err != nil {
		return ordinal, cerrors.NewEngineError(cerrors.CodeExecutionFailed,
			fmt.Sprintf("failed to read %s", task.DataFilePath), err)
	}
	if n > 0 {
		if err := emit(builder.NewRecord()); err != nil {
			return ordinal, err
		}
	}
	return ordinal, nil
}

// appendRow appends one row. Hidden values depend only on the task and the
// row's offset within the split.
func (t *FileScanTaskTable) appendRow(b *array.RecordBuilder, task types.FileScanTask, ordinal int64, physical []interface{}) error {
	for i, src := range t.sources {
		var v interface{}
		switch src {
		case sourceSeqNum:
			v = task.SequenceNumber
		case sourceFilePath:
			v = task.DataFilePath
		case sourcePos:
			v = task.Start + ordinal
		default:
			v = physical[t.colIdx[i]]
		}
		if err := executor.AppendValue(b.Field(i), v); err != nil {
			return cerrors.NewEngineError(cerrors.CodeExecutionFailed,
				fmt.Sprintf("%s column %s", task.DataFilePath, t.schema.Field(i).Name), err)
		}
	}
	return nil
}
