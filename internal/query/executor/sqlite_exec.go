package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/google/uuid"

	cerrors "github.com/arkilian/compactor/internal/errors"
	"github.com/arkilian/compactor/internal/query/planner"
)

// SQLiteInput binds a table name used by the plan to its provider.
type SQLiteInput struct {
	Name     string
	Provider TableProvider
}

// SQLiteExec runs a planned statement in a private in-memory SQLite
// database. Every input table is scanned and loaded into that database when
// the stream is first read. The output is a single partition.
type SQLiteExec struct {
	plan   *planner.LogicalPlan
	inputs []SQLiteInput
}

// NewSQLiteExec creates the execution node for plan.
func NewSQLiteExec(plan *planner.LogicalPlan, inputs []SQLiteInput) *SQLiteExec {
	return &SQLiteExec{plan: plan, inputs: inputs}
}

// Schema implements ExecutionPlan.
func (e *SQLiteExec) Schema() *arrow.Schema {
	return e.plan.Schema
}

// OutputPartitioning implements ExecutionPlan.
func (e *SQLiteExec) OutputPartitioning() Partitioning {
	return UnknownPartitioning(1)
}

// Children implements ExecutionPlan.
func (e *SQLiteExec) Children() []ExecutionPlan {
	return nil
}

// SQL returns the statement text executed by SQLite.
func (e *SQLiteExec) SQL() string {
	return e.plan.SQL
}

func (e *SQLiteExec) String() string {
	names := make([]string, len(e.inputs))
	for i, in := range e.inputs {
		names[i] = in.Name
	}
	return fmt.Sprintf("SQLiteExec: tables=[%s]", strings.Join(names, ", "))
}

// Execute implements ExecutionPlan.
func (e *SQLiteExec) Execute(ctx context.Context, partition int, taskCtx *TaskContext) (RecordBatchStream, error) {
	if partition != 0 {
		return nil, cerrors.NewEngineError(cerrors.CodeExecutionFailed,
			fmt.Sprintf("SQLiteExec has 1 partition, got partition %d", partition), nil)
	}

	dsn := fmt.Sprintf("file:exec-%s?mode=memory&cache=shared", uuid.NewString())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, cerrors.NewEngineError(cerrors.CodeExecutionFailed, "failed to open execution database", err)
	}
	// One connection keeps the in-memory database alive and serializes access.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	produce := func(ctx context.Context, emit func(arrow.Record) error) error {
		for _, in := range e.inputs {
			if err := e.load(ctx, db, in, taskCtx); err != nil {
				return err
			}
		}
		if err := e.createIndexes(ctx, db); err != nil {
			return err
		}
		return e.query(ctx, db, taskCtx, emit)
	}

	return NewChannelStream(ctx, e.plan.Schema, 2, produce, db.Close), nil
}

// load creates the table for in and copies every scanned row into it.
func (e *SQLiteExec) load(ctx context.Context, db *sql.DB, in SQLiteInput, taskCtx *TaskContext) error {
	schema := in.Provider.Schema()
	cols := make([]string, schema.NumFields())
	marks := make([]string, schema.NumFields())
	for i, f := range schema.Fields() {
		typ, err := SQLiteType(f.Type)
		if err != nil {
			return cerrors.NewEngineError(cerrors.CodeExecutionFailed,
				fmt.Sprintf("table %s column %s", in.Name, f.Name), err)
		}
		cols[i] = planner.QuoteIdent(f.Name) + " " + typ
		marks[i] = "?"
	}

	table := planner.QuoteIdent(in.Name)
	ddl := fmt.Sprintf("CREATE TABLE %s (%s)", table, strings.Join(cols, ", "))
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return cerrors.NewEngineError(cerrors.CodeExecutionFailed,
			fmt.Sprintf("failed to create table %s", in.Name), err)
	}

	stream, err := in.Provider.Scan(ctx, taskCtx)
	if err != nil {
		return err
	}
	defer stream.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return cerrors.NewEngineError(cerrors.CodeExecutionFailed, "failed to begin load", err)
	}
	defer tx.Rollback()

	insert := fmt.Sprintf("INSERT INTO %s VALUES (%s)", table, strings.Join(marks, ", "))
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return cerrors.NewEngineError(cerrors.CodeExecutionFailed, "failed to prepare load", err)
	}
	defer stmt.Close()

	var loaded int64
	args := make([]interface{}, schema.NumFields())
	for {
		rec, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		for r := 0; r < int(rec.NumRows()); r++ {
			for c := 0; c < int(rec.NumCols()); c++ {
				if args[c], err = ValueAt(rec.Column(c), r); err != nil {
					rec.Release()
					return cerrors.NewEngineError(cerrors.CodeExecutionFailed, "failed to read scanned batch", err)
				}
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				rec.Release()
				return cerrors.NewEngineError(cerrors.CodeExecutionFailed,
					fmt.Sprintf("failed to load table %s", in.Name), err)
			}
		}
		loaded += rec.NumRows()
		rec.Release()
	}

	if err := tx.Commit(); err != nil {
		return cerrors.NewEngineError(cerrors.CodeExecutionFailed, "failed to commit load", err)
	}

	log.Printf("executor: loaded table=%s rows=%d", in.Name, loaded)
	return nil
}

func (e *SQLiteExec) createIndexes(ctx context.Context, db *sql.DB) error {
	for i, idx := range e.plan.Indexes {
		cols := make([]string, len(idx.Columns))
		for j, c := range idx.Columns {
			cols[j] = planner.QuoteIdent(c)
		}
		ddl := fmt.Sprintf("CREATE INDEX %s ON %s (%s)",
			planner.QuoteIdent(fmt.Sprintf("idx_%d_%s", i, idx.Table)),
			planner.QuoteIdent(idx.Table),
			strings.Join(cols, ", "))
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return cerrors.NewEngineError(cerrors.CodeExecutionFailed,
				fmt.Sprintf("failed to index %s", idx.Table), err)
		}
	}
	return nil
}

// query runs the statement and emits its rows in batches.
func (e *SQLiteExec) query(ctx context.Context, db *sql.DB, taskCtx *TaskContext, emit func(arrow.Record) error) error {
	rows, err := db.QueryContext(ctx, e.plan.SQL)
	if err != nil {
		return cerrors.NewEngineError(cerrors.CodeExecutionFailed, "query failed", err)
	}
	defer rows.Close()

	schema := e.plan.Schema
	builder := array.NewRecordBuilder(taskCtx.AllocatorOrDefault(), schema)
	defer builder.Release()

	batchSize := taskCtx.BatchSizeOrDefault()
	values := make([]interface{}, schema.NumFields())
	ptrs := make([]interface{}, len(values))
	for i := range values {
		ptrs[i] = &values[i]
	}

	n := 0
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return cerrors.NewEngineError(cerrors.CodeExecutionFailed, "failed to scan result row", err)
		}
		for i, v := range values {
			if err := AppendValue(builder.Field(i), v); err != nil {
				return cerrors.NewEngineError(cerrors.CodeExecutionFailed,
					fmt.Sprintf("result column %s", schema.Field(i).Name), err)
			}
			values[i] = nil
		}
		n++
		if n == batchSize {
			if err := emit(builder.NewRecord()); err != nil {
				return err
			}
			n = 0
		}
	}
	if err := rows.Err(); err != nil {
		return cerrors.NewEngineError(cerrors.CodeExecutionFailed, "query failed", err)
	}
	if n > 0 {
		return emit(builder.NewRecord())
	}
	return nil
}
