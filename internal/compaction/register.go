package compaction

import (
	"context"
	"fmt"
	"log"

	cerrors "github.com/arkilian/compactor/internal/errors"
	"github.com/arkilian/compactor/internal/query/executor"
	"github.com/arkilian/compactor/internal/scan"
	"github.com/arkilian/compactor/pkg/types"
)

// QueryEngine is the part of the query engine a compaction needs.
// *executor.SessionContext implements it.
type QueryEngine interface {
	RegisterTable(name string, provider executor.TableProvider) error
	PhysicalPlan(ctx context.Context, query string) (executor.ExecutionPlan, error)
	TaskContext() *executor.TaskContext
}

// TableRegister binds scan tables to names in a QueryEngine.
type TableRegister struct {
	fileIO scan.FileOpener
	pool   *executor.ConnectionPool
	engine QueryEngine
}

// NewTableRegister creates a TableRegister. fileIO and pool are shared by
// every table it registers.
func NewTableRegister(fileIO scan.FileOpener, pool *executor.ConnectionPool, engine QueryEngine) *TableRegister {
	return &TableRegister{fileIO: fileIO, pool: pool, engine: engine}
}

// RegisterDataTable registers a table over data files, synthesizing the
// hidden columns the flags ask for.
func (r *TableRegister) RegisterDataTable(schema *types.Schema, tasks []types.FileScanTask, name string, needSeqNum, needFilePathAndPos bool, batchParallelism int) error {
	return r.register(schema, tasks, name, needSeqNum, needFilePathAndPos, batchParallelism)
}

// RegisterDeleteTable registers a table over delete files. Delete tables
// are read in their own schema.
func (r *TableRegister) RegisterDeleteTable(schema *types.Schema, tasks []types.FileScanTask, name string, batchParallelism int) error {
	return r.register(schema, tasks, name, false, false, batchParallelism)
}

func (r *TableRegister) register(schema *types.Schema, tasks []types.FileScanTask, name string, needSeqNum, needFilePathAndPos bool, batchParallelism int) error {
	table, err := scan.NewFileScanTaskTable(schema, tasks, r.fileIO, r.pool, scan.Options{
		Name:               name,
		NeedSeqNum:         needSeqNum,
		NeedFilePathAndPos: needFilePathAndPos,
		BatchParallelism:   batchParallelism,
	})
	if err != nil {
		return err
	}

	if err := r.engine.RegisterTable(name, table); err != nil {
		return cerrors.NewEngineError(cerrors.CodeRegistrationFailed,
			fmt.Sprintf("failed to register table %s", name), err)
	}

	log.Printf("compaction: registered table=%s files=%d seq_num=%t file_path_and_pos=%t",
		name, len(tasks), needSeqNum, needFilePathAndPos)
	return nil
}
