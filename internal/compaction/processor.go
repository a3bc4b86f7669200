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

// ProcessorConfig holds configuration for a Processor.
type ProcessorConfig struct {
	// BatchParallelism bounds concurrent file scans per table (default: 1)
	BatchParallelism int

	// TargetPartitions is the number of output streams (default: 1)
	TargetPartitions int

	// Pool caches sqlite handles for scanned files. When nil the
	// processor opens its own and closes it in Close.
	Pool *executor.ConnectionPool
}

// Processor runs one merge-on-read compaction: it registers the tables of a
// TaskContext, plans the merge-on-read query and partitions the output to
// match the destination partition spec.
//
// A Processor is single use. After a failure it must be discarded.
type Processor struct {
	engine   QueryEngine
	taskCtx  *TaskContext
	cfg      ProcessorConfig
	spec     *types.PartitionSpec
	register *TableRegister
	ownsPool bool
}

// NewProcessor creates a Processor for taskCtx.
func NewProcessor(engine QueryEngine, taskCtx *TaskContext, cfg ProcessorConfig, fileIO scan.FileOpener, spec *types.PartitionSpec) *Processor {
	if cfg.BatchParallelism <= 0 {
		cfg.BatchParallelism = 1
	}
	if cfg.TargetPartitions <= 0 {
		cfg.TargetPartitions = 1
	}
	p := &Processor{
		engine:  engine,
		taskCtx: taskCtx,
		cfg:     cfg,
		spec:    spec,
	}
	if cfg.Pool == nil {
		p.cfg.Pool = executor.NewConnectionPool(executor.DefaultPoolConfig())
		p.ownsPool = true
	}
	p.register = NewTableRegister(fileIO, p.cfg.Pool, engine)
	return p
}

// RegisterTables registers the data file table and, when present, the
// position delete table and one table per equality delete group.
func (p *Processor) RegisterTables() error {
	dataSchema, ok, err := p.taskCtx.TakeDataFileSchema()
	if err != nil {
		return err
	}
	if ok {
		dataFiles, _, err := p.taskCtx.TakeDataFiles()
		if err != nil {
			return err
		}
		if err := p.register.RegisterDataTable(dataSchema, dataFiles, DataFileTable,
			p.taskCtx.NeedSeqNum(), p.taskCtx.NeedFilePathAndPos(), p.cfg.BatchParallelism); err != nil {
			return err
		}
	}

	posSchema, ok, err := p.taskCtx.TakePositionDeleteSchema()
	if err != nil {
		return err
	}
	if ok {
		posFiles, _, err := p.taskCtx.TakePositionDeleteFiles()
		if err != nil {
			return err
		}
		if err := p.register.RegisterDeleteTable(posSchema, posFiles, PositionDeleteTable, p.cfg.BatchParallelism); err != nil {
			return err
		}
	}

	groups, ok, err := p.taskCtx.TakeEqualityDeleteGroups()
	if err != nil {
		return err
	}
	if ok {
		for _, g := range groups {
			if err := p.register.RegisterDeleteTable(g.Schema, g.Tasks, g.TableName, p.cfg.BatchParallelism); err != nil {
				return err
			}
		}
	}
	return nil
}

// Execute registers the tables, plans the query and returns one stream per
// output partition together with the output schema. The streams must be
// drained or closed by the caller.
func (p *Processor) Execute(ctx context.Context) ([]executor.RecordBatchStream, *types.Schema, error) {
	if err := p.RegisterTables(); err != nil {
		return nil, nil, err
	}

	schema, ok, err := p.taskCtx.TakeInputSchema()
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, cerrors.NewConfigError(cerrors.CodeInvalidJob, "task context has no input schema")
	}

	plan, err := p.engine.PhysicalPlan(ctx, p.taskCtx.SQL())
	if err != nil {
		return nil, nil, err
	}

	plan, err = p.partition(plan, schema)
	if err != nil {
		return nil, nil, err
	}

	streams, err := executor.ExecuteStreamPartitioned(ctx, plan, p.engine.TaskContext())
	if err != nil {
		return nil, nil, err
	}

	log.Printf("compaction: executing partitions=%d\n%s", len(streams), executor.DisplayPlan(plan))
	return streams, schema, nil
}

// partition wraps plan so its output matches the destination spec. An
// unpartitioned destination is round-robined to the target count when the
// count differs. A partitioned destination is always hashed on the
// partition source columns.
func (p *Processor) partition(plan executor.ExecutionPlan, schema *types.Schema) (executor.ExecutionPlan, error) {
	target := p.cfg.TargetPartitions

	var partitioning executor.Partitioning
	if p.spec.IsUnpartitioned() {
		if plan.OutputPartitioning().PartitionCount() == target {
			return plan, nil
		}
		partitioning = executor.RoundRobinBatch(target)
	} else {
		exprs := make([]*executor.Column, 0, len(p.spec.Fields))
		for _, pf := range p.spec.Fields {
			field, ok := schema.FieldByID(pf.SourceID)
			if !ok {
				return nil, cerrors.NewConfigError(cerrors.CodeUnresolvedPartitionSource,
					fmt.Sprintf("partition field %q: source id %d not found in schema", pf.Name, pf.SourceID))
			}
			col, err := executor.NewColumnWithSchema(field.Name, plan.Schema())
			if err != nil {
				return nil, err
			}
			exprs = append(exprs, col)
		}
		partitioning = executor.Hash(exprs, target)
	}

	repartition, err := executor.NewRepartitionExec(plan, partitioning)
	if err != nil {
		return nil, err
	}
	return repartition, nil
}

// Close releases the connection pool if the processor opened it. Call it
// after every stream returned by Execute has been closed.
func (p *Processor) Close() error {
	if p.ownsPool {
		return p.cfg.Pool.Close()
	}
	return nil
}
