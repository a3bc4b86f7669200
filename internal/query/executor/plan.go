package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	cerrors "github.com/arkilian/compactor/internal/errors"
)

// ExecutionPlan is a node of a physical plan.
type ExecutionPlan interface {
	// Schema is the schema of every batch the plan produces.
	Schema() *arrow.Schema

	// OutputPartitioning describes how the output is split into partitions.
	OutputPartitioning() Partitioning

	// Execute starts the given output partition and returns its stream.
	Execute(ctx context.Context, partition int, taskCtx *TaskContext) (RecordBatchStream, error)

	// Children returns the input plans.
	Children() []ExecutionPlan

	// String describes the node for plan display.
	String() string
}

// PartitioningKind names a partitioning scheme.
type PartitioningKind int

const (
	// PartitioningUnknown means the output is split, but not by any rule.
	PartitioningUnknown PartitioningKind = iota
	// PartitioningRoundRobin deals whole batches across partitions.
	PartitioningRoundRobin
	// PartitioningHash routes rows by the hash of key expressions.
	PartitioningHash
)

// Partitioning describes the output partitions of a plan.
type Partitioning struct {
	Kind  PartitioningKind
	Count int
	Exprs []*Column // hash keys, PartitioningHash only
}

// UnknownPartitioning returns a partitioning of n partitions.
func UnknownPartitioning(n int) Partitioning {
	return Partitioning{Kind: PartitioningUnknown, Count: n}
}

// RoundRobinBatch returns a round-robin partitioning into n partitions.
func RoundRobinBatch(n int) Partitioning {
	return Partitioning{Kind: PartitioningRoundRobin, Count: n}
}

// Hash returns a hash partitioning on exprs into n partitions.
func Hash(exprs []*Column, n int) Partitioning {
	return Partitioning{Kind: PartitioningHash, Count: n, Exprs: exprs}
}

// PartitionCount returns the number of output partitions.
func (p Partitioning) PartitionCount() int {
	return p.Count
}

// String returns a display form such as Hash([id@0], 4).
func (p Partitioning) String() string {
	switch p.Kind {
	case PartitioningRoundRobin:
		return fmt.Sprintf("RoundRobinBatch(%d)", p.Count)
	case PartitioningHash:
		keys := make([]string, len(p.Exprs))
		for i, e := range p.Exprs {
			keys[i] = e.String()
		}
		return fmt.Sprintf("Hash([%s], %d)", strings.Join(keys, ", "), p.Count)
	default:
		return fmt.Sprintf("UnknownPartitioning(%d)", p.Count)
	}
}

// Column is a physical reference to a column of a plan's schema.
type Column struct {
	Name  string
	Index int
}

// NewColumnWithSchema resolves name against schema.
func NewColumnWithSchema(name string, schema *arrow.Schema) (*Column, error) {
	idx := schema.FieldIndices(name)
	if len(idx) == 0 {
		return nil, cerrors.NewEngineError(cerrors.CodePlanningFailed,
			fmt.Sprintf("column %q not found in plan schema", name), nil)
	}
	return &Column{Name: name, Index: idx[0]}, nil
}

// String returns name@index.
func (c *Column) String() string {
	return fmt.Sprintf("%s@%d", c.Name, c.Index)
}

// TaskContext carries execution settings into Execute.
type TaskContext struct {
	// SessionID identifies the session the task runs in.
	SessionID string

	// BatchSize is the maximum number of rows per produced batch.
	BatchSize int

	// Allocator is the memory allocator used for arrow buffers.
	Allocator memory.Allocator
}

// DefaultBatchSize is used when a TaskContext does not set one.
const DefaultBatchSize = 8192

// BatchSizeOrDefault returns the configured batch size.
func (t *TaskContext) BatchSizeOrDefault() int {
	if t == nil || t.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return t.BatchSize
}

// AllocatorOrDefault returns the configured allocator.
func (t *TaskContext) AllocatorOrDefault() memory.Allocator {
	if t == nil || t.Allocator == nil {
		return memory.DefaultAllocator
	}
	return t.Allocator
}

// DisplayPlan renders plan as an indented tree.
func DisplayPlan(plan ExecutionPlan) string {
	var sb strings.Builder
	var walk func(p ExecutionPlan, depth int)
	walk = func(p ExecutionPlan, depth int) {
		sb.WriteString(strings.Repeat("  ", depth))
		sb.WriteString(p.String())
		sb.WriteString("\n")
		for _, c := range p.Children() {
			walk(c, depth+1)
		}
	}
	walk(plan, 0)
	return sb.String()
}
