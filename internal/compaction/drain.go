package compaction

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"golang.org/x/sync/errgroup"

	cerrors "github.com/arkilian/compactor/internal/errors"
	"github.com/arkilian/compactor/internal/query/executor"
	"github.com/arkilian/compactor/pkg/types"
)

// PartitionSummary describes one drained output partition.
type PartitionSummary struct {
	Partition int   `json:"partition"`
	Rows      int64 `json:"rows"`
	Batches   int   `json:"batches"`
}

// OutputSummary describes the drained output of a compaction.
type OutputSummary struct {
	Partitions []PartitionSummary `json:"partitions"`
	TotalRows  int64              `json:"total_rows"`
}

// BatchFunc receives every batch of an output partition. It must not keep
// rec after returning unless it retains it.
type BatchFunc func(partition int, rec arrow.Record) error

// Drain consumes every stream concurrently and reports row counts.
func Drain(ctx context.Context, streams []executor.RecordBatchStream, schema *types.Schema) (*OutputSummary, error) {
	return ForEachBatch(ctx, streams, schema, nil)
}

// ForEachBatch consumes every stream concurrently, checks that each batch
// has exactly the columns of schema and passes it to fn. fn is called from
// one goroutine per partition. All streams are closed on return.
func ForEachBatch(ctx context.Context, streams []executor.RecordBatchStream, schema *types.Schema, fn BatchFunc) (*OutputSummary, error) {
	summary := &OutputSummary{Partitions: make([]PartitionSummary, len(streams))}
	names := schema.Names()

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range streams {
		i, s := i, s
		g.Go(func() error {
			defer s.Close()

			part := PartitionSummary{Partition: i}
			for {
				rec, err := s.Next(gctx)
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return err
				}
				if err := checkBatch(rec, names); err != nil {
					rec.Release()
					return err
				}
				part.Rows += rec.NumRows()
				part.Batches++
				if fn != nil {
					err = fn(i, rec)
				}
				rec.Release()
				if err != nil {
					return err
				}
			}

			mu.Lock()
			summary.Partitions[i] = part
			summary.TotalRows += part.Rows
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for _, s := range streams {
			s.Close()
		}
		return nil, err
	}
	return summary, nil
}

func checkBatch(rec arrow.Record, names []string) error {
	if int(rec.NumCols()) != len(names) {
		return cerrors.NewInternalError(
			fmt.Sprintf("output batch has %d columns, schema has %d", rec.NumCols(), len(names)), nil)
	}
	for i, f := range rec.Schema().Fields() {
		if types.IsHiddenColumn(f.Name) {
			return cerrors.NewInternalError(fmt.Sprintf("hidden column %s in output", f.Name), nil)
		}
		if f.Name != names[i] {
			return cerrors.NewInternalError(
				fmt.Sprintf("output column %d is %s, schema has %s", i, f.Name, names[i]), nil)
		}
	}
	return nil
}
