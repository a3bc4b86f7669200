package executor

import (
	"context"
)

// ExecuteStreamPartitioned executes every output partition of plan and
// returns one stream per partition, in partition order. If any partition
// fails to start, the streams already opened are closed.
func ExecuteStreamPartitioned(ctx context.Context, plan ExecutionPlan, taskCtx *TaskContext) ([]RecordBatchStream, error) {
	n := plan.OutputPartitioning().PartitionCount()
	streams := make([]RecordBatchStream, 0, n)
	for i := 0; i < n; i++ {
		s, err := plan.Execute(ctx, i, taskCtx)
		if err != nil {
			for _, opened := range streams {
				opened.Close()
			}
			return nil, err
		}
		streams = append(streams, s)
	}
	return streams, nil
}
