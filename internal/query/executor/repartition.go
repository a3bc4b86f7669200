package executor

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/spaolacci/murmur3"
	"golang.org/x/sync/errgroup"

	cerrors "github.com/arkilian/compactor/internal/errors"
)

// RepartitionExec redistributes the batches of its input across a new set of
// output partitions. The input is drained by one goroutine per input
// partition, started by the first Execute call. Output queues are unbounded,
// so consumers may read partitions in any order.
type RepartitionExec struct {
	input        ExecutionPlan
	partitioning Partitioning

	mu     sync.Mutex
	queues []*batchQueue
	taken  []bool
	open   int
	cancel context.CancelFunc
}

// NewRepartitionExec creates a repartition of input. Hash keys must refer to
// columns of the input schema.
func NewRepartitionExec(input ExecutionPlan, partitioning Partitioning) (*RepartitionExec, error) {
	if partitioning.Count < 1 {
		return nil, cerrors.NewEngineError(cerrors.CodeRepartitionFailed,
			fmt.Sprintf("partition count must be positive, got %d", partitioning.Count), nil)
	}

	switch partitioning.Kind {
	case PartitioningRoundRobin:
	case PartitioningHash:
		if len(partitioning.Exprs) == 0 {
			return nil, cerrors.NewEngineError(cerrors.CodeRepartitionFailed, "hash partitioning requires keys", nil)
		}
		schema := input.Schema()
		for _, c := range partitioning.Exprs {
			if c == nil || c.Index < 0 || c.Index >= schema.NumFields() || schema.Field(c.Index).Name != c.Name {
				return nil, cerrors.NewEngineError(cerrors.CodeRepartitionFailed,
					fmt.Sprintf("hash key %v does not match the input schema", c), nil)
			}
		}
	default:
		return nil, cerrors.NewEngineError(cerrors.CodeRepartitionFailed,
			fmt.Sprintf("cannot repartition by %s", partitioning), nil)
	}

	return &RepartitionExec{input: input, partitioning: partitioning}, nil
}

// Schema implements ExecutionPlan.
func (r *RepartitionExec) Schema() *arrow.Schema {
	return r.input.Schema()
}

// OutputPartitioning implements ExecutionPlan.
func (r *RepartitionExec) OutputPartitioning() Partitioning {
	return r.partitioning
}

// Children implements ExecutionPlan.
func (r *RepartitionExec) Children() []ExecutionPlan {
	return []ExecutionPlan{r.input}
}

func (r *RepartitionExec) String() string {
	return fmt.Sprintf("RepartitionExec: partitioning=%s, input_partitions=%d",
		r.partitioning, r.input.OutputPartitioning().PartitionCount())
}

// Execute implements ExecutionPlan. Each output partition may be executed
// once.
func (r *RepartitionExec) Execute(ctx context.Context, partition int, taskCtx *TaskContext) (RecordBatchStream, error) {
	n := r.partitioning.Count
	if partition < 0 || partition >= n {
		return nil, cerrors.NewEngineError(cerrors.CodeExecutionFailed,
			fmt.Sprintf("partition %d out of range [0, %d)", partition, n), nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.queues == nil {
		r.start(ctx, taskCtx)
	}
	if r.taken[partition] {
		return nil, cerrors.NewEngineError(cerrors.CodeExecutionFailed,
			fmt.Sprintf("partition %d already executed", partition), nil)
	}
	r.taken[partition] = true

	return &queueStream{
		schema: r.input.Schema(),
		queue:  r.queues[partition],
		done:   r.release,
	}, nil
}

// start launches the fan-out. Called with r.mu held.
func (r *RepartitionExec) start(ctx context.Context, taskCtx *TaskContext) {
	n := r.partitioning.Count
	r.queues = make([]*batchQueue, n)
	for i := range r.queues {
		r.queues[i] = newBatchQueue()
	}
	r.taken = make([]bool, n)
	r.open = n

	fanCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	g, gctx := errgroup.WithContext(fanCtx)
	inputs := r.input.OutputPartitioning().PartitionCount()
	for i := 0; i < inputs; i++ {
		i := i
		g.Go(func() error {
			return r.drainInput(gctx, i, taskCtx)
		})
	}

	go func() {
		err := g.Wait()
		for _, q := range r.queues {
			q.finish(err)
		}
		cancel()
	}()
}

// drainInput routes every batch of input partition i to the output queues.
func (r *RepartitionExec) drainInput(ctx context.Context, i int, taskCtx *TaskContext) error {
	stream, err := r.input.Execute(ctx, i, taskCtx)
	if err != nil {
		return err
	}
	defer stream.Close()

	mem := taskCtx.AllocatorOrDefault()
	next := i
	for {
		rec, err := stream.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if rec.NumRows() == 0 {
			rec.Release()
			continue
		}

		switch r.partitioning.Kind {
		case PartitioningRoundRobin:
			r.queues[next%len(r.queues)].push(rec)
			next++
		case PartitioningHash:
			err := r.routeHash(rec, mem)
			rec.Release()
			if err != nil {
				return err
			}
		}
	}
}

func (r *RepartitionExec) routeHash(rec arrow.Record, mem memory.Allocator) error {
	n := len(r.queues)
	buckets := make([][]int, n)
	for row := 0; row < int(rec.NumRows()); row++ {
		h, err := hashRow(rec, r.partitioning.Exprs, row)
		if err != nil {
			return err
		}
		b := int(h % uint64(n))
		buckets[b] = append(buckets[b], row)
	}

	for b, rows := range buckets {
		if len(rows) == 0 {
			continue
		}
		sub, err := takeRows(rec, rows, mem)
		if err != nil {
			return err
		}
		r.queues[b].push(sub)
	}
	return nil
}

// release is called once per closed output stream. When every output has
// been closed the fan-out is cancelled.
func (r *RepartitionExec) release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open--
	if r.open == 0 && r.cancel != nil {
		r.cancel()
	}
}

// hashRow hashes the key columns of row. Each value is tagged with its kind
// so that NULL and typed values never collide.
func hashRow(rec arrow.Record, keys []*Column, row int) (uint64, error) {
	h := murmur3.New64()
	var buf [9]byte
	for _, k := range keys {
		v, err := ValueAt(rec.Column(k.Index), row)
		if err != nil {
			return 0, cerrors.NewEngineError(cerrors.CodeRepartitionFailed, "failed to hash key "+k.Name, err)
		}
		switch x := v.(type) {
		case nil:
			buf[0] = 0
			h.Write(buf[:1])
		case int64:
			buf[0] = 1
			binary.LittleEndian.PutUint64(buf[1:], uint64(x))
			h.Write(buf[:])
		case float64:
			buf[0] = 2
			binary.LittleEndian.PutUint64(buf[1:], math.Float64bits(x))
			h.Write(buf[:])
		case string:
			buf[0] = 3
			binary.LittleEndian.PutUint64(buf[1:], uint64(len(x)))
			h.Write(buf[:])
			h.Write([]byte(x))
		case []byte:
			buf[0] = 4
			binary.LittleEndian.PutUint64(buf[1:], uint64(len(x)))
			h.Write(buf[:])
			h.Write(x)
		}
	}
	return h.Sum64(), nil
}

// takeRows copies the given rows of rec into a new record.
func takeRows(rec arrow.Record, rows []int, mem memory.Allocator) (arrow.Record, error) {
	b := array.NewRecordBuilder(mem, rec.Schema())
	defer b.Release()

	for c := 0; c < int(rec.NumCols()); c++ {
		col := rec.Column(c)
		fb := b.Field(c)
		fb.Reserve(len(rows))
		for _, row := range rows {
			v, err := ValueAt(col, row)
			if err != nil {
				return nil, cerrors.NewEngineError(cerrors.CodeRepartitionFailed, "failed to copy row", err)
			}
			if err := AppendValue(fb, v); err != nil {
				return nil, cerrors.NewEngineError(cerrors.CodeRepartitionFailed, "failed to copy row", err)
			}
		}
	}
	return b.NewRecord(), nil
}

// batchQueue is an unbounded single-consumer queue of batches.
type batchQueue struct {
	mu      sync.Mutex
	items   []arrow.Record
	closed  bool
	err     error
	dropped bool
	notify  chan struct{}
}

func newBatchQueue() *batchQueue {
	return &batchQueue{notify: make(chan struct{}, 1)}
}

func (q *batchQueue) push(rec arrow.Record) {
	q.mu.Lock()
	if q.dropped || q.closed {
		q.mu.Unlock()
		rec.Release()
		return
	}
	q.items = append(q.items, rec)
	q.mu.Unlock()
	q.signal()
}

func (q *batchQueue) finish(err error) {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		q.err = err
	}
	q.mu.Unlock()
	q.signal()
}

func (q *batchQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *batchQueue) pop(ctx context.Context) (arrow.Record, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			rec := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return rec, nil
		}
		if q.closed {
			err := q.err
			q.mu.Unlock()
			if err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// drop discards queued batches and any that arrive later.
func (q *batchQueue) drop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dropped = true
	for _, rec := range q.items {
		rec.Release()
	}
	q.items = nil
}

// queueStream reads one output partition of a RepartitionExec.
type queueStream struct {
	schema    *arrow.Schema
	queue     *batchQueue
	done      func()
	closeOnce sync.Once
}

func (s *queueStream) Schema() *arrow.Schema {
	return s.schema
}

func (s *queueStream) Next(ctx context.Context) (arrow.Record, error) {
	return s.queue.pop(ctx)
}

func (s *queueStream) Close() error {
	s.closeOnce.Do(func() {
		s.queue.drop()
		s.done()
	})
	return nil
}
