package executor

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
)

// RecordBatchStream yields record batches of a fixed schema.
//
// Next returns io.EOF once the stream is exhausted. Records returned by Next
// are owned by the caller, who must Release them. Close releases everything
// the stream still holds and stops any work feeding it; it is safe to call
// more than once.
type RecordBatchStream interface {
	Schema() *arrow.Schema
	Next(ctx context.Context) (arrow.Record, error)
	Close() error
}

// ProduceFunc writes batches through emit until it is done. emit fails once
// the consumer has gone away.
type ProduceFunc func(ctx context.Context, emit func(arrow.Record) error) error

// channelStream runs a producer goroutine and hands its batches over a
// channel.
type channelStream struct {
	schema  *arrow.Schema
	records chan arrow.Record
	cancel  context.CancelFunc
	done    chan struct{}

	mu  sync.Mutex
	err error

	closeOnce sync.Once
	closers   []func() error
}

// NewChannelStream starts produce in a goroutine and returns a stream over
// its output. buffer bounds how many batches may be queued ahead of the
// consumer. closers run after the producer has exited on Close.
func NewChannelStream(ctx context.Context, schema *arrow.Schema, buffer int, produce ProduceFunc, closers ...func() error) RecordBatchStream {
	if buffer < 0 {
		buffer = 0
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &channelStream{
		schema:  schema,
		records: make(chan arrow.Record, buffer),
		cancel:  cancel,
		done:    make(chan struct{}),
		closers: closers,
	}

	go func() {
		defer close(s.done)
		defer close(s.records)

		emit := func(rec arrow.Record) error {
			select {
			case s.records <- rec:
				return nil
			case <-ctx.Done():
				rec.Release()
				return ctx.Err()
			}
		}
		if err := produce(ctx, emit); err != nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
		}
	}()

	return s
}

func (s *channelStream) Schema() *arrow.Schema {
	return s.schema
}

func (s *channelStream) Next(ctx context.Context) (arrow.Record, error) {
	select {
	case rec, ok := <-s.records:
		if ok {
			return rec, nil
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return nil, io.EOF
}

func (s *channelStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		for rec := range s.records {
			rec.Release()
		}
		<-s.done
		for _, c := range s.closers {
			if cerr := c(); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}

// memoryStream replays a fixed list of batches.
type memoryStream struct {
	schema  *arrow.Schema
	mu      sync.Mutex
	records []arrow.Record
}

// NewMemoryStream returns a stream over records. The stream takes ownership
// of the records.
func NewMemoryStream(schema *arrow.Schema, records ...arrow.Record) RecordBatchStream {
	return &memoryStream{schema: schema, records: records}
}

func (m *memoryStream) Schema() *arrow.Schema {
	return m.schema
}

func (m *memoryStream) Next(ctx context.Context) (arrow.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.records) == 0 {
		return nil, io.EOF
	}
	rec := m.records[0]
	m.records = m.records[1:]
	return rec, nil
}

func (m *memoryStream) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		r.Release()
	}
	m.records = nil
	return nil
}

// Collect drains a stream into memory and closes it. The caller owns the
// returned records.
func Collect(ctx context.Context, stream RecordBatchStream) ([]arrow.Record, error) {
	var out []arrow.Record
	for {
		rec, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out, stream.Close()
		}
		if err != nil {
			for _, r := range out {
				r.Release()
			}
			stream.Close()
			return nil, err
		}
		out = append(out, rec)
	}
}

// CountRows drains a stream, releasing every batch, and returns its row
// count.
func CountRows(ctx context.Context, stream RecordBatchStream) (int64, error) {
	defer stream.Close()
	var n int64
	for {
		rec, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n += rec.NumRows()
		rec.Release()
	}
}
