// Package server manages the lifecycle of the planner server: signal
// handling, in-flight RPC tracking and ordered resource cleanup.
package server

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ShutdownConfig holds configuration for the shutdown manager.
type ShutdownConfig struct {
	// ShutdownTimeout bounds the whole shutdown (default: 30s)
	ShutdownTimeout time.Duration

	// DrainTimeout bounds the wait for in-flight calls (default: 15s)
	DrainTimeout time.Duration
}

// ShutdownManager stops the server once: it refuses new calls, waits for
// in-flight ones, then runs the registered closers in reverse order.
type ShutdownManager struct {
	cfg ShutdownConfig

	mu         sync.Mutex
	inFlight   int64
	stopping   bool
	idle       chan struct{}
	idleClosed bool
	closers    []io.Closer

	done chan struct{}
	once sync.Once
	err  error
}

// NewShutdownManager creates a shutdown manager.
func NewShutdownManager(cfg ShutdownConfig) *ShutdownManager {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 15 * time.Second
	}
	return &ShutdownManager{
		cfg:  cfg,
		idle: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// RegisterCloser adds a closer to run on shutdown. Closers run LIFO.
func (sm *ShutdownManager) RegisterCloser(c io.Closer) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.closers = append(sm.closers, c)
}

// ListenForSignals blocks until SIGINT/SIGTERM, ctx cancellation or another
// Shutdown call, and shuts down in the first two cases.
func (sm *ShutdownManager) ListenForSignals(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		return sm.Shutdown(context.Background(), fmt.Sprintf("signal %v", sig))
	case <-ctx.Done():
		return sm.Shutdown(context.Background(), "context cancelled")
	case <-sm.done:
		return nil
	}
}

// Shutdown runs the shutdown sequence. Later calls return the first call's
// result without waiting for it.
func (sm *ShutdownManager) Shutdown(ctx context.Context, reason string) error {
	sm.once.Do(func() {
		sm.mu.Lock()
		sm.stopping = true
		pending := sm.inFlight
		sm.closeIdleLocked()
		closers := append([]io.Closer(nil), sm.closers...)
		sm.mu.Unlock()

		log.Printf("server: shutting down reason=%q in_flight=%d", reason, pending)
		close(sm.done)

		ctx, cancel := context.WithTimeout(ctx, sm.cfg.ShutdownTimeout)
		defer cancel()
		sm.err = sm.drain(ctx)

		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil && sm.err == nil {
				sm.err = fmt.Errorf("close failed: %w", err)
			}
		}
	})
	return sm.err
}

func (sm *ShutdownManager) drain(ctx context.Context) error {
	timer := time.NewTimer(sm.cfg.DrainTimeout)
	defer timer.Stop()

	select {
	case <-sm.idle:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}
	return fmt.Errorf("drain failed: timeout waiting for %d in-flight calls", sm.InFlightCount())
}

func (sm *ShutdownManager) closeIdleLocked() {
	if sm.stopping && sm.inFlight == 0 && !sm.idleClosed {
		close(sm.idle)
		sm.idleClosed = true
	}
}

// TrackCall registers an in-flight call. It returns false once shutdown has
// started; the call must then be rejected.
func (sm *ShutdownManager) TrackCall() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.stopping {
		return false
	}
	sm.inFlight++
	return true
}

// UntrackCall ends a call registered with TrackCall.
func (sm *ShutdownManager) UntrackCall() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.inFlight--
	sm.closeIdleLocked()
}

// IsShuttingDown reports whether shutdown has started.
func (sm *ShutdownManager) IsShuttingDown() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.stopping
}

// InFlightCount returns the number of in-flight calls.
func (sm *ShutdownManager) InFlightCount() int64 {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.inFlight
}

// Done is closed when shutdown starts.
func (sm *ShutdownManager) Done() <-chan struct{} {
	return sm.done
}

// CloserFunc adapts a function to io.Closer.
type CloserFunc func() error

// Close calls f.
func (f CloserFunc) Close() error {
	return f()
}
