// Package executor runs physical plans over registered tables and streams
// the results as arrow record batches.
package executor

import (
	"container/list"
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ConnectionPool caches read-only SQLite handles for scanned files.
// Handles are reference counted. Unreferenced handles sit on an LRU list and
// are closed after IdleTimeout, or earlier when MaxFiles forces an eviction.
type ConnectionPool struct {
	cfg PoolConfig

	mu      sync.Mutex
	handles map[string]*handle
	idle    *list.List // of *handle, most recently released first
	stop    chan struct{}
	closed  bool
}

type handle struct {
	path     string
	db       *sql.DB
	refs     int
	lastUsed time.Time
	elem     *list.Element // non-nil while on the idle list
}

// PoolConfig holds configuration for the connection pool.
type PoolConfig struct {
	// MaxConnections is the maximum connections per file (default: 4)
	MaxConnections int

	// MaxFiles is the maximum number of open files (default: 64)
	MaxFiles int

	// IdleTimeout is how long a handle can be idle (default: 5 minutes)
	IdleTimeout time.Duration
}

// DefaultPoolConfig returns the default pool configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConnections: 4,
		MaxFiles:       64,
		IdleTimeout:    5 * time.Minute,
	}
}

// NewConnectionPool creates a pool and starts its idle reaper. Zero fields
// of cfg take their defaults.
func NewConnectionPool(cfg PoolConfig) *ConnectionPool {
	def := DefaultPoolConfig()
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = def.MaxConnections
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = def.MaxFiles
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}

	p := &ConnectionPool{
		cfg:     cfg,
		handles: make(map[string]*handle),
		idle:    list.New(),
		stop:    make(chan struct{}),
	}
	go p.reapLoop()
	return p
}

// Get returns a handle for the file at path, opening it if needed. Every
// successful Get must be paired with a Release.
func (p *ConnectionPool) Get(ctx context.Context, path string) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, fmt.Errorf("pool: connection pool is closed")
	}

	if h, ok := p.handles[path]; ok {
		if h.elem != nil {
			p.idle.Remove(h.elem)
			h.elem = nil
		}
		h.refs++
		return h.db, nil
	}

	if len(p.handles) >= p.cfg.MaxFiles {
		oldest := p.idle.Back()
		if oldest == nil {
			return nil, fmt.Errorf("pool: maximum open files reached (%d)", p.cfg.MaxFiles)
		}
		p.drop(oldest.Value.(*handle))
	}

	db, err := p.open(ctx, path)
	if err != nil {
		return nil, err
	}
	p.handles[path] = &handle{path: path, db: db, refs: 1}
	return db, nil
}

// Release returns a handle obtained from Get.
func (p *ConnectionPool) Release(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	h, ok := p.handles[path]
	if !ok || h.refs == 0 {
		return
	}
	h.refs--
	if h.refs == 0 {
		h.lastUsed = time.Now()
		h.elem = p.idle.PushFront(h)
	}
}

func (p *ConnectionPool) open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_query_only=true")
	if err != nil {
		return nil, fmt.Errorf("pool: failed to open %s: %w", path, err)
	}
	db.SetMaxOpenConns(p.cfg.MaxConnections)
	db.SetMaxIdleConns(p.cfg.MaxConnections)
	db.SetConnMaxIdleTime(p.cfg.IdleTimeout)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pool: failed to open %s: %w", path, err)
	}
	return db, nil
}

// drop closes h and forgets it. Caller holds p.mu.
func (p *ConnectionPool) drop(h *handle) error {
	if h.elem != nil {
		p.idle.Remove(h.elem)
		h.elem = nil
	}
	delete(p.handles, h.path)
	return h.db.Close()
}

func (p *ConnectionPool) reapLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case now := <-ticker.C:
			p.reap(now)
		}
	}
}

// reap closes handles idle since before now-IdleTimeout, oldest first.
func (p *ConnectionPool) reap(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for e := p.idle.Back(); e != nil; {
		h := e.Value.(*handle)
		if now.Sub(h.lastUsed) <= p.cfg.IdleTimeout {
			return
		}
		e = e.Prev()
		p.drop(h)
	}
}

// Close closes every handle, referenced or not.
func (p *ConnectionPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.stop)

	var lastErr error
	for _, h := range p.handles {
		if err := p.drop(h); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// PoolStats reports pool occupancy.
type PoolStats struct {
	OpenFiles   int
	ActiveFiles int
	IdleFiles   int
}

func (p *ConnectionPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		OpenFiles:   len(p.handles),
		ActiveFiles: len(p.handles) - p.idle.Len(),
		IdleFiles:   p.idle.Len(),
	}
}

// Evict closes the handle for path. It fails while the handle is in use.
func (p *ConnectionPool) Evict(path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	h, ok := p.handles[path]
	if !ok {
		return nil
	}
	if h.refs > 0 {
		return fmt.Errorf("pool: cannot evict %s with active references", path)
	}
	return p.drop(h)
}
