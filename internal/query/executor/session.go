package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/uuid"

	cerrors "github.com/arkilian/compactor/internal/errors"
	"github.com/arkilian/compactor/internal/query/parser"
	"github.com/arkilian/compactor/internal/query/planner"
)

// TableProvider is a queryable table.
type TableProvider interface {
	Schema() *arrow.Schema
	Scan(ctx context.Context, taskCtx *TaskContext) (RecordBatchStream, error)
}

// SessionConfig holds configuration for a session.
type SessionConfig struct {
	// BatchSize is the maximum number of rows per batch (default: 8192)
	BatchSize int

	// Allocator is used for arrow buffers (default: memory.DefaultAllocator)
	Allocator memory.Allocator
}

// SessionContext holds the table catalog and settings for one query
// session. Registration must complete before queries are planned.
type SessionContext struct {
	id  string
	cfg SessionConfig

	mu     sync.RWMutex
	tables map[string]TableProvider
}

// NewSessionContext creates an empty session.
func NewSessionContext(cfg SessionConfig) *SessionContext {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Allocator == nil {
		cfg.Allocator = memory.DefaultAllocator
	}
	return &SessionContext{
		id:     uuid.NewString(),
		cfg:    cfg,
		tables: make(map[string]TableProvider),
	}
}

// ID returns the session identifier.
func (s *SessionContext) ID() string {
	return s.id
}

// RegisterTable binds name to provider. Names are unique per session.
func (s *SessionContext) RegisterTable(name string, provider TableProvider) error {
	if name == "" {
		return cerrors.NewEngineError(cerrors.CodeRegistrationFailed, "table name is empty", nil)
	}
	if provider == nil {
		return cerrors.NewEngineError(cerrors.CodeRegistrationFailed,
			fmt.Sprintf("table %q has no provider", name), nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tables[name]; exists {
		return cerrors.NewEngineError(cerrors.CodeRegistrationFailed,
			fmt.Sprintf("table %q already registered", name), nil)
	}
	s.tables[name] = provider
	return nil
}

// Table returns the provider registered under name.
func (s *SessionContext) Table(name string) (TableProvider, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[name]
	return t, ok
}

// TableNames returns the registered table names, sorted.
func (s *SessionContext) TableNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.tables))
	for n := range s.tables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// TableSchema implements planner.Catalog.
func (s *SessionContext) TableSchema(name string) (*arrow.Schema, bool) {
	t, ok := s.Table(name)
	if !ok {
		return nil, false
	}
	return t.Schema(), true
}

// SQL parses and plans query into a DataFrame.
func (s *SessionContext) SQL(ctx context.Context, query string) (*DataFrame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stmt, err := parser.Parse(query)
	if err != nil {
		return nil, cerrors.NewEngineError(cerrors.CodePlanningFailed, "failed to parse query", err)
	}
	sel, ok := stmt.(*parser.SelectStatement)
	if !ok {
		return nil, cerrors.NewEngineError(cerrors.CodePlanningFailed, "only SELECT is supported", nil)
	}

	plan, err := planner.Plan(sel, s)
	if err != nil {
		return nil, cerrors.NewEngineError(cerrors.CodePlanningFailed, "failed to plan query", err)
	}

	return &DataFrame{session: s, plan: plan}, nil
}

// PhysicalPlan plans query all the way to an executable plan.
func (s *SessionContext) PhysicalPlan(ctx context.Context, query string) (ExecutionPlan, error) {
	df, err := s.SQL(ctx, query)
	if err != nil {
		return nil, err
	}
	return df.CreatePhysicalPlan(ctx)
}

// TaskContext returns the execution settings of this session.
func (s *SessionContext) TaskContext() *TaskContext {
	return &TaskContext{
		SessionID: s.id,
		BatchSize: s.cfg.BatchSize,
		Allocator: s.cfg.Allocator,
	}
}

// DataFrame is a planned query.
type DataFrame struct {
	session *SessionContext
	plan    *planner.LogicalPlan
}

// LogicalPlan returns the resolved plan.
func (d *DataFrame) LogicalPlan() *planner.LogicalPlan {
	return d.plan
}

// Schema returns the result schema.
func (d *DataFrame) Schema() *arrow.Schema {
	return d.plan.Schema
}

// CreatePhysicalPlan binds the logical plan to the registered providers.
func (d *DataFrame) CreatePhysicalPlan(ctx context.Context) (ExecutionPlan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	names := d.plan.TableNames()
	inputs := make([]SQLiteInput, 0, len(names))
	for _, name := range names {
		provider, ok := d.session.Table(name)
		if !ok {
			return nil, cerrors.NewEngineError(cerrors.CodePlanningFailed,
				fmt.Sprintf("table %q is no longer registered", name), nil)
		}
		inputs = append(inputs, SQLiteInput{Name: name, Provider: provider})
	}

	return NewSQLiteExec(d.plan, inputs), nil
}
