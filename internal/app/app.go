// Package app wires configuration, storage and the query engine into
// compaction runs and the planner server.
package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"

	grpcapi "github.com/arkilian/compactor/internal/api/grpc"
	"github.com/arkilian/compactor/internal/compaction"
	"github.com/arkilian/compactor/internal/config"
	"github.com/arkilian/compactor/internal/events"
	"github.com/arkilian/compactor/internal/manifest"
	"github.com/arkilian/compactor/internal/observability"
	"github.com/arkilian/compactor/internal/query/executor"
	"github.com/arkilian/compactor/internal/server"
	"github.com/arkilian/compactor/internal/storage"
)

// App owns the resources shared by compaction runs.
type App struct {
	cfg *config.Config

	// Shared resources
	storage  storage.ObjectStorage
	fileIO   *storage.FileIO
	pool     *executor.ConnectionPool
	runs     *manifest.RunLog
	throttle *compaction.Throttle
	notifier *events.Notifier
	stats    *observability.RunStats

	mu      sync.Mutex
	started bool
	closed  bool
}

// RunResult is the outcome of one compaction run.
type RunResult struct {
	RunID   string                    `json:"run_id"`
	Job     string                    `json:"job"`
	SQL     string                    `json:"sql"`
	Summary *compaction.OutputSummary `json:"summary"`
	Elapsed time.Duration             `json:"elapsed"`
}

// New validates cfg and creates the local directories it names.
func New(cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	throttle := compaction.NewThrottle(compaction.ThrottleConfig{
		MaxConcurrency:   cfg.Jobs.MaxConcurrency,
		FailureThreshold: cfg.Jobs.FailureThreshold,
		Window:           cfg.Jobs.Window,
	})
	return &App{
		cfg:      cfg,
		throttle: throttle,
		notifier: events.NewNotifier(0),
		stats:    observability.NewRunStats(cfg.Jobs.Window),
	}, nil
}

// Start opens storage, the file cache, the connection pool and the run
// ledger.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return fmt.Errorf("app is already started")
	}

	if err := a.initSharedResources(ctx); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to initialize shared resources: %w", err)
	}
	a.started = true
	return nil
}

func (a *App) initSharedResources(ctx context.Context) error {
	var err error

	switch a.cfg.Storage.Type {
	case "local":
		a.storage, err = storage.NewLocalStorage(a.cfg.Storage.Path)
	case "s3":
		s3Cfg := storage.DefaultS3Config()
		if a.cfg.Storage.S3.Region != "" {
			s3Cfg.Region = a.cfg.Storage.S3.Region
		}
		if a.cfg.Storage.S3.MaxRetries > 0 {
			s3Cfg.MaxRetries = a.cfg.Storage.S3.MaxRetries
		}
		s3Cfg.Endpoint = a.cfg.Storage.S3.Endpoint
		s3Cfg.UsePathStyle = a.cfg.Storage.S3.UsePathStyle
		s3Cfg.Prefix = a.cfg.Storage.S3.Prefix
		a.storage, err = storage.NewS3Storage(ctx, a.cfg.Storage.S3.Bucket, s3Cfg)
	default:
		return fmt.Errorf("unsupported storage type: %s", a.cfg.Storage.Type)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	log.Printf("app: storage initialized type=%s", a.cfg.Storage.Type)

	a.fileIO, err = storage.NewFileIO(a.storage, storage.FileIOConfig{
		CacheDir:      a.cfg.Engine.CacheDir,
		MaxCacheBytes: a.cfg.Engine.MaxCacheBytes,
	})
	if err != nil {
		return err
	}

	poolCfg := executor.DefaultPoolConfig()
	poolCfg.MaxFiles = a.cfg.Engine.PoolSize
	a.pool = executor.NewConnectionPool(poolCfg)

	a.runs, err = manifest.NewRunLog(a.cfg.RunLogPath())
	if err != nil {
		return err
	}
	log.Printf("app: run log initialized path=%s", a.cfg.RunLogPath())
	return nil
}

// Runs returns the run ledger. Start must have been called.
func (a *App) Runs() *manifest.RunLog {
	return a.runs
}

// Events returns the bus that run transitions are published on.
func (a *App) Events() *events.Notifier {
	return a.notifier
}

// Stats returns per-job run statistics of this process.
func (a *App) Stats() *observability.RunStats {
	return a.stats
}

// Run executes one merge-on-read compaction of job and drains its output.
// Every run is recorded in the ledger, failed ones included.
func (a *App) Run(ctx context.Context, job *manifest.Job) (*RunResult, error) {
	if !a.isStarted() {
		return nil, fmt.Errorf("app is not started")
	}
	start := time.Now()

	taskCtx, err := job.BuildTaskContext()
	if err != nil {
		return nil, err
	}

	runID, err := a.runs.Begin(ctx, job.Name, taskCtx.SQL())
	if err != nil {
		return nil, err
	}
	log.Printf("app: run started job=%s run_id=%s", job.Name, runID)
	a.notifier.Publish(events.Notification{
		Kind: events.RunStarted, Job: job.Name, RunID: runID, Timestamp: start.UnixNano(),
	})

	summary, runErr := a.execute(ctx, job, taskCtx)
	// A cancelled run is still recorded as failed.
	if err := a.runs.Finish(context.WithoutCancel(ctx), runID, summary, runErr); err != nil {
		log.Printf("app: failed to record run %s: %v", runID, err)
	}
	elapsed := time.Since(start)
	if runErr != nil {
		log.Printf("app: run failed job=%s run_id=%s: %v", job.Name, runID, runErr)
		a.stats.Record(job.Name, 0, elapsed, runErr)
		a.notifier.Publish(events.Notification{
			Kind: events.RunFailed, Job: job.Name, RunID: runID, Err: runErr.Error(), Timestamp: time.Now().UnixNano(),
		})
		return nil, runErr
	}

	a.stats.Record(job.Name, summary.TotalRows, elapsed, nil)
	a.notifier.Publish(events.Notification{
		Kind: events.RunSucceeded, Job: job.Name, RunID: runID, TotalRows: summary.TotalRows, Timestamp: time.Now().UnixNano(),
	})
	log.Printf("app: run finished job=%s run_id=%s rows=%d partitions=%d elapsed=%s",
		job.Name, runID, summary.TotalRows, len(summary.Partitions), elapsed)
	return &RunResult{
		RunID:   runID,
		Job:     job.Name,
		SQL:     taskCtx.SQL(),
		Summary: summary,
		Elapsed: elapsed,
	}, nil
}

// JobOutcome is the result of one job of RunAll.
type JobOutcome struct {
	Job     string     `json:"job"`
	Result  *RunResult `json:"result,omitempty"`
	Error   string     `json:"error,omitempty"`
	Skipped bool       `json:"skipped,omitempty"`
}

// RunAll runs jobs in waves of at most the throttle's concurrency. The
// throttle adapts after every wave; jobs still pending when it pauses, or
// when ctx is done, are reported as skipped. Outcomes are in job order.
func (a *App) RunAll(ctx context.Context, jobs []*manifest.Job) []JobOutcome {
	outcomes := make([]JobOutcome, len(jobs))
	for i, job := range jobs {
		outcomes[i].Job = job.Name
	}

	next := 0
	for next < len(jobs) {
		pending := len(jobs) - next
		if ctx.Err() != nil {
			break
		}
		if a.throttle.Paused(pending) {
			log.Printf("app: pausing jobs pending=%d failure_rate=%.2f", pending, a.throttle.FailureRate())
			break
		}

		wave := a.throttle.Concurrency()
		if wave > pending {
			wave = pending
		}

		var wg sync.WaitGroup
		for i := next; i < next+wave; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				result, err := a.Run(ctx, jobs[i])
				a.throttle.Record(err)
				if err != nil {
					outcomes[i].Error = err.Error()
					return
				}
				outcomes[i].Result = result
			}(i)
		}
		wg.Wait()

		next += wave
		a.throttle.Adjust()
	}

	for i := next; i < len(jobs); i++ {
		outcomes[i].Skipped = true
	}
	a.stats.Prune()
	return outcomes
}

func (a *App) execute(ctx context.Context, job *manifest.Job, taskCtx *compaction.TaskContext) (*compaction.OutputSummary, error) {
	size, err := a.fileIO.Verify(ctx, job.Locations())
	if err != nil {
		return nil, err
	}
	log.Printf("app: inputs verified job=%s files=%d bytes=%d", job.Name, len(job.Locations()), size)

	session := executor.NewSessionContext(executor.SessionConfig{BatchSize: a.cfg.Engine.BatchSize})

	procCfg := compaction.ProcessorConfig{
		BatchParallelism: a.cfg.Engine.BatchParallelism,
		TargetPartitions: a.cfg.Engine.TargetPartitions,
		Pool:             a.pool,
	}
	if job.BatchParallelism > 0 {
		procCfg.BatchParallelism = job.BatchParallelism
	}
	if job.TargetPartitions > 0 {
		procCfg.TargetPartitions = job.TargetPartitions
	}

	proc := compaction.NewProcessor(session, taskCtx, procCfg, a.fileIO, job.PartitionSpec())
	defer proc.Close()

	streams, schema, err := proc.Execute(ctx)
	if err != nil {
		return nil, err
	}
	return compaction.Drain(ctx, streams, schema)
}

// Serve runs the planner gRPC server on lis until ctx is cancelled or a
// termination signal arrives.
func (a *App) Serve(ctx context.Context, lis net.Listener) error {
	shutdown := server.NewShutdownManager(server.ShutdownConfig{
		ShutdownTimeout: a.cfg.Server.ShutdownTimeout,
		DrainTimeout:    a.cfg.Server.ShutdownTimeout / 2,
	})

	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(server.UnaryInterceptor(shutdown)))
	grpcapi.RegisterPlannerServer(grpcServer, grpcapi.NewPlannerServer())
	gs := server.NewGracefulGRPCServer(grpcServer, shutdown, a.cfg.Server.ShutdownTimeout)

	go func() {
		if err := shutdown.ListenForSignals(ctx); err != nil {
			log.Printf("app: shutdown error: %v", err)
		}
	}()

	err := gs.Serve(lis)
	if err != nil {
		// Serve failed on its own; release the signal listener.
		_ = shutdown.Shutdown(context.Background(), "serve failed")
	}
	return err
}

// Close releases the shared resources.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	return a.cleanup()
}

func (a *App) cleanup() error {
	var firstErr error
	if a.runs != nil {
		if err := a.runs.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.pool != nil {
		if err := a.pool.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (a *App) isStarted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.started && !a.closed
}
