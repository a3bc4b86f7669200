package manifest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arkilian/compactor/internal/compaction"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// ErrRunNotFound is returned when a run id is not in the ledger.
var ErrRunNotFound = errors.New("manifest: run not found")

const runsSchemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	job_name    TEXT NOT NULL,
	query       TEXT NOT NULL,
	status      TEXT NOT NULL,
	partitions  INTEGER NOT NULL DEFAULT 0,
	total_rows  INTEGER NOT NULL DEFAULT 0,
	summary     TEXT,
	error       TEXT,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`

// RunRecord is one compaction run in the ledger.
type RunRecord struct {
	RunID      string                    `json:"run_id"`
	JobName    string                    `json:"job_name"`
	SQL        string                    `json:"sql"`
	Status     string                    `json:"status"`
	Partitions int                       `json:"partitions"`
	TotalRows  int64                     `json:"total_rows"`
	Summary    *compaction.OutputSummary `json:"summary,omitempty"`
	Error      string                    `json:"error,omitempty"`
	StartedAt  time.Time                 `json:"started_at"`
	FinishedAt *time.Time                `json:"finished_at,omitempty"`
}

// RunLog is a SQLite ledger of compaction runs.
type RunLog struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool
	mu     sync.Mutex
	now    func() time.Time
}

// NewRunLog opens (or creates) the ledger at dbPath.
func NewRunLog(dbPath string) (*RunLog, error) {
	db, err := sql.Open("sqlite3", "file:"+dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to open run log: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(runsSchemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("manifest: failed to initialize run log: %w", err)
	}

	// The file exists now, so readers can open it read-only.
	readDB, err := sql.Open("sqlite3", "file:"+dbPath+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("manifest: failed to open run log reader: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	return &RunLog{db: db, readDB: readDB, now: time.Now}, nil
}

// Begin records the start of a run and returns its id.
func (l *RunLog) Begin(ctx context.Context, jobName, query string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	runID := uuid.New().String()
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, job_name, query, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		runID, jobName, query, RunRunning, l.now().UnixNano())
	if err != nil {
		return "", fmt.Errorf("manifest: failed to record run: %w", err)
	}
	return runID, nil
}

// Finish closes a run. A nil runErr marks it succeeded; summary may be nil
// on failure.
func (l *RunLog) Finish(ctx context.Context, runID string, summary *compaction.OutputSummary, runErr error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	status := RunSucceeded
	var errText sql.NullString
	if runErr != nil {
		status = RunFailed
		errText = sql.NullString{String: runErr.Error(), Valid: true}
	}

	var partitions int
	var totalRows int64
	var summaryJSON sql.NullString
	if summary != nil {
		partitions = len(summary.Partitions)
		totalRows = summary.TotalRows
		data, err := json.Marshal(summary)
		if err != nil {
			return fmt.Errorf("manifest: failed to encode run summary: %w", err)
		}
		summaryJSON = sql.NullString{String: string(data), Valid: true}
	}

	res, err := l.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, partitions = ?, total_rows = ?, summary = ?, error = ?, finished_at = ?
		 WHERE run_id = ? AND status = ?`,
		status, partitions, totalRows, summaryJSON, errText, l.now().UnixNano(), runID, RunRunning)
	if err != nil {
		return fmt.Errorf("manifest: failed to finish run %s: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("manifest: failed to finish run %s: %w", runID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s is not running", ErrRunNotFound, runID)
	}
	return nil
}

const selectRunSQL = `
	SELECT run_id, job_name, query, status, partitions, total_rows, summary, error, started_at, finished_at
	FROM runs`

// Get returns one run.
func (l *RunLog) Get(ctx context.Context, runID string) (*RunRecord, error) {
	row := l.readDB.QueryRowContext(ctx, selectRunSQL+` WHERE run_id = ?`, runID)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return rec, err
}

// List returns up to limit runs, newest first. A limit <= 0 returns all.
func (l *RunLog) List(ctx context.Context, limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := l.readDB.QueryContext(ctx, selectRunSQL+` ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to list runs: %w", err)
	}
	defer rows.Close()

	var records []*RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("manifest: error iterating runs: %w", err)
	}
	return records, nil
}

// Close closes both connections.
func (l *RunLog) Close() error {
	rerr := l.readDB.Close()
	if err := l.db.Close(); err != nil {
		return err
	}
	return rerr
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var (
		rec         RunRecord
		summaryJSON sql.NullString
		errText     sql.NullString
		startedAt   int64
		finishedAt  sql.NullInt64
	)
	err := row.Scan(&rec.RunID, &rec.JobName, &rec.SQL, &rec.Status, &rec.Partitions, &rec.TotalRows,
		&summaryJSON, &errText, &startedAt, &finishedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("manifest: failed to scan run: %w", err)
	}

	rec.Error = errText.String
	rec.StartedAt = time.Unix(0, startedAt)
	if finishedAt.Valid {
		t := time.Unix(0, finishedAt.Int64)
		rec.FinishedAt = &t
	}
	if summaryJSON.Valid {
		var summary compaction.OutputSummary
		if err := json.Unmarshal([]byte(summaryJSON.String), &summary); err != nil {
			return nil, fmt.Errorf("manifest: failed to decode run summary: %w", err)
		}
		rec.Summary = &summary
	}
	return &rec, nil
}
