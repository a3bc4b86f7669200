// Package observability tracks per-job compaction statistics.
package observability

import (
	"sort"
	"sync"
	"time"
)

// RunStats aggregates run outcomes per job over a sliding window.
type RunStats struct {
	mu     sync.RWMutex
	jobs   map[string]*JobStats
	window time.Duration
	now    func() time.Time
}

// JobStats holds the aggregated outcomes of one job.
type JobStats struct {
	Job       string        `json:"job"`
	Runs      int64         `json:"runs"`
	Failures  int64         `json:"failures"`
	TotalRows int64         `json:"total_rows"`
	Elapsed   time.Duration `json:"elapsed"`
	LastSeen  time.Time     `json:"last_seen"`
}

// NewRunStats creates a tracker that forgets jobs not seen within window.
func NewRunStats(window time.Duration) *RunStats {
	return &RunStats{
		jobs:   make(map[string]*JobStats),
		window: window,
		now:    time.Now,
	}
}

// Record adds one run of job.
func (r *RunStats) Record(job string, rows int64, elapsed time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.jobs[job]
	if !ok {
		s = &JobStats{Job: job}
		r.jobs[job] = s
	}
	s.Runs++
	if err != nil {
		s.Failures++
	} else {
		s.TotalRows += rows
	}
	s.Elapsed += elapsed
	s.LastSeen = r.now()
}

// Get returns a copy of the stats of job.
func (r *RunStats) Get(job string) (JobStats, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.jobs[job]
	if !ok {
		return JobStats{}, false
	}
	return *s, true
}

// Top returns up to n jobs ordered by run count, then name.
func (r *RunStats) Top(n int) []JobStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n <= 0 || len(r.jobs) == 0 {
		return []JobStats{}
	}
	stats := make([]JobStats, 0, len(r.jobs))
	for _, s := range r.jobs {
		stats = append(stats, *s)
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Runs != stats[j].Runs {
			return stats[i].Runs > stats[j].Runs
		}
		return stats[i].Job < stats[j].Job
	})
	if n > len(stats) {
		n = len(stats)
	}
	return stats[:n]
}

// Prune drops jobs not seen within the window.
func (r *RunStats) Prune() {
	r.mu.Lock()
	defer r.mu.Unlock()

	threshold := r.now().Add(-r.window)
	for job, s := range r.jobs {
		if s.LastSeen.Before(threshold) {
			delete(r.jobs, job)
		}
	}
}
