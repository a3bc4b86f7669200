package compaction

import (
	"sync"
	"time"
)

// Throttle bounds how many compaction jobs run at once and adapts the bound
// to the recent failure rate of jobs.
//
// Above the failure threshold the bound is halved. With no failures in the
// window it doubles, below half the threshold it grows by half, and up to
// the threshold it grows by one. All growth is capped at MaxConcurrency.
type Throttle struct {
	cfg ThrottleConfig
	now func() time.Time

	mu       sync.Mutex
	current  int
	outcomes []jobOutcome
}

type jobOutcome struct {
	at     time.Time
	failed bool
}

// ThrottleConfig holds configuration for a Throttle.
type ThrottleConfig struct {
	// MaxConcurrency is the upper bound of concurrent jobs (default: 4)
	MaxConcurrency int `json:"max_concurrency" yaml:"max_concurrency"`

	// MinConcurrency is the lower bound (default: 1)
	MinConcurrency int `json:"min_concurrency" yaml:"min_concurrency"`

	// FailureThreshold is the failure rate above which the bound is halved (default: 0.25)
	FailureThreshold float64 `json:"failure_threshold" yaml:"failure_threshold"`

	// Window is how long outcomes count towards the failure rate (default: 10m)
	Window time.Duration `json:"window" yaml:"window"`
}

// DefaultThrottleConfig returns the default throttle configuration.
func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		MaxConcurrency:   4,
		MinConcurrency:   1,
		FailureThreshold: 0.25,
		Window:           10 * time.Minute,
	}
}

// NewThrottle creates a Throttle starting at MaxConcurrency.
func NewThrottle(cfg ThrottleConfig) *Throttle {
	def := DefaultThrottleConfig()
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = def.MaxConcurrency
	}
	if cfg.MinConcurrency <= 0 {
		cfg.MinConcurrency = def.MinConcurrency
	}
	if cfg.MinConcurrency > cfg.MaxConcurrency {
		cfg.MinConcurrency = cfg.MaxConcurrency
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	return &Throttle{cfg: cfg, now: time.Now, current: cfg.MaxConcurrency}
}

// Record adds the outcome of one job.
func (t *Throttle) Record(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outcomes = append(t.outcomes, jobOutcome{at: t.now(), failed: err != nil})
}

// FailureRate returns the failure rate within the window.
func (t *Throttle) FailureRate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	rate, _ := t.rateLocked()
	return rate
}

// rateLocked prunes the window and returns the failure rate and the number
// of outcomes left. Caller must hold t.mu.
func (t *Throttle) rateLocked() (float64, int) {
	cutoff := t.now().Add(-t.cfg.Window)
	i := 0
	for i < len(t.outcomes) && t.outcomes[i].at.Before(cutoff) {
		i++
	}
	t.outcomes = t.outcomes[i:]

	if len(t.outcomes) == 0 {
		return 0, 0
	}
	failed := 0
	for _, o := range t.outcomes {
		if o.failed {
			failed++
		}
	}
	return float64(failed) / float64(len(t.outcomes)), len(t.outcomes)
}

// Adjust recomputes the concurrency bound. Call it between waves of jobs.
func (t *Throttle) Adjust() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	rate, n := t.rateLocked()
	next := t.current
	switch {
	case rate > t.cfg.FailureThreshold:
		next = t.current / 2
	case n == 0:
		// no history, hold
	case rate == 0:
		next = t.current * 2
	case rate < t.cfg.FailureThreshold/2:
		delta := t.current / 2
		if delta < 1 {
			delta = 1
		}
		next = t.current + delta
	default:
		next = t.current + 1
	}

	if next < t.cfg.MinConcurrency {
		next = t.cfg.MinConcurrency
	}
	if next > t.cfg.MaxConcurrency {
		next = t.cfg.MaxConcurrency
	}
	t.current = next
	return next
}

// Paused reports whether pending jobs should be held back. A backlog that
// fits in one wave always runs so the failure rate can recover.
func (t *Throttle) Paused(pending int) bool {
	if pending <= t.cfg.MaxConcurrency {
		return false
	}
	return t.FailureRate() > t.cfg.FailureThreshold
}

// Concurrency returns the current bound.
func (t *Throttle) Concurrency() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}
