package compaction

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errJob = errors.New("job failed")

func newTestThrottle(cfg ThrottleConfig) (*Throttle, *time.Time) {
	th := NewThrottle(cfg)
	clock := time.Unix(1_700_000_000, 0)
	th.now = func() time.Time { return clock }
	return th, &clock
}

func TestThrottle_Defaults(t *testing.T) {
	th := NewThrottle(ThrottleConfig{})
	assert.Equal(t, 4, th.Concurrency())
	assert.Zero(t, th.FailureRate())
	assert.False(t, th.Paused(100))

	// No history: hold.
	assert.Equal(t, 4, th.Adjust())
}

func TestThrottle_FailureRate(t *testing.T) {
	th, _ := newTestThrottle(ThrottleConfig{MaxConcurrency: 4})
	for i := 0; i < 8; i++ {
		th.Record(nil)
	}
	th.Record(errJob)
	th.Record(errJob)
	assert.InDelta(t, 0.2, th.FailureRate(), 1e-9)
}

func TestThrottle_Backoff(t *testing.T) {
	th, _ := newTestThrottle(ThrottleConfig{MaxConcurrency: 8, FailureThreshold: 0.1})
	for i := 0; i < 5; i++ {
		th.Record(nil)
		th.Record(errJob)
	}

	assert.Equal(t, 4, th.Adjust())
	assert.Equal(t, 2, th.Adjust())
	assert.Equal(t, 1, th.Adjust())
	assert.Equal(t, 1, th.Adjust(), "never below the minimum")
}

func TestThrottle_RampUp(t *testing.T) {
	th, _ := newTestThrottle(ThrottleConfig{MaxConcurrency: 8, FailureThreshold: 0.2})
	th.current = 1

	th.Record(nil)
	assert.Equal(t, 2, th.Adjust())
	assert.Equal(t, 4, th.Adjust())
	assert.Equal(t, 8, th.Adjust())
	assert.Equal(t, 8, th.Adjust(), "never above the maximum")
}

func TestThrottle_ModerateAndLinearRampUp(t *testing.T) {
	th, _ := newTestThrottle(ThrottleConfig{MaxConcurrency: 16, FailureThreshold: 0.2})
	th.current = 4

	// 1 in 20 = 5%, below half the threshold.
	th.Record(errJob)
	for i := 0; i < 19; i++ {
		th.Record(nil)
	}
	assert.Equal(t, 6, th.Adjust())

	// 3 in 20 = 15%, between half the threshold and the threshold.
	th.outcomes = nil
	for i := 0; i < 3; i++ {
		th.Record(errJob)
	}
	for i := 0; i < 17; i++ {
		th.Record(nil)
	}
	assert.InDelta(t, 0.15, th.FailureRate(), 1e-9)
	assert.Equal(t, 7, th.Adjust())
}

func TestThrottle_WindowExpiry(t *testing.T) {
	th, clock := newTestThrottle(ThrottleConfig{MaxConcurrency: 4, Window: time.Minute})
	th.Record(errJob)
	th.Record(errJob)
	assert.Equal(t, 1.0, th.FailureRate())

	*clock = clock.Add(2 * time.Minute)
	assert.Zero(t, th.FailureRate())
}

func TestThrottle_Paused(t *testing.T) {
	th, _ := newTestThrottle(ThrottleConfig{MaxConcurrency: 2, FailureThreshold: 0.1})
	th.Record(errJob)

	assert.False(t, th.Paused(0))
	assert.False(t, th.Paused(2), "a backlog that fits in one wave runs")
	assert.True(t, th.Paused(3))

	th.Record(nil)
	th.Record(nil)
	assert.True(t, th.Paused(3))
}

func TestThrottle_MinAboveMax(t *testing.T) {
	th := NewThrottle(ThrottleConfig{MaxConcurrency: 2, MinConcurrency: 5})
	th.Record(errJob)
	assert.Equal(t, 2, th.Adjust())
}
