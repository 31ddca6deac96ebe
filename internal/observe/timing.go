// Package observe samples the host and the supervised process. It only
// reads; nothing here changes the workload.
package observe

import (
	"math"
	"time"
)

// Timing records the wall time of a run.
type Timing struct {
	StartedAt   time.Time
	CompletedAt time.Time
}

// NewTiming starts the clock.
func NewTiming() *Timing {
	return &Timing{StartedAt: time.Now()}
}

// Complete stops the clock. Later calls keep the first value.
func (t *Timing) Complete() {
	if t.CompletedAt.IsZero() {
		t.CompletedAt = time.Now()
	}
}

// Duration is the elapsed time, up to now while the run is in progress.
func (t *Timing) Duration() time.Duration {
	if t.CompletedAt.IsZero() {
		return time.Since(t.StartedAt)
	}
	return t.CompletedAt.Sub(t.StartedAt)
}

// Seconds rounds d to whole seconds.
func Seconds(d time.Duration) int64 {
	return int64(math.Round(d.Seconds()))
}
