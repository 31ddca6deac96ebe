package wrapper

import (
	"os"
	"time"
)

// Cause explains why an attempt or a run ended.
type Cause string

const (
	CauseCompleted      Cause = "completed"
	CauseTimedOut       Cause = "timed_out"
	CauseSignaled       Cause = "signaled"
	CauseRetryExhausted Cause = "retry_exhausted"
	CauseSpawnFailed    Cause = "spawn_failed"
)

// RunRecord describes a single attempt.
type RunRecord struct {
	Attempt   int       `json:"attempt" yaml:"attempt"`
	PID       int       `json:"pid,omitempty" yaml:"pid,omitempty"`
	StartedAt time.Time `json:"started_at" yaml:"started_at"`
	EndedAt   time.Time `json:"ended_at" yaml:"ended_at"`
	// ExitCode is nil until the attempt has completed.
	ExitCode  *int   `json:"exit_code" yaml:"exit_code"`
	Cause     Cause  `json:"cause" yaml:"cause"`
	Stdout    string `json:"-" yaml:"-"`
	Stderr    string `json:"-" yaml:"-"`
	Truncated bool   `json:"truncated,omitempty" yaml:"truncated,omitempty"`
	Err       error  `json:"-" yaml:"-"`
}

// Code returns the exit code, or ExitCodeSpawnFailed for an attempt that
// never completed.
func (r RunRecord) Code() int {
	if r.ExitCode == nil {
		return ExitCodeSpawnFailed
	}
	return *r.ExitCode
}

// Duration is the wall time of the attempt.
func (r RunRecord) Duration() time.Duration {
	if r.EndedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.EndedAt.Sub(r.StartedAt)
}

func (r *RunRecord) complete(code int, cause Cause) {
	r.EndedAt = time.Now()
	r.ExitCode = &code
	r.Cause = cause
}

// Outcome is the result of a supervised run.
type Outcome struct {
	ExitCode int
	Duration time.Duration
	Stdout   string
	Stderr   string
	Records  []RunRecord
	Cause    Cause
	// Signal is the external signal that ended the run, if any.
	Signal os.Signal
	Dry    bool
}

// Attempts returns the number of spawn attempts.
func (o *Outcome) Attempts() int {
	return len(o.Records)
}

// Err returns the error of the last attempt, if any.
func (o *Outcome) Err() error {
	if len(o.Records) == 0 {
		return nil
	}
	return o.Records[len(o.Records)-1].Err
}

// Success reports whether the last attempt exited with code 0.
func (o *Outcome) Success() bool {
	return o.ExitCode == 0
}
