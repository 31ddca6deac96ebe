package report

import "sync"

// FailureSample is a failed attempt kept for debugging.
type FailureSample struct {
	ExecutionID string  `json:"execution_id"`
	Job         string  `json:"job"`
	Attempt     int     `json:"attempt"`
	Cause       string  `json:"cause"`
	Duration    float64 `json:"duration_seconds"`
	ExitCode    int     `json:"exit_code"`
	PID         int     `json:"pid,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// FailureLog keeps the last N failed attempts.
type FailureLog struct {
	samples []FailureSample
	maxSize int
	mu      sync.RWMutex
}

// NewFailureLog creates a log holding at most maxSize samples.
func NewFailureLog(maxSize int) *FailureLog {
	return &FailureLog{
		samples: make([]FailureSample, 0, maxSize),
		maxSize: maxSize,
	}
}

// Record adds a failed attempt. Successful attempts are ignored.
func (l *FailureLog) Record(executionID, job string, a Attempt) {
	if a.ExitCode == 0 {
		return
	}
	sample := FailureSample{
		ExecutionID: executionID,
		Job:         job,
		Attempt:     a.Attempt,
		Cause:       string(a.Cause),
		Duration:    a.Duration.Seconds(),
		ExitCode:    a.ExitCode,
		PID:         a.PID,
		Error:       a.Error,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.samples) >= l.maxSize {
		l.samples = l.samples[1:]
	}
	l.samples = append(l.samples, sample)
}

// Recent returns up to n samples, newest first.
func (l *FailureLog) Recent(n int) []FailureSample {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || n > len(l.samples) {
		n = len(l.samples)
	}
	out := make([]FailureSample, n)
	for i := 0; i < n; i++ {
		out[i] = l.samples[len(l.samples)-1-i]
	}
	return out
}

// Count returns the number of samples held.
func (l *FailureLog) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.samples)
}
