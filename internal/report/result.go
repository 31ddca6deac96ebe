// Package report summarizes a finished run for operators: a one-line log
// summary, a rendered report and process-local counters.
package report

// If the wrapper is unsure, it DOES LESS.
// A Result is built once from the supervisor outcome and never changes.

import (
	"fmt"
	"time"

	"github.com/psantana5/twrap/internal/wrapper"
	"github.com/psantana5/twrap/pkg/logging"
)

// Attempt is the report view of one spawn attempt.
type Attempt struct {
	Attempt   int           `json:"attempt" yaml:"attempt"`
	PID       int           `json:"pid,omitempty" yaml:"pid,omitempty"`
	ExitCode  int           `json:"exit_code" yaml:"exit_code"`
	Cause     wrapper.Cause `json:"cause" yaml:"cause"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
	Truncated bool          `json:"output_truncated,omitempty" yaml:"output_truncated,omitempty"`
	Error     string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// Result is the job-level truth of one run.
type Result struct {
	ExecutionID string `json:"execution_id" yaml:"execution_id"`
	Team        string `json:"team" yaml:"team"`
	Group       string `json:"group" yaml:"group"`
	Job         string `json:"job" yaml:"job"`
	Host        string `json:"host" yaml:"host"`
	Command     string `json:"command,omitempty" yaml:"command,omitempty"`
	Dry         bool   `json:"dry" yaml:"dry"`

	StartTime time.Time     `json:"start_time" yaml:"start_time"`
	EndTime   time.Time     `json:"end_time" yaml:"end_time"`
	Duration  time.Duration `json:"duration" yaml:"duration"`

	ExitCode int           `json:"exit_code" yaml:"exit_code"`
	Cause    wrapper.Cause `json:"cause,omitempty" yaml:"cause,omitempty"`
	Signal   string        `json:"signal,omitempty" yaml:"signal,omitempty"`
	Attempts []Attempt     `json:"attempts" yaml:"attempts"`

	// MetricsFailed counts metrics that could not be delivered.
	MetricsFailed int `json:"metrics_failed,omitempty" yaml:"metrics_failed,omitempty"`
	// Error is the setup failure that prevented the run, if any.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// NewResult freezes an outcome. exitCode is the process exit status the
// wrapper will return.
func NewResult(out *wrapper.Outcome, exitCode int, start, end time.Time) *Result {
	r := &Result{
		StartTime: start,
		EndTime:   end,
		Duration:  end.Sub(start),
		ExitCode:  exitCode,
		Attempts:  []Attempt{},
	}
	if out == nil {
		return r
	}
	r.Dry = out.Dry
	r.Cause = out.Cause
	if out.Signal != nil {
		r.Signal = out.Signal.String()
	}
	for _, rec := range out.Records {
		r.Attempts = append(r.Attempts, NewAttempt(rec))
	}
	return r
}

// NewAttempt converts a supervisor record.
func NewAttempt(rec wrapper.RunRecord) Attempt {
	a := Attempt{
		Attempt:   rec.Attempt,
		PID:       rec.PID,
		ExitCode:  rec.Code(),
		Cause:     rec.Cause,
		Duration:  rec.Duration(),
		Truncated: rec.Truncated,
	}
	if rec.Err != nil {
		a.Error = rec.Err.Error()
	}
	return a
}

// SetJob records the identity of the run.
func (r *Result) SetJob(executionID, team, group, job, host string) {
	r.ExecutionID = executionID
	r.Team = team
	r.Group = group
	r.Job = job
	r.Host = host
}

// LogSummary emits the one-line summary ops grep for.
func (r *Result) LogSummary(log *logging.Logger) {
	cause := string(r.Cause)
	if r.Error != "" {
		cause = "setup_failed"
	}
	dry := ""
	if r.Dry {
		dry = " | dry"
	}
	log.Info(fmt.Sprintf("JOB %s/%s/%s | id=%s | cause=%s | runtime=%.0fs | exit=%d | attempts=%d%s",
		r.Team,
		r.Group,
		r.Job,
		r.ExecutionID,
		cause,
		r.Duration.Seconds(),
		r.ExitCode,
		len(r.Attempts),
		dry,
	))
}
