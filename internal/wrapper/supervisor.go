// Package wrapper supervises a child process: spawn, timeout, signal
// forwarding, retries, output capture and exit-code determination.
package wrapper

// If the wrapper is unsure, it DOES LESS.
// One termination sequence per child. Signals end the run, never retry it.

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/psantana5/twrap/internal/cgroups"
	"github.com/psantana5/twrap/internal/command"
	"github.com/psantana5/twrap/pkg/logging"
	"github.com/psantana5/twrap/pkg/retry"
)

// DefaultGracePeriod is the time between the graceful signal and SIGKILL.
const DefaultGracePeriod = 10 * time.Second

// Options configures a Supervisor.
type Options struct {
	// Retries is the number of additional attempts after a failed one.
	Retries int
	// Timeout bounds each attempt. Zero disables it.
	Timeout     time.Duration
	GracePeriod time.Duration
	// Backoff delays retries; a zero InitialBackoff retries immediately.
	Backoff retry.Config
	// OutputLimit caps captured stdout and stderr per attempt (tail kept).
	OutputLimit int
	// Stdout and Stderr, when set, receive the child's output live.
	Stdout io.Writer
	Stderr io.Writer

	Limits     *cgroups.Limits
	CgroupName string

	// OnHeartbeat is called every Heartbeat while a child runs. It must not
	// block.
	Heartbeat   time.Duration
	OnHeartbeat func(Status)
	OnAttempt   func(RunRecord)

	Dry bool
}

// Status is a point-in-time view of the supervisor.
type Status struct {
	State     State     `json:"state"`
	Attempt   int       `json:"attempt"`
	PID       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	Cause     Cause     `json:"cause,omitempty"`
}

// Supervisor runs one command under retry, timeout and signal policy.
type Supervisor struct {
	opts    Options
	signals <-chan os.Signal
	log     *logging.Logger
	cgroups *cgroups.Manager

	mu     sync.RWMutex
	status Status
}

// New creates a Supervisor. Signals delivered on signals are forwarded to
// the running child and stop further retries; nil disables forwarding.
func New(opts Options, signals <-chan os.Signal, log *logging.Logger) *Supervisor {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	return &Supervisor{
		opts:    opts,
		signals: signals,
		log:     log,
		cgroups: cgroups.New(),
		status:  Status{State: StatePending},
	}
}

// Status returns the current state.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Supervisor) transition(to State, mutate func(*Status)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ValidateTransition(s.status.State, to); err != nil {
		s.log.Error("Invalid supervisor transition", map[string]interface{}{"error": err.Error()})
	}
	s.status.State = to
	if mutate != nil {
		mutate(&s.status)
	}
}

// Run executes spec until it succeeds, retries are exhausted or a signal
// arrives. Dry-run never spawns.
func (s *Supervisor) Run(ctx context.Context, spec command.Spec) *Outcome {
	start := time.Now()
	out := &Outcome{Dry: s.opts.Dry}

	if s.opts.Dry {
		s.log.Info("Dry run, not spawning", map[string]interface{}{"command": spec.String()})
		s.transition(StateTerminal, func(st *Status) { st.Cause = CauseCompleted })
		out.Cause = CauseCompleted
		return out
	}

	if sig := s.pending(ctx); sig != nil {
		s.log.Warn("Signal received before spawn", map[string]interface{}{"signal": sig.String()})
		out.Signal = sig
		out.ExitCode = SignalExitCode(sig)
		out.Cause = CauseSignaled
		s.transition(StateTerminal, func(st *Status) { st.Cause = CauseSignaled })
		out.Duration = time.Since(start)
		return out
	}

	for attempt := 1; ; attempt++ {
		rec, sig := s.attempt(ctx, spec, attempt)
		out.Records = append(out.Records, rec)
		out.ExitCode = rec.Code()
		out.Stdout, out.Stderr = rec.Stdout, rec.Stderr
		out.Cause = rec.Cause
		if s.opts.OnAttempt != nil {
			s.opts.OnAttempt(rec)
		}

		if sig != nil {
			out.Signal = sig
			out.Cause = CauseSignaled
			break
		}
		if rec.Code() == 0 {
			break
		}
		if attempt > s.opts.Retries {
			if s.opts.Retries > 0 {
				out.Cause = CauseRetryExhausted
			}
			break
		}

		delay := s.opts.Backoff.Backoff(attempt)
		s.transition(StateRetrying, nil)
		s.log.Warn("Attempt failed, retrying", map[string]interface{}{
			"attempt":   attempt,
			"exit_code": rec.Code(),
			"remaining": s.opts.Retries - attempt + 1,
			"delay":     delay.String(),
		})
		if sig := s.sleep(ctx, delay); sig != nil {
			s.log.Warn("Signal received between attempts", map[string]interface{}{"signal": sig.String()})
			out.Signal = sig
			out.Cause = CauseSignaled
			break
		}
	}

	cause := out.Cause
	s.transition(StateTerminal, func(st *Status) { st.Cause = cause; st.PID = 0 })
	out.Duration = time.Since(start)
	return out
}

// pending returns a signal that is already waiting, without blocking.
func (s *Supervisor) pending(ctx context.Context) os.Signal {
	select {
	case sig := <-s.signals:
		return sig
	case <-ctx.Done():
		return contextSignal
	default:
		return nil
	}
}

// sleep waits for d unless a signal or cancellation arrives first.
func (s *Supervisor) sleep(ctx context.Context, d time.Duration) os.Signal {
	if d <= 0 {
		return s.pending(ctx)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case sig := <-s.signals:
		return sig
	case <-ctx.Done():
		return contextSignal
	}
}
