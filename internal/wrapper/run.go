package wrapper

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/psantana5/twrap/internal/command"
)

// contextSignal stands in for an external signal when the run's context is
// cancelled.
var contextSignal os.Signal = syscall.SIGTERM

// pipeDrainDelay bounds how long Wait keeps reading output after the child
// exits, in case a detached grandchild still holds the pipes.
const pipeDrainDelay = 5 * time.Second

// attempt spawns spec once and waits for it under the timeout and signal
// policy. A non-nil signal means the run must stop.
func (s *Supervisor) attempt(ctx context.Context, spec command.Spec, n int) (RunRecord, os.Signal) {
	rec := RunRecord{Attempt: n, StartedAt: time.Now()}
	stdout := newTailBuffer(s.opts.OutputLimit, s.opts.Stdout)
	stderr := newTailBuffer(s.opts.OutputLimit, s.opts.Stderr)
	defer func() {
		rec.Stdout, rec.Stderr = stdout.String(), stderr.String()
		rec.Truncated = stdout.Truncated() || stderr.Truncated()
	}()

	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Env = spec.Env
	cmd.Dir = spec.Dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = pipeDrainDelay
	// Own process group so signals reach the whole tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	s.transition(StateRunning, func(st *Status) {
		st.Attempt = n
		st.StartedAt = rec.StartedAt
		st.PID = 0
	})

	if err := cmd.Start(); err != nil {
		rec.complete(ExitCodeSpawnFailed, CauseSpawnFailed)
		rec.Err = fmt.Errorf("%w: %v", ErrSpawn, err)
		s.transition(StateCompleted, nil)
		s.log.Error("Failed to start child", map[string]interface{}{"attempt": n, "error": err.Error()})
		return rec, nil
	}

	pid := cmd.Process.Pid
	rec.PID = pid
	s.mu.Lock()
	s.status.PID = pid
	s.mu.Unlock()
	s.log.Info("Child started", map[string]interface{}{"attempt": n, "pid": pid})

	if !s.opts.Limits.IsZero() {
		path, err := s.cgroups.Place(s.cgroupName(n), pid, s.opts.Limits)
		if err != nil {
			s.log.Warn("Resource limits not applied", map[string]interface{}{"error": err.Error()})
		}
		if path != "" {
			defer s.cgroups.Delete(path)
		}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var timeoutC <-chan time.Time
	if s.opts.Timeout > 0 {
		timer := time.NewTimer(s.opts.Timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}
	var heartbeatC <-chan time.Time
	if s.opts.Heartbeat > 0 && s.opts.OnHeartbeat != nil {
		ticker := time.NewTicker(s.opts.Heartbeat)
		defer ticker.Stop()
		heartbeatC = ticker.C
	}

	term := newTerminator(pid, s.opts.GracePeriod, s.log)
	ctxDone := ctx.Done()
	signals := s.signals
	var (
		timedOut bool
		received os.Signal
	)

	for {
		select {
		case err := <-done:
			term.markExited()
			code := exitCode(err, cmd.ProcessState)
			switch {
			case received != nil:
				s.transition(StateSignaled, nil)
				if timedOut {
					code = ExitCodeTimeout
					rec.Err = ErrTimeout
				}
				rec.complete(code, CauseSignaled)
			case timedOut:
				s.transition(StateTimedOut, nil)
				rec.complete(ExitCodeTimeout, CauseTimedOut)
				rec.Err = fmt.Errorf("%w: after %s", ErrTimeout, s.opts.Timeout)
			default:
				s.transition(StateCompleted, nil)
				rec.complete(code, CauseCompleted)
			}
			s.log.Info("Child exited", map[string]interface{}{
				"attempt":   n,
				"pid":       pid,
				"exit_code": rec.Code(),
				"cause":     string(rec.Cause),
				"forced":    term.forced(),
				"duration":  rec.Duration().String(),
			})
			return rec, received

		case <-timeoutC:
			timeoutC = nil
			timedOut = true
			term.terminate(syscall.SIGTERM, "timeout")

		case sig := <-signals:
			if received != nil {
				s.log.Debug("Termination already in progress", map[string]interface{}{"signal": sig.String()})
				continue
			}
			received = sig
			timeoutC = nil
			term.terminate(toSyscall(sig), "signal "+sig.String())

		case <-ctxDone:
			ctxDone = nil
			if received == nil {
				received = contextSignal
				timeoutC = nil
				term.terminate(syscall.SIGTERM, "context cancelled")
			}

		case <-heartbeatC:
			s.opts.OnHeartbeat(s.Status())
		}
	}
}

func (s *Supervisor) cgroupName(attempt int) string {
	name := s.opts.CgroupName
	if name == "" {
		name = fmt.Sprintf("pid-%d", os.Getpid())
	}
	return fmt.Sprintf("%s-%d", name, attempt)
}
