package wrapper

import (
	"errors"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/psantana5/twrap/pkg/logging"
)

// terminator runs the graceful-then-forced termination sequence for one
// child at most once, whatever triggers it first.
type terminator struct {
	pid   int
	grace time.Duration
	log   *logging.Logger

	once sync.Once

	mu     sync.Mutex
	exited bool
	killed bool
	timer  *time.Timer
}

func newTerminator(pid int, grace time.Duration, log *logging.Logger) *terminator {
	return &terminator{pid: pid, grace: grace, log: log}
}

// terminate sends sig to the child's process group and schedules SIGKILL
// after the grace period. It reports whether this call started the sequence.
func (t *terminator) terminate(sig syscall.Signal, reason string) bool {
	started := false
	t.once.Do(func() {
		started = true
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.exited {
			return
		}
		t.log.Warn("Terminating child", map[string]interface{}{
			"pid":    t.pid,
			"signal": unix.SignalName(sig),
			"reason": reason,
			"grace":  t.grace.String(),
		})
		if err := signalGroup(t.pid, sig); err != nil {
			t.log.Warn("Signal delivery failed", map[string]interface{}{"pid": t.pid, "error": err.Error()})
		}
		t.timer = time.AfterFunc(t.grace, t.kill)
	})
	return started
}

func (t *terminator) kill() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.exited {
		return
	}
	t.killed = true
	t.log.Warn("Grace period elapsed, killing child", map[string]interface{}{"pid": t.pid})
	if err := signalGroup(t.pid, syscall.SIGKILL); err != nil {
		t.log.Warn("Kill failed", map[string]interface{}{"pid": t.pid, "error": err.Error()})
	}
}

// markExited cancels a pending SIGKILL. It must be called once Wait returns.
func (t *terminator) markExited() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.exited = true
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *terminator) forced() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.killed
}

// signalGroup signals every process in pid's group, falling back to the
// process itself when the group is already gone.
func signalGroup(pid int, sig syscall.Signal) error {
	pgid, err := unix.Getpgid(pid)
	if err == nil && pgid == pid {
		err = unix.Kill(-pgid, sig)
		if err == nil || !errors.Is(err, unix.ESRCH) {
			return err
		}
	}
	err = unix.Kill(pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}
