package wrapper

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/psantana5/twrap/internal/command"
	"github.com/psantana5/twrap/pkg/logging"
)

func quietLogger() *logging.Logger {
	l := logging.NewLogger(logging.ERROR, false)
	l.SetOutput(io.Discard)
	return l
}

func sh(script string) command.Spec {
	return command.Spec{Path: "/bin/sh", Args: []string{"-c", script}, Env: os.Environ()}
}

func TestRunSuccessCapturesOutput(t *testing.T) {
	sup := New(Options{Retries: 3}, nil, quietLogger())
	out := sup.Run(context.Background(), sh("echo out; echo err >&2"))

	if out.ExitCode != 0 {
		t.Fatalf("ExitCode = %d, want 0", out.ExitCode)
	}
	if out.Attempts() != 1 {
		t.Errorf("Attempts() = %d, want 1", out.Attempts())
	}
	if out.Stdout != "out\n" || out.Stderr != "err\n" {
		t.Errorf("Stdout = %q, Stderr = %q", out.Stdout, out.Stderr)
	}
	if out.Cause != CauseCompleted {
		t.Errorf("Cause = %s", out.Cause)
	}
	if st := sup.Status(); st.State != StateTerminal {
		t.Errorf("final state = %s", st.State)
	}
}

func TestRunRetries(t *testing.T) {
	tests := []struct {
		name         string
		retries      int
		succeedOn    int // 0 = never
		wantAttempts int
		wantCode     int
		wantCause    Cause
	}{
		{"always fails without retries", 0, 0, 1, 3, CauseCompleted},
		{"always fails", 2, 0, 3, 3, CauseRetryExhausted},
		{"succeeds on second attempt", 5, 2, 2, 0, CauseCompleted},
		{"succeeds on last attempt", 2, 3, 3, 0, CauseCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter := filepath.Join(t.TempDir(), "count")
			script := `n=$(cat "$F" 2>/dev/null || echo 0); n=$((n+1)); echo $n > "$F"; ` +
				`if [ "$S" -gt 0 ] && [ $n -ge "$S" ]; then exit 0; fi; exit 3`
			spec := sh(script)
			spec.Env = append(spec.Env, "F="+counter, "S="+strconv.Itoa(tt.succeedOn))

			var seen []int
			sup := New(Options{Retries: tt.retries, OnAttempt: func(r RunRecord) { seen = append(seen, r.Attempt) }}, nil, quietLogger())
			out := sup.Run(context.Background(), spec)

			if out.Attempts() != tt.wantAttempts {
				t.Errorf("Attempts() = %d, want %d", out.Attempts(), tt.wantAttempts)
			}
			if out.ExitCode != tt.wantCode {
				t.Errorf("ExitCode = %d, want %d", out.ExitCode, tt.wantCode)
			}
			if out.Cause != tt.wantCause {
				t.Errorf("Cause = %s, want %s", out.Cause, tt.wantCause)
			}
			if len(seen) != tt.wantAttempts {
				t.Errorf("OnAttempt called %d times", len(seen))
			}
		})
	}
}

func TestRunTimeoutGraceful(t *testing.T) {
	sup := New(Options{Timeout: 200 * time.Millisecond, GracePeriod: 2 * time.Second}, nil, quietLogger())
	start := time.Now()
	out := sup.Run(context.Background(), sh("sleep 30"))
	elapsed := time.Since(start)

	if out.ExitCode != ExitCodeTimeout {
		t.Fatalf("ExitCode = %d, want %d", out.ExitCode, ExitCodeTimeout)
	}
	if out.Cause != CauseTimedOut {
		t.Errorf("Cause = %s", out.Cause)
	}
	if !errors.Is(out.Err(), ErrTimeout) {
		t.Errorf("Err() = %v, want ErrTimeout", out.Err())
	}
	if elapsed > 2*time.Second {
		t.Errorf("graceful stop took %s", elapsed)
	}
}

func TestRunTimeoutForcesKill(t *testing.T) {
	timeout, grace := 200*time.Millisecond, 300*time.Millisecond
	sup := New(Options{Timeout: timeout, GracePeriod: grace, Retries: 1}, nil, quietLogger())
	start := time.Now()
	out := sup.Run(context.Background(), sh("trap '' TERM; sleep 30"))
	elapsed := time.Since(start)

	if out.ExitCode != ExitCodeTimeout {
		t.Fatalf("ExitCode = %d, want %d", out.ExitCode, ExitCodeTimeout)
	}
	if out.Attempts() != 2 {
		t.Errorf("timed out attempts are retried: Attempts() = %d, want 2", out.Attempts())
	}
	if limit := 2*(timeout+grace) + 2*time.Second; elapsed > limit {
		t.Errorf("run took %s, want under %s", elapsed, limit)
	}
}

func TestRunDryNeverSpawns(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "spawned")
	sup := New(Options{Dry: true, Retries: 3}, nil, quietLogger())
	out := sup.Run(context.Background(), sh("touch "+marker+"; exit 1"))

	if out.ExitCode != 0 || out.Duration != 0 || out.Attempts() != 0 {
		t.Errorf("dry outcome = code %d, duration %s, attempts %d", out.ExitCode, out.Duration, out.Attempts())
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Errorf("dry run spawned the child")
	}
}

func TestRunForwardsSignalAndStopsRetrying(t *testing.T) {
	signals := make(chan os.Signal, 1)
	var stdout bytes.Buffer
	ready := make(chan struct{})
	sup := New(Options{Retries: 3, GracePeriod: 5 * time.Second, Stdout: &notifyWriter{w: &stdout, ready: ready}}, signals, quietLogger())

	go func() {
		<-ready
		signals <- syscall.SIGTERM
	}()

	script := `trap 'echo got-term; exit 42' TERM; echo ready; while :; do sleep 0.05; done`
	out := sup.Run(context.Background(), sh(script))

	if out.Attempts() != 1 {
		t.Errorf("Attempts() = %d, want 1", out.Attempts())
	}
	if out.ExitCode != 42 {
		t.Errorf("ExitCode = %d, want 42", out.ExitCode)
	}
	if out.Cause != CauseSignaled || out.Signal != syscall.SIGTERM {
		t.Errorf("Cause = %s, Signal = %v", out.Cause, out.Signal)
	}
	if !strings.Contains(out.Stdout, "got-term") {
		t.Errorf("child did not observe SIGTERM, stdout = %q", out.Stdout)
	}
}

// notifyWriter closes ready on the first write.
type notifyWriter struct {
	w     io.Writer
	ready chan struct{}
	fired bool
}

func (n *notifyWriter) Write(p []byte) (int, error) {
	if !n.fired {
		n.fired = true
		close(n.ready)
	}
	return n.w.Write(p)
}

func TestRunSignalBeforeSpawn(t *testing.T) {
	signals := make(chan os.Signal, 1)
	signals <- syscall.SIGTERM
	marker := filepath.Join(t.TempDir(), "spawned")

	out := New(Options{}, signals, quietLogger()).Run(context.Background(), sh("touch "+marker))
	if out.Attempts() != 0 {
		t.Errorf("Attempts() = %d, want 0", out.Attempts())
	}
	if out.ExitCode != 128+int(syscall.SIGTERM) {
		t.Errorf("ExitCode = %d", out.ExitCode)
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Errorf("child spawned after pending signal")
	}
}

func TestRunContextCancelStopsChild(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	out := New(Options{Retries: 2, GracePeriod: time.Second}, nil, quietLogger()).Run(ctx, sh("sleep 30"))

	if out.Cause != CauseSignaled {
		t.Errorf("Cause = %s, want signaled", out.Cause)
	}
	if out.Attempts() != 1 {
		t.Errorf("Attempts() = %d, want 1", out.Attempts())
	}
	if out.ExitCode != 128+int(syscall.SIGTERM) {
		t.Errorf("ExitCode = %d", out.ExitCode)
	}
}

func TestRunSpawnFailure(t *testing.T) {
	out := New(Options{Retries: 1}, nil, quietLogger()).Run(context.Background(), command.Spec{Path: "/nonexistent/twrap-test-binary"})

	if out.Attempts() != 2 {
		t.Errorf("Attempts() = %d, want 2", out.Attempts())
	}
	if out.ExitCode != ExitCodeSpawnFailed {
		t.Errorf("ExitCode = %d", out.ExitCode)
	}
	if !errors.Is(out.Err(), ErrSpawn) {
		t.Errorf("Err() = %v, want ErrSpawn", out.Err())
	}
	if out.Records[0].Cause != CauseSpawnFailed {
		t.Errorf("record cause = %s", out.Records[0].Cause)
	}
}

func TestRunHeartbeat(t *testing.T) {
	beats := make(chan Status, 16)
	sup := New(Options{
		Heartbeat:   50 * time.Millisecond,
		OnHeartbeat: func(st Status) { beats <- st },
	}, nil, quietLogger())
	sup.Run(context.Background(), sh("sleep 0.3"))

	if len(beats) == 0 {
		t.Fatal("no heartbeat while child was running")
	}
	st := <-beats
	if st.State != StateRunning || st.PID == 0 || st.Attempt != 1 {
		t.Errorf("heartbeat status = %+v", st)
	}
}

func TestTailBuffer(t *testing.T) {
	var tee bytes.Buffer
	b := newTailBuffer(5, &tee)
	b.Write([]byte("abc"))
	b.Write([]byte("defg"))

	if got := b.String(); got != "cdefg" {
		t.Errorf("String() = %q, want cdefg", got)
	}
	if !b.Truncated() {
		t.Error("Truncated() = false")
	}
	if tee.String() != "abcdefg" {
		t.Errorf("tee = %q", tee.String())
	}
}

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StatePending, StateRunning, true},
		{StatePending, StateTerminal, true},
		{StateRunning, StateTimedOut, true},
		{StateTimedOut, StateRetrying, true},
		{StateRetrying, StateRunning, true},
		{StateSignaled, StateRetrying, false},
		{StateTerminal, StateRunning, false},
		{StateCompleted, StateRunning, false},
		{State("bogus"), StateRunning, false},
	}
	for _, tt := range tests {
		err := ValidateTransition(tt.from, tt.to)
		if (err == nil) != tt.ok {
			t.Errorf("ValidateTransition(%s, %s) = %v, want ok=%v", tt.from, tt.to, err, tt.ok)
		}
	}
}

func TestProcessExitCode(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, 0},
		{3, 3},
		{143, 143},
		{ExitCodeTimeout, ProcessExitTimeout},
		{ExitCodeSpawnFailed, ProcessExitSpawnFailed},
		{-9, 1},
		{300, 1},
	}
	for _, tt := range tests {
		if got := ProcessExitCode(tt.in); got != tt.want {
			t.Errorf("ProcessExitCode(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestRunSignalAndTimeoutRace(t *testing.T) {
	const (
		timeout = 200 * time.Millisecond
		grace   = 600 * time.Millisecond
	)
	tests := []struct {
		name     string
		signalAt time.Duration
		wantCode int
	}{
		// The timer already started the termination; the signal must not
		// start a second one, and the timeout sentinel is kept.
		{"signal during grace period", 350 * time.Millisecond, ExitCodeTimeout},
		// The signal stops the timer; the ignoring child is killed after
		// the grace period.
		{"signal before timeout", 100 * time.Millisecond, 128 + int(syscall.SIGKILL)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signals := make(chan os.Signal, 1)
			time.AfterFunc(tt.signalAt, func() { signals <- syscall.SIGTERM })
			sup := New(Options{Retries: 2, Timeout: timeout, GracePeriod: grace}, signals, quietLogger())

			start := time.Now()
			out := sup.Run(context.Background(), sh("trap '' TERM; sleep 30"))
			elapsed := time.Since(start)

			if out.Attempts() != 1 {
				t.Errorf("Attempts() = %d, want 1", out.Attempts())
			}
			if out.Cause != CauseSignaled {
				t.Errorf("Cause = %s, want %s", out.Cause, CauseSignaled)
			}
			if out.ExitCode != tt.wantCode {
				t.Errorf("ExitCode = %d, want %d", out.ExitCode, tt.wantCode)
			}
			if limit := timeout + grace + time.Second; elapsed > limit {
				t.Errorf("run took %s, want under %s", elapsed, limit)
			}
		})
	}
}

func TestTerminatorStartsOnce(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "trap '' TERM; sleep 30")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}
	done := make(chan struct{})
	go func() {
		cmd.Wait()
		close(done)
	}()

	term := newTerminator(cmd.Process.Pid, 200*time.Millisecond, quietLogger())
	if !term.terminate(syscall.SIGTERM, "timeout") {
		t.Fatal("first terminate did not start the sequence")
	}
	if term.terminate(syscall.SIGINT, "signal") {
		t.Error("second terminate started another sequence")
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("child was not killed after the grace period")
	}
	term.markExited()
	if !term.forced() {
		t.Error("expected SIGKILL after the grace period")
	}
}
