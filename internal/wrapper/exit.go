package wrapper

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// In-process exit code sentinels. They never collide with real exit statuses.
const (
	ExitCodeTimeout     = -1
	ExitCodeSpawnFailed = -2
)

// Exit codes used at the process boundary for the sentinels above.
const (
	ProcessExitTimeout     = 124
	ProcessExitSpawnFailed = 127
)

var (
	// ErrSpawn marks an attempt whose child could not be started.
	ErrSpawn = errors.New("process spawn failed")
	// ErrTimeout marks an attempt terminated because it exceeded its timeout.
	ErrTimeout = errors.New("timeout exceeded")
)

// ProcessExitCode maps an outcome exit code to a value for os.Exit.
func ProcessExitCode(code int) int {
	switch {
	case code == ExitCodeTimeout:
		return ProcessExitTimeout
	case code == ExitCodeSpawnFailed:
		return ProcessExitSpawnFailed
	case code < 0 || code > 255:
		return 1
	}
	return code
}

// SignalExitCode is the shell convention for a process ended by sig.
func SignalExitCode(sig os.Signal) int {
	if s, ok := sig.(syscall.Signal); ok {
		return 128 + int(s)
	}
	return 128 + int(syscall.SIGTERM)
}

// exitCode extracts the exit status from the result of cmd.Wait. A child
// killed by a signal reports 128+signal.
func exitCode(err error, state *os.ProcessState) int {
	if err == nil || errors.Is(err, exec.ErrWaitDelay) {
		if state != nil {
			return stateCode(state)
		}
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stateCode(exitErr.ProcessState)
	}
	if state != nil {
		return stateCode(state)
	}
	return 1
}

func stateCode(state *os.ProcessState) int {
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return state.ExitCode()
}

func toSyscall(sig os.Signal) syscall.Signal {
	if s, ok := sig.(syscall.Signal); ok {
		return s
	}
	return syscall.SIGTERM
}
