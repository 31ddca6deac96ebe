package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// Manager handles graceful shutdown of the resources a run opens
type Manager struct {
	shutdownFuncs []namedFunc
	mu            sync.Mutex
	timeout       time.Duration
	sigChan       chan os.Signal
	errorf        func(format string, args ...interface{})
}

type namedFunc struct {
	name string
	fn   func(context.Context) error
}

// New creates a new shutdown manager
func New(timeout time.Duration) *Manager {
	return &Manager{
		timeout: timeout,
		errorf: func(format string, args ...interface{}) {
			fmt.Fprintf(os.Stderr, format+"\n", args...)
		},
	}
}

// OnError replaces the reporter used for failing shutdown functions
func (m *Manager) OnError(fn func(format string, args ...interface{})) {
	m.errorf = fn
}

// Register adds a shutdown function
// Functions are called in reverse order (LIFO)
func (m *Manager) Register(name string, fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownFuncs = append(m.shutdownFuncs, namedFunc{name: name, fn: fn})
}

// Signals subscribes to SIGTERM and SIGINT and returns the delivery channel.
// The subscription is released by Shutdown.
func (m *Manager) Signals() <-chan os.Signal {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sigChan == nil {
		m.sigChan = make(chan os.Signal, 2)
		signal.Notify(m.sigChan, syscall.SIGTERM, syscall.SIGINT)
	}
	return m.sigChan
}

// Shutdown executes all registered shutdown functions
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sigChan != nil {
		signal.Stop(m.sigChan)
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	for i := len(m.shutdownFuncs) - 1; i >= 0; i-- {
		f := m.shutdownFuncs[i]
		if err := f.fn(ctx); err != nil {
			m.errorf("shutdown %s: %v", f.name, err)
		}
	}
	m.shutdownFuncs = nil
}

// StopHTTPServer creates a shutdown function for http.Server
func StopHTTPServer(server interface{ Shutdown(context.Context) error }) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
		return nil
	}
}

// CloseResource creates a shutdown function for io.Closer
func CloseResource(closer interface{ Close() error }) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("failed to close: %w", err)
		}
		return nil
	}
}
