// Package cgroups places a supervised child into a per-execution cgroup and
// writes resource limits. Every operation is best effort.
package cgroups

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const defaultRoot = "/sys/fs/cgroup"

// Manager handles cgroup lifecycle only. Create. Join. Delete.
type Manager struct {
	root    string
	version int
}

// New creates a cgroup manager for the host hierarchy
func New() *Manager {
	return NewAt(defaultRoot)
}

// NewAt creates a manager rooted at an arbitrary directory.
func NewAt(root string) *Manager {
	version := 1
	if _, err := os.Stat(filepath.Join(root, "cgroup.controllers")); err == nil {
		version = 2
	}
	return &Manager{root: root, version: version}
}

// Version returns the detected hierarchy version (1 or 2)
func (m *Manager) Version() int { return m.version }

// Create creates twrap/<name>. An empty path with a nil error means the
// hierarchy is not writable and limits are skipped.
func (m *Manager) Create(name string) (string, error) {
	if name == "" {
		name = fmt.Sprintf("unnamed-%d", os.Getpid())
	}
	rel := filepath.Join("twrap", sanitize(name))

	path := filepath.Join(m.root, rel)
	if m.version == 1 {
		path = filepath.Join(m.root, "cpu", rel)
		if err := os.MkdirAll(filepath.Join(m.root, "memory", rel), 0755); err != nil && !os.IsPermission(err) {
			return "", err
		}
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		if os.IsPermission(err) {
			return "", nil
		}
		return "", err
	}
	return path, nil
}

// Join moves a PID into the cgroup
func (m *Manager) Join(path string, pid int) error {
	if path == "" {
		return nil
	}
	if pid <= 0 {
		return fmt.Errorf("invalid pid: %d", pid)
	}
	if err := write(path, "cgroup.procs", strconv.Itoa(pid)); err != nil {
		return err
	}
	if m.version == 1 {
		write(m.v1Memory(path), "cgroup.procs", strconv.Itoa(pid))
	}
	return nil
}

// Delete removes the cgroup directory
func (m *Manager) Delete(path string) error {
	if path == "" {
		return nil
	}
	if m.version == 1 {
		os.Remove(m.v1Memory(path))
	}
	return os.Remove(path)
}

// Place creates a cgroup for name, moves pid into it and applies limits.
// It returns the cgroup path for Delete, or "" when nothing was created.
func (m *Manager) Place(name string, pid int, limits *Limits) (string, error) {
	if limits.IsZero() {
		return "", nil
	}
	path, err := m.Create(name)
	if err != nil || path == "" {
		return "", err
	}
	if err := m.Join(path, pid); err != nil {
		m.Delete(path)
		return "", err
	}
	return path, m.apply(path, limits)
}

func (m *Manager) v1Memory(path string) string {
	return strings.Replace(path, string(filepath.Separator)+"cpu"+string(filepath.Separator), string(filepath.Separator)+"memory"+string(filepath.Separator), 1)
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == 0 {
			return '_'
		}
		return r
	}, name)
}
