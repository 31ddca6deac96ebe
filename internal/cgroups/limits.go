package cgroups

// If the wrapper cannot apply a limit, the job still runs.
// If we are unsure, DO LESS.

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Limits defines what can be written to cgroups for a supervised child.
type Limits struct {
	CPUMax    string `mapstructure:"cpu_max" json:"cpu_max,omitempty" yaml:"cpu_max,omitempty"`          // "quota period" or "max"
	CPUWeight int    `mapstructure:"cpu_weight" json:"cpu_weight,omitempty" yaml:"cpu_weight,omitempty"` // 1-10000
	MemoryMax int64  `mapstructure:"memory_max" json:"memory_max,omitempty" yaml:"memory_max,omitempty"` // bytes, 0 = no limit
	PidsMax   int64  `mapstructure:"pids_max" json:"pids_max,omitempty" yaml:"pids_max,omitempty"`       // 0 = no limit
}

// IsZero reports whether no limit is set.
func (l *Limits) IsZero() bool {
	return l == nil || (l.CPUMax == "" && l.CPUWeight == 0 && l.MemoryMax == 0 && l.PidsMax == 0)
}

// Validate checks ranges before anything touches the filesystem.
func (l *Limits) Validate() error {
	if l == nil {
		return nil
	}
	if l.CPUWeight < 0 || l.CPUWeight > 10000 {
		return fmt.Errorf("invalid cpu weight: %d (must be 1-10000)", l.CPUWeight)
	}
	if l.MemoryMax < 0 {
		return fmt.Errorf("invalid memory limit: %d", l.MemoryMax)
	}
	if l.PidsMax < 0 {
		return fmt.Errorf("invalid pids limit: %d", l.PidsMax)
	}
	return nil
}

// apply writes every configured limit into the cgroup at path and returns the
// first failure. v1 hierarchies only receive the memory and shares knobs.
func (m *Manager) apply(path string, l *Limits) error {
	var first error
	record := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	if l.CPUMax != "" && m.version == 2 {
		record(write(path, "cpu.max", l.CPUMax))
	}
	if l.CPUWeight > 0 {
		if m.version == 2 {
			record(write(path, "cpu.weight", strconv.Itoa(l.CPUWeight)))
		} else {
			// weight 100 = 1024 shares
			record(write(path, "cpu.shares", strconv.Itoa(l.CPUWeight*1024/100)))
		}
	}
	if l.MemoryMax > 0 {
		if m.version == 2 {
			record(write(path, "memory.max", strconv.FormatInt(l.MemoryMax, 10)))
		} else {
			record(write(m.v1Memory(path), "memory.limit_in_bytes", strconv.FormatInt(l.MemoryMax, 10)))
		}
	}
	if l.PidsMax > 0 && m.version == 2 {
		record(write(path, "pids.max", strconv.FormatInt(l.PidsMax, 10)))
	}
	return first
}

func write(dir, file, value string) error {
	return os.WriteFile(filepath.Join(dir, file), []byte(value), 0644)
}
