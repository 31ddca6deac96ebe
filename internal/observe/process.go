package observe

import (
	"context"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// HostInfo identifies the machine a run executes on.
type HostInfo struct {
	Hostname        string `json:"hostname"`
	OS              string `json:"os"`
	Platform        string `json:"platform,omitempty"`
	PlatformVersion string `json:"platform_version,omitempty"`
	KernelVersion   string `json:"kernel_version,omitempty"`
	Arch            string `json:"arch"`
}

// Host returns host identity. Missing fields fall back to os.Hostname and
// the runtime values.
func Host(ctx context.Context) HostInfo {
	info := HostInfo{OS: runtime.GOOS, Arch: runtime.GOARCH}
	if st, err := host.InfoWithContext(ctx); err == nil {
		info.Hostname = st.Hostname
		info.Platform = st.Platform
		info.PlatformVersion = st.PlatformVersion
		info.KernelVersion = st.KernelVersion
		if st.KernelArch != "" {
			info.Arch = st.KernelArch
		}
	}
	if info.Hostname == "" {
		info.Hostname, _ = os.Hostname()
	}
	return info
}

// HostLoad is a point-in-time view of host pressure.
type HostLoad struct {
	MemoryUsedPercent float64 `json:"memory_used_percent"`
	Load1             float64 `json:"load1"`
}

// SampleHost returns whatever host pressure figures are available.
func SampleHost(ctx context.Context) HostLoad {
	var hl HostLoad
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		hl.MemoryUsedPercent = vm.UsedPercent
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		hl.Load1 = avg.Load1
	}
	return hl
}

// ProcessStats is a point-in-time view of one process.
type ProcessStats struct {
	PID        int     `json:"pid"`
	RSSBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
	Threads    int32   `json:"threads"`
}

// SampleProcess reads the resource usage of pid. It fails when the process
// is gone.
func SampleProcess(ctx context.Context, pid int) (*ProcessStats, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return nil, err
	}
	st := &ProcessStats{PID: pid}
	if mi, err := p.MemoryInfoWithContext(ctx); err == nil {
		st.RSSBytes = mi.RSS
	}
	if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
		st.CPUPercent = cpu
	}
	if n, err := p.NumThreadsWithContext(ctx); err == nil {
		st.Threads = n
	}
	return st, nil
}
