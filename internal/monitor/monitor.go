// Package monitor collects host and process runtime statistics for status
// queries on the control channel.
package monitor

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Snapshot is one point-in-time runtime reading.
type Snapshot struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryTotal   uint64  `json:"memory_total"`
	MemoryUsed    uint64  `json:"memory_used"`
	ProcessRSS    uint64  `json:"process_rss"`
	Goroutines    int     `json:"goroutines"`
	HostUptimeSec uint64  `json:"host_uptime_seconds"`
}

// StatFetcher holds the stat sources; tests substitute their own.
type StatFetcher struct {
	CPUPercent    func(interval time.Duration, percpu bool) ([]float64, error)
	VirtualMemory func() (*mem.VirtualMemoryStat, error)
	HostUptime    func() (uint64, error)
	ProcessRSS    func() (uint64, error)
}

// Monitor produces snapshots.
type Monitor struct {
	fetcher StatFetcher
}

// New returns a Monitor backed by gopsutil.
func New() *Monitor {
	return &Monitor{
		fetcher: StatFetcher{
			CPUPercent:    cpu.Percent,
			VirtualMemory: mem.VirtualMemory,
			HostUptime:    host.Uptime,
			ProcessRSS:    selfRSS,
		},
	}
}

// SetFetcher sets a custom fetcher for testing.
func (m *Monitor) SetFetcher(fetcher StatFetcher) {
	m.fetcher = fetcher
}

// Collect gathers a snapshot. Individual source failures leave the
// corresponding field zero rather than failing the whole reading.
func (m *Monitor) Collect() Snapshot {
	snap := Snapshot{Goroutines: runtime.NumGoroutine()}

	if m.fetcher.CPUPercent != nil {
		if percents, err := m.fetcher.CPUPercent(0, false); err == nil && len(percents) > 0 {
			snap.CPUPercent = percents[0]
		}
	}
	if m.fetcher.VirtualMemory != nil {
		if v, err := m.fetcher.VirtualMemory(); err == nil {
			snap.MemoryTotal = v.Total
			snap.MemoryUsed = v.Used
		}
	}
	if m.fetcher.HostUptime != nil {
		if uptime, err := m.fetcher.HostUptime(); err == nil {
			snap.HostUptimeSec = uptime
		}
	}
	if m.fetcher.ProcessRSS != nil {
		if rss, err := m.fetcher.ProcessRSS(); err == nil {
			snap.ProcessRSS = rss
		}
	}
	return snap
}

func selfRSS() (uint64, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	info, err := proc.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return info.RSS, nil
}
