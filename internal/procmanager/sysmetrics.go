package procmanager

import "github.com/shirou/gopsutil/v4/process"

// SystemMetrics is a live OS-level sample for one pid, used as a
// cross-check against the child-reported `metrics` IPC message: a worker
// that under-reports its own memory/CPU usage (or stops sending
// heartbeats but is still alive) is still visible here.
type SystemMetrics struct {
	MemoryBytes uint64
	CPUPercent  float64
}

// SampleSystemMetrics reads pid's current RSS and CPU percentage through
// gopsutil. It returns an error if pid does not name a live process.
func SampleSystemMetrics(pid int) (SystemMetrics, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return SystemMetrics{}, err
	}
	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return SystemMetrics{}, err
	}
	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		return SystemMetrics{}, err
	}
	return SystemMetrics{MemoryBytes: memInfo.RSS, CPUPercent: cpuPercent}, nil
}
