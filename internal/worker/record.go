// Package worker implements WorkerHandler: the concrete glue that
// owns a worker's mutable record, dispatches inbound IPC messages, handles
// exit/crash-recovery wiring, and drives drain-and-stop.
package worker

import (
	"sync"
	"time"

	"github.com/arcflow/fleetd/internal/wstate"
)

// Record is one worker instance's mutable state. All field access goes
// through the accessor methods below; callers outside this package must
// not read or write the fields directly.
type Record struct {
	ID      int
	AppName string

	mu                 sync.Mutex
	state              wstate.State
	pid                int
	startedAt          time.Time
	readyAt            time.Time
	restartCount       int
	consecutiveCrashes int
	lastCrashAt        time.Time
	exitCode           int
	exitSignal         string
	memoryBytes        uint64
	userSecs           float64
	systemSecs         float64
	sysMemoryBytes     uint64
	sysCPUPercent      float64
}

// NewRecord returns a fresh worker record in the spawning state.
func NewRecord(id int, appName string) *Record {
	return &Record{ID: id, AppName: appName, state: wstate.Spawning}
}

// State returns the current lifecycle state.
func (r *Record) State() wstate.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// IsOnline satisfies internal/reload's Worker interface.
func (r *Record) IsOnline() bool {
	return r.State() == wstate.Online
}

func (r *Record) setState(s wstate.State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// SetPid records the OS pid assigned at spawn time.
func (r *Record) SetPid(pid int) {
	r.mu.Lock()
	r.pid = pid
	r.startedAt = time.Now()
	r.mu.Unlock()
}

// Pid returns the last-known OS pid (0 before the worker has been spawned).
func (r *Record) Pid() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pid
}

// ResetGeneration clears per-generation fields (ready-at, exit code/signal)
// ahead of a restart while preserving lifetime counters (restart count,
// consecutive crashes are handled separately by the caller).
func (r *Record) ResetGeneration() {
	r.mu.Lock()
	r.readyAt = time.Time{}
	r.exitCode = 0
	r.exitSignal = ""
	r.mu.Unlock()
}

// IncrementRestartCount bumps the lifetime restart counter across
// generations of this worker id.
func (r *Record) IncrementRestartCount() {
	r.mu.Lock()
	r.restartCount++
	r.mu.Unlock()
}

// SetSystemMetrics records the latest gopsutil cross-check sample
// (internal/procmanager.SampleSystemMetrics), independent of whatever the
// worker itself last reported over IPC.
func (r *Record) SetSystemMetrics(memoryBytes uint64, cpuPercent float64) {
	r.mu.Lock()
	r.sysMemoryBytes = memoryBytes
	r.sysCPUPercent = cpuPercent
	r.mu.Unlock()
}

// Snapshot is a read-only, race-free view of a Record for status reporting.
type Snapshot struct {
	ID                 int
	AppName            string
	State              wstate.State
	Pid                int
	StartedAt          time.Time
	ReadyAt            time.Time
	RestartCount       int
	ConsecutiveCrashes int
	LastCrashAt        time.Time
	ExitCode           int
	ExitSignal         string
	MemoryBytes        uint64
	UserSecs           float64
	SystemSecs         float64
	SysMemoryBytes     uint64
	SysCPUPercent      float64
}

// Snapshot copies out every field under the record's lock.
func (r *Record) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		ID:                 r.ID,
		AppName:            r.AppName,
		State:              r.state,
		Pid:                r.pid,
		StartedAt:          r.startedAt,
		ReadyAt:            r.readyAt,
		RestartCount:       r.restartCount,
		ConsecutiveCrashes: r.consecutiveCrashes,
		LastCrashAt:        r.lastCrashAt,
		ExitCode:           r.exitCode,
		ExitSignal:         r.exitSignal,
		MemoryBytes:        r.memoryBytes,
		UserSecs:           r.userSecs,
		SystemSecs:         r.systemSecs,
		SysMemoryBytes:     r.sysMemoryBytes,
		SysCPUPercent:      r.sysCPUPercent,
	}
}
