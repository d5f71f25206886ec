package master

import (
	"sort"
	"time"

	"github.com/arcflow/fleetd/internal/metrics"
	"github.com/arcflow/fleetd/internal/procmanager"
	"github.com/arcflow/fleetd/internal/worker"
	"github.com/arcflow/fleetd/internal/wstate"
)

// AppStatus is a read-only snapshot answering the `list`/`status` control
// commands.
type AppStatus struct {
	Name      string
	State     string // "running" | "stopped" | "errored"
	StartedAt time.Time
	Workers   []worker.Snapshot
}

// deriveState implements status derivation exactly: no
// workers means running-if-started else stopped; every worker terminal
// means stopped, or errored if any worker is errored; anything else is
// running.
func deriveState(startedAt time.Time, workers []worker.Snapshot) string {
	if len(workers) == 0 {
		if !startedAt.IsZero() {
			return "running"
		}
		return "stopped"
	}

	anyErrored := false
	allSettled := true
	for _, w := range workers {
		if w.State != wstate.Stopped && w.State != wstate.Errored {
			allSettled = false
		}
		if w.State == wstate.Errored {
			anyErrored = true
		}
	}
	if !allSettled {
		return "running"
	}
	if anyErrored {
		return "errored"
	}
	return "stopped"
}

func (m *Master) appStatus(c *container) AppStatus {
	m.mu.Lock()
	records := make([]*worker.Record, 0, len(c.records))
	for _, r := range c.records {
		records = append(records, r)
	}
	startedAt := c.startedAt
	name := c.cfg.Name
	m.mu.Unlock()

	for _, r := range records {
		if r.State() != wstate.Online {
			continue
		}
		if sample, err := procmanager.SampleSystemMetrics(r.Pid()); err == nil {
			r.SetSystemMetrics(sample.MemoryBytes, sample.CPUPercent)
		}
	}

	snaps := make([]worker.Snapshot, 0, len(records))
	for _, r := range records {
		snaps = append(snaps, r.Snapshot())
	}

	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ID < snaps[j].ID })

	online := 0
	for _, s := range snaps {
		if s.State == wstate.Online {
			online++
		}
	}
	metrics.SetRunningWorkers(name, online)

	return AppStatus{Name: name, State: deriveState(startedAt, snaps), StartedAt: startedAt, Workers: snaps}
}

// ListApps returns a snapshot view of every app, sorted by name.
func (m *Master) ListApps() []AppStatus {
	m.mu.Lock()
	containers := make([]*container, 0, len(m.apps))
	for _, c := range m.apps {
		containers = append(containers, c)
	}
	m.mu.Unlock()

	statuses := make([]AppStatus, 0, len(containers))
	for _, c := range containers {
		statuses = append(statuses, m.appStatus(c))
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

// GetAppStatus returns name's status view, or false if unknown.
func (m *Master) GetAppStatus(name string) (AppStatus, bool) {
	c, ok := m.container(name)
	if !ok {
		return AppStatus{}, false
	}
	return m.appStatus(c), true
}
