package cronjob

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/arcflow/fleetd/internal/app"
	"github.com/arcflow/fleetd/internal/master"
)

// Manager owns every scheduled app run declared in the fleet file and
// starts/stops their Jobs together with the rest of the daemon.
type Manager struct {
	mu     sync.RWMutex
	jobs   map[string]*Job
	master *master.Master
}

func NewManager(m *master.Master) *Manager {
	return &Manager{jobs: make(map[string]*Job), master: m}
}

// LoadAll schedules every cronjob in cfgs, stopping and returning the first
// error encountered so a malformed fleet file never leaves a partial
// schedule running.
func (m *Manager) LoadAll(cfgs []app.CronJob) error {
	for _, cfg := range cfgs {
		if err := m.Add(cfg); err != nil {
			m.StopAll()
			return err
		}
	}
	return nil
}

// Add schedules a new cronjob.
func (m *Manager) Add(cfg app.CronJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[cfg.Name]; exists {
		return fmt.Errorf("cronjob %q already exists", cfg.Name)
	}
	j := New(cfg, m.master)
	if err := j.Start(); err != nil {
		return err
	}
	m.jobs[cfg.Name] = j
	slog.Info("cronjob registered", "name", cfg.Name, "schedule", cfg.Schedule)
	return nil
}

// Get returns a scheduled job by name.
func (m *Manager) Get(name string) (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[name]
	return j, ok
}

// List returns the status of every scheduled job.
func (m *Manager) List() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Status, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j.Status())
	}
	return out
}

// Remove unschedules and forgets a cronjob.
func (m *Manager) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, exists := m.jobs[name]
	if !exists {
		return fmt.Errorf("cronjob %q not found", name)
	}
	j.Stop()
	delete(m.jobs, name)
	return nil
}

// StopAll halts every scheduled job, used during daemon shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, j := range m.jobs {
		j.Stop()
		slog.Info("cronjob stopped during shutdown", "name", name)
	}
	m.jobs = make(map[string]*Job)
}
