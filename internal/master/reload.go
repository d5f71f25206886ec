package master

import (
	"fmt"

	"github.com/arcflow/fleetd/internal/metrics"
	"github.com/arcflow/fleetd/internal/reload"
	"github.com/arcflow/fleetd/internal/worker"
)

// ReloadApp drains name's current workers and replaces them with a fresh
// generation, batch by batch, via ReloadHandler.
func (m *Master) ReloadApp(name string, plan reload.Plan) error {
	c, ok := m.container(name)
	if !ok {
		return fmt.Errorf("master: app %q not found", name)
	}

	m.mu.Lock()
	current := make([]reload.Worker, 0, len(c.records))
	for _, r := range c.records {
		current = append(current, r)
	}
	m.mu.Unlock()

	reload.Run(
		current,
		plan,
		func() reload.Worker { return m.reloadSpawnAndTrack(c) },
		func(old reload.Worker) { m.reloadDrainAndStop(c, old) },
	)
	return nil
}

// reloadSpawnAndTrack allocates the next worker id and spawns its
// replacement, returning the tracked record for ReloadHandler to poll.
func (m *Master) reloadSpawnAndTrack(c *container) reload.Worker {
	m.mu.Lock()
	id := c.nextWorkerID
	c.nextWorkerID++
	m.mu.Unlock()

	m.spawn(c, id)

	m.mu.Lock()
	rec := c.records[id]
	m.mu.Unlock()
	return rec
}

// reloadDrainAndStop removes old from the proxy (if any) and drains it. Each
// drained worker corresponds to one retired member of a reload batch.
func (m *Master) reloadDrainAndStop(c *container, old reload.Worker) {
	rec, ok := old.(*worker.Record)
	if !ok {
		return
	}
	if c.proxy != nil {
		c.proxy.RemoveWorker(rec.ID)
	}
	c.handler.DrainAndStop(rec, func(id int) {
		m.mu.Lock()
		handle := c.handles[id]
		m.mu.Unlock()
		if handle != nil {
			m.proc.Kill(handle.Pid, c.cfg.Signal, c.cfg.Timeouts.Kill)
		}
	})
	metrics.IncReloadBatch(c.cfg.Name)
}
