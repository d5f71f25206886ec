// Package master implements the Master/Orchestrator: the component
// that owns every app, composes ProcessManager, WorkerHandler,
// HealthChecker, ReloadHandler, and ProxyCluster, and exposes the
// start/stop/restart/reload/delete/query surface the control plane binds
// its command handlers to.
package master

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/arcflow/fleetd/internal/app"
	"github.com/arcflow/fleetd/internal/backoff"
	"github.com/arcflow/fleetd/internal/health"
	"github.com/arcflow/fleetd/internal/logger"
	"github.com/arcflow/fleetd/internal/metrics"
	"github.com/arcflow/fleetd/internal/procmanager"
	"github.com/arcflow/fleetd/internal/proxycluster"
	"github.com/arcflow/fleetd/internal/store"
	"github.com/arcflow/fleetd/internal/worker"
	"github.com/arcflow/fleetd/internal/wstate"
)

// portReleaseDelay is the fixed pause restartApp takes, when the app has a
// public port, before respawning onto that same port.
const portReleaseDelay = 250 * time.Millisecond

// heartbeatMissThreshold is the number of missed heartbeat intervals that
// mark a worker stale (interval * missThreshold). The fleet file has
// no separate knob for it; three misses is the value used throughout
// testing this app against deliberately slow workers.
const heartbeatMissThreshold = 3

// container is one app's private state, exclusively owned by the app
// itself, never reached into from outside this package except through
// Master's locked accessors.
type container struct {
	cfg app.App

	records      map[int]*worker.Record
	handles      map[int]*procmanager.Handle
	nextWorkerID int
	startedAt    time.Time

	proxy    *proxycluster.Proxy
	recovery *backoff.Recovery
	handler  *worker.Handler
	health   *health.Checker
}

// Master owns the name->app map and every cross-cutting dependency shared
// across apps: the process boundary, the (stateless) lifecycle table, the
// fleet-wide logger, and a set of registered shutdown callbacks.
type Master struct {
	mu   sync.Mutex
	apps map[string]*container

	globalEnv []string
	loggerFor func(appName string) logger.Config

	proc       *procmanager.Manager
	lifecycle  *wstate.Lifecycle
	logger     *slog.Logger
	bookkeeper store.Store

	shutdownHooks []func() error
}

// SetBookkeepingStore wires a persistent restart/crash history backend
// (internal/store/factory.NewFromDSN, gated by the fleet file's Store
// config) into the master. Every subsequent spawn and exit is recorded
// there in addition to the in-memory worker.Record. Passing nil disables
// bookkeeping.
func (m *Master) SetBookkeepingStore(s store.Store) {
	m.mu.Lock()
	m.bookkeeper = s
	m.mu.Unlock()
}

// New returns a Master ready to start apps. loggerFor builds the per-app
// rotating-log configuration (typically Config.LoggerConfig from
// internal/app).
func New(globalEnv []string, loggerFor func(appName string) logger.Config, lg *slog.Logger) *Master {
	if lg == nil {
		lg = slog.Default()
	}
	if loggerFor == nil {
		loggerFor = func(string) logger.Config { return logger.Config{} }
	}
	return &Master{
		apps:      make(map[string]*container),
		globalEnv: globalEnv,
		loggerFor: loggerFor,
		proc:      procmanager.New(),
		lifecycle: wstate.New(),
		logger:    lg,
	}
}

// RegisterShutdownHook adds fn to the list run, in order, during Shutdown.
// Errors are logged and swallowed, never aborting the remaining hooks.
func (m *Master) RegisterShutdownHook(fn func() error) {
	m.mu.Lock()
	m.shutdownHooks = append(m.shutdownHooks, fn)
	m.mu.Unlock()
}

// StartApp admits a new app. It fails if the name is already present.
func (m *Master) StartApp(cfg app.App) error {
	m.mu.Lock()
	if _, exists := m.apps[cfg.Name]; exists {
		m.mu.Unlock()
		return fmt.Errorf("master: app %q already exists", cfg.Name)
	}
	instances := cfg.ResolveInstances()
	c := &container{
		cfg:          cfg,
		records:      make(map[int]*worker.Record),
		handles:      make(map[int]*procmanager.Handle),
		nextWorkerID: instances,
		recovery:     backoff.New(),
		health:       health.New(),
	}
	c.handler = worker.New(m.lifecycle, c.recovery, cfg.Restart)
	m.apps[cfg.Name] = c
	m.mu.Unlock()

	if cfg.UsesProxy() {
		proxy, err := proxycluster.Listen(cfg.Name, fmt.Sprintf("127.0.0.1:%d", cfg.PublicPort), m.logger)
		if err != nil {
			m.mu.Lock()
			delete(m.apps, cfg.Name)
			m.mu.Unlock()
			return fmt.Errorf("master: start proxy for %q: %w", cfg.Name, err)
		}
		c.proxy = proxy
	}

	m.mu.Lock()
	c.startedAt = time.Now()
	m.mu.Unlock()

	for id := 0; id < instances; id++ {
		m.spawn(c, id)
	}
	return nil
}

// spawn creates worker id's record in spawning, transitions it to starting,
// and launches its child process.
func (m *Master) spawn(c *container, id int) {
	rec := worker.NewRecord(id, c.cfg.Name)

	m.mu.Lock()
	c.records[id] = rec
	m.mu.Unlock()

	c.handler.TransitionTo(rec, wstate.Spawning, wstate.Starting)
	m.launch(c, rec)
}

// launch asks ProcessManager to spawn rec's child, installs the IPC and
// exit callbacks, and arms the stable-timer and health monitors. Shared by
// both the initial spawn and every subsequent restart of the same id.
func (m *Master) launch(c *container, rec *worker.Record) {
	id := rec.ID
	var bookRec store.Record

	onMessage := func(msg procmanager.Message) {
		c.handler.Dispatch(rec, msg)
		switch msg.Type {
		case procmanager.MsgReady:
			if c.proxy != nil {
				c.proxy.AddWorker(id, app.EffectivePort(c.cfg, id))
			}
		case procmanager.MsgHeartbeat:
			c.health.OnHeartbeat(id)
		}
	}

	onExit := func(result procmanager.ExitResult) {
		if c.proxy != nil {
			c.proxy.RemoveWorker(id)
		}
		c.health.StopChecking(id)
		c.health.StopHeartbeatMonitor(id)
		c.handler.HandleExit(rec, result, func(workerID int) {
			m.restartOneWorker(c, workerID)
		})
		switch rec.State() {
		case wstate.Crashed:
			metrics.IncWorkerCrash(c.cfg.Name)
		case wstate.Errored:
			metrics.IncWorkerGiveUp(c.cfg.Name)
		}
		m.recordStop(bookRec, result)
	}

	handle, err := m.proc.Spawn(m.buildSpawnConfig(c, id), onMessage, onExit)
	if err != nil {
		m.logger.Error("worker spawn failed", "app", c.cfg.Name, "worker", id, "error", err)
		c.handler.ForceTransitionTo(rec, wstate.Errored)
		metrics.IncWorkerGiveUp(c.cfg.Name)
		return
	}

	m.mu.Lock()
	c.handles[id] = handle
	m.mu.Unlock()
	rec.SetPid(handle.Pid)
	metrics.IncWorkerStart(c.cfg.Name)
	bookRec = store.Record{Name: c.cfg.Name, PID: handle.Pid, StartedAt: time.Now().UTC()}
	m.recordStart(bookRec)

	c.handler.ScheduleStable(rec, c.cfg.Timeouts.MinUptime)

	if c.cfg.Health != nil && c.cfg.Health.Enabled {
		c.health.StartChecking(id, *c.cfg.Health, func(workerID int, reason string) {
			m.logger.Warn("worker unhealthy", "app", c.cfg.Name, "worker", workerID, "reason", reason)
		})
		c.health.StartHeartbeatMonitor(id, c.cfg.Health.Interval, heartbeatMissThreshold, func(workerID int) {
			c.health.StopChecking(workerID)
			c.health.StopHeartbeatMonitor(workerID)
			if st := m.recordState(c, workerID); st == wstate.Online || st == wstate.Starting {
				m.restartOneWorker(c, workerID)
			}
		})
	}
}

func (m *Master) buildSpawnConfig(c *container, id int) procmanager.SpawnConfig {
	return procmanager.SpawnConfig{
		Command: c.cfg.Command,
		WorkDir: c.cfg.WorkDir,
		Env:     app.WorkerEnv(m.globalEnv, c.cfg, id),
		Log:     m.loggerFor(c.cfg.Name),
		LogName: fmt.Sprintf("%s-%d", c.cfg.Name, id),
	}
}

// recordStart persists a spawn into the bookkeeping store, if one is
// configured. It fires and forgets: bookkeeping failures are logged, never
// propagated back into the spawn path.
func (m *Master) recordStart(rec store.Record) {
	m.mu.Lock()
	s := m.bookkeeper
	m.mu.Unlock()
	if s == nil {
		return
	}
	go func() {
		if err := s.RecordStart(context.Background(), rec); err != nil {
			m.logger.Warn("bookkeeping record start failed", "app", rec.Name, "error", err)
		}
	}()
}

// recordStop persists an exit into the bookkeeping store, if one is
// configured.
func (m *Master) recordStop(rec store.Record, result procmanager.ExitResult) {
	m.mu.Lock()
	s := m.bookkeeper
	m.mu.Unlock()
	if s == nil || rec.Name == "" {
		return
	}
	var exitErr error
	if result.ExitCode != 0 || result.Signal != "" {
		exitErr = fmt.Errorf("exit code %d signal %q", result.ExitCode, result.Signal)
	}
	key := rec.Key()
	go func() {
		if err := s.RecordStop(context.Background(), key, time.Now().UTC(), exitErr); err != nil {
			m.logger.Warn("bookkeeping record stop failed", "app", rec.Name, "error", err)
		}
	}()
}

func (m *Master) recordState(c *container, id int) wstate.State {
	m.mu.Lock()
	rec, ok := c.records[id]
	m.mu.Unlock()
	if !ok {
		return wstate.Stopped
	}
	return rec.State()
}

// restartOneWorker replaces worker id's child in place, guarding against
// two live processes for the same id during a fast restart loop.
func (m *Master) restartOneWorker(c *container, id int) {
	m.mu.Lock()
	rec, ok := c.records[id]
	handle := c.handles[id]
	m.mu.Unlock()
	if !ok {
		return
	}

	c.handler.CancelTimers(id)
	c.health.StopChecking(id)
	c.health.StopHeartbeatMonitor(id)
	if c.proxy != nil {
		c.proxy.RemoveWorker(id)
	}

	if handle != nil && procmanager.DetectAlive(handle.Pid) {
		m.proc.Kill(handle.Pid, c.cfg.Signal, c.cfg.Timeouts.Kill)
	}

	from := rec.State()
	if !c.handler.TransitionTo(rec, from, wstate.Spawning) {
		c.handler.ForceTransitionTo(rec, wstate.Stopped)
		c.handler.TransitionTo(rec, wstate.Stopped, wstate.Spawning)
	}

	rec.IncrementRestartCount()
	rec.ResetGeneration()
	metrics.IncWorkerRestart(c.cfg.Name)

	m.mu.Lock()
	delete(c.handles, id)
	m.mu.Unlock()

	c.handler.TransitionTo(rec, wstate.Spawning, wstate.Starting)
	m.launch(c, rec)
}

// StopApp stops every worker of name and any proxy in front of it.
func (m *Master) StopApp(name string) error {
	c, ok := m.container(name)
	if !ok {
		return fmt.Errorf("master: app %q not found", name)
	}
	m.stopAppWorkers(c)

	m.mu.Lock()
	c.startedAt = time.Time{}
	m.mu.Unlock()

	if c.proxy != nil {
		c.proxy.Stop()
	}
	return nil
}

func (m *Master) container(name string) (*container, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.apps[name]
	return c, ok
}

// stopAppWorkers stops health monitoring and drives every current worker to
// a terminal state in parallel via WorkerHandler.StopAll.
func (m *Master) stopAppWorkers(c *container) {
	m.mu.Lock()
	records := make([]*worker.Record, 0, len(c.records))
	for _, r := range c.records {
		records = append(records, r)
	}
	m.mu.Unlock()

	for _, r := range records {
		c.health.StopChecking(r.ID)
		c.health.StopHeartbeatMonitor(r.ID)
	}

	c.handler.StopAll(records, func(id int) {
		m.mu.Lock()
		handle := c.handles[id]
		m.mu.Unlock()
		if handle != nil {
			m.proc.Kill(handle.Pid, c.cfg.Signal, c.cfg.Timeouts.Kill)
		}
	})
}

// RestartApp stops every worker, releases the port briefly if one is
// configured, and spawns a fresh generation 0..instances-1.
func (m *Master) RestartApp(name string) error {
	c, ok := m.container(name)
	if !ok {
		return fmt.Errorf("master: app %q not found", name)
	}

	m.stopAppWorkers(c)
	if c.proxy != nil {
		c.proxy.Stop()
	}

	m.mu.Lock()
	for id := range c.records {
		c.handler.CancelTimers(id)
	}
	c.records = make(map[int]*worker.Record)
	c.handles = make(map[int]*procmanager.Handle)
	c.proxy = nil
	c.recovery.ResetAll()
	c.startedAt = time.Time{}
	instances := c.cfg.ResolveInstances()
	c.nextWorkerID = instances
	m.mu.Unlock()

	if c.cfg.PublicPort > 0 {
		time.Sleep(portReleaseDelay)
	}

	if c.cfg.UsesProxy() {
		proxy, err := proxycluster.Listen(name, fmt.Sprintf("127.0.0.1:%d", c.cfg.PublicPort), m.logger)
		if err != nil {
			return fmt.Errorf("master: restart proxy for %q: %w", name, err)
		}
		m.mu.Lock()
		c.proxy = proxy
		m.mu.Unlock()
	}

	m.mu.Lock()
	c.startedAt = time.Now()
	m.mu.Unlock()

	for id := 0; id < instances; id++ {
		m.spawn(c, id)
	}
	return nil
}

// DeleteApp stops and removes name, cleaning up every timer, monitor, and
// proxy. It is a no-op if name is unknown.
func (m *Master) DeleteApp(name string) error {
	c, ok := m.container(name)
	if !ok {
		return nil
	}

	m.stopAppWorkers(c)
	c.health.StopAll()
	if c.proxy != nil {
		c.proxy.Stop()
	}

	m.mu.Lock()
	delete(m.apps, name)
	m.mu.Unlock()
	return nil
}

// Shutdown stops every health monitor and proxy, stops every app in
// parallel, then runs registered shutdown hooks in order, logging and
// swallowing any hook error.
func (m *Master) Shutdown() {
	m.mu.Lock()
	containers := make([]*container, 0, len(m.apps))
	for _, c := range m.apps {
		containers = append(containers, c)
	}
	hooks := append([]func() error(nil), m.shutdownHooks...)
	m.mu.Unlock()

	for _, c := range containers {
		c.health.StopAll()
	}
	for _, c := range containers {
		if c.proxy != nil {
			c.proxy.Stop()
		}
	}

	var wg sync.WaitGroup
	for _, c := range containers {
		wg.Add(1)
		go func(cc *container) {
			defer wg.Done()
			m.stopAppWorkers(cc)
		}(c)
	}
	wg.Wait()

	for _, fn := range hooks {
		if err := fn(); err != nil {
			m.logger.Error("shutdown hook failed", "error", err)
		}
	}

	m.mu.Lock()
	s := m.bookkeeper
	m.mu.Unlock()
	if s != nil {
		if err := s.Close(); err != nil {
			m.logger.Error("bookkeeping store close failed", "error", err)
		}
	}
}
