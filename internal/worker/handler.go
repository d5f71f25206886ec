package worker

import (
	"sync"
	"time"

	"github.com/arcflow/fleetd/internal/backoff"
	"github.com/arcflow/fleetd/internal/procmanager"
	"github.com/arcflow/fleetd/internal/wstate"
)

// KillFunc performs the graceful-then-forced kill of a worker's child
// process; the actual pid/signal/timeout plumbing belongs to the caller
// (internal/master), which knows the app's configured signal and timeout.
type KillFunc func(workerID int)

// RestartHook is the master's "restart this worker" callback, invoked when
// a backoff timer fires for a worker still in the crashed state.
type RestartHook func(workerID int)

// Handler owns crash-recovery timer bookkeeping and the small amount of
// logic needed to react to IPC messages and process exits. It holds no
// worker records itself — those live in internal/master's app map — it
// operates on whatever *Record is handed to it.
type Handler struct {
	lifecycle *wstate.Lifecycle
	recovery  *backoff.Recovery
	policy    backoff.Policy

	mu            sync.Mutex
	stableTimers  map[int]*time.Timer
	backoffTimers map[int]*time.Timer
}

// New returns a Handler driven by the given lifecycle table and crash
// recovery policy.
func New(lifecycle *wstate.Lifecycle, recovery *backoff.Recovery, policy backoff.Policy) *Handler {
	return &Handler{
		lifecycle:     lifecycle,
		recovery:      recovery,
		policy:        policy,
		stableTimers:  make(map[int]*time.Timer),
		backoffTimers: make(map[int]*time.Timer),
	}
}

// Dispatch routes one inbound IPC message to the record.
func (h *Handler) Dispatch(rec *Record, msg procmanager.Message) {
	switch msg.Type {
	case procmanager.MsgReady:
		from := rec.State()
		if h.lifecycle.Transition(rec.ID, from, wstate.Online) {
			rec.mu.Lock()
			rec.state = wstate.Online
			rec.readyAt = time.Now()
			rec.mu.Unlock()
		}
	case procmanager.MsgMetrics:
		rec.mu.Lock()
		rec.memoryBytes = msg.Payload.MemoryBytes
		rec.userSecs = msg.Payload.UserSecs
		rec.systemSecs = msg.Payload.SystemSecs
		rec.mu.Unlock()
	case procmanager.MsgHeartbeat, procmanager.MsgCustom:
		// no state change here; heartbeat freshness is tracked by internal/health.
	}
}

// HandleExit processes a worker's process exit. It cancels the pending
// stable-timer, records exit code/signal, and either
// settles the worker into stopped (graceful path) or routes it through
// crash recovery, arming a backoff timer that calls onRestart when it fires
// and the worker is still crashed.
func (h *Handler) HandleExit(rec *Record, result procmanager.ExitResult, onRestart RestartHook) {
	h.cancelStable(rec.ID)

	rec.mu.Lock()
	rec.exitCode = result.ExitCode
	rec.exitSignal = result.Signal
	from := rec.state
	rec.mu.Unlock()

	if from == wstate.Stopping || from == wstate.Draining {
		h.forceStopped(rec, from)
		return
	}

	if !h.lifecycle.Transition(rec.ID, from, wstate.Crashed) {
		h.forceStopped(rec, from)
		return
	}
	rec.mu.Lock()
	rec.state = wstate.Crashed
	rec.lastCrashAt = time.Now()
	rec.consecutiveCrashes++
	rec.mu.Unlock()

	decision, delay := h.recovery.OnCrash(rec.ID, h.policy)
	if decision == backoff.GiveUp {
		h.lifecycle.Transition(rec.ID, wstate.Crashed, wstate.Errored)
		rec.setState(wstate.Errored)
		return
	}

	h.armBackoff(rec, delay, onRestart)
}

// TransitionTo attempts a table-legal transition on rec and, on success,
// updates its recorded state to match. Used by internal/master for the
// spawn/restart state changes this package does not drive on its own
// (Dispatch/HandleExit/DrainAndStop cover the reactive paths).
func (h *Handler) TransitionTo(rec *Record, from, to wstate.State) bool {
	if !h.lifecycle.Transition(rec.ID, from, to) {
		return false
	}
	rec.setState(to)
	return true
}

// ForceTransitionTo unconditionally moves rec to to, bypassing the
// transition table. Used when a racing health check or command has left
// rec in a state from which the table has no legal path to the caller's
// intended next state.
func (h *Handler) ForceTransitionTo(rec *Record, to wstate.State) {
	from := rec.State()
	h.lifecycle.ForceState(rec.ID, from, to)
	rec.setState(to)
}

func (h *Handler) forceStopped(rec *Record, from wstate.State) {
	h.lifecycle.ForceState(rec.ID, from, wstate.Stopped)
	rec.setState(wstate.Stopped)
}

func (h *Handler) armBackoff(rec *Record, delay time.Duration, onRestart RestartHook) {
	h.mu.Lock()
	if t, ok := h.backoffTimers[rec.ID]; ok {
		t.Stop()
	}
	h.backoffTimers[rec.ID] = time.AfterFunc(delay, func() {
		if rec.State() == wstate.Crashed && onRestart != nil {
			onRestart(rec.ID)
		}
	})
	h.mu.Unlock()
}

// DrainAndStop drives one worker through draining/stopping to a terminal
// stopped state. kill performs the actual graceful-then-forced process
// kill. Terminal workers are a no-op.
func (h *Handler) DrainAndStop(rec *Record, kill KillFunc) {
	h.cancelBackoff(rec.ID)
	h.cancelStable(rec.ID)

	from := rec.State()
	if from.IsTerminal() {
		return
	}

	if from == wstate.Online {
		if h.lifecycle.Transition(rec.ID, wstate.Online, wstate.Draining) {
			rec.setState(wstate.Draining)
			from = wstate.Draining
		}
	}
	if from == wstate.Draining {
		if h.lifecycle.Transition(rec.ID, wstate.Draining, wstate.Stopping) {
			rec.setState(wstate.Stopping)
			from = wstate.Stopping
		}
	}

	if kill != nil {
		kill(rec.ID)
	}

	// Drain is authoritative: force the record to stopped even if the
	// in-flight state would not normally permit the jump.
	h.lifecycle.ForceState(rec.ID, from, wstate.Stopped)
	rec.setState(wstate.Stopped)
}

// StopAll cancels every pending timer for the given records and drains
// each non-terminal one in parallel, returning once all have settled.
func (h *Handler) StopAll(records []*Record, kill KillFunc) {
	var wg sync.WaitGroup
	for _, rec := range records {
		if rec.State().IsTerminal() {
			continue
		}
		wg.Add(1)
		go func(r *Record) {
			defer wg.Done()
			h.DrainAndStop(r, kill)
		}(rec)
	}
	wg.Wait()
}

// ScheduleStable installs a one-shot timer for minUptime. If the worker
// is still online when it fires, CrashRecovery is
// told the worker is stable and the record's consecutive-crash counter is
// zeroed.
func (h *Handler) ScheduleStable(rec *Record, minUptime time.Duration) {
	h.mu.Lock()
	if t, ok := h.stableTimers[rec.ID]; ok {
		t.Stop()
	}
	h.stableTimers[rec.ID] = time.AfterFunc(minUptime, func() {
		if rec.State() == wstate.Online {
			h.recovery.OnStable(rec.ID)
			rec.mu.Lock()
			rec.consecutiveCrashes = 0
			rec.mu.Unlock()
		}
	})
	h.mu.Unlock()
}

func (h *Handler) cancelStable(workerID int) {
	h.mu.Lock()
	if t, ok := h.stableTimers[workerID]; ok {
		t.Stop()
		delete(h.stableTimers, workerID)
	}
	h.mu.Unlock()
}

func (h *Handler) cancelBackoff(workerID int) {
	h.mu.Lock()
	if t, ok := h.backoffTimers[workerID]; ok {
		t.Stop()
		delete(h.backoffTimers, workerID)
	}
	h.mu.Unlock()
}

// CancelTimers cancels both the stable and backoff timers for workerID,
// used by callers tearing down a single worker outside of StopAll (e.g.
// the master's restart-one-worker path).
func (h *Handler) CancelTimers(workerID int) {
	h.cancelStable(workerID)
	h.cancelBackoff(workerID)
}
