// Package health implements the per-worker health subsystem: periodic
// HTTP probes against a worker's health endpoint, and heartbeat
// staleness detection driven by IPC heartbeat messages. Both run on their
// own ticker per worker id and report unhealthy/stale conditions to
// caller-supplied callbacks — the package holds no restart policy itself.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Config is an app's optional health-probe declaration.
type Config struct {
	Enabled            bool
	Path               string
	Port               int // per-worker port base; ignored when PortReuse is set
	PortReuse          bool
	ReusePort          int // the app's shared public port, used when PortReuse is true
	Interval           time.Duration
	Timeout            time.Duration
	UnhealthyThreshold int
}

func (c Config) probeAddr(workerID int) string {
	port := c.Port + workerID
	if c.PortReuse {
		port = c.ReusePort
	}
	return fmt.Sprintf("127.0.0.1:%d%s", port, c.Path)
}

// UnhealthyFunc is invoked exactly once per arming when a worker's HTTP
// probe failure count reaches Config.UnhealthyThreshold.
type UnhealthyFunc func(workerID int, reason string)

// StaleFunc is invoked on every monitor tick while a worker's heartbeat
// is stale; callers are expected to stop monitoring in response.
type StaleFunc func(workerID int)

type httpState struct {
	cancel  context.CancelFunc
	failures int
	notified bool
}

type heartbeatState struct {
	cancel context.CancelFunc
	last   time.Time
}

// Checker tracks independent per-worker HTTP-probe and heartbeat-monitor
// state.
type Checker struct {
	mu         sync.Mutex
	http       map[int]*httpState
	heartbeats map[int]*heartbeatState
	client     *http.Client
	now        func() time.Time
}

// New returns a Checker using a real HTTP client and wall-clock time.
func New() *Checker {
	return &Checker{
		http:       make(map[int]*httpState),
		heartbeats: make(map[int]*heartbeatState),
		client:     &http.Client{Transport: &http.Transport{DisableKeepAlives: true}},
		now:        time.Now,
	}
}

// NewWithClock is for tests that need to control elapsed time.
func NewWithClock(now func() time.Time) *Checker {
	c := New()
	c.now = now
	return c
}

// StartChecking installs a repeating HTTP probe for workerID at cfg's
// interval. A non-2xx response, timeout, or connection error increments the
// failure counter; a 2xx response resets it to zero. Once the counter
// reaches cfg.UnhealthyThreshold, onUnhealthy fires exactly once and the
// counter is pinned at the threshold until StopChecking re-arms it.
func (c *Checker) StartChecking(workerID int, cfg Config, onUnhealthy UnhealthyFunc) {
	if !cfg.Enabled {
		return
	}
	c.mu.Lock()
	if existing, ok := c.http[workerID]; ok {
		existing.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	st := &httpState{cancel: cancel}
	c.http[workerID] = st
	c.mu.Unlock()

	go c.probeLoop(ctx, workerID, cfg, st, onUnhealthy)
}

func (c *Checker) probeLoop(ctx context.Context, workerID int, cfg Config, st *httpState, onUnhealthy UnhealthyFunc) {
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.probeOnce(ctx, workerID, cfg, st, onUnhealthy)
		}
	}
}

func (c *Checker) probeOnce(ctx context.Context, workerID int, cfg Config, st *httpState, onUnhealthy UnhealthyFunc) {
	reqCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	ok, reason := c.doProbe(reqCtx, cfg.probeAddr(workerID))

	c.mu.Lock()
	defer c.mu.Unlock()
	if ok {
		if !st.notified {
			st.failures = 0
		}
		return
	}
	if st.failures < cfg.UnhealthyThreshold {
		st.failures++
	}
	if st.failures >= cfg.UnhealthyThreshold && !st.notified {
		st.notified = true
		if onUnhealthy != nil {
			onUnhealthy(workerID, reason)
		}
	}
}

func (c *Checker) doProbe(ctx context.Context, addr string) (bool, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr, nil)
	if err != nil {
		return false, err.Error()
	}
	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return false, "health probe timeout"
		}
		return false, err.Error()
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Sprintf("health probe returned status %d", resp.StatusCode)
	}
	return true, ""
}

// StopChecking cancels workerID's HTTP probe loop and clears its counter,
// re-arming the single-notification guard for a future StartChecking call.
func (c *Checker) StopChecking(workerID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.http[workerID]; ok {
		st.cancel()
		delete(c.http, workerID)
	}
}

// StartHeartbeatMonitor seeds workerID's last-heartbeat with the current
// time and installs a repeating monitor at interval. A worker is stale iff
// now - lastHeartbeat >= interval * missThreshold; onStale fires on every
// tick while stale.
func (c *Checker) StartHeartbeatMonitor(workerID int, interval time.Duration, missThreshold int, onStale StaleFunc) {
	c.mu.Lock()
	if existing, ok := c.heartbeats[workerID]; ok {
		existing.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	st := &heartbeatState{cancel: cancel, last: c.now()}
	c.heartbeats[workerID] = st
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		staleAfter := time.Duration(int64(interval) * int64(missThreshold))
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.mu.Lock()
				stale := c.now().Sub(st.last) >= staleAfter
				c.mu.Unlock()
				if stale && onStale != nil {
					onStale(workerID)
				}
			}
		}
	}()
}

// OnHeartbeat records a fresh heartbeat for workerID. The next monitor tick
// observes the updated value.
func (c *Checker) OnHeartbeat(workerID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.heartbeats[workerID]; ok {
		st.last = c.now()
	}
}

// StopHeartbeatMonitor cancels workerID's heartbeat monitor.
func (c *Checker) StopHeartbeatMonitor(workerID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.heartbeats[workerID]; ok {
		st.cancel()
		delete(c.heartbeats, workerID)
	}
}

// StopAll cancels every HTTP probe and heartbeat monitor, used by the
// master's global shutdown path.
func (c *Checker) StopAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, st := range c.http {
		st.cancel()
		delete(c.http, id)
	}
	for id, st := range c.heartbeats {
		st.cancel()
		delete(c.heartbeats, id)
	}
}
