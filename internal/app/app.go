// Package app holds the declarative data model and the config loader
// that builds it.
package app

import (
	"runtime"
	"time"

	"github.com/arcflow/fleetd/internal/backoff"
	"github.com/arcflow/fleetd/internal/health"
	"github.com/arcflow/fleetd/internal/procmanager"
)

// ClusterStrategy selects how multiple instances share a public port.
type ClusterStrategy string

const (
	ClusterNone      ClusterStrategy = ""
	ClusterProxy     ClusterStrategy = "proxy"     // supervisor-owned TCP proxy
	ClusterPortReuse ClusterStrategy = "port_reuse" // SO_REUSEPORT, child binds directly
)

// Timeouts bundles the per-app deadlines.
type Timeouts struct {
	Ready     time.Duration
	Kill      time.Duration
	MinUptime time.Duration
}

// App is the immutable declarative definition of one application. It is
// never mutated after startApp builds the in-memory app container from it.
type App struct {
	Name        string
	Command     procmanager.Command
	WorkDir     string
	Env         []string
	Instances   int // resolved; "max" is expanded to runtime.NumCPU() at start time
	RawInstances string // as configured, e.g. "4" or "max"
	PublicPort  int
	Signal      procmanager.Signal
	Timeouts    Timeouts
	Restart     backoff.Policy
	Health      *health.Config
	Cluster     ClusterStrategy
}

// ResolveInstances expands the "max" literal to the host's logical CPU
// count; any other value is parsed as a positive integer by the config
// loader ahead of time and stored directly in Instances.
func (a *App) ResolveInstances() int {
	if a.Instances > 0 {
		return a.Instances
	}
	return runtime.NumCPU()
}

// UsesProxy reports whether this app should be fronted by ProxyCluster:
// clustering is enabled, instances > 1, a port is set, and the resolved
// strategy is proxy.
func (a *App) UsesProxy() bool {
	return a.Cluster == ClusterProxy && a.ResolveInstances() > 1 && a.PublicPort > 0
}
