package fleetclient

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/arcflow/fleetd/internal/app"
	"github.com/arcflow/fleetd/internal/backoff"
	"github.com/arcflow/fleetd/internal/control"
	"github.com/arcflow/fleetd/internal/controlapi"
	"github.com/arcflow/fleetd/internal/cronjob"
	"github.com/arcflow/fleetd/internal/master"
	"github.com/arcflow/fleetd/internal/procmanager"
)

func sleepApp(name string) app.App {
	return app.App{
		Name:      name,
		Command:   procmanager.Command{Interpreter: "/bin/sh", Script: "-c", Args: []string{"sleep 5"}},
		Instances: 1,
		Timeouts:  app.Timeouts{Ready: time.Second, Kill: 300 * time.Millisecond, MinUptime: time.Hour},
		Restart:   backoff.Policy{Window: time.Minute, MaxRestarts: 3, Curve: backoff.Curve{Initial: 10 * time.Millisecond, Multiplier: 2, Max: time.Second}},
	}
}

func newTestDaemon(t *testing.T) string {
	t.Helper()
	m := master.New(nil, nil, nil)
	t.Cleanup(m.Shutdown)

	cfg := &app.Config{ResolvedApps: []app.App{sleepApp("web")}}
	cj := cronjob.NewManager(m)
	t.Cleanup(cj.StopAll)

	sockPath := filepath.Join(t.TempDir(), "control.sock")
	srv := control.NewServer(sockPath, nil)
	controlapi.Register(srv, controlapi.Config{Master: m, CronJobs: cj, Cfg: cfg, LogDir: func() string { return t.TempDir() }})
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })
	return sockPath
}

func TestClientIsReachable(t *testing.T) {
	sockPath := newTestDaemon(t)
	cli := New(DefaultConfig(sockPath))

	if !cli.IsReachable() {
		t.Fatal("expected daemon to be reachable")
	}
}

func TestClientStartStatusStop(t *testing.T) {
	sockPath := newTestDaemon(t)
	cli := New(DefaultConfig(sockPath))

	if err := cli.Start("web"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	status, err := cli.Status("web")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Name != "web" {
		t.Fatalf("unexpected status: %+v", status)
	}

	if err := cli.Stop("web"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestClientStartUnknownAppReturnsError(t *testing.T) {
	sockPath := newTestDaemon(t)
	cli := New(DefaultConfig(sockPath))

	if err := cli.Start("missing"); err == nil {
		t.Fatal("expected an error for an undeclared app")
	}
}

func TestClientListApps(t *testing.T) {
	sockPath := newTestDaemon(t)
	cli := New(DefaultConfig(sockPath))

	if err := cli.Start("web"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	statuses, err := cli.ListApps()
	if err != nil {
		t.Fatalf("ListApps: %v", err)
	}
	if len(statuses) != 1 || statuses[0].Name != "web" {
		t.Fatalf("unexpected statuses: %+v", statuses)
	}
}
