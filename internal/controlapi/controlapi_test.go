package controlapi

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/arcflow/fleetd/internal/app"
	"github.com/arcflow/fleetd/internal/backoff"
	"github.com/arcflow/fleetd/internal/control"
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

func newTestDaemon(t *testing.T) (*control.Server, string) {
	t.Helper()
	m := master.New(nil, nil, nil)
	t.Cleanup(m.Shutdown)

	cfg := &app.Config{ResolvedApps: []app.App{sleepApp("web")}}
	cj := cronjob.NewManager(m)
	t.Cleanup(cj.StopAll)

	sockPath := filepath.Join(t.TempDir(), "control.sock")
	srv := control.NewServer(sockPath, nil)
	Register(srv, Config{Master: m, CronJobs: cj, Cfg: cfg, LogDir: func() string { return t.TempDir() }})
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })
	return srv, sockPath
}

func TestStartStatusStopRoundTrip(t *testing.T) {
	_, sockPath := newTestDaemon(t)
	cli := control.NewClient(sockPath)

	nameArgs, _ := json.Marshal(map[string]string{"name": "web"})

	resp, err := cli.Send(control.Request{ID: "1", Cmd: control.CmdStart, Args: nameArgs}, 0)
	if err != nil || !resp.OK {
		t.Fatalf("start: resp=%+v err=%v", resp, err)
	}

	resp, err = cli.Send(control.Request{ID: "2", Cmd: control.CmdStatus, Args: nameArgs}, 0)
	if err != nil || !resp.OK {
		t.Fatalf("status: resp=%+v err=%v", resp, err)
	}

	resp, err = cli.Send(control.Request{ID: "3", Cmd: control.CmdStop, Args: nameArgs}, 0)
	if err != nil || !resp.OK {
		t.Fatalf("stop: resp=%+v err=%v", resp, err)
	}
}

func TestStartUnknownAppReturnsError(t *testing.T) {
	_, sockPath := newTestDaemon(t)
	cli := control.NewClient(sockPath)

	nameArgs, _ := json.Marshal(map[string]string{"name": "missing"})
	resp, err := cli.Send(control.Request{ID: "1", Cmd: control.CmdStart, Args: nameArgs}, 0)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.OK {
		t.Fatal("expected an error response for an undeclared app")
	}
}

func TestStatusMissingNameReturnsError(t *testing.T) {
	_, sockPath := newTestDaemon(t)
	cli := control.NewClient(sockPath)

	resp, err := cli.Send(control.Request{ID: "1", Cmd: control.CmdStatus, Args: nil}, 0)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.OK {
		t.Fatal("expected an error response for a missing name")
	}
}

func TestListAndDumpReturnOK(t *testing.T) {
	_, sockPath := newTestDaemon(t)
	cli := control.NewClient(sockPath)

	resp, err := cli.Send(control.Request{ID: "1", Cmd: control.CmdList}, 0)
	if err != nil || !resp.OK {
		t.Fatalf("list: resp=%+v err=%v", resp, err)
	}

	resp, err = cli.Send(control.Request{ID: "2", Cmd: control.CmdDump}, 0)
	if err != nil || !resp.OK {
		t.Fatalf("dump: resp=%+v err=%v", resp, err)
	}
}

func TestPingRespondsPong(t *testing.T) {
	_, sockPath := newTestDaemon(t)
	cli := control.NewClient(sockPath)

	resp, err := cli.Send(control.Request{ID: "1", Cmd: control.CmdPing}, 0)
	if err != nil || !resp.OK {
		t.Fatalf("ping: resp=%+v err=%v", resp, err)
	}
	data, ok := resp.Data.(map[string]any)
	if !ok {
		t.Fatalf("ping: data is %T, want map[string]any: %+v", resp.Data, resp.Data)
	}
	if pong, ok := data["pong"].(bool); !ok || !pong {
		t.Fatalf("ping: data[\"pong\"] = %v, want true", data["pong"])
	}
	if _, ok := data["ts"]; !ok {
		t.Fatalf("ping: data missing \"ts\": %+v", data)
	}
}
