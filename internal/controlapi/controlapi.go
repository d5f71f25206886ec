// Package controlapi registers the control-plane command handlers
// against a *internal/master.Master, the cronjob manager, and the decoded
// fleet file, and is the single place cmd/fleetd wires the Unix-socket server to the
// rest of the daemon.
package controlapi

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/arcflow/fleetd/internal/app"
	"github.com/arcflow/fleetd/internal/control"
	"github.com/arcflow/fleetd/internal/cronjob"
	"github.com/arcflow/fleetd/internal/master"
	"github.com/arcflow/fleetd/internal/reload"
)

// Config bundles everything a daemon run needs reachable from a command
// handler.
type Config struct {
	Master   *master.Master
	CronJobs *cronjob.Manager
	Cfg      *app.Config
	LogDir   func() string
}

// Register binds every Cmd* command declared in internal/control to srv.
func Register(srv *control.Server, cfg Config) {
	srv.Handle(control.CmdPing, handlePing)
	srv.Handle(control.CmdList, handleList(cfg))
	srv.Handle(control.CmdStatus, handleStatus(cfg))
	srv.Handle(control.CmdStart, handleStart(cfg))
	srv.Handle(control.CmdStop, handleStop(cfg))
	srv.Handle(control.CmdRestart, handleRestart(cfg))
	srv.Handle(control.CmdReload, handleReload(cfg))
	srv.Handle(control.CmdDelete, handleDelete(cfg))
	srv.Handle(control.CmdDump, handleDump(cfg))
	srv.Handle(control.CmdMetrics, handleList(cfg))
	srv.Handle(control.CmdLogs, handleLogs(cfg))
	srv.Handle(control.CmdKillDaemon, handleKillDaemon)
}

func handlePing(req control.Request, send control.Sender) {
	send(control.Response{ID: req.ID, OK: true, Data: map[string]any{
		"pong": true,
		"ts":   time.Now().Unix(),
	}})
}

func handleList(cfg Config) control.HandlerFunc {
	return func(req control.Request, send control.Sender) {
		send(control.Response{ID: req.ID, OK: true, Data: cfg.Master.ListApps()})
	}
}

func handleDump(cfg Config) control.HandlerFunc {
	return func(req control.Request, send control.Sender) {
		send(control.Response{ID: req.ID, OK: true, Data: map[string]any{
			"apps":     cfg.Master.ListApps(),
			"cronjobs": cfg.CronJobs.List(),
		}})
	}
}

func handleStatus(cfg Config) control.HandlerFunc {
	return withName(func(req control.Request, name string, send control.Sender) {
		status, ok := cfg.Master.GetAppStatus(name)
		if !ok {
			send(errorResponse(req.ID, fmt.Sprintf("app %q not found", name)))
			return
		}
		send(control.Response{ID: req.ID, OK: true, Data: status})
	})
}

func handleStart(cfg Config) control.HandlerFunc {
	return withName(func(req control.Request, name string, send control.Sender) {
		var a app.App
		ok := false
		for _, candidate := range cfg.Cfg.ResolvedApps {
			if candidate.Name == name {
				a, ok = candidate, true
				break
			}
		}
		if !ok {
			send(errorResponse(req.ID, fmt.Sprintf("no app %q declared in the fleet file", name)))
			return
		}
		if err := cfg.Master.StartApp(a); err != nil {
			send(errorResponse(req.ID, err.Error()))
			return
		}
		send(control.Response{ID: req.ID, OK: true})
	})
}

func handleStop(cfg Config) control.HandlerFunc {
	return withName(func(req control.Request, name string, send control.Sender) {
		if err := cfg.Master.StopApp(name); err != nil {
			send(errorResponse(req.ID, err.Error()))
			return
		}
		send(control.Response{ID: req.ID, OK: true})
	})
}

func handleRestart(cfg Config) control.HandlerFunc {
	return withName(func(req control.Request, name string, send control.Sender) {
		if err := cfg.Master.RestartApp(name); err != nil {
			send(errorResponse(req.ID, err.Error()))
			return
		}
		send(control.Response{ID: req.ID, OK: true})
	})
}

func handleDelete(cfg Config) control.HandlerFunc {
	return withName(func(req control.Request, name string, send control.Sender) {
		if err := cfg.Master.DeleteApp(name); err != nil {
			send(errorResponse(req.ID, err.Error()))
			return
		}
		send(control.Response{ID: req.ID, OK: true})
	})
}

// defaultReloadPlan mirrors the fleet file's absence of a per-app reload
// override — one worker at a time, no inter-batch delay, a 10s ready wait.
var defaultReloadPlan = reload.Plan{BatchSize: 1, BatchDelay: 0, ReadyTimeout: 10 * time.Second}

func handleReload(cfg Config) control.HandlerFunc {
	return withName(func(req control.Request, name string, send control.Sender) {
		if err := cfg.Master.ReloadApp(name, defaultReloadPlan); err != nil {
			send(errorResponse(req.ID, err.Error()))
			return
		}
		send(control.Response{ID: req.ID, OK: true})
	})
}

// handleLogs streams the last N lines (args.lines, default 100) of
// <dir>/<name>.stdout.log as a sequence of stream chunks terminated by Done,
// reusing the fleet file's configured log directory (internal/logger.Config.Dir).
// Workers write per-worker files named <app>-<worker id>, so name is a
// worker's log name; there is no combined per-app file.
func handleLogs(cfg Config) control.HandlerFunc {
	return func(req control.Request, send control.Sender) {
		var args struct {
			Name  string `json:"name"`
			Lines int    `json:"lines"`
		}
		if len(req.Args) > 0 {
			_ = json.Unmarshal(req.Args, &args)
		}
		if args.Name == "" {
			send(errorResponse(req.ID, "logs: name is required"))
			return
		}
		if args.Lines <= 0 {
			args.Lines = 100
		}
		path := fmt.Sprintf("%s/%s.stdout.log", cfg.LogDir(), args.Name)
		lines, err := tailLines(path, args.Lines)
		if err != nil {
			send(errorResponse(req.ID, err.Error()))
			return
		}
		for _, l := range lines {
			send(control.Response{ID: req.ID, OK: true, Stream: true, Data: l})
		}
		send(control.Response{ID: req.ID, OK: true, Done: true})
	}
}

func handleKillDaemon(req control.Request, send control.Sender) {
	send(control.Response{ID: req.ID, OK: true})
	control.ScheduleShutdown(func() { os.Exit(0) })
}

func withName(fn func(req control.Request, name string, send control.Sender)) control.HandlerFunc {
	return func(req control.Request, send control.Sender) {
		var args struct {
			Name *string `json:"name"`
		}
		if len(req.Args) == 0 {
			send(errorResponse(req.ID, "missing required field: name"))
			return
		}
		if err := json.Unmarshal(req.Args, &args); err != nil || args.Name == nil || *args.Name == "" {
			send(errorResponse(req.ID, "missing required field: name"))
			return
		}
		fn(req, *args.Name, send)
	}
}

func errorResponse(id, msg string) control.Response {
	return control.Response{ID: id, OK: false, Error: msg}
}
