// Command fleetd is the long-running supervisor daemon: it loads a fleet
// file, starts every declared app and scheduled cronjob, and exposes the
// control plane and an optional read-only HTTP mirror.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/arcflow/fleetd/internal/app"
	"github.com/arcflow/fleetd/internal/control"
	"github.com/arcflow/fleetd/internal/controlapi"
	"github.com/arcflow/fleetd/internal/cronjob"
	"github.com/arcflow/fleetd/internal/history"
	historyfactory "github.com/arcflow/fleetd/internal/history/factory"
	"github.com/arcflow/fleetd/internal/httpapi"
	"github.com/arcflow/fleetd/internal/logger"
	"github.com/arcflow/fleetd/internal/master"
	"github.com/arcflow/fleetd/internal/metrics"
	"github.com/arcflow/fleetd/internal/store"
	storefactory "github.com/arcflow/fleetd/internal/store/factory"
)

func newLogger() *slog.Logger {
	var handler slog.Handler
	if isatty.IsTerminal(os.Stdout.Fd()) {
		handler = logger.NewColorTextHandler(os.Stdout, nil, true)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, nil)
	}
	return slog.New(handler)
}

func defaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir + "/fleetd.sock"
	}
	return "/tmp/fleetd.sock"
}

func main() {
	configPath := flag.String("config", "fleet.yaml", "path to the fleet file")
	flag.Parse()

	lg := newLogger()

	cfg, err := app.LoadConfig(*configPath)
	if err != nil {
		lg.Error("load config", "error", err)
		os.Exit(1)
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		lg.Error("register metrics", "error", err)
		os.Exit(1)
	}

	m := master.New(cfg.GlobalEnv, cfg.LoggerConfig, lg)

	if err := setupStore(cfg, m, lg); err != nil {
		lg.Error("setup store", "error", err)
		os.Exit(1)
	}

	for _, a := range cfg.ResolvedApps {
		if err := m.StartApp(a); err != nil {
			lg.Error("start app", "app", a.Name, "error", err)
		}
	}

	cj := cronjob.NewManager(m)
	if err := cj.LoadAll(cfg.CronJobs); err != nil {
		lg.Error("load cronjobs", "error", err)
		os.Exit(1)
	}
	m.RegisterShutdownHook(func() error { cj.StopAll(); return nil })

	socketPath := defaultSocketPath()
	if cfg.Control != nil && cfg.Control.SocketPath != "" {
		socketPath = cfg.Control.SocketPath
	}
	srv := control.NewServer(socketPath, lg)
	controlapi.Register(srv, controlapi.Config{
		Master:   m,
		CronJobs: cj,
		Cfg:      cfg,
		LogDir:   func() string { return cfg.LoggerConfig("").Dir },
	})
	if err := srv.Listen(); err != nil {
		lg.Error("listen on control socket", "socket", socketPath, "error", err)
		os.Exit(1)
	}
	m.RegisterShutdownHook(func() error { return srv.Close() })

	var metricsServer *http.Server
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		metricsServer = &http.Server{Addr: cfg.Metrics.Listen, Handler: metrics.Handler()}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				lg.Error("metrics server", "error", err)
			}
		}()
		m.RegisterShutdownHook(func() error { return metricsServer.Close() })
	}

	if cfg.HTTP != nil && cfg.HTTP.Listen != "" {
		httpSrv, err := httpapi.NewServer(*cfg.HTTP, m, func() string { return cfg.LoggerConfig("").Dir })
		if err != nil {
			lg.Error("start http mirror", "error", err)
			os.Exit(1)
		}
		m.RegisterShutdownHook(func() error { return httpSrv.Close() })
	}

	watcher, err := app.NewWatcher(*configPath, func() error {
		lg.Info("fleet file changed; app definitions are only read at startup, restart fleetd to apply the changes")
		return nil
	}, lg, time.Second)
	if err != nil {
		lg.Warn("fleet file watch disabled", "error", err)
	} else {
		watchCtx, cancelWatch := context.WithCancel(context.Background())
		if err := watcher.Start(watchCtx); err != nil {
			lg.Warn("fleet file watch disabled", "error", err)
			cancelWatch()
		} else {
			m.RegisterShutdownHook(func() error {
				cancelWatch()
				return watcher.Stop()
			})
		}
	}

	lg.Info("fleetd started", "config", *configPath, "socket", socketPath, "apps", len(cfg.ResolvedApps), "cronjobs", len(cfg.CronJobs))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	lg.Info("fleetd shutting down")
	m.Shutdown()
	fmt.Fprintln(os.Stderr, "fleetd: shutdown complete")
}

func setupStore(cfg *app.Config, m *master.Master, lg *slog.Logger) error {
	if cfg.Store == nil || !cfg.Store.Enabled {
		return nil
	}
	var s store.Store
	s, err := storefactory.NewFromDSN(cfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if cfg.History != nil && cfg.History.Enabled {
		dsn := cfg.History.ResolveDSN()
		if dsn != "" {
			sink, err := historyfactory.NewSinkFromDSN(dsn)
			if err != nil {
				return fmt.Errorf("open history sink: %w", err)
			}
			s = history.NewSinkStore(s, sink)
			lg.Info("history sink enabled", "dsn", dsn)
		}
	}
	m.SetBookkeepingStore(s)
	m.RegisterShutdownHook(s.Close)
	return nil
}
