package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/arcflow/fleetd/internal/backoff"
	"github.com/arcflow/fleetd/internal/health"
	"github.com/arcflow/fleetd/internal/logger"
	"github.com/arcflow/fleetd/internal/procmanager"
)

// Config is the top-level decoded fleet file.
type Config struct {
	UseOSEnv bool     `mapstructure:"use_os_env"`
	EnvFiles []string `mapstructure:"env_files"`
	Env      []string `mapstructure:"env"`

	Groups []GroupConfig `mapstructure:"groups"`

	Store   *StoreConfig   `mapstructure:"store"`
	History *HistoryConfig `mapstructure:"history"`
	Metrics *MetricsConfig `mapstructure:"metrics"`
	Log     *LogConfig     `mapstructure:"log"`
	Control *ControlConfig `mapstructure:"control"`
	HTTP    *HTTPConfig    `mapstructure:"http"`

	// Apps is a discriminated union list: {type: "app"|"cron", spec: {...}}.
	Apps []Entry `mapstructure:"apps"`

	// Computed
	GlobalEnv      []string
	ResolvedApps   []App     `mapstructure:"-"`
	CronJobs       []CronJob `mapstructure:"-"`
	ResolvedGroups []Group   `mapstructure:"-"`

	path string
}

type Entry struct {
	Type string         `mapstructure:"type"`
	Spec map[string]any `mapstructure:"spec"`
}

type GroupConfig struct {
	Name    string   `mapstructure:"name"`
	Members []string `mapstructure:"members"`
}

type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

type HistoryConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// DSN selects a sink by scheme (clickhouse://, opensearch://,
	// postgres://, sqlite://, or a bare path) via internal/history/factory.
	// ClickHouseURL/ClickHouseTable remain as a convenience shorthand for
	// the common case and are folded into an equivalent DSN when DSN is
	// unset.
	DSN             string `mapstructure:"dsn"`
	ClickHouseURL   string `mapstructure:"clickhouse_url"`
	ClickHouseTable string `mapstructure:"clickhouse_table"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

type LogConfig struct {
	Dir        string `mapstructure:"dir"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type ControlConfig struct {
	SocketPath string `mapstructure:"socket_path"`
}

type HTTPConfig struct {
	Listen   string `mapstructure:"listen"`
	TLSCert  string `mapstructure:"tls_cert"`
	TLSKey   string `mapstructure:"tls_key"`
	AuthToken string `mapstructure:"auth_token"`
}

// appSpec is the mapstructure decode target for one {type: "app"} entry.
type appSpec struct {
	Name          string   `mapstructure:"name"`
	Interpreter   string   `mapstructure:"interpreter"`
	Script        string   `mapstructure:"script"`
	Args          []string `mapstructure:"args"`
	WorkDir       string   `mapstructure:"work_dir"`
	Env           []string `mapstructure:"env"`
	Instances     string   `mapstructure:"instances"` // integer literal or "max"
	Port          int      `mapstructure:"port"`
	Signal        string   `mapstructure:"signal"` // "graceful" | "interrupt"
	ReadyTimeout  string   `mapstructure:"ready_timeout"`
	KillTimeout   string   `mapstructure:"kill_timeout"`
	MinUptime     string   `mapstructure:"min_uptime"`
	RestartWindow string   `mapstructure:"restart_window"`
	MaxRestarts   int      `mapstructure:"max_restarts"`
	BackoffInitial string  `mapstructure:"backoff_initial"`
	BackoffMult   float64  `mapstructure:"backoff_multiplier"`
	BackoffMax    string   `mapstructure:"backoff_max"`
	Cluster       string   `mapstructure:"cluster"` // "" | "proxy" | "port_reuse"

	Health *healthSpec `mapstructure:"health"`
}

type healthSpec struct {
	Enabled            bool   `mapstructure:"enabled"`
	Path               string `mapstructure:"path"`
	Port               int    `mapstructure:"port"`
	Interval           string `mapstructure:"interval"`
	Timeout            string `mapstructure:"timeout"`
	UnhealthyThreshold int    `mapstructure:"unhealthy_threshold"`
}

// CronJob is a scheduled one-shot app run (SUPPLEMENTED FEATURES).
type CronJob struct {
	Name     string
	Schedule string
	App      App
}

type cronSpec struct {
	Name     string  `mapstructure:"name"`
	Schedule string  `mapstructure:"schedule"`
	App      appSpec `mapstructure:"app"`
}

// LoadConfig reads and decodes the fleet file at path, following the
// teacher's viper + mapstructure pipeline (internal/config.LoadConfig).
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("app: read config: %w", err)
	}

	cfg := &Config{path: path}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("app: unmarshal config: %w", err)
	}

	globalEnv, err := computeGlobalEnv(cfg.UseOSEnv, cfg.EnvFiles, cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("app: compute global env: %w", err)
	}
	cfg.GlobalEnv = globalEnv

	for _, entry := range cfg.Apps {
		switch strings.ToLower(strings.TrimSpace(entry.Type)) {
		case "", "app":
			a, err := decodeApp(entry.Spec, cfg.Log)
			if err != nil {
				return nil, err
			}
			cfg.ResolvedApps = append(cfg.ResolvedApps, a)
		case "cron", "cronjob":
			job, err := decodeCronJob(entry.Spec, cfg.Log)
			if err != nil {
				return nil, err
			}
			cfg.CronJobs = append(cfg.CronJobs, job)
		default:
			return nil, fmt.Errorf("app: unknown entry type %q (allowed: app, cron)", entry.Type)
		}
	}

	groups, err := BuildGroups(cfg.Groups, cfg.ResolvedApps)
	if err != nil {
		return nil, err
	}
	cfg.ResolvedGroups = groups

	return cfg, nil
}

func decodeMap[T any](m map[string]any) (T, error) {
	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		Result:           &out,
	})
	if err != nil {
		return out, err
	}
	if err := dec.Decode(m); err != nil {
		return out, err
	}
	return out, nil
}

func decodeApp(m map[string]any, logCfg *LogConfig) (App, error) {
	spec, err := decodeMap[appSpec](m)
	if err != nil {
		return App{}, fmt.Errorf("app: decode app spec: %w", err)
	}
	if strings.TrimSpace(spec.Name) == "" {
		return App{}, fmt.Errorf("app: an app entry requires a name")
	}
	return buildApp(spec, logCfg)
}

func decodeCronJob(m map[string]any, logCfg *LogConfig) (CronJob, error) {
	spec, err := decodeMap[cronSpec](m)
	if err != nil {
		return CronJob{}, fmt.Errorf("app: decode cronjob spec: %w", err)
	}
	if strings.TrimSpace(spec.Name) == "" {
		return CronJob{}, fmt.Errorf("app: a cronjob entry requires a name")
	}
	if strings.TrimSpace(spec.Schedule) == "" {
		return CronJob{}, fmt.Errorf("app: cronjob %q requires a schedule", spec.Name)
	}
	if strings.TrimSpace(spec.App.Name) == "" {
		spec.App.Name = spec.Name
	}
	a, err := buildApp(spec.App, logCfg)
	if err != nil {
		return CronJob{}, err
	}
	return CronJob{Name: spec.Name, Schedule: spec.Schedule, App: a}, nil
}

func buildApp(spec appSpec, logCfg *LogConfig) (App, error) {
	if strings.TrimSpace(spec.Script) == "" && len(spec.Args) == 0 {
		return App{}, fmt.Errorf("app: %q requires a script or args", spec.Name)
	}

	instances, raw, err := parseInstances(spec.Instances)
	if err != nil {
		return App{}, fmt.Errorf("app: %q: %w", spec.Name, err)
	}

	a := App{
		Name:    spec.Name,
		Command: procmanager.Command{Interpreter: spec.Interpreter, Script: spec.Script, Args: spec.Args},
		WorkDir: spec.WorkDir,
		Env:     spec.Env,
		Instances: instances,
		RawInstances: raw,
		PublicPort: spec.Port,
		Signal:     parseSignal(spec.Signal),
		Timeouts: Timeouts{
			Ready:     parseDurationOr(spec.ReadyTimeout, 10*time.Second),
			Kill:      parseDurationOr(spec.KillTimeout, 10*time.Second),
			MinUptime: parseDurationOr(spec.MinUptime, 5*time.Second),
		},
		Restart: backoff.Policy{
			Window:      parseDurationOr(spec.RestartWindow, time.Minute),
			MaxRestarts: spec.MaxRestarts,
			Curve: backoff.Curve{
				Initial:    parseDurationOr(spec.BackoffInitial, time.Second),
				Multiplier: orDefault(spec.BackoffMult, 2),
				Max:        parseDurationOr(spec.BackoffMax, 30*time.Second),
			},
		},
		Cluster: ClusterStrategy(spec.Cluster),
	}

	_ = logCfg // per-app log dir defaults are applied by internal/logger at spawn time

	if spec.Health != nil && spec.Health.Enabled {
		a.Health = &health.Config{
			Enabled:            true,
			Path:               spec.Health.Path,
			Port:               spec.Health.Port,
			PortReuse:          a.Cluster == ClusterPortReuse,
			ReusePort:          a.PublicPort,
			Interval:           parseDurationOr(spec.Health.Interval, 10*time.Second),
			Timeout:            parseDurationOr(spec.Health.Timeout, 2*time.Second),
			UnhealthyThreshold: spec.Health.UnhealthyThreshold,
		}
	}

	return a, nil
}

func parseInstances(s string) (int, string, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "1" {
		return 1, s, nil
	}
	if strings.EqualFold(s, "max") {
		return 0, s, nil // 0 signals "resolve at start time" (App.ResolveInstances)
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, s, fmt.Errorf("invalid instances %q: must be a positive integer or \"max\"", s)
	}
	return n, s, nil
}

func parseSignal(s string) procmanager.Signal {
	if strings.EqualFold(strings.TrimSpace(s), "interrupt") {
		return procmanager.SignalInterrupt
	}
	return procmanager.SignalGraceful
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

func orDefault(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}

// ResolveDSN returns the sink DSN to pass to internal/history/factory,
// folding the ClickHouse shorthand fields into an equivalent DSN string
// when DSN itself is unset.
func (h *HistoryConfig) ResolveDSN() string {
	if h.DSN != "" {
		return h.DSN
	}
	if h.ClickHouseURL != "" {
		table := h.ClickHouseTable
		if table == "" {
			table = "process_history"
		}
		return fmt.Sprintf("clickhouse://%s?table=%s", strings.TrimPrefix(h.ClickHouseURL, "clickhouse://"), table)
	}
	return ""
}

// LoggerConfig returns the logging config to use for a given app's per-
// worker log sinks, applying the fleet file's global defaults.
func (c *Config) LoggerConfig(appName string) logger.Config {
	if c.Log == nil {
		return logger.Config{}
	}
	return logger.Config{
		Dir:        c.Log.Dir,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
		Compress:   c.Log.Compress,
	}
}
