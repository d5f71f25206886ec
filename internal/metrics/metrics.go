// Package metrics exports per-app/per-worker Prometheus counters and gauges
// (DOMAIN STACK: starts, restarts, crashes, give-ups, reload batches, proxy
// bytes transferred) plus the /metrics HTTP handler for the optional
// read-only surface (internal/httpapi).
package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	regOK atomic.Bool

	workerStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetd",
			Subsystem: "worker",
			Name:      "starts_total",
			Help:      "Number of worker spawns, including restarts.",
		}, []string{"app"},
	)
	workerRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetd",
			Subsystem: "worker",
			Name:      "restarts_total",
			Help:      "Number of crash-recovery restarts.",
		}, []string{"app"},
	)
	workerCrashes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetd",
			Subsystem: "worker",
			Name:      "crashes_total",
			Help:      "Number of unexpected worker exits.",
		}, []string{"app"},
	)
	workerGiveUps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetd",
			Subsystem: "worker",
			Name:      "giveups_total",
			Help:      "Number of times crash recovery exhausted its restart budget.",
		}, []string{"app"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetd",
			Subsystem: "worker",
			Name:      "state_transitions_total",
			Help:      "Number of lifecycle transitions between worker states.",
		}, []string{"app", "from", "to"},
	)
	runningWorkers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "fleetd",
			Subsystem: "app",
			Name:      "running_workers",
			Help:      "Current online worker count per app.",
		}, []string{"app"},
	)
	reloadBatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetd",
			Subsystem: "app",
			Name:      "reload_batches_total",
			Help:      "Number of old workers drained by rolling reloads, one per reload-batch member.",
		}, []string{"app"},
	)
	proxyBytesTransferred = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetd",
			Subsystem: "proxy",
			Name:      "bytes_total",
			Help:      "Bytes copied through an app's ProxyCluster, by direction.",
		}, []string{"app", "direction"},
	)
	cronJobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetd",
			Subsystem: "cronjob",
			Name:      "runs_total",
			Help:      "Number of scheduled one-shot app runs, by outcome.",
		}, []string{"job", "outcome"},
	)
	cronJobSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetd",
			Subsystem: "cronjob",
			Name:      "skipped_total",
			Help:      "Number of ticks skipped because the previous run was still active.",
		}, []string{"job"},
	)
	cronJobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fleetd",
			Subsystem: "cronjob",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of a scheduled app run, by outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job", "outcome"},
	)
	cronJobNextSchedule = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "fleetd",
			Subsystem: "cronjob",
			Name:      "next_schedule_timestamp_seconds",
			Help:      "Unix timestamp of the next scheduled tick.",
		}, []string{"job"},
	)
	cronJobLastSchedule = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "fleetd",
			Subsystem: "cronjob",
			Name:      "last_schedule_timestamp_seconds",
			Help:      "Unix timestamp of the most recent tick.",
		}, []string{"job"},
	)
	cronJobActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fleetd",
			Subsystem: "cronjob",
			Name:      "active",
			Help:      "Number of cronjobs currently registered with the scheduler.",
		},
	)
)

// Register registers every collector with r. Safe to call more than once;
// a second successful call is a no-op.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		workerStarts, workerRestarts, workerCrashes, workerGiveUps,
		stateTransitions, runningWorkers, reloadBatches, proxyBytesTransferred,
		cronJobRuns, cronJobSkipped, cronJobDuration, cronJobNextSchedule, cronJobLastSchedule, cronJobActive,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves Prometheus metrics for the default gatherer. The caller
// wires this onto an HTTP route (internal/httpapi's /metrics).
func Handler() http.Handler { return promhttp.Handler() }

func IncWorkerStart(app string) {
	if regOK.Load() {
		workerStarts.WithLabelValues(app).Inc()
	}
}

func IncWorkerRestart(app string) {
	if regOK.Load() {
		workerRestarts.WithLabelValues(app).Inc()
	}
}

func IncWorkerCrash(app string) {
	if regOK.Load() {
		workerCrashes.WithLabelValues(app).Inc()
	}
}

func IncWorkerGiveUp(app string) {
	if regOK.Load() {
		workerGiveUps.WithLabelValues(app).Inc()
	}
}

func RecordStateTransition(app, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(app, from, to).Inc()
	}
}

func SetRunningWorkers(app string, n int) {
	if regOK.Load() {
		runningWorkers.WithLabelValues(app).Set(float64(n))
	}
}

func IncReloadBatch(app string) {
	if regOK.Load() {
		reloadBatches.WithLabelValues(app).Inc()
	}
}

func AddProxyBytes(app, direction string, n int64) {
	if regOK.Load() {
		proxyBytesTransferred.WithLabelValues(app, direction).Add(float64(n))
	}
}

func IncCronJobTotal(job, outcome string) {
	if regOK.Load() {
		cronJobRuns.WithLabelValues(job, outcome).Inc()
	}
}

func IncCronJobSkipped(job string) {
	if regOK.Load() {
		cronJobSkipped.WithLabelValues(job).Inc()
	}
}

func ObserveCronJobDuration(job, outcome string, seconds float64) {
	if regOK.Load() {
		cronJobDuration.WithLabelValues(job, outcome).Observe(seconds)
	}
}

func SetCronJobNextSchedule(job string, unixSeconds float64) {
	if regOK.Load() {
		cronJobNextSchedule.WithLabelValues(job).Set(unixSeconds)
	}
}

func SetCronJobLastSchedule(job string, unixSeconds float64) {
	if regOK.Load() {
		cronJobLastSchedule.WithLabelValues(job).Set(unixSeconds)
	}
}

func IncCronJobActive() {
	if regOK.Load() {
		cronJobActive.Inc()
	}
}

func DecCronJobActive() {
	if regOK.Load() {
		cronJobActive.Dec()
	}
}
