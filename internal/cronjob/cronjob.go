package cronjob

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/arcflow/fleetd/internal/app"
	"github.com/arcflow/fleetd/internal/master"
	"github.com/arcflow/fleetd/internal/metrics"
	"github.com/arcflow/fleetd/internal/wstate"
)

// Job schedules a one-shot app run on a crontab (SUPPLEMENTED FEATURES
// "Scheduled one-shot app runs"): the master runs spec.App to completion on
// each tick, skipping overlapping ticks, and the run is recorded through
// the same history sinks as ordinary worker lifecycle events since it goes
// through master.StartApp/DeleteApp like any other app.
type Job struct {
	mu        sync.Mutex
	cfg       app.CronJob
	master    *master.Master
	scheduler *cron.Cron
	entryID   cron.EntryID
	scheduled bool
	running   bool

	lastSchedule *time.Time
	lastSuccess  *time.Time
	history      []Run
}

// New builds a Job. The scheduler runs in the server's local time zone;
// robfig/cron/v3 accepts both standard crontab expressions and the
// teacher's "@every <duration>" shorthand.
func New(cfg app.CronJob, m *master.Master) *Job {
	return &Job{
		cfg:       cfg,
		master:    m,
		scheduler: cron.New(),
	}
}

// Start registers the schedule with the cron engine. A Job may be started
// only once; call Stop before discarding it.
func (j *Job) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.scheduled {
		return fmt.Errorf("cronjob %q already scheduled", j.cfg.Name)
	}
	id, err := j.scheduler.AddFunc(j.cfg.Schedule, j.tick)
	if err != nil {
		return fmt.Errorf("cronjob %q: schedule %q: %w", j.cfg.Name, j.cfg.Schedule, err)
	}
	j.entryID = id
	j.scheduled = true
	j.scheduler.Start()
	metrics.IncCronJobActive()
	j.updateNextScheduleMetricLocked()
	slog.Info("cronjob scheduled", "job", j.cfg.Name, "schedule", j.cfg.Schedule)
	return nil
}

// Stop halts the schedule. Any run already in flight is left to finish;
// it cleans itself up via master.DeleteApp when it completes.
func (j *Job) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.scheduled {
		return
	}
	j.scheduler.Stop()
	j.scheduled = false
	metrics.DecCronJobActive()
	slog.Info("cronjob stopped", "job", j.cfg.Name)
}

// tick fires on every schedule match. Per the singleton semantics the
// schedule feature calls for, a tick that finds the previous run still
// active is skipped rather than queued or run concurrently.
func (j *Job) tick() {
	j.mu.Lock()
	now := time.Now()
	j.lastSchedule = &now
	metrics.SetCronJobLastSchedule(j.cfg.Name, float64(now.Unix()))

	if j.running {
		j.mu.Unlock()
		slog.Info("cronjob tick skipped, previous run still active", "job", j.cfg.Name)
		metrics.IncCronJobSkipped(j.cfg.Name)
		return
	}
	j.running = true
	j.updateNextScheduleMetricLocked()
	j.mu.Unlock()

	go j.run(now)
}

// run executes one scheduled tick to completion through the master, the
// same path an explicit `startApp` would take, so it picks up the same
// bookkeeping and history sink wiring.
func (j *Job) run(scheduledAt time.Time) {
	cfg := j.cfg.App
	cfg.Instances = 1
	// A scheduled run must settle once its command exits rather than being
	// relaunched by ordinary crash recovery (backoff.Policy's negative
	// MaxRestarts convention).
	cfg.Restart.MaxRestarts = -1

	started := time.Now()
	outcome := Run{StartedAt: started}

	if err := j.master.StartApp(cfg); err != nil {
		outcome.FinishedAt = time.Now()
		outcome.Reason = err.Error()
		j.finish(outcome)
		metrics.IncCronJobTotal(j.cfg.Name, "failed")
		return
	}

	succeeded, reason := j.waitForCompletion(cfg.Name)
	if err := j.master.DeleteApp(cfg.Name); err != nil {
		slog.Warn("cronjob cleanup failed", "job", j.cfg.Name, "error", err)
	}

	outcome.FinishedAt = time.Now()
	outcome.Succeeded = succeeded
	outcome.Reason = reason
	j.finish(outcome)

	status := "succeeded"
	if !outcome.Succeeded {
		status = "failed"
	}
	metrics.IncCronJobTotal(j.cfg.Name, status)
	metrics.ObserveCronJobDuration(j.cfg.Name, status, outcome.FinishedAt.Sub(started).Seconds())
}

// waitForCompletion polls GetAppStatus until the run's single worker
// settles (a one-shot app never restarts, so the only terminal states are
// "stopped" or "errored"). Success is judged by the worker's exit code
// rather than by which of those two labels the master settled on, since
// any exit of a one-shot command currently routes through crash recovery
// regardless of its exit code.
func (j *Job) waitForCompletion(name string) (bool, string) {
	const poll = 200 * time.Millisecond
	for {
		st, ok := j.master.GetAppStatus(name)
		if !ok || len(st.Workers) == 0 {
			return true, "completed"
		}
		w := st.Workers[0]
		if w.State == wstate.Stopped || w.State == wstate.Errored {
			if w.ExitCode == 0 && w.ExitSignal == "" {
				return true, "completed"
			}
			return false, fmt.Sprintf("exit code %d signal %q", w.ExitCode, w.ExitSignal)
		}
		time.Sleep(poll)
	}
}

func (j *Job) finish(r Run) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.running = false
	if r.Succeeded {
		t := r.FinishedAt
		j.lastSuccess = &t
	}
	j.history = append(j.history, r)
	if len(j.history) > historyLimit {
		j.history = j.history[len(j.history)-historyLimit:]
	}
	slog.Info("cronjob run finished", "job", j.cfg.Name, "succeeded", r.Succeeded, "reason", r.Reason)
}

func (j *Job) updateNextScheduleMetricLocked() {
	for _, e := range j.scheduler.Entries() {
		if e.ID == j.entryID {
			metrics.SetCronJobNextSchedule(j.cfg.Name, float64(e.Next.Unix()))
			return
		}
	}
}

// NextSchedule returns the next time the job is due to run, or the zero
// time if it isn't currently scheduled.
func (j *Job) NextSchedule() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.scheduled {
		return time.Time{}
	}
	for _, e := range j.scheduler.Entries() {
		if e.ID == j.entryID {
			return e.Next
		}
	}
	return time.Time{}
}

// History returns a copy of the most recent completed runs.
func (j *Job) History() []Run {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Run, len(j.history))
	copy(out, j.history)
	return out
}

// Status answers a `status` query for this scheduled app.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	var next *time.Time
	if j.scheduled {
		for _, e := range j.scheduler.Entries() {
			if e.ID == j.entryID {
				n := e.Next
				next = &n
			}
		}
	}
	return Status{
		Name:               j.cfg.Name,
		Schedule:           j.cfg.Schedule,
		Scheduled:          j.scheduled,
		Running:            j.running,
		LastScheduleTime:   j.lastSchedule,
		LastSuccessfulTime: j.lastSuccess,
		NextScheduleTime:   next,
	}
}
