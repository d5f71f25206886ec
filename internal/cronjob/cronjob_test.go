package cronjob

import (
	"testing"
	"time"

	"github.com/arcflow/fleetd/internal/app"
	"github.com/arcflow/fleetd/internal/master"
	"github.com/arcflow/fleetd/internal/procmanager"
)

func oneShotCronJob(name, script string) app.CronJob {
	return app.CronJob{
		Name:     name,
		Schedule: "@every 100ms",
		App: app.App{
			Name:      name,
			Command:   procmanager.Command{Interpreter: "/bin/sh", Script: "-c", Args: []string{script}},
			Instances: 1,
			Timeouts:  app.Timeouts{Ready: time.Second, Kill: 300 * time.Millisecond, MinUptime: time.Hour},
		},
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestJobRunsToCompletionAndRecordsSuccess(t *testing.T) {
	m := master.New(nil, nil, nil)
	j := New(oneShotCronJob("backup", "exit 0"), m)
	if err := j.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(j.Stop)

	waitFor(t, 3*time.Second, func() bool { return len(j.History()) > 0 })

	hist := j.History()
	if !hist[0].Succeeded {
		t.Fatalf("expected a successful run, got reason %q", hist[0].Reason)
	}
}

func TestJobRecordsFailureOnNonZeroExit(t *testing.T) {
	m := master.New(nil, nil, nil)
	j := New(oneShotCronJob("flaky-report", "exit 3"), m)
	if err := j.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(j.Stop)

	waitFor(t, 3*time.Second, func() bool { return len(j.History()) > 0 })

	hist := j.History()
	if hist[0].Succeeded {
		t.Fatal("expected a failed run")
	}
}

func TestJobDeletesAppAfterCompletion(t *testing.T) {
	m := master.New(nil, nil, nil)
	j := New(oneShotCronJob("cleanup-check", "exit 0"), m)
	if err := j.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(j.Stop)

	waitFor(t, 3*time.Second, func() bool { return len(j.History()) > 0 })
	waitFor(t, time.Second, func() bool {
		_, ok := m.GetAppStatus("cleanup-check")
		return !ok
	})
}

func TestJobSkipsOverlappingTickWhileRunStillActive(t *testing.T) {
	m := master.New(nil, nil, nil)
	j := New(oneShotCronJob("slow-job", "sleep 1"), m)

	// Fire ticks directly, bypassing the cron scheduler, to deterministically
	// exercise the singleton guard without racing a real schedule.
	j.tick()
	if !j.running {
		t.Fatal("expected the first tick to mark the job running")
	}
	j.tick()

	waitFor(t, 3*time.Second, func() bool { return len(j.History()) > 0 })
	if len(j.History()) != 1 {
		t.Fatalf("expected exactly one recorded run, got %d", len(j.History()))
	}
}

func TestStartTwiceReturnsError(t *testing.T) {
	m := master.New(nil, nil, nil)
	j := New(oneShotCronJob("dup-schedule", "exit 0"), m)
	if err := j.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(j.Stop)
	if err := j.Start(); err == nil {
		t.Fatal("expected an error starting an already-scheduled job")
	}
}
