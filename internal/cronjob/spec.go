package cronjob

import "time"

// historyLimit bounds how many completed runs, successful and failed
// together, a Job keeps in memory for History. Durable history lives in the history sinks
// (internal/history); this is only the in-process tail used for status
// reporting.
const historyLimit = 10

// Run records the outcome of one scheduled tick.
type Run struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Succeeded  bool
	Reason     string
}

// Status answers the `status` control command for a scheduled app.
type Status struct {
	Name               string
	Schedule           string
	Scheduled          bool
	Running            bool
	LastScheduleTime   *time.Time
	LastSuccessfulTime *time.Time
	NextScheduleTime   *time.Time
}
