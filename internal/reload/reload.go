// Package reload implements batched, zero-downtime rolling replacement
// of an app's workers.
package reload

import "time"

// Worker is the minimal view ReloadHandler needs of a worker record —
// satisfied by *internal/worker.Record without this package importing it,
// keeping ReloadHandler independently testable.
type Worker interface {
	IsOnline() bool
}

// SpawnAndTrack allocates the next worker id, spawns a replacement, and
// returns its tracked record. Supplied by the caller (internal/master).
type SpawnAndTrack func() Worker

// DrainAndStop retires one old worker. Supplied by the caller.
type DrainAndStop func(old Worker)

// Plan is the batching configuration.
type Plan struct {
	BatchSize    int
	BatchDelay   time.Duration
	ReadyTimeout time.Duration
}

func (p Plan) batchSize() int {
	if p.BatchSize <= 0 {
		return 1
	}
	return p.BatchSize
}

const pollInterval = 100 * time.Millisecond

// Run executes the reload algorithm against current (the pre-reload worker
// snapshot), in order, batch by batch. It blocks until every batch has been
// replaced and drained.
func Run(current []Worker, plan Plan, spawnAndTrack SpawnAndTrack, drainAndStop DrainAndStop) {
	batches := partition(current, plan.batchSize())

	for i, batch := range batches {
		replacements := make([]Worker, 0, len(batch))
		for range batch {
			replacements = append(replacements, spawnAndTrack())
		}

		waitUntilOnlineOrTimeout(replacements, plan.ReadyTimeout)

		drainBatch(batch, drainAndStop)

		if i != len(batches)-1 && plan.BatchDelay > 0 {
			time.Sleep(plan.BatchDelay)
		}
	}
}

func partition(workers []Worker, size int) [][]Worker {
	var batches [][]Worker
	for i := 0; i < len(workers); i += size {
		end := i + size
		if end > len(workers) {
			end = len(workers)
		}
		batches = append(batches, workers[i:end])
	}
	return batches
}

// waitUntilOnlineOrTimeout polls at 100ms until every replacement is
// online, or readyTimeout elapses. A timeout is not an error — the caller
// proceeds to drain the old batch anyway, to avoid a hung reload when a
// worker never signals ready.
func waitUntilOnlineOrTimeout(replacements []Worker, readyTimeout time.Duration) {
	if len(replacements) == 0 {
		return
	}
	deadline := time.Now().Add(readyTimeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if allOnline(replacements) {
			return
		}
		if time.Now().After(deadline) {
			return
		}
		<-ticker.C
	}
}

func allOnline(workers []Worker) bool {
	for _, w := range workers {
		if !w.IsOnline() {
			return false
		}
	}
	return true
}

func drainBatch(batch []Worker, drainAndStop DrainAndStop) {
	done := make(chan struct{}, len(batch))
	for _, old := range batch {
		go func(w Worker) {
			drainAndStop(w)
			done <- struct{}{}
		}(old)
	}
	for range batch {
		<-done
	}
}
