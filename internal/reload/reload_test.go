package reload

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeWorker struct {
	id     int
	online atomic.Bool
}

func (w *fakeWorker) IsOnline() bool { return w.online.Load() }

func TestRunReplacesInBatchesAndDrainsOldWorkers(t *testing.T) {
	old := []Worker{&fakeWorker{id: 1}, &fakeWorker{id: 2}, &fakeWorker{id: 3}, &fakeWorker{id: 4}}
	for _, w := range old {
		w.(*fakeWorker).online.Store(true)
	}

	var mu sync.Mutex
	var spawned []*fakeWorker
	var drained []int
	nextID := 100

	spawnAndTrack := func() Worker {
		mu.Lock()
		nextID++
		w := &fakeWorker{id: nextID}
		mu.Unlock()
		go func() {
			time.Sleep(10 * time.Millisecond)
			w.online.Store(true)
		}()
		mu.Lock()
		spawned = append(spawned, w)
		mu.Unlock()
		return w
	}
	drainAndStop := func(w Worker) {
		fw := w.(*fakeWorker)
		mu.Lock()
		drained = append(drained, fw.id)
		mu.Unlock()
	}

	Run(old, Plan{BatchSize: 2, ReadyTimeout: time.Second}, spawnAndTrack, drainAndStop)

	if len(spawned) != 4 {
		t.Fatalf("expected 4 replacements spawned, got %d", len(spawned))
	}
	if len(drained) != 4 {
		t.Fatalf("expected all 4 old workers drained, got %d", len(drained))
	}
	for _, w := range spawned {
		if !w.IsOnline() {
			t.Fatalf("replacement %d never reached online", w.id)
		}
	}
}

func TestRunProceedsPastReadyTimeoutWithoutError(t *testing.T) {
	old := []Worker{&fakeWorker{id: 1}}
	old[0].(*fakeWorker).online.Store(true)

	drained := make(chan int, 1)
	spawnAndTrack := func() Worker {
		return &fakeWorker{id: 2} // never becomes online
	}
	drainAndStop := func(w Worker) {
		drained <- w.(*fakeWorker).id
	}

	start := time.Now()
	Run(old, Plan{BatchSize: 1, ReadyTimeout: 50 * time.Millisecond}, spawnAndTrack, drainAndStop)
	elapsed := time.Since(start)

	if elapsed > 500*time.Millisecond {
		t.Fatalf("expected reload to proceed promptly past the timeout, took %v", elapsed)
	}
	select {
	case id := <-drained:
		if id != 1 {
			t.Fatalf("expected old worker 1 drained, got %d", id)
		}
	default:
		t.Fatal("expected drain to proceed despite the replacement never becoming ready")
	}
}

func TestRunDefaultBatchSizeIsOne(t *testing.T) {
	old := []Worker{&fakeWorker{id: 1}, &fakeWorker{id: 2}}
	for _, w := range old {
		w.(*fakeWorker).online.Store(true)
	}

	var batchSizes []int
	spawnAndTrack := func() Worker {
		return &fakeWorker{id: 99, online: atomic.Bool{}}
	}
	var mu sync.Mutex
	inFlight := 0
	drainAndStop := func(w Worker) {
		mu.Lock()
		batchSizes = append(batchSizes, inFlight)
		inFlight--
		mu.Unlock()
	}

	Run(old, Plan{ReadyTimeout: 10 * time.Millisecond}, func() Worker {
		w := spawnAndTrack().(*fakeWorker)
		w.online.Store(true)
		mu.Lock()
		inFlight++
		mu.Unlock()
		return w
	}, drainAndStop)

	if len(batchSizes) != 2 {
		t.Fatalf("expected 2 drains total with default batch size 1, got %v", batchSizes)
	}
	for _, n := range batchSizes {
		if n != 1 {
			t.Fatalf("expected each drain to follow exactly one spawn with default batch size 1, got %v", batchSizes)
		}
	}
}
