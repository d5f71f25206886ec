package history

import (
	"context"
	"database/sql"
	"time"

	"github.com/arcflow/fleetd/internal/store"
)

// SinkStore wraps a store.Store and forwards every RecordStart/RecordStop
// call as an Event to a Sink, so every worker spawn and exit, a scheduled
// app run's (internal/cronjob) included, is recorded through the same
// history sinks without internal/master having to know sinks exist.
type SinkStore struct {
	store.Store
	sink Sink
}

// NewSinkStore returns a store.Store that mirrors every write to sink in
// addition to delegating to inner. A Sink error is swallowed (best-effort,
// analytics-only) rather than failing the underlying bookkeeping write.
func NewSinkStore(inner store.Store, sink Sink) *SinkStore {
	return &SinkStore{Store: inner, sink: sink}
}

func (s *SinkStore) RecordStart(ctx context.Context, rec store.Record) error {
	err := s.Store.RecordStart(ctx, rec)
	s.send(ctx, EventStart, rec)
	return err
}

func (s *SinkStore) RecordStop(ctx context.Context, uniq string, stoppedAt time.Time, exitErr error) error {
	err := s.Store.RecordStop(ctx, uniq, stoppedAt, exitErr)
	s.send(ctx, EventStop, store.Record{Uniq: uniq, StoppedAt: sql.NullTime{Time: stoppedAt, Valid: true}})
	return err
}

func (s *SinkStore) send(ctx context.Context, t EventType, rec store.Record) {
	_ = s.sink.Send(ctx, Event{Type: t, OccurredAt: time.Now(), Record: rec})
}
