package clickhouse

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/arcflow/fleetd/internal/history"
	"github.com/arcflow/fleetd/internal/store"
)

// TestClickHouseSinkLifecycle exercises Sink against a live server named by
// FLEETD_TEST_CLICKHOUSE_DSN. It is skipped when unset since no database
// fixture ships with this module.
func TestClickHouseSinkLifecycle(t *testing.T) {
	dsn := os.Getenv("FLEETD_TEST_CLICKHOUSE_DSN")
	if dsn == "" {
		t.Skip("FLEETD_TEST_CLICKHOUSE_DSN not set")
	}

	const table = "process_history"
	sink, err := New(dsn, table)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = sink.Close() })

	ctx := context.Background()
	if err := sink.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+table+` (
			type String,
			occurred_at DateTime64(6),
			record_name String,
			record_pid UInt32,
			record_started_at DateTime64(6),
			record_stopped_at Nullable(DateTime64(6)),
			record_running Bool,
			record_exit_err Nullable(String),
			record_uniq String
		) ENGINE = MergeTree()
		ORDER BY (occurred_at, record_uniq)`); err != nil {
		t.Fatalf("create table: %v", err)
	}

	rec := store.Record{
		Name:      "test-process",
		PID:       12345,
		StartedAt: time.Now().Add(-time.Minute).UTC(),
		Running:   true,
		Uniq:      "test-unique-key",
	}
	if err := sink.Send(ctx, history.Event{Type: history.EventStart, OccurredAt: time.Now().UTC(), Record: rec}); err != nil {
		t.Fatalf("send start: %v", err)
	}

	rec.Running = false
	rec.StoppedAt.Time = time.Now().UTC()
	rec.StoppedAt.Valid = true
	if err := sink.Send(ctx, history.Event{Type: history.EventStop, OccurredAt: time.Now().UTC(), Record: rec}); err != nil {
		t.Fatalf("send stop: %v", err)
	}

	row := sink.conn.QueryRow(ctx, "SELECT COUNT(*) FROM "+table+" WHERE record_uniq = ?", rec.Uniq)
	var count uint64
	if err := row.Scan(&count); err != nil {
		t.Fatalf("query count: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 events, got %d", count)
	}
}

func TestClickHouseSinkConnectionError(t *testing.T) {
	if _, err := New("invalid-host:9000", "test_table"); err == nil {
		t.Error("expected error with invalid connection, got nil")
	}
}
