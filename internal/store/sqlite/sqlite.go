package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/arcflow/fleetd/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// DSN is a filesystem path to the SQLite database file. Use ":memory:" for
// in-memory.
type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// For in-memory databases, ensure a single underlying connection so the
	// schema and data are visible across all operations. With multiple
	// connections, each would get its own isolated :memory: DB.
	if p == ":memory:" {
		d.SetMaxOpenConns(1)
	}
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmt := `CREATE TABLE IF NOT EXISTS process_history(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		pid INTEGER NOT NULL,
		started_at TIMESTAMP NOT NULL,
		stopped_at TIMESTAMP,
		running INTEGER NOT NULL,
		exit_err TEXT,
		uniq TEXT NOT NULL UNIQUE,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_process_history_name ON process_history(name);`
	_, err := s.db.ExecContext(ctx, stmt)
	return err
}

func (s *DB) Close() error { return s.db.Close() }

// RecordStart inserts a new row for rec's Key(), tolerating a duplicate call
// for the same Uniq.
func (s *DB) RecordStart(ctx context.Context, rec store.Record) error {
	if strings.TrimSpace(rec.Name) == "" {
		return errors.New("empty name")
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO process_history(name, pid, started_at, running, uniq, updated_at)
		VALUES(?, ?, ?, 1, ?, ?)
		ON CONFLICT(uniq) DO NOTHING;`,
		rec.Name, rec.PID, rec.StartedAt.UTC(), rec.Key(), now)
	return err
}

// RecordStop marks the row identified by uniq as stopped.
func (s *DB) RecordStop(ctx context.Context, uniq string, stoppedAt time.Time, exitErr error) error {
	var errStr sql.NullString
	if exitErr != nil {
		errStr = sql.NullString{String: exitErr.Error(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE process_history SET running=0, stopped_at=?, exit_err=?, updated_at=?
		WHERE uniq=?;`,
		stoppedAt.UTC(), errStr, time.Now().UTC(), uniq)
	return err
}

// UpsertStatus inserts or refreshes the row for rec.Key(), used for periodic
// status refreshes independent of the start/stop lifecycle.
func (s *DB) UpsertStatus(ctx context.Context, rec store.Record) error {
	if strings.TrimSpace(rec.Name) == "" {
		return errors.New("empty name")
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO process_history(name, pid, started_at, stopped_at, running, exit_err, uniq, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uniq) DO UPDATE SET
			pid=excluded.pid,
			started_at=excluded.started_at,
			stopped_at=excluded.stopped_at,
			running=excluded.running,
			exit_err=excluded.exit_err,
			updated_at=excluded.updated_at;`,
		rec.Name, rec.PID, rec.StartedAt.UTC(), rec.StoppedAt, rec.Running, rec.ExitErr, rec.Key(), now)
	return err
}

// GetByName returns up to limit rows for name, most recently updated first.
func (s *DB) GetByName(ctx context.Context, name string, limit int) ([]store.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, pid, started_at, stopped_at, running, exit_err, uniq, updated_at
		FROM process_history WHERE name=? ORDER BY updated_at DESC LIMIT ?;`, name, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// GetRunning returns every row currently marked running whose name starts
// with namePrefix.
func (s *DB) GetRunning(ctx context.Context, namePrefix string) ([]store.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, pid, started_at, stopped_at, running, exit_err, uniq, updated_at
		FROM process_history WHERE running=1 AND name LIKE ? ORDER BY updated_at DESC;`,
		namePrefix+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// PurgeOlderThan deletes stopped rows last updated before olderThan and
// returns the number of rows removed. Running rows are never purged.
func (s *DB) PurgeOlderThan(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM process_history WHERE running=0 AND updated_at < ?;`,
		olderThan.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanRecords(rows *sql.Rows) ([]store.Record, error) {
	var out []store.Record
	for rows.Next() {
		var r store.Record
		if err := rows.Scan(&r.Name, &r.PID, &r.StartedAt, &r.StoppedAt, &r.Running, &r.ExitErr, &r.Uniq, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
