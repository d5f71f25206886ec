package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/arcflow/fleetd/internal/store"
)

// DB implements store.Store against PostgreSQL via the jackc/pgx/v5 stdlib
// driver, selected by internal/store/factory when a DSN carries the
// postgres:// or postgresql:// scheme.
type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	stmt := `CREATE TABLE IF NOT EXISTS process_history(
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		pid INTEGER NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		stopped_at TIMESTAMPTZ,
		running BOOLEAN NOT NULL,
		exit_err TEXT,
		uniq TEXT NOT NULL UNIQUE,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_process_history_name ON process_history(name);`
	_, err := p.db.ExecContext(ctx, stmt)
	return err
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) RecordStart(ctx context.Context, rec store.Record) error {
	if strings.TrimSpace(rec.Name) == "" {
		return errors.New("empty name")
	}
	now := time.Now().UTC()
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO process_history(name, pid, started_at, running, uniq, updated_at)
		VALUES($1,$2,$3,true,$4,$5)
		ON CONFLICT(uniq) DO NOTHING;`,
		rec.Name, rec.PID, rec.StartedAt.UTC(), rec.Key(), now)
	return err
}

func (p *DB) RecordStop(ctx context.Context, uniq string, stoppedAt time.Time, exitErr error) error {
	var errStr sql.NullString
	if exitErr != nil {
		errStr = sql.NullString{String: exitErr.Error(), Valid: true}
	}
	_, err := p.db.ExecContext(ctx, `
		UPDATE process_history SET running=false, stopped_at=$1, exit_err=$2, updated_at=$3
		WHERE uniq=$4;`,
		stoppedAt.UTC(), errStr, time.Now().UTC(), uniq)
	return err
}

func (p *DB) UpsertStatus(ctx context.Context, rec store.Record) error {
	if strings.TrimSpace(rec.Name) == "" {
		return errors.New("empty name")
	}
	now := time.Now().UTC()
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO process_history(name, pid, started_at, stopped_at, running, exit_err, uniq, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT(uniq) DO UPDATE SET
			pid=EXCLUDED.pid,
			started_at=EXCLUDED.started_at,
			stopped_at=EXCLUDED.stopped_at,
			running=EXCLUDED.running,
			exit_err=EXCLUDED.exit_err,
			updated_at=EXCLUDED.updated_at;`,
		rec.Name, rec.PID, rec.StartedAt.UTC(), rec.StoppedAt, rec.Running, rec.ExitErr, rec.Key(), now)
	return err
}

func (p *DB) GetByName(ctx context.Context, name string, limit int) ([]store.Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT name, pid, started_at, stopped_at, running, exit_err, uniq, updated_at
		FROM process_history WHERE name=$1 ORDER BY updated_at DESC LIMIT $2;`, name, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (p *DB) GetRunning(ctx context.Context, namePrefix string) ([]store.Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT name, pid, started_at, stopped_at, running, exit_err, uniq, updated_at
		FROM process_history WHERE running=true AND name LIKE $1 ORDER BY updated_at DESC;`,
		namePrefix+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (p *DB) PurgeOlderThan(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM process_history WHERE running=false AND updated_at < $1;`,
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
