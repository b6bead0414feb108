package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"time"

	"github.com/golang-migrate/migrate/v4"
	sqlite3migrate "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/cuemby/mctl/pkg/mctlerr"
	"github.com/cuemby/mctl/pkg/types"
)

//go:embed migrations/node/*.sql
var nodeMigrations embed.FS

// NodeStore is the per-node SQLite database: one row per registered
// workload plus an append-only run history. It implements pkg/runner's
// RunRecorder and StateSink interfaces.
type NodeStore struct {
	db *sqlx.DB
}

// OpenNodeStore opens (creating if absent) the node database at path and
// applies any pending migrations.
func OpenNodeStore(path string) (*NodeStore, error) {
	db, err := sqlx.Connect("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, mctlerr.Wrap(mctlerr.KindUpstream, "open node database", err)
	}
	db.SetMaxOpenConns(1) // sqlite: single writer

	if err := migrateUp(db.DB, nodeMigrations, "migrations/node"); err != nil {
		db.Close()
		return nil, err
	}
	return &NodeStore{db: db}, nil
}

func (s *NodeStore) Close() error {
	return s.db.Close()
}

func migrateUp(db *sql.DB, fsys embed.FS, dir string) error {
	srcDriver, err := iofs.New(fsys, dir)
	if err != nil {
		return mctlerr.Wrap(mctlerr.KindUpstream, "load migration source", err)
	}
	dbDriver, err := sqlite3migrate.WithInstance(db, &sqlite3migrate.Config{MigrationsTable: "_migrations"})
	if err != nil {
		return mctlerr.Wrap(mctlerr.KindUpstream, "init migration driver", err)
	}
	m, err := migrate.NewWithInstance("iofs", srcDriver, "sqlite3", dbDriver)
	if err != nil {
		return mctlerr.Wrap(mctlerr.KindUpstream, "init migrator", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return mctlerr.Wrap(mctlerr.KindUpstream, "apply migrations", err)
	}
	return nil
}

// RecordStart implements pkg/runner.RunRecorder.
func (s *NodeStore) RecordStart(ctx context.Context, workloadName string, startedAt time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO run_history (workload_name, started_at) VALUES (?, ?)`,
		workloadName, startedAt)
	if err != nil {
		return 0, mctlerr.Wrap(mctlerr.KindUpstream, "record run start", err)
	}
	return res.LastInsertId()
}

// RecordFinish implements pkg/runner.RunRecorder.
func (s *NodeStore) RecordFinish(ctx context.Context, runID int64, finishedAt time.Time, exitCode *int, errMsg string, durationMS int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE run_history SET finished_at = ?, exit_code = ?, error_message = ?, duration_ms = ? WHERE id = ?`,
		finishedAt, exitCode, errMsg, durationMS, runID)
	if err != nil {
		return mctlerr.Wrap(mctlerr.KindUpstream, "record run finish", err)
	}
	return nil
}

type workloadStateRow struct {
	Name          string     `db:"name"`
	WorkloadType  string     `db:"workload_type"`
	RunMode       string     `db:"run_mode"`
	Status        string     `db:"status"`
	PID           *int       `db:"pid"`
	RunCount      int        `db:"run_count"`
	MaxRuns       *int       `db:"max_runs"`
	LastStarted   *time.Time `db:"last_started"`
	LastStopped   *time.Time `db:"last_stopped"`
	LastHeartbeat *time.Time `db:"last_heartbeat"`
	LastError     string     `db:"last_error"`
	UpdatedAt     time.Time  `db:"updated_at"`
}

// SaveState implements pkg/runner.StateSink: upsert the full snapshot.
func (s *NodeStore) SaveState(ctx context.Context, state types.WorkloadState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workload_state
			(name, workload_type, run_mode, status, pid, run_count, max_runs,
			 last_started, last_stopped, last_heartbeat, last_error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			workload_type = excluded.workload_type,
			run_mode = excluded.run_mode,
			status = excluded.status,
			pid = excluded.pid,
			run_count = excluded.run_count,
			max_runs = excluded.max_runs,
			last_started = excluded.last_started,
			last_stopped = excluded.last_stopped,
			last_heartbeat = excluded.last_heartbeat,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`,
		state.Spec.Name, string(state.Spec.WorkloadType), string(state.Spec.RunMode), string(state.Status),
		state.PID, state.RunCount, state.Spec.MaxRuns,
		state.LastStarted, state.LastStopped, state.LastHeartbeat, state.LastError, time.Now())
	if err != nil {
		return mctlerr.Wrap(mctlerr.KindUpstream, "save workload state", err)
	}
	return nil
}

// LoadAllStates returns every persisted workload_state row, keyed by name,
// for crash-recovery warm start. Only the status/runtime columns survive a
// restart; the authoritative WorkloadSpec still comes from config.
func (s *NodeStore) LoadAllStates(ctx context.Context) (map[string]types.WorkloadState, error) {
	var rows []workloadStateRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM workload_state`); err != nil {
		return nil, mctlerr.Wrap(mctlerr.KindUpstream, "load workload states", err)
	}
	out := make(map[string]types.WorkloadState, len(rows))
	for _, r := range rows {
		out[r.Name] = types.WorkloadState{
			Spec:          types.WorkloadSpec{Name: r.Name, WorkloadType: types.WorkloadType(r.WorkloadType), RunMode: types.RunMode(r.RunMode), MaxRuns: r.MaxRuns},
			Status:        types.WorkloadStatus(r.Status),
			PID:           r.PID,
			RunCount:      r.RunCount,
			LastStarted:   r.LastStarted,
			LastStopped:   r.LastStopped,
			LastHeartbeat: r.LastHeartbeat,
			LastError:     r.LastError,
		}
	}
	return out, nil
}

// RunHistory returns the most recent runs for a workload, newest first.
func (s *NodeStore) RunHistory(ctx context.Context, workloadName string, limit int) ([]types.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []types.RunRecord
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, workload_name, started_at, finished_at, exit_code, error_message, duration_ms
		FROM run_history WHERE workload_name = ? ORDER BY started_at DESC LIMIT ?`,
		workloadName, limit)
	if err != nil {
		return nil, mctlerr.Wrap(mctlerr.KindUpstream, "load run history", err)
	}
	return rows, nil
}

// PruneOlderThan deletes run_history rows started before the cutoff,
// bounding database growth for long-lived nodes.
func (s *NodeStore) PruneOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age)
	res, err := s.db.ExecContext(ctx, `DELETE FROM run_history WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, mctlerr.Wrap(mctlerr.KindUpstream, "prune run history", err)
	}
	return res.RowsAffected()
}
