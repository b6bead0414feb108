package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/cuemby/mctl/pkg/mctlerr"
	"github.com/cuemby/mctl/pkg/types"
)

//go:embed migrations/fleet/*.sql
var fleetMigrations embed.FS

// FleetStore is the central controller's SQLite database: fleet client
// liveness, their denormalized workload rows, and deployment history.
type FleetStore struct {
	db *sqlx.DB
}

// OpenFleetStore opens (creating if absent) the fleet database at path and
// applies any pending migrations.
func OpenFleetStore(path string) (*FleetStore, error) {
	db, err := sqlx.Connect("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, mctlerr.Wrap(mctlerr.KindUpstream, "open fleet database", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrateUp(db.DB, fleetMigrations, "migrations/fleet"); err != nil {
		db.Close()
		return nil, err
	}
	return &FleetStore{db: db}, nil
}

func (s *FleetStore) Close() error {
	return s.db.Close()
}

// UpsertHeartbeat implements the three-step transactional contract: upsert
// the client row (status -> online, preserving deployed_version when the
// payload's is nil), upsert every reported workload, then delete workload
// rows for this client no longer present in the payload. All in one commit.
func (s *FleetStore) UpsertHeartbeat(ctx context.Context, host string, apiPort int, payload types.HeartbeatPayload) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		now := payload.Timestamp
		if now.IsZero() {
			now = time.Now()
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO fleet_clients
				(name, host, api_port, status, last_seen, cpu_percent, memory_used_mb,
				 memory_total_mb, disk_used_gb, disk_total_gb, deployed_version, deployed_at, updated_at)
			VALUES (?, ?, ?, 'online', ?, ?, ?, ?, ?, ?, ?, CASE WHEN ? IS NOT NULL THEN ? END, ?)
			ON CONFLICT(name) DO UPDATE SET
				host = excluded.host,
				api_port = excluded.api_port,
				status = 'online',
				last_seen = excluded.last_seen,
				cpu_percent = excluded.cpu_percent,
				memory_used_mb = excluded.memory_used_mb,
				memory_total_mb = excluded.memory_total_mb,
				disk_used_gb = excluded.disk_used_gb,
				disk_total_gb = excluded.disk_total_gb,
				deployed_version = COALESCE(excluded.deployed_version, fleet_clients.deployed_version),
				deployed_at = CASE WHEN excluded.deployed_version IS NOT NULL THEN excluded.deployed_at ELSE fleet_clients.deployed_at END,
				updated_at = excluded.updated_at`,
			payload.ClientName, host, apiPort, now,
			payload.System.CPUPercent, payload.System.MemoryUsedMB, payload.System.MemoryTotalMB,
			payload.System.DiskUsedGB, payload.System.DiskTotalGB,
			payload.DeployedVersion, payload.DeployedVersion, now, now)
		if err != nil {
			return mctlerr.Wrap(mctlerr.KindUpstream, "upsert fleet client", err)
		}

		seen := make([]string, 0, len(payload.Workloads))
		for _, w := range payload.Workloads {
			seen = append(seen, w.Name)
			var lastStarted *time.Time
			if w.LastStarted != nil {
				if t, err := time.Parse(time.RFC3339, *w.LastStarted); err == nil {
					lastStarted = &t
				}
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO fleet_workloads
					(client_name, workload_name, workload_type, run_mode, status, pid, run_count, last_started, last_error, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(client_name, workload_name) DO UPDATE SET
					workload_type = excluded.workload_type,
					run_mode = excluded.run_mode,
					status = excluded.status,
					pid = excluded.pid,
					run_count = excluded.run_count,
					last_started = excluded.last_started,
					last_error = excluded.last_error,
					updated_at = excluded.updated_at`,
				payload.ClientName, w.Name, w.Type, w.RunMode, w.Status, w.PID, w.RunCount, lastStarted, w.LastError, now)
			if err != nil {
				return mctlerr.Wrap(mctlerr.KindUpstream, "upsert fleet workload", err)
			}
		}

		query, args, err := sqlx.In(`DELETE FROM fleet_workloads WHERE client_name = ? AND workload_name NOT IN (?)`,
			payload.ClientName, orPlaceholder(seen))
		if err != nil {
			return mctlerr.Wrap(mctlerr.KindUpstream, "build stale workload delete", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return mctlerr.Wrap(mctlerr.KindUpstream, "delete stale fleet workloads", err)
		}
		return nil
	})
}

// orPlaceholder guards against sqlx.In's empty-slice panic: with no
// reported workloads, every existing row for the client is stale.
func orPlaceholder(names []string) []string {
	if len(names) == 0 {
		return []string{"\x00no-workloads-reported\x00"}
	}
	return names
}

// MarkStaleClients flips online clients whose last_seen predates the
// threshold to offline, returning the number of rows affected.
func (s *FleetStore) MarkStaleClients(ctx context.Context, threshold time.Duration) (int64, error) {
	cutoff := time.Now().Add(-threshold)
	res, err := s.db.ExecContext(ctx,
		`UPDATE fleet_clients SET status = 'offline', updated_at = ? WHERE status = 'online' AND last_seen < ?`,
		time.Now(), cutoff)
	if err != nil {
		return 0, mctlerr.Wrap(mctlerr.KindUpstream, "mark stale clients", err)
	}
	return res.RowsAffected()
}

// RegisterDiscoveredClient upserts a client discovered via mDNS. It never
// downgrades a currently-online client: heartbeat has priority over
// discovery.
func (s *FleetStore) RegisterDiscoveredClient(ctx context.Context, name, host string, port int) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fleet_clients (name, host, api_port, status, updated_at)
		VALUES (?, ?, ?, 'discovered', ?)
		ON CONFLICT(name) DO UPDATE SET
			host = excluded.host,
			api_port = excluded.api_port,
			status = CASE WHEN fleet_clients.status = 'online' THEN fleet_clients.status ELSE 'discovered' END,
			updated_at = excluded.updated_at`,
		name, host, port, now)
	if err != nil {
		return mctlerr.Wrap(mctlerr.KindUpstream, "register discovered client", err)
	}
	return nil
}

// ResolveClientEndpoint returns the authoritative (host, port) for a client
// name, used by the controller to address a node directly.
func (s *FleetStore) ResolveClientEndpoint(ctx context.Context, name string) (string, int, error) {
	var row struct {
		Host    string `db:"host"`
		APIPort int    `db:"api_port"`
	}
	err := s.db.GetContext(ctx, &row, `SELECT host, api_port FROM fleet_clients WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, mctlerr.New(mctlerr.KindNotFound, "unknown client: "+name)
	}
	if err != nil {
		return "", 0, mctlerr.Wrap(mctlerr.KindUpstream, "resolve client endpoint", err)
	}
	return row.Host, row.APIPort, nil
}

// GetClient returns one fleet client row.
func (s *FleetStore) GetClient(ctx context.Context, name string) (types.ClientRecord, error) {
	var rec types.ClientRecord
	err := s.db.GetContext(ctx, &rec, `SELECT * FROM fleet_clients WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, mctlerr.New(mctlerr.KindNotFound, "unknown client: "+name)
	}
	if err != nil {
		return rec, mctlerr.Wrap(mctlerr.KindUpstream, "get client", err)
	}
	return rec, nil
}

// ListClients returns every fleet client row, ordered by name.
func (s *FleetStore) ListClients(ctx context.Context) ([]types.ClientRecord, error) {
	var recs []types.ClientRecord
	if err := s.db.SelectContext(ctx, &recs, `SELECT * FROM fleet_clients ORDER BY name`); err != nil {
		return nil, mctlerr.Wrap(mctlerr.KindUpstream, "list clients", err)
	}
	return recs, nil
}

// ListClientWorkloads returns the denormalized workload rows for one client.
func (s *FleetStore) ListClientWorkloads(ctx context.Context, clientName string) ([]types.ClientWorkloadRecord, error) {
	var recs []types.ClientWorkloadRecord
	err := s.db.SelectContext(ctx, &recs,
		`SELECT * FROM fleet_workloads WHERE client_name = ? ORDER BY workload_name`, clientName)
	if err != nil {
		return nil, mctlerr.Wrap(mctlerr.KindUpstream, "list client workloads", err)
	}
	return recs, nil
}

// GetClientWorkload returns one denormalized workload row.
func (s *FleetStore) GetClientWorkload(ctx context.Context, clientName, workloadName string) (types.ClientWorkloadRecord, error) {
	var rec types.ClientWorkloadRecord
	err := s.db.GetContext(ctx, &rec,
		`SELECT * FROM fleet_workloads WHERE client_name = ? AND workload_name = ?`, clientName, workloadName)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, mctlerr.New(mctlerr.KindNotFound, "unknown workload: "+workloadName)
	}
	if err != nil {
		return rec, mctlerr.Wrap(mctlerr.KindUpstream, "get client workload", err)
	}
	return rec, nil
}

// CreateDeployment persists a new deployment and its per-client rows
// (batch_number = floor(index / batch_size)) in one commit.
func (s *FleetStore) CreateDeployment(ctx context.Context, d types.Deployment) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		targets, err := json.Marshal(d.TargetClients)
		if err != nil {
			return mctlerr.Wrap(mctlerr.KindValidation, "encode target clients", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO deployments (id, version, status, batch_size, target_clients, created_at, started_at, error, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.ID, d.Version, d.Status, d.BatchSize, string(targets), d.CreatedAt, d.StartedAt, d.Error, d.CreatedAt)
		if err != nil {
			return mctlerr.Wrap(mctlerr.KindUpstream, "create deployment", err)
		}

		for i, client := range d.TargetClients {
			batch := i / d.BatchSize
			_, err := tx.ExecContext(ctx, `
				INSERT INTO deployment_clients (deployment_id, client_name, batch_number, status)
				VALUES (?, ?, ?, ?)`,
				d.ID, client, batch, types.DeployClientPending)
			if err != nil {
				return mctlerr.Wrap(mctlerr.KindUpstream, "create deployment client row", err)
			}
		}
		return nil
	})
}

type deploymentRow struct {
	ID            string     `db:"id"`
	Version       string     `db:"version"`
	Status        string     `db:"status"`
	BatchSize     int        `db:"batch_size"`
	TargetClients string     `db:"target_clients"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
	StartedAt     *time.Time `db:"started_at"`
	CompletedAt   *time.Time `db:"completed_at"`
	Error         string     `db:"error"`
}

func (r deploymentRow) toDeployment() types.Deployment {
	var targets []string
	_ = json.Unmarshal([]byte(r.TargetClients), &targets)
	return types.Deployment{
		ID: r.ID, Version: r.Version, Status: types.DeploymentStatus(r.Status),
		BatchSize: r.BatchSize, TargetClients: targets,
		CreatedAt: r.CreatedAt, StartedAt: r.StartedAt, CompletedAt: r.CompletedAt, Error: r.Error,
	}
}

// GetDeployment returns one deployment by id.
func (s *FleetStore) GetDeployment(ctx context.Context, id string) (types.Deployment, error) {
	var row deploymentRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM deployments WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Deployment{}, mctlerr.New(mctlerr.KindNotFound, "unknown deployment: "+id)
	}
	if err != nil {
		return types.Deployment{}, mctlerr.Wrap(mctlerr.KindUpstream, "get deployment", err)
	}
	return row.toDeployment(), nil
}

// ListDeployments returns the most recent deployments, newest first.
func (s *FleetStore) ListDeployments(ctx context.Context, limit int) ([]types.Deployment, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []deploymentRow
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM deployments ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, mctlerr.Wrap(mctlerr.KindUpstream, "list deployments", err)
	}
	out := make([]types.Deployment, len(rows))
	for i, r := range rows {
		out[i] = r.toDeployment()
	}
	return out, nil
}

// UpdateDeploymentStatus transitions the deployment's top-level status.
func (s *FleetStore) UpdateDeploymentStatus(ctx context.Context, id string, status types.DeploymentStatus, errMsg string, startedAt, completedAt *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE deployments SET status = ?, error = ?,
			started_at = COALESCE(started_at, ?),
			completed_at = COALESCE(?, completed_at),
			updated_at = ?
		WHERE id = ?`,
		status, errMsg, startedAt, completedAt, time.Now(), id)
	if err != nil {
		return mctlerr.Wrap(mctlerr.KindUpstream, "update deployment status", err)
	}
	return nil
}

// ListDeploymentClients returns every per-client row for a deployment,
// ordered by batch then name.
func (s *FleetStore) ListDeploymentClients(ctx context.Context, deploymentID string) ([]types.DeploymentClient, error) {
	var recs []types.DeploymentClient
	err := s.db.SelectContext(ctx, &recs,
		`SELECT * FROM deployment_clients WHERE deployment_id = ? ORDER BY batch_number, client_name`, deploymentID)
	if err != nil {
		return nil, mctlerr.Wrap(mctlerr.KindUpstream, "list deployment clients", err)
	}
	return recs, nil
}

// UpdateDeploymentClient updates one client's progress within a deployment.
func (s *FleetStore) UpdateDeploymentClient(ctx context.Context, dc types.DeploymentClient) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE deployment_clients SET
			status = ?, previous_version = COALESCE(?, previous_version),
			started_at = COALESCE(started_at, ?),
			completed_at = COALESCE(?, completed_at), error = ?
		WHERE deployment_id = ? AND client_name = ?`,
		dc.Status, dc.PreviousVersion, dc.StartedAt, dc.CompletedAt, dc.Error, dc.DeploymentID, dc.ClientName)
	if err != nil {
		return mctlerr.Wrap(mctlerr.KindUpstream, "update deployment client", err)
	}
	return nil
}

// UpdateClientDeployedVersion records a successful client-side deploy.
func (s *FleetStore) UpdateClientDeployedVersion(ctx context.Context, clientName, version string) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`UPDATE fleet_clients SET deployed_version = ?, deployed_at = ?, updated_at = ? WHERE name = ?`,
		version, now, now, clientName)
	if err != nil {
		return mctlerr.Wrap(mctlerr.KindUpstream, "update client deployed version", err)
	}
	return nil
}

func (s *FleetStore) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return mctlerr.Wrap(mctlerr.KindUpstream, "begin transaction", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return mctlerr.Wrap(mctlerr.KindUpstream, "commit transaction", err)
	}
	return nil
}
