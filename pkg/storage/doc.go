// Package storage provides SQLite-backed persistence (jmoiron/sqlx,
// mattn/go-sqlite3) for both the node supervisor and the central
// controller, with schema migrations applied via golang-migrate (tracked
// in a `_migrations` table, forward-only, embedded under migrations/).
//
// NodeStore holds workload_state and run_history, and implements
// pkg/runner's RunRecorder and StateSink interfaces directly. FleetStore
// holds fleet_clients, fleet_workloads, deployments and deployment_clients
// for the central controller, including the transactional upsert-heartbeat
// contract and the rolling deployer's persistence needs.
package storage
