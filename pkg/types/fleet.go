package types

import "time"

// ClientStatus is the controller's view of a node's liveness.
type ClientStatus string

const (
	ClientUnknown    ClientStatus = "unknown"
	ClientDiscovered ClientStatus = "discovered"
	ClientOnline     ClientStatus = "online"
	ClientOffline    ClientStatus = "offline"
)

// SystemMetrics is the per-heartbeat system snapshot collected by gopsutil
// on the node and reported to the controller.
type SystemMetrics struct {
	CPUPercent    float64 `db:"cpu_percent" json:"cpu_percent"`
	MemoryUsedMB  float64 `db:"memory_used_mb" json:"memory_used_mb"`
	MemoryTotalMB float64 `db:"memory_total_mb" json:"memory_total_mb"`
	DiskUsedGB    float64 `db:"disk_used_gb" json:"disk_used_gb"`
	DiskTotalGB   float64 `db:"disk_total_gb" json:"disk_total_gb"`
}

// ClientRecord is the controller-side row for one fleet node.
type ClientRecord struct {
	Name            string       `db:"name"`
	Host            string       `db:"host"`
	APIPort         int          `db:"api_port"`
	Status          ClientStatus `db:"status"`
	LastSeen        *time.Time   `db:"last_seen"`
	DeployedVersion *string      `db:"deployed_version"`
	DeployedAt      *time.Time   `db:"deployed_at"`
	CPUPercent      *float64     `db:"cpu_percent"`
	MemoryUsedMB    *float64     `db:"memory_used_mb"`
	MemoryTotalMB   *float64     `db:"memory_total_mb"`
	DiskUsedGB      *float64     `db:"disk_used_gb"`
	DiskTotalGB     *float64     `db:"disk_total_gb"`
	UpdatedAt       time.Time    `db:"updated_at"`
}

// ClientWorkloadRecord is denormalized from the last heartbeat of a client.
type ClientWorkloadRecord struct {
	ClientName   string     `db:"client_name"`
	WorkloadName string     `db:"workload_name"`
	WorkloadType string     `db:"workload_type"`
	RunMode      string     `db:"run_mode"`
	Status       string     `db:"status"`
	PID          *int       `db:"pid"`
	RunCount     int        `db:"run_count"`
	LastStarted  *time.Time `db:"last_started"`
	LastError    string     `db:"last_error"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

// WorkloadInfo is the heartbeat-payload representation of one node workload.
type WorkloadInfo struct {
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	RunMode     string  `json:"run_mode"`
	Status      string  `json:"status"`
	PID         *int    `json:"pid"`
	RunCount    int     `json:"run_count"`
	LastStarted *string `json:"last_started"`
	LastError   string  `json:"last_error"`
}

// HeartbeatPayload is POSTed by pkg/heartbeat to the controller's
// /api/heartbeat endpoint.
type HeartbeatPayload struct {
	ClientName      string         `json:"client_name"`
	Timestamp       time.Time      `json:"timestamp"`
	DeployedVersion *string        `json:"deployed_version"`
	Workloads       []WorkloadInfo `json:"workloads"`
	System          SystemMetrics  `json:"system"`
}

// DeploymentStatus is the rolling deployer's top-level state.
type DeploymentStatus string

const (
	DeploymentPending     DeploymentStatus = "pending"
	DeploymentInProgress  DeploymentStatus = "in_progress"
	DeploymentRollingBack DeploymentStatus = "rolling_back"
	DeploymentRolledBack  DeploymentStatus = "rolled_back"
	DeploymentCompleted   DeploymentStatus = "completed"
	DeploymentFailed      DeploymentStatus = "failed"
)

// DeploymentClientStatus is the per-client state within a deployment batch.
type DeploymentClientStatus string

const (
	DeployClientPending    DeploymentClientStatus = "pending"
	DeployClientDeploying  DeploymentClientStatus = "deploying"
	DeployClientDeployed   DeploymentClientStatus = "deployed"
	DeployClientHealthy    DeploymentClientStatus = "healthy"
	DeployClientFailed     DeploymentClientStatus = "failed"
	DeployClientRolledBack DeploymentClientStatus = "rolled_back"
)

// Deployment is a batched version rollout across fleet clients.
type Deployment struct {
	ID            string           `db:"id"`
	Version       string           `db:"version"`
	Status        DeploymentStatus `db:"status"`
	BatchSize     int              `db:"batch_size"`
	TargetClients []string         `db:"-"`
	CreatedAt     time.Time        `db:"created_at"`
	StartedAt     *time.Time       `db:"started_at"`
	CompletedAt   *time.Time       `db:"completed_at"`
	Error         string           `db:"error"`
}

// DeploymentClient is one client's progress within a deployment.
type DeploymentClient struct {
	DeploymentID    string                 `db:"deployment_id"`
	ClientName      string                 `db:"client_name"`
	BatchNumber     int                    `db:"batch_number"`
	Status          DeploymentClientStatus `db:"status"`
	PreviousVersion *string                `db:"previous_version"`
	StartedAt       *time.Time             `db:"started_at"`
	CompletedAt     *time.Time             `db:"completed_at"`
	Error           string                 `db:"error"`
}

// DeploymentRequest is the body of POST /fleet/deployments.
type DeploymentRequest struct {
	Version            string   `json:"version"`
	TargetClients      []string `json:"target_clients,omitempty"`
	BatchSize          int      `json:"batch_size"`
	AutoRollback       bool     `json:"auto_rollback"`
	HealthCheckTimeout float64  `json:"health_check_timeout"`
}
