package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// FleetConfig is the node-side `fleet:` block: whether this node reports
// to a central controller, and how.
type FleetConfig struct {
	Enabled                 bool    `yaml:"enabled"`
	ClientName              string  `yaml:"client_name"`
	APIHost                 string  `yaml:"api_host"`
	APIPort                 int     `yaml:"api_port"`
	CentralAPIURL           string  `yaml:"central_api_url"`
	HeartbeatIntervalSecond float64 `yaml:"heartbeat_interval_seconds"`
	APIToken                string  `yaml:"api_token"`
	MDNSEnabled             bool    `yaml:"mdns_enabled"`
}

// CentralConfig is the controller-side `central:` block.
type CentralConfig struct {
	Enabled               bool    `yaml:"enabled"`
	Host                  string  `yaml:"host"`
	Port                  int     `yaml:"port"`
	DBPath                string  `yaml:"db_path"`
	InventoryPath         string  `yaml:"inventory_path"`
	APIToken              string  `yaml:"api_token"`
	StaleThresholdSeconds float64 `yaml:"stale_threshold_seconds"`
	DeployScriptPath      string  `yaml:"deploy_script_path"`
	MDNSEnabled           bool    `yaml:"mdns_enabled"`
}

// DaemonConfig is the top-level daemon configuration file shape.
type DaemonConfig struct {
	Fleet   FleetConfig   `yaml:"fleet"`
	Central CentralConfig `yaml:"central"`
}

const defaultAPIPort = 9100
const defaultCentralPort = 8080
const defaultHeartbeatInterval = 30.0
const defaultStaleThreshold = 90.0

// LoadDaemonConfig parses a daemon.* file and applies field defaults.
func LoadDaemonConfig(path string) (*DaemonConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Message: err.Error()}
	}
	cfg := DaemonConfig{
		Fleet:   FleetConfig{APIPort: defaultAPIPort, HeartbeatIntervalSecond: defaultHeartbeatInterval},
		Central: CentralConfig{Port: defaultCentralPort, StaleThresholdSeconds: defaultStaleThreshold},
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ConfigError{Path: path, Message: err.Error()}
	}
	return &cfg, nil
}
