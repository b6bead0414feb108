package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// InventoryClient is one administrator-declared fleet node.
type InventoryClient struct {
	Name      string            `yaml:"name"`
	Host      string            `yaml:"host"`
	Workloads []string          `yaml:"workloads"`
	Env       map[string]string `yaml:"env"`
}

// Inventory is the administrator-maintained list of nodes, with per-field
// defaults applied when a client omits them.
type Inventory struct {
	Defaults InventoryClient   `yaml:"defaults"`
	Clients  []InventoryClient `yaml:"clients"`
}

// LoadInventory parses an inventory.* file.
func LoadInventory(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Message: err.Error()}
	}
	var inv Inventory
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return nil, &ConfigError{Path: path, Message: err.Error()}
	}
	return &inv, nil
}

// Resolved returns client with defaults.* filled in wherever the client
// left a field at its zero value: client value wins, else default.
func (inv *Inventory) Resolved(client InventoryClient) InventoryClient {
	out := client
	if out.Host == "" {
		out.Host = inv.Defaults.Host
	}
	if len(out.Workloads) == 0 {
		out.Workloads = inv.Defaults.Workloads
	}
	if out.Env == nil && inv.Defaults.Env != nil {
		out.Env = inv.Defaults.Env
	}
	return out
}

// ResolvedClients returns every client with defaults applied.
func (inv *Inventory) ResolvedClients() []InventoryClient {
	out := make([]InventoryClient, 0, len(inv.Clients))
	for _, c := range inv.Clients {
		out = append(out, inv.Resolved(c))
	}
	return out
}
