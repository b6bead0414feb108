// Package fleetclient implements the controller-side HTTP client used to
// proxy start/stop/restart/reload/health/logs commands to a node's node
// HTTP API (see pkg/nodeapi), grounded on the same request shapes the
// rolling deployer (pkg/deployer) and fleet proxy API (pkg/central) need.
package fleetclient
